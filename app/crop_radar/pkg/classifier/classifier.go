package classifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"golang.org/x/time/rate"

	"github.com/iWorld-y/crop_radar/app/crop_radar/pkg/config"
	"github.com/iWorld-y/crop_radar/app/crop_radar/pkg/logger"
	"github.com/iWorld-y/crop_radar/app/crop_radar/pkg/model"
)

// ErrMalformedResponse LLM 返回内容无法解析为判断结果
var ErrMalformedResponse = errors.New("malformed classifier response")

// Generator 分类器依赖的最小 ChatModel 能力
type Generator interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error)
}

// Options 分类器参数
type Options struct {
	MaxAttempts    int
	MaxTokens      int
	BaseDelay      time.Duration // 普通错误的指数退避基数
	RateLimitDelay time.Duration // 触发 429 后的等待基数
	Limiter        *rate.Limiter
}

// Classifier 基于 LLM 的相关性判断与信息抽取
type Classifier struct {
	cm             Generator
	limiter        *rate.Limiter
	maxAttempts    int
	maxTokens      int
	baseDelay      time.Duration
	rateLimitDelay time.Duration
}

// New 创建分类器
func New(cm Generator, opts Options) *Classifier {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	return &Classifier{
		cm:             cm,
		limiter:        opts.Limiter,
		maxAttempts:    opts.MaxAttempts,
		maxTokens:      opts.MaxTokens,
		baseDelay:      opts.BaseDelay,
		rateLimitDelay: opts.RateLimitDelay,
	}
}

// NewFromConfig 使用 OpenAI 兼容接口初始化 LLM 和限流器
func NewFromConfig(ctx context.Context, cfg *config.Config) (*Classifier, error) {
	chatModel, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		Timeout: time.Duration(cfg.LLM.Timeout) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM 初始化失败: %w", err)
	}

	// Limit 设置为 RPM/60，Burst 设置为 QPS
	limit := rate.Limit(float64(cfg.Concurrency.RPM) / 60.0)
	limiter := rate.NewLimiter(limit, cfg.Concurrency.QPS)
	logger.Log.Infof("LLM 限流器已配置: Limit=%.2f req/s, Burst=%d", limit, cfg.Concurrency.QPS)

	return New(chatModel, Options{
		MaxAttempts:    cfg.LLM.MaxAttempts,
		MaxTokens:      cfg.LLM.MaxTokens,
		BaseDelay:      2 * time.Second,
		RateLimitDelay: 60 * time.Second,
		Limiter:        limiter,
	}), nil
}

// Classify 判断一篇文章。所有尝试失败后返回 Unclassifiable 和最后一次错误，
// 调用方应把错误当作"跳过"处理而不是中止运行。
func (c *Classifier) Classify(ctx context.Context, raw model.RawResult) (model.Judgment, error) {
	messages := buildMessages(raw)
	opts := []einomodel.Option{einomodel.WithTemperature(0)}
	if c.maxTokens > 0 {
		opts = append(opts, einomodel.WithMaxTokens(c.maxTokens))
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return unclassifiable(), fmt.Errorf("limiter wait error: %w", err)
			}
		}

		resp, err := c.cm.Generate(ctx, messages, opts...)
		if err == nil {
			j, perr := parseJudgment(resp.Content)
			if perr == nil {
				return j, nil
			}
			err = perr
		}
		lastErr = err

		if attempt == c.maxAttempts {
			break
		}

		delay := c.baseDelay * time.Duration(1<<(attempt-1)) // 指数退避
		if isRateLimited(err) {
			delay = c.rateLimitDelay * time.Duration(attempt)
		}
		logger.Log.WithField("title", raw.Title).Warnf("分类失败，%v 后重试 (%d/%d): %v", delay, attempt, c.maxAttempts, err)

		if err := sleep(ctx, delay); err != nil {
			return unclassifiable(), err
		}
	}

	return unclassifiable(), fmt.Errorf("classify %q: max attempts exceeded: %w", raw.Title, lastErr)
}

func unclassifiable() model.Judgment {
	return model.Judgment{Outcome: model.OutcomeUnclassifiable}
}

func isRateLimited(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate_limit") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests")
}

func sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil || d <= 0 {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
