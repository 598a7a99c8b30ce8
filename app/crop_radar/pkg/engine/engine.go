package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iWorld-y/crop_radar/app/crop_radar/pkg/dedup"
	"github.com/iWorld-y/crop_radar/app/crop_radar/pkg/logger"
	"github.com/iWorld-y/crop_radar/app/crop_radar/pkg/metrics"
	"github.com/iWorld-y/crop_radar/app/crop_radar/pkg/model"
	"github.com/iWorld-y/crop_radar/app/crop_radar/pkg/search"
	"github.com/iWorld-y/crop_radar/app/crop_radar/pkg/storage"
)

// ErrFatal 中止运行且不推进水位线的错误
var ErrFatal = errors.New("fatal run error")

// FatalError 存储不可用等导致运行中止的错误
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() []error {
	return []error{ErrFatal, e.Err}
}

// Classifier 对单条结果给出判断；返回错误时调用方按跳过处理
type Classifier interface {
	Classify(ctx context.Context, raw model.RawResult) (model.Judgment, error)
}

// Deps 引擎依赖的外部组件
type Deps struct {
	Searcher   search.Searcher
	Classifier Classifier
	Store      storage.Store
	Metrics    *metrics.Recorder // 可为 nil
	Now        func() time.Time  // 为 nil 时使用 time.Now
}

// Options 引擎行为参数
type Options struct {
	Keywords          []string
	Region            string
	MaxResults        int
	SearchMaxAttempts int
	SearchRetryDelay  time.Duration
	IncludeUndated    bool
	BackfillStart     time.Time
}

// RunOptions 单次运行参数
type RunOptions struct {
	Mode  Mode
	Start time.Time // 回填模式的起点，零值使用 Options.BackfillStart
}

// KeywordStats 单个关键词的处理统计
type KeywordStats struct {
	Keyword        string
	Found          int
	Malformed      int
	OutOfWindow    int
	Duplicate      int
	NotRelevant    int
	Unclassifiable int
	Added          int
	SearchErr      error
}

// Result 一次运行的结果
type Result struct {
	RunID             string
	Mode              Mode
	Window            Window
	Warm              int // 预热时载入的身份数量
	Keywords          []KeywordStats
	WatermarkAdvanced bool
}

// Added 本次新增的记录数
func (r *Result) Added() int {
	n := 0
	for _, k := range r.Keywords {
		n += k.Added
	}
	return n
}

// Engine 采集、去重、分类、入库的流水线。
// 关键词和结果严格顺序处理，不会并发调用分类器。
type Engine struct {
	deps Deps
	opts Options
}

// New 创建引擎实例
func New(deps Deps, opts Options) *Engine {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if opts.SearchMaxAttempts <= 0 {
		opts.SearchMaxAttempts = 1
	}
	return &Engine{deps: deps, opts: opts}
}

// Run 执行一次完整运行。只有全部关键词处理完且没有致命错误时才写入新的水位线。
func (e *Engine) Run(ctx context.Context, ro RunOptions) (*Result, error) {
	startedAt := e.deps.Now()
	res := &Result{RunID: uuid.NewString(), Mode: ro.Mode}
	if res.Mode == "" {
		res.Mode = ModeBackfill
	}
	log := logger.Log.WithField("run_id", res.RunID)

	err := e.run(ctx, log, ro, startedAt, res)
	e.deps.Metrics.RunFinished(startedAt, e.deps.Now(), err == nil)
	e.logSummary(log, res)
	if err != nil {
		log.Errorf("运行中止，水位线保持不变: %v", err)
		return res, err
	}
	return res, nil
}

func (e *Engine) run(ctx context.Context, log *logrus.Entry, ro RunOptions, now time.Time, res *Result) error {
	window, err := e.resolveWindow(ctx, log, ro, now)
	if err != nil {
		return err
	}
	res.Window = window
	log.Infof("开始运行: mode=%s, window=%s, keywords=%d", res.Mode, window, len(e.opts.Keywords))

	index := dedup.NewIndex()
	warm, err := index.WarmStart(ctx, e.deps.Store)
	if err != nil {
		return &FatalError{Op: "warm start", Err: err}
	}
	res.Warm = warm
	log.Infof("去重索引预热完成，已有 %d 条记录", warm)

	for _, kw := range e.opts.Keywords {
		if err := ctx.Err(); err != nil {
			return &FatalError{Op: "run", Err: err}
		}
		stats, err := e.processKeyword(ctx, log.WithField("keyword", kw), index, kw, window, now)
		res.Keywords = append(res.Keywords, stats)
		if err != nil {
			return err
		}
	}

	if err := e.deps.Store.WriteWatermark(ctx, window.End); err != nil {
		return &FatalError{Op: "write watermark", Err: err}
	}
	res.WatermarkAdvanced = true
	log.Infof("运行完成，水位线推进到 %s", window.End.Format(time.RFC3339))
	return nil
}

// processKeyword 处理单个关键词；只有致命错误才会返回 error
func (e *Engine) processKeyword(ctx context.Context, log *logrus.Entry, index *dedup.Index, kw string, window Window, now time.Time) (KeywordStats, error) {
	stats := KeywordStats{Keyword: kw}

	resp, err := e.search(ctx, log, &search.Request{
		Query:      kw,
		Region:     e.opts.Region,
		MaxResults: e.opts.MaxResults,
		StartDate:  window.Start,
		EndDate:    window.End,
		Now:        now,
	})
	if err != nil {
		// 单个关键词搜索失败只跳过该关键词
		stats.SearchErr = err
		kind := errorKind(err)
		e.deps.Metrics.SearchError(kw, kind)
		log.WithField("kind", kind).Warnf("搜索失败，跳过该关键词: %v", err)
		return stats, nil
	}
	log.Infof("搜索到 %d 条结果", len(resp.Results))

	for _, raw := range resp.Results {
		raw.Keyword = kw
		stats.Found++
		e.deps.Metrics.Result(kw, metrics.OutcomeFound)

		outcome, err := e.processResult(ctx, log, index, raw, window)
		if err != nil {
			return stats, err
		}
		e.deps.Metrics.Result(kw, outcome)
		switch outcome {
		case metrics.OutcomeMalformed:
			stats.Malformed++
		case metrics.OutcomeOutOfWindow:
			stats.OutOfWindow++
		case metrics.OutcomeDuplicate:
			stats.Duplicate++
		case metrics.OutcomeNotRelevant:
			stats.NotRelevant++
		case metrics.OutcomeUnclassifiable:
			stats.Unclassifiable++
		case metrics.OutcomeAdded:
			stats.Added++
		}
	}
	return stats, nil
}

// processResult 窗口过滤 -> 去重 -> 分类 -> 入库，去重必须发生在分类之前
func (e *Engine) processResult(ctx context.Context, log *logrus.Entry, index *dedup.Index, raw model.RawResult, window Window) (string, error) {
	if !raw.Valid() {
		log.Warnf("结果缺少标题或链接，跳过: title=%q url=%q", raw.Title, raw.URL)
		return metrics.OutcomeMalformed, nil
	}

	if raw.HasDate() {
		if !window.Admits(raw.PublishedAt, raw.DayPrecision) {
			log.Debugf("发布时间 %s 不在窗口内: %s", raw.PublishedAt.Format(time.DateOnly), raw.Title)
			return metrics.OutcomeOutOfWindow, nil
		}
	} else if !e.opts.IncludeUndated {
		log.Debugf("发布时间未知，按配置跳过: %s", raw.Title)
		return metrics.OutcomeOutOfWindow, nil
	}

	id := dedup.FromRaw(raw)
	if index.Contains(id) {
		log.Debugf("重复文章，跳过: %s", raw.Title)
		return metrics.OutcomeDuplicate, nil
	}

	j, err := e.deps.Classifier.Classify(ctx, raw)
	if err != nil {
		log.Warnf("分类失败，跳过: %s: %v", raw.Title, err)
		return metrics.OutcomeUnclassifiable, nil
	}
	switch j.Outcome {
	case model.OutcomeNotRelevant:
		return metrics.OutcomeNotRelevant, nil
	case model.OutcomeRelevant:
	default:
		log.Warnf("无法归类，跳过: %s", raw.Title)
		return metrics.OutcomeUnclassifiable, nil
	}

	rec := model.NewRecord(raw, j, e.deps.Now().UTC())
	if err := e.deps.Store.AppendRecord(ctx, rec); err != nil {
		if errors.Is(err, storage.ErrDuplicateRecord) {
			// 索引未覆盖但存储中已有，记为重复
			index.Insert(id)
			log.Warnf("存储中已有该记录，未写入: %s", rec.Title)
			return metrics.OutcomeDuplicate, nil
		}
		return "", &FatalError{Op: "append record", Err: err}
	}
	index.Insert(id)
	log.WithField("category", rec.Category).Infof("新增记录: %s", rec.Title)
	return metrics.OutcomeAdded, nil
}

// search 对瞬时错误做有限次重试
func (e *Engine) search(ctx context.Context, log *logrus.Entry, req *search.Request) (*search.Response, error) {
	var lastErr error
	for attempt := 1; attempt <= e.opts.SearchMaxAttempts; attempt++ {
		resp, err := e.deps.Searcher.Search(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !search.Retryable(err) || attempt == e.opts.SearchMaxAttempts {
			break
		}

		delay := e.opts.SearchRetryDelay * time.Duration(attempt)
		log.Warnf("搜索失败，%v 后重试 (%d/%d): %v", delay, attempt, e.opts.SearchMaxAttempts, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, search.ErrQuotaExceeded):
		return "quota"
	case errors.Is(err, search.ErrUnavailable):
		return "unavailable"
	case errors.Is(err, search.ErrRejected):
		return "rejected"
	default:
		return "other"
	}
}

func (e *Engine) logSummary(log *logrus.Entry, res *Result) {
	for _, k := range res.Keywords {
		entry := log.WithFields(logrus.Fields{
			"keyword":        k.Keyword,
			"found":          k.Found,
			"malformed":      k.Malformed,
			"out_of_window":  k.OutOfWindow,
			"duplicate":      k.Duplicate,
			"not_relevant":   k.NotRelevant,
			"unclassifiable": k.Unclassifiable,
			"added":          k.Added,
		})
		if k.SearchErr != nil {
			entry = entry.WithField("search_error", k.SearchErr.Error())
		}
		entry.Info("关键词统计")
	}
	log.WithField("added", res.Added()).Infof("本次新增 %d 条记录", res.Added())
}
