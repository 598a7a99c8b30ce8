package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// 环境变量名
const (
	ConfigPathEnv = "CROP_RADAR_CONFIG"

	searchProviderEnv  = "SEARCH_PROVIDER"
	serperAPIKeyEnv    = "SERPER_API_KEY"
	searchRegionEnv    = "SEARCH_REGION"
	tavilyAPIKeyEnv    = "TAVILY_API_KEY"
	searxngBaseURLEnv  = "SEARXNG_BASE_URL"
	llmBaseURLEnv      = "LLM_BASE_URL"
	llmAPIKeyEnv       = "LLM_API_KEY"
	anthropicAPIKeyEnv = "ANTHROPIC_API_KEY"
	llmModelEnv        = "LLM_MODEL"
	storeDriverEnv     = "STORE_DRIVER"
	sheetsIDEnv        = "GOOGLE_SHEETS_ID"
	sheetsCredsEnv     = "GOOGLE_CREDENTIALS_JSON"
	databaseDSNEnv     = "DATABASE_DSN"
	backfillStartEnv   = "BACKFILL_START_DATE"
	logLevelEnv        = "LOG_LEVEL"
	logFileEnv         = "LOG_FILE"
	pushgatewayEnv     = "PUSHGATEWAY_URL"
)

// 默认值
const (
	DefaultBackfillStart = "2025-11-01"
	defaultLLMBaseURL    = "https://api.anthropic.com/v1/"
	defaultLLMModel      = "claude-sonnet-4-20250514"
	defaultRegion        = "gh"
	defaultWorksheet     = "News Data"
	defaultStateSheet    = "Run State"
)

// DefaultKeywords 固定的 16 个搜索关键词，顺序即处理顺序
var DefaultKeywords = []string{
	"Ghana cocoa news",
	"COCOBOD announcement",
	"Ghana shea butter industry",
	"Ghana cashew export",
	"Ghana coffee farming",
	"Ghana cocoa investment funding",
	"Ghana agriculture startup funding",
	"cocoa farmer financing Ghana",
	"shea butter investment Africa",
	"Hershey cocoa Ghana",
	"Tony's Chocolonely Ghana",
	"ECOM cocoa Ghana",
	"World Cocoa Foundation Ghana",
	"Ghana Cocoa Board",
	"cocoa price Ghana",
	"sustainable cocoa Ghana",
}

// Config 项目配置结构体
type Config struct {
	LLM         LLMConfig         `yaml:"llm"`
	Search      SearchConfig      `yaml:"search"`
	Store       StoreConfig       `yaml:"store"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Keywords    []string          `yaml:"keywords"`
	Log         LogConfig         `yaml:"log"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// LLMConfig LLM 相关配置（OpenAI 兼容接口）
type LLMConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKey      string `yaml:"api_key"`
	Model       string `yaml:"model"`
	MaxTokens   int    `yaml:"max_tokens"`
	MaxAttempts int    `yaml:"max_attempts"`
	Timeout     int    `yaml:"timeout"` // 秒
}

// SearchConfig 搜索相关配置
type SearchConfig struct {
	Provider    string        `yaml:"provider"`
	MaxResults  int           `yaml:"max_results"`
	MaxAttempts int           `yaml:"max_attempts"`
	Serper      SerperConfig  `yaml:"serper"`
	Tavily      TavilyConfig  `yaml:"tavily"`
	SearXNG     SearXNGConfig `yaml:"searxng"`
}

// SerperConfig Serper.dev 配置
type SerperConfig struct {
	APIKey string `yaml:"api_key"`
	Region string `yaml:"region"`
}

// TavilyConfig Tavily 配置
type TavilyConfig struct {
	APIKey string `yaml:"api_key"`
}

// SearXNGConfig SearXNG 配置
type SearXNGConfig struct {
	BaseURL string `yaml:"base_url"`
	Timeout int    `yaml:"timeout"`
}

// StoreConfig 存储配置
type StoreConfig struct {
	Driver string       `yaml:"driver"` // sheets, postgres, sqlite, memory
	DSN    string       `yaml:"dsn"`
	Sheets SheetsConfig `yaml:"sheets"`
}

// SheetsConfig Google Sheets 配置
type SheetsConfig struct {
	SpreadsheetID   string `yaml:"spreadsheet_id"`
	CredentialsJSON string `yaml:"credentials_json"`
	Worksheet       string `yaml:"worksheet"`
	StateWorksheet  string `yaml:"state_worksheet"`
}

// PipelineConfig 流水线行为配置
type PipelineConfig struct {
	BackfillStart string `yaml:"backfill_start"` // YYYY-MM-DD
	// IncludeUndated 发布时间未知的结果是否进入处理（默认 true，宁可多处理也不丢文章）
	IncludeUndated *bool `yaml:"include_undated"`
}

// LogConfig 日志相关配置
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// ConcurrencyConfig 限流配置
type ConcurrencyConfig struct {
	QPS       int `yaml:"qps"`
	RPM       int `yaml:"rpm"`
	SearchRPM int `yaml:"search_rpm"`
}

// MetricsConfig 指标推送配置
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url"`
	Job            string `yaml:"job"`
}

// LoadConfig 从指定路径加载配置；path 为空时只使用环境变量和默认值
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	setFromEnv(&c.Search.Provider, searchProviderEnv)
	setFromEnv(&c.Search.Serper.APIKey, serperAPIKeyEnv)
	setFromEnv(&c.Search.Serper.Region, searchRegionEnv)
	setFromEnv(&c.Search.Tavily.APIKey, tavilyAPIKeyEnv)
	setFromEnv(&c.Search.SearXNG.BaseURL, searxngBaseURLEnv)

	setFromEnv(&c.LLM.BaseURL, llmBaseURLEnv)
	setFromEnv(&c.LLM.APIKey, anthropicAPIKeyEnv)
	setFromEnv(&c.LLM.APIKey, llmAPIKeyEnv)
	setFromEnv(&c.LLM.Model, llmModelEnv)

	setFromEnv(&c.Store.Driver, storeDriverEnv)
	setFromEnv(&c.Store.DSN, databaseDSNEnv)
	setFromEnv(&c.Store.Sheets.SpreadsheetID, sheetsIDEnv)
	setFromEnv(&c.Store.Sheets.CredentialsJSON, sheetsCredsEnv)

	setFromEnv(&c.Pipeline.BackfillStart, backfillStartEnv)
	setFromEnv(&c.Log.Level, logLevelEnv)
	setFromEnv(&c.Log.File, logFileEnv)
	setFromEnv(&c.Metrics.PushgatewayURL, pushgatewayEnv)
}

func (c *Config) applyDefaults() {
	if c.Search.Provider == "" {
		c.Search.Provider = "serper"
	}
	if c.Search.Serper.Region == "" {
		c.Search.Serper.Region = defaultRegion
	}
	if c.Search.MaxResults <= 0 {
		c.Search.MaxResults = 20
	}
	if c.Search.MaxAttempts <= 0 {
		c.Search.MaxAttempts = 2
	}

	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	if c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = 1024
	}
	if c.LLM.MaxAttempts <= 0 {
		c.LLM.MaxAttempts = 3
	}
	if c.LLM.Timeout <= 0 {
		c.LLM.Timeout = 60
	}

	if c.Store.Driver == "" {
		c.Store.Driver = "sheets"
	}
	if c.Store.Sheets.Worksheet == "" {
		c.Store.Sheets.Worksheet = defaultWorksheet
	}
	if c.Store.Sheets.StateWorksheet == "" {
		c.Store.Sheets.StateWorksheet = defaultStateSheet
	}

	if c.Pipeline.BackfillStart == "" {
		c.Pipeline.BackfillStart = DefaultBackfillStart
	}
	if c.Pipeline.IncludeUndated == nil {
		include := true
		c.Pipeline.IncludeUndated = &include
	}

	if len(c.Keywords) == 0 {
		c.Keywords = append([]string(nil), DefaultKeywords...)
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	if c.Concurrency.QPS <= 0 {
		c.Concurrency.QPS = 1
	}
	if c.Concurrency.RPM <= 0 {
		c.Concurrency.RPM = 20
	}
	if c.Concurrency.SearchRPM <= 0 {
		c.Concurrency.SearchRPM = 60
	}

	if c.Metrics.Job == "" {
		c.Metrics.Job = "crop_radar"
	}
}

// BackfillStartDate 解析回填起始日期（UTC 零点）
func (c *Config) BackfillStartDate() (time.Time, error) {
	t, err := time.ParseInLocation(time.DateOnly, strings.TrimSpace(c.Pipeline.BackfillStart), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid backfill start %q: %w", c.Pipeline.BackfillStart, err)
	}
	return t, nil
}

// IncludeUndated 发布时间未知的结果是否纳入处理
func (c *Config) IncludeUndated() bool {
	return c.Pipeline.IncludeUndated == nil || *c.Pipeline.IncludeUndated
}

// ErrMissingCredential 缺少凭据或必填配置
var ErrMissingCredential = errors.New("missing required configuration")

// MissingError 列出全部缺失的配置项
type MissingError struct {
	Fields []string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("%v: %s", ErrMissingCredential, strings.Join(e.Fields, ", "))
}

func (e *MissingError) Is(target error) bool {
	return target == ErrMissingCredential
}

// Validate 在发起任何外部调用之前检查配置
func (c *Config) Validate() error {
	var missing []string

	switch c.Search.Provider {
	case "serper":
		if c.Search.Serper.APIKey == "" {
			missing = append(missing, serperAPIKeyEnv)
		}
	case "tavily":
		if c.Search.Tavily.APIKey == "" {
			missing = append(missing, tavilyAPIKeyEnv)
		}
	case "searxng":
		if c.Search.SearXNG.BaseURL == "" {
			missing = append(missing, searxngBaseURLEnv)
		}
	default:
		return fmt.Errorf("unknown search provider: %s", c.Search.Provider)
	}

	if c.LLM.APIKey == "" {
		missing = append(missing, anthropicAPIKeyEnv)
	}

	switch c.Store.Driver {
	case "sheets":
		if c.Store.Sheets.SpreadsheetID == "" {
			missing = append(missing, sheetsIDEnv)
		}
		if c.Store.Sheets.CredentialsJSON == "" {
			missing = append(missing, sheetsCredsEnv)
		}
	case "postgres", "sqlite":
		if c.Store.DSN == "" {
			missing = append(missing, databaseDSNEnv)
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store driver: %s", c.Store.Driver)
	}

	if len(c.Keywords) == 0 {
		missing = append(missing, "keywords")
	}

	if len(missing) > 0 {
		return &MissingError{Fields: missing}
	}

	if _, err := c.BackfillStartDate(); err != nil {
		return err
	}
	return nil
}

func setFromEnv(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}
