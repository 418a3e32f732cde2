package config

import (
	"log"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	configPathEnv     = "RESEARCH_CONFIG"
	databaseDriverEnv = "DATABASE_DRIVER"
	databaseDSNEnv    = "DATABASE_DSN"
	openAIAPIKeyEnv   = "OPENAI_API_KEY"
	openAIBaseURLEnv  = "OPENAI_BASE_URL"
	openAIModelEnv    = "OPENAI_MODEL"
	serperAPIKeyEnv   = "SERPER_API_KEY"
	httpAddrEnv       = "HTTP_ADDR"
	logLevelEnv       = "LOG_LEVEL"
	telegramTokenEnv  = "TELEGRAM_BOT_TOKEN"
	telegramChatEnv   = "TELEGRAM_CHAT_ID"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Database DatabaseConfig `yaml:"database"`
	LLM      LLMConfig      `yaml:"llm"`
	Search   SearchConfig   `yaml:"search"`
	Server   ServerConfig   `yaml:"server"`
	Workflow WorkflowConfig `yaml:"workflow"`
	Telegram TelegramConfig `yaml:"telegram"`
}

// LoggingConfig selects the slog level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DatabaseConfig picks the storage backend: memory, sqlite or postgres.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// LLMConfig defines how to contact an OpenAI-compatible chat API.
type LLMConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"apiKey"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// SearchConfig describes the web search backend and the per-depth query plans.
type SearchConfig struct {
	Endpoint        string                      `yaml:"endpoint"`
	NewsEndpoint    string                      `yaml:"newsEndpoint"`
	APIKey          string                      `yaml:"apiKey"`
	ResultsPerQuery int                         `yaml:"resultsPerQuery"`
	Country         string                      `yaml:"country"`
	Language        string                      `yaml:"language"`
	Timeout         time.Duration               `yaml:"timeout"`
	Plans           map[string][]CategoryConfig `yaml:"plans"`
}

// CategoryConfig is one search category with its query templates. "{company}"
// in a query is replaced by the researched company.
type CategoryConfig struct {
	Name    string   `yaml:"name"`
	News    bool     `yaml:"news"`
	Queries []string `yaml:"queries"`
}

// ServerConfig wires the HTTP listener.
type ServerConfig struct {
	Addr             string `yaml:"addr"`
	SubscriberBuffer int    `yaml:"subscriberBuffer"`
}

// WorkflowConfig tunes run handling.
type WorkflowConfig struct {
	DefaultDepth    string        `yaml:"defaultDepth"`
	JanitorInterval time.Duration `yaml:"janitorInterval"`
	RetainFinished  time.Duration `yaml:"retainFinished"`
}

// TelegramConfig enables completion notifications. Empty token or chat
// disables them.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
	APIBase  string `yaml:"apiBase"`
}

// Enabled reports whether both credentials are present.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && t.ChatID != ""
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else if fileCfg, err := Parse(raw); err != nil {
			log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
		} else {
			cfg = mergeConfig(cfg, fileCfg)
		}
	}

	cfg.applyEnvOverrides()
	return cfg
}

// Parse decodes a YAML document without applying defaults.
func Parse(raw []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseDriverEnv); v != "" {
		c.Database.Driver = strings.ToLower(v)
	}
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}

	if v := os.Getenv(openAIAPIKeyEnv); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv(openAIBaseURLEnv); v != "" {
		c.LLM.Endpoint = strings.TrimRight(v, "/") + "/chat/completions"
	}
	if v := os.Getenv(openAIModelEnv); v != "" {
		c.LLM.Model = v
	}

	if v := os.Getenv(serperAPIKeyEnv); v != "" {
		c.Search.APIKey = v
	}

	if v := os.Getenv(httpAddrEnv); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv(telegramChatEnv); v != "" {
		c.Telegram.ChatID = v
	}
}

func mergeConfig(base, override Config) Config {
	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}

	if override.Database.Driver != "" {
		base.Database.Driver = strings.ToLower(override.Database.Driver)
	}
	if override.Database.DSN != "" {
		base.Database.DSN = override.Database.DSN
	}

	if override.LLM.Endpoint != "" {
		base.LLM.Endpoint = override.LLM.Endpoint
	}
	if override.LLM.Model != "" {
		base.LLM.Model = override.LLM.Model
	}
	if override.LLM.APIKey != "" {
		base.LLM.APIKey = override.LLM.APIKey
	}
	if override.LLM.Temperature > 0 {
		base.LLM.Temperature = override.LLM.Temperature
	}
	if override.LLM.Timeout > 0 {
		base.LLM.Timeout = override.LLM.Timeout
	}

	if override.Search.Endpoint != "" {
		base.Search.Endpoint = override.Search.Endpoint
	}
	if override.Search.NewsEndpoint != "" {
		base.Search.NewsEndpoint = override.Search.NewsEndpoint
	}
	if override.Search.APIKey != "" {
		base.Search.APIKey = override.Search.APIKey
	}
	if override.Search.ResultsPerQuery > 0 {
		base.Search.ResultsPerQuery = override.Search.ResultsPerQuery
	}
	if override.Search.Country != "" {
		base.Search.Country = override.Search.Country
	}
	if override.Search.Language != "" {
		base.Search.Language = override.Search.Language
	}
	if override.Search.Timeout > 0 {
		base.Search.Timeout = override.Search.Timeout
	}
	for depth, plan := range override.Search.Plans {
		if len(plan) > 0 {
			base.Search.Plans[strings.ToLower(depth)] = plan
		}
	}

	if override.Server.Addr != "" {
		base.Server.Addr = override.Server.Addr
	}
	if override.Server.SubscriberBuffer > 0 {
		base.Server.SubscriberBuffer = override.Server.SubscriberBuffer
	}

	if override.Workflow.DefaultDepth != "" {
		base.Workflow.DefaultDepth = override.Workflow.DefaultDepth
	}
	if override.Workflow.JanitorInterval > 0 {
		base.Workflow.JanitorInterval = override.Workflow.JanitorInterval
	}
	if override.Workflow.RetainFinished > 0 {
		base.Workflow.RetainFinished = override.Workflow.RetainFinished
	}

	if override.Telegram.BotToken != "" {
		base.Telegram.BotToken = override.Telegram.BotToken
	}
	if override.Telegram.ChatID != "" {
		base.Telegram.ChatID = override.Telegram.ChatID
	}
	if override.Telegram.APIBase != "" {
		base.Telegram.APIBase = override.Telegram.APIBase
	}

	return base
}

func defaultConfig() Config {
	return Config{
		Logging:  LoggingConfig{Level: "info"},
		Database: DatabaseConfig{Driver: "sqlite", DSN: "research.db"},
		LLM: LLMConfig{
			Endpoint:    "https://api.openai.com/v1/chat/completions",
			Model:       "gpt-4o-mini",
			Temperature: 0.3,
			Timeout:     2 * time.Minute,
		},
		Search: SearchConfig{
			Endpoint:        "https://google.serper.dev/search",
			NewsEndpoint:    "https://google.serper.dev/news",
			ResultsPerQuery: 5,
			Country:         "cn",
			Language:        "zh-cn",
			Timeout:         20 * time.Second,
			Plans:           defaultPlans(),
		},
		Server: ServerConfig{Addr: ":8080", SubscriberBuffer: 256},
		Workflow: WorkflowConfig{
			DefaultDepth:    "standard",
			JanitorInterval: time.Minute,
			RetainFinished:  30 * time.Minute,
		},
		Telegram: TelegramConfig{APIBase: "https://api.telegram.org"},
	}
}

func defaultPlans() map[string][]CategoryConfig {
	basic := []CategoryConfig{
		{Name: "company_info", Queries: []string{"{company} 公司简介 主营业务", "{company} company profile"}},
		{Name: "news", News: true, Queries: []string{"{company} 最新消息"}},
	}
	standard := append(cloneCategories(basic),
		CategoryConfig{Name: "financial_data", Queries: []string{"{company} 财报 营收 净利润", "{company} 财务数据 毛利率"}},
		CategoryConfig{Name: "industry_analysis", Queries: []string{"{company} 行业分析 竞争格局", "{company} 市场份额"}},
	)
	deep := append(cloneCategories(standard),
		CategoryConfig{Name: "deep_financials", Queries: []string{"{company} 现金流 负债率 ROE", "{company} 年报 分析"}},
		CategoryConfig{Name: "management", Queries: []string{"{company} 管理层 董事长 战略"}},
		CategoryConfig{Name: "risk_factors", Queries: []string{"{company} 风险 诉讼 监管"}},
	)
	return map[string][]CategoryConfig{
		"basic":    basic,
		"standard": standard,
		"deep":     deep,
	}
}

func cloneCategories(in []CategoryConfig) []CategoryConfig {
	out := make([]CategoryConfig, len(in))
	copy(out, in)
	return out
}
