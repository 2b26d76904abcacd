package config

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Telegram   TelegramConfig   `yaml:"telegram" mapstructure:"telegram"`
	Search     SearchConfig     `yaml:"search" mapstructure:"search"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	LLM        LLMConfig        `yaml:"llm" mapstructure:"llm"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Chat       ChatConfig       `yaml:"chat" mapstructure:"chat"`
	Storage    StorageConfig    `yaml:"storage" mapstructure:"storage"`
	Stats      StatsConfig      `yaml:"stats" mapstructure:"stats"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr        string   `yaml:"addr" mapstructure:"addr" validate:"required"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// TelegramConfig holds the bot credentials and webhook settings.
type TelegramConfig struct {
	BotToken      string  `yaml:"bot_token" mapstructure:"bot_token"`
	WebhookSecret string  `yaml:"webhook_secret" mapstructure:"webhook_secret"`
	WebhookURL    string  `yaml:"webhook_url" mapstructure:"webhook_url" validate:"omitempty,url"`
	APIURL        string  `yaml:"api_url" mapstructure:"api_url" validate:"required,url"`
	RatePerSec    float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec" validate:"gt=0"`
}

// SearchConfig points at the external search microservices. When
// AssistantURL is set the pipeline runs in direct-answer mode; otherwise
// LinksURL enables link-search mode.
type SearchConfig struct {
	LinksURL     string `yaml:"links_url" mapstructure:"links_url" validate:"omitempty,url"`
	AssistantURL string `yaml:"assistant_url" mapstructure:"assistant_url" validate:"omitempty,url"`
	TimeoutSecs  int    `yaml:"timeout_secs" mapstructure:"timeout_secs" validate:"gt=0"`
}

// FetchConfig configures the page fan-out.
type FetchConfig struct {
	Concurrency     int    `yaml:"concurrency" mapstructure:"concurrency" validate:"gt=0"`
	PerURLTimeoutMs int    `yaml:"per_url_timeout_ms" mapstructure:"per_url_timeout_ms" validate:"gt=0"`
	DeadlineMs      int    `yaml:"deadline_ms" mapstructure:"deadline_ms" validate:"gt=0"`
	MaxBytes        int64  `yaml:"max_bytes" mapstructure:"max_bytes" validate:"gt=0"`
	UserAgent       string `yaml:"user_agent" mapstructure:"user_agent"`

	// Backend is http, browser (headless Chrome) or auto (http, then
	// browser for blocked or script-rendered pages).
	Backend       string `yaml:"backend" mapstructure:"backend" validate:"oneof=http browser auto"`
	BrowserPath   string `yaml:"browser_path" mapstructure:"browser_path"`
	BrowserWaitMs int    `yaml:"browser_wait_ms" mapstructure:"browser_wait_ms" validate:"gte=0"`
	MinTextRunes  int    `yaml:"min_text_runes" mapstructure:"min_text_runes" validate:"gt=0"`
	ProxyURL      string `yaml:"proxy_url" mapstructure:"proxy_url" validate:"omitempty,url"`
}

// PerURLTimeout returns the per-URL timeout as a duration.
func (f FetchConfig) PerURLTimeout() time.Duration {
	return time.Duration(f.PerURLTimeoutMs) * time.Millisecond
}

// Deadline returns the overall fan-out deadline as a duration.
func (f FetchConfig) Deadline() time.Duration {
	return time.Duration(f.DeadlineMs) * time.Millisecond
}

// BrowserWait returns how long rendered pages settle before capture.
func (f FetchConfig) BrowserWait() time.Duration {
	return time.Duration(f.BrowserWaitMs) * time.Millisecond
}

// LLMConfig configures the extraction model.
type LLMConfig struct {
	Provider     string  `yaml:"provider" mapstructure:"provider" validate:"oneof=groq anthropic"`
	Key          string  `yaml:"key" mapstructure:"key"`
	Model        string  `yaml:"model" mapstructure:"model" validate:"required"`
	BaseURL      string  `yaml:"base_url" mapstructure:"base_url" validate:"omitempty,url"`
	Temperature  float64 `yaml:"temperature" mapstructure:"temperature" validate:"gte=0,lte=2"`
	MaxTokens    int     `yaml:"max_tokens" mapstructure:"max_tokens" validate:"gt=0"`
	TokenLimit   int     `yaml:"token_limit" mapstructure:"token_limit" validate:"gt=0"`
	SafetyTokens int     `yaml:"safety_tokens" mapstructure:"safety_tokens" validate:"gte=0"`
}

// ResilienceConfig configures circuit breakers on external services.
type ResilienceConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// ChatConfig configures chat session handling.
type ChatConfig struct {
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent" validate:"gt=0"`
	MaxMessageLen int `yaml:"max_message_len" mapstructure:"max_message_len" validate:"gt=0"`
}

// StorageConfig configures on-disk state.
type StorageConfig struct {
	GreetedPath  string `yaml:"greeted_path" mapstructure:"greeted_path" validate:"required"`
	ArtifactsDir string `yaml:"artifacts_dir" mapstructure:"artifacts_dir"`
}

// StatsConfig configures the usage stats sink.
type StatsConfig struct {
	Driver            string `yaml:"driver" mapstructure:"driver" validate:"oneof=file sqlite postgres"`
	Path              string `yaml:"path" mapstructure:"path"`
	DatabaseURL       string `yaml:"database_url" mapstructure:"database_url"`
	FlushIntervalSecs int    `yaml:"flush_interval_secs" mapstructure:"flush_interval_secs" validate:"gt=0"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// legacyEnv maps config keys to the environment variable names used by earlier
// deployments. They are honored in addition to LOOKUP_* names.
var legacyEnv = map[string]string{
	"telegram.bot_token":      "TG_BOT_TOKEN",
	"telegram.webhook_secret": "TG_WEBHOOK_SECRET",
	"telegram.webhook_url":    "TG_WEBHOOK_URL",
	"search.assistant_url":    "ALICE_URL",
	"search.links_url":        "YANDEX_SERP_URL",
	"search.timeout_secs":     "MS_TIMEOUT_SEC",
	"llm.key":                 "GROQ_API_KEY",
	"log.level":               "LOG_LEVEL",
}

// Load reads configuration from .env, config.yaml and the environment.
func Load() (*Config, error) {
	// .env is optional; real environment variables win over it.
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("LOOKUP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, legacy := range legacyEnv {
		envName := "LOOKUP_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envName, legacy); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", key)
		}
	}

	v.SetDefault("server.addr", "127.0.0.1:8000")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("telegram.api_url", "https://api.telegram.org")
	v.SetDefault("telegram.rate_per_sec", 30)
	v.SetDefault("search.timeout_secs", 36)
	v.SetDefault("fetch.concurrency", 40)
	v.SetDefault("fetch.per_url_timeout_ms", 6000)
	v.SetDefault("fetch.deadline_ms", 6000)
	v.SetDefault("fetch.max_bytes", 16*1024*1024)
	v.SetDefault("fetch.user_agent", "Mozilla/5.0")
	v.SetDefault("fetch.backend", "http")
	v.SetDefault("fetch.browser_wait_ms", 1000)
	v.SetDefault("fetch.min_text_runes", 500)
	v.SetDefault("llm.provider", "groq")
	v.SetDefault("llm.model", "llama-3.1-8b-instant")
	v.SetDefault("llm.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 256)
	v.SetDefault("llm.token_limit", 6000)
	v.SetDefault("llm.safety_tokens", 200)
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.reset_timeout_secs", 30)
	v.SetDefault("chat.max_concurrent", 16)
	v.SetDefault("chat.max_message_len", 4096)
	v.SetDefault("storage.greeted_path", "greeted.json")
	v.SetDefault("storage.artifacts_dir", "")
	v.SetDefault("stats.driver", "file")
	v.SetDefault("stats.path", "stat.jsonl")
	v.SetDefault("stats.flush_interval_secs", 60)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks value ranges and enumerations. Missing service URLs and
// credentials are not errors here: they degrade individual features at
// runtime instead.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return eris.Wrap(err, "config: validate")
	}
	switch c.Stats.Driver {
	case "file", "sqlite":
		if c.Stats.Path == "" {
			return eris.Errorf("config: stats.path is required for driver %q", c.Stats.Driver)
		}
	case "postgres":
		if c.Stats.DatabaseURL == "" {
			return eris.New("config: stats.database_url is required for driver \"postgres\"")
		}
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
