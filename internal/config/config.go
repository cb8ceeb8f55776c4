package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Breaker    BreakerConfig    `yaml:"breaker" mapstructure:"breaker"`
	Generate   GenerateConfig   `yaml:"generate" mapstructure:"generate"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI     OpenAIConfig     `yaml:"openai" mapstructure:"openai"`
	Ollama     OllamaConfig     `yaml:"ollama" mapstructure:"ollama"`
	LMStudio   LMStudioConfig   `yaml:"lmstudio" mapstructure:"lmstudio"`
	Providers  []ProviderConfig `yaml:"providers" mapstructure:"providers"`
	Sentry     SentryConfig     `yaml:"sentry" mapstructure:"sentry"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// ServerConfig configures the bridge HTTP server.
type ServerConfig struct {
	Host           string   `yaml:"host" mapstructure:"host"`
	Port           int      `yaml:"port" mapstructure:"port"`
	RateLimit      float64  `yaml:"rate_limit" mapstructure:"rate_limit"`
	RateBurst      int      `yaml:"rate_burst" mapstructure:"rate_burst"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// BreakerConfig configures the per-provider circuit breaker.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	RecoverySecs     int `yaml:"recovery_secs" mapstructure:"recovery_secs"`
}

// GenerateConfig configures generate-mode requests.
type GenerateConfig struct {
	Provider    string  `yaml:"provider" mapstructure:"provider"`
	MaxAttempts int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	AcceptRatio float64 `yaml:"accept_ratio" mapstructure:"accept_ratio"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// OpenAIConfig holds OpenAI API settings.
type OpenAIConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// OllamaConfig holds local Ollama daemon settings.
type OllamaConfig struct {
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	Model         string `yaml:"model" mapstructure:"model"`
	GenerateModel string `yaml:"generate_model" mapstructure:"generate_model"`
	NumCtx        int    `yaml:"num_ctx" mapstructure:"num_ctx"`
}

// LMStudioConfig holds settings for a local LM Studio server.
type LMStudioConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// ProviderConfig describes an extra provider registered at startup.
type ProviderConfig struct {
	Name    string `yaml:"name" mapstructure:"name"`
	Type    string `yaml:"type" mapstructure:"type"`
	Model   string `yaml:"model" mapstructure:"model"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
}

// SentryConfig configures optional error reporting.
type SentryConfig struct {
	DSN              string  `yaml:"dsn" mapstructure:"dsn"`
	Environment      string  `yaml:"environment" mapstructure:"environment"`
	TracesSampleRate float64 `yaml:"traces_sample_rate" mapstructure:"traces_sample_rate"`
}

// MonitoringConfig holds provider health alerting settings.
type MonitoringConfig struct {
	CheckIntervalSecs    int `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	HealthScoreThreshold int `yaml:"health_score_threshold" mapstructure:"health_score_threshold"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CONDUIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 9321)
	v.SetDefault("server.rate_limit", 5.0)
	v.SetDefault("server.rate_burst", 10)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("breaker.failure_threshold", 3)
	v.SetDefault("breaker.recovery_secs", 60)
	v.SetDefault("generate.provider", "ollama_generate")
	v.SetDefault("generate.max_attempts", 2)
	v.SetDefault("generate.accept_ratio", 0.5)
	v.SetDefault("generate.timeout_secs", 120)
	v.SetDefault("anthropic.model", "claude-sonnet-4-20250514")
	v.SetDefault("openai.model", "gpt-4o")
	v.SetDefault("ollama.base_url", "http://localhost:11434")
	v.SetDefault("ollama.model", "llama3.2")
	v.SetDefault("ollama.num_ctx", 1024)
	v.SetDefault("lmstudio.enabled", true)
	v.SetDefault("lmstudio.base_url", "http://localhost:1234/v1")
	v.SetDefault("lmstudio.model", "local-model")
	v.SetDefault("sentry.environment", "development")
	v.SetDefault("monitoring.check_interval_secs", 60)
	v.SetDefault("monitoring.health_score_threshold", 50)

	// Cloud keys follow the vendors' own variable names when unset.
	_ = v.BindEnv("anthropic.key", "CONDUIT_ANTHROPIC_KEY", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("openai.key", "CONDUIT_OPENAI_KEY", "OPENAI_API_KEY")

	// Read config file (optional)
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

// Validate checks the fields required by the given run mode ("serve" or
// "generate").
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server.rate_limit must be >= 0")
		}
	case "generate":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Breaker.FailureThreshold <= 0 {
		errs = append(errs, "breaker.failure_threshold must be > 0")
	}
	if c.Breaker.RecoverySecs <= 0 {
		errs = append(errs, "breaker.recovery_secs must be > 0")
	}
	if c.Generate.MaxAttempts < 1 || c.Generate.MaxAttempts > 5 {
		errs = append(errs, "generate.max_attempts must be between 1 and 5")
	}
	if c.Generate.AcceptRatio < 0 || c.Generate.AcceptRatio > 1 {
		errs = append(errs, "generate.accept_ratio must be between 0 and 1")
	}
	for i, p := range c.Providers {
		if p.Name == "" || p.Type == "" {
			errs = append(errs, fmt.Sprintf("providers[%d]: name and type are required", i))
		}
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
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
