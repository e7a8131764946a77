package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the research pipeline
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Research  ResearchConfig  `mapstructure:"research"`
	Email     EmailConfig     `mapstructure:"email"`
	Guardrail GuardrailConfig `mapstructure:"guardrail"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug             bool          `mapstructure:"debug"`
	LogLevel          string        `mapstructure:"log_level"`
	MaxProcessingTime time.Duration `mapstructure:"max_processing_time"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// LLMConfig contains LLM provider settings
type LLMConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

func (l LLMConfig) Validate() error {
	if strings.TrimSpace(l.APIKey) == "" {
		return fmt.Errorf("llm.api_key required (or OPENAI_API_KEY)")
	}
	if strings.TrimSpace(l.Model) == "" {
		return fmt.Errorf("llm.model required")
	}
	return nil
}

// ResearchConfig bounds the search plan and per-search summaries
type ResearchConfig struct {
	MinSearches     int `mapstructure:"min_searches"`
	MaxSearches     int `mapstructure:"max_searches"`
	SummaryMaxWords int `mapstructure:"summary_max_words"`
}

func (r ResearchConfig) Validate() error {
	if r.MinSearches < 1 {
		return fmt.Errorf("research.min_searches must be >= 1")
	}
	if r.MaxSearches < r.MinSearches {
		return fmt.Errorf("research.max_searches must be >= research.min_searches")
	}
	return nil
}

// EmailConfig contains SMTP transport and delivery settings
type EmailConfig struct {
	SMTPServer  string        `mapstructure:"smtp_server"`
	SMTPPort    int           `mapstructure:"smtp_port"`
	Username    string        `mapstructure:"username"`
	AppPassword string        `mapstructure:"app_password"`
	Recipient   string        `mapstructure:"recipient"`
	UseTLS      bool          `mapstructure:"use_tls"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
}

func (e EmailConfig) Validate() error {
	if strings.TrimSpace(e.SMTPServer) == "" {
		return fmt.Errorf("email.smtp_server required")
	}
	if e.SMTPPort < 1 || e.SMTPPort > 65535 {
		return fmt.Errorf("email.smtp_port invalid: %d", e.SMTPPort)
	}
	if strings.TrimSpace(e.Username) == "" {
		return fmt.Errorf("email.username required")
	}
	if strings.TrimSpace(e.AppPassword) == "" {
		return fmt.Errorf("email.app_password required (use an app password, not your account password)")
	}
	if len(strings.ReplaceAll(e.AppPassword, " ", "")) < 8 {
		return fmt.Errorf("email.app_password appears too short (use an app password)")
	}
	if e.MaxRetries < 1 {
		return fmt.Errorf("email.max_retries must be >= 1")
	}
	return nil
}

// GuardrailConfig contains admission-control thresholds
type GuardrailConfig struct {
	HourlyLimit int `mapstructure:"hourly_limit"`
	DailyLimit  int `mapstructure:"daily_limit"`
}

func (g GuardrailConfig) Validate() error {
	if g.HourlyLimit <= 0 {
		return fmt.Errorf("guardrail.hourly_limit must be > 0")
	}
	if g.DailyLimit <= 0 {
		return fmt.Errorf("guardrail.daily_limit must be > 0")
	}
	return nil
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	PeriodicLogs bool `mapstructure:"periodic_logs"`
}

// LoadConfig loads config from file, with environment overrides (DEEPRESEARCH_*)
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.max_processing_time", 10*time.Minute)
	v.SetDefault("server.address", ":8080")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_tokens", 4000)
	v.SetDefault("llm.timeout", 120*time.Second)
	v.SetDefault("research.min_searches", 3)
	v.SetDefault("research.max_searches", 10)
	v.SetDefault("research.summary_max_words", 300)
	v.SetDefault("email.smtp_server", "smtp.gmail.com")
	v.SetDefault("email.smtp_port", 587)
	v.SetDefault("email.use_tls", true)
	v.SetDefault("email.timeout", 30*time.Second)
	v.SetDefault("email.max_retries", 3)
	v.SetDefault("email.backoff_base", time.Second)
	v.SetDefault("guardrail.hourly_limit", 50)
	v.SetDefault("guardrail.daily_limit", 500)
	v.SetDefault("telemetry.enabled", true)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		v.AddConfigPath(filepath.Dir(exe))
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("DEEPRESEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// config file is optional; env vars and defaults can carry everything
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Well-known env fallbacks mirror the original .env contract
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Email.Username == "" {
		cfg.Email.Username = os.Getenv("GMAIL_EMAIL")
	}
	if cfg.Email.AppPassword == "" {
		cfg.Email.AppPassword = os.Getenv("GMAIL_APP_PASSWORD")
	}
	if cfg.Email.Recipient == "" {
		cfg.Email.Recipient = os.Getenv("RECIPIENT_EMAIL")
	}

	if err := cfg.Research.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Guardrail.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
