// Package config provides configuration management for the dashboard.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Polling  PollingConfig  `mapstructure:"polling"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Server   ServerConfig   `mapstructure:"server"`
	Recorder RecorderConfig `mapstructure:"recorder"`
	Notify   NotifyConfig   `mapstructure:"notifications"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// APIConfig holds the engine backend connection settings.
type APIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	UseMock bool          `mapstructure:"use_mock"`
}

// PollingConfig holds the refresh cadence of the background pollers.
type PollingConfig struct {
	InstancesInterval time.Duration `mapstructure:"instances_interval"`
	TelemetryInterval time.Duration `mapstructure:"telemetry_interval"`
	MinFetchInterval  time.Duration `mapstructure:"min_fetch_interval"`
	ConfirmDelay      time.Duration `mapstructure:"confirm_delay"`
	DefaultBarsLimit  int           `mapstructure:"default_bars_limit"`
}

// CatalogConfig holds strategy catalog cache settings.
type CatalogConfig struct {
	DefinitionsTTL time.Duration `mapstructure:"definitions_ttl"`
}

// AuthConfig holds credential provider settings.
type AuthConfig struct {
	TokenPath   string     `mapstructure:"token_path"`
	AccessToken string     `mapstructure:"-"` // env only
	OIDC        OIDCConfig `mapstructure:"oidc"`
}

// OIDCConfig holds client-credentials settings for an OIDC provider.
type OIDCConfig struct {
	TokenURL     string   `mapstructure:"token_url"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	Scopes       []string `mapstructure:"scopes"`
}

// Enabled reports whether enough OIDC settings are present to request tokens.
func (o OIDCConfig) Enabled() bool {
	return o.TokenURL != "" && o.ClientID != ""
}

// ServerConfig holds the local JSON API settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// RecorderConfig holds the telemetry history settings.
type RecorderConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DBPath  string `mapstructure:"db_path"`
}

// NotifyConfig holds instance alert settings.
type NotifyConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Level    string         `mapstructure:"level"` // all, errors_only
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// envOverrides lists the environment variables that take precedence over config.toml.
type envOverrides struct {
	APIBaseURL       string `env:"MARKO_API_BASE_URL"`
	UseMock          string `env:"MARKO_USE_MOCK"`
	AccessToken      string `env:"MARKO_ACCESS_TOKEN"`
	OIDCTokenURL     string `env:"MARKO_OIDC_TOKEN_URL"`
	OIDCClientID     string `env:"MARKO_OIDC_CLIENT_ID"`
	OIDCClientSecret string `env:"MARKO_OIDC_CLIENT_SECRET"`
	OIDCScope        string `env:"MARKO_OIDC_SCOPE"`
	LogLevel         string `env:"MARKO_LOG_LEVEL"`
	ServerAddr       string `env:"MARKO_SERVER_ADDR"`
	WebhookURL       string `env:"MARKO_WEBHOOK_URL"`
	TelegramToken    string `env:"MARKO_TELEGRAM_BOT_TOKEN"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/marko-dashboard"
	}
	return filepath.Join(home, ".config", "marko-dashboard")
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	v := viper.New()
	setDefaults(v, DefaultConfigDir())
	_ = v.Unmarshal(cfg)
	return cfg
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory. A missing config.toml
// is replaced by a commented template and the defaults are used.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	// A .env in the working directory is optional.
	_ = godotenv.Load(".env")

	cfg := &Config{}
	if err := loadConfigFile(configDir, "config", cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("api.base_url", "http://localhost:8000")
	v.SetDefault("api.timeout", 15*time.Second)
	v.SetDefault("api.use_mock", false)

	v.SetDefault("polling.instances_interval", 5*time.Second)
	v.SetDefault("polling.telemetry_interval", 5*time.Second)
	v.SetDefault("polling.min_fetch_interval", 2*time.Second)
	v.SetDefault("polling.confirm_delay", 200*time.Millisecond)
	v.SetDefault("polling.default_bars_limit", 100)

	v.SetDefault("catalog.definitions_ttl", 5*time.Minute)

	v.SetDefault("auth.token_path", filepath.Join(configDir, "token"))
	v.SetDefault("auth.oidc.scopes", []string{"openid", "profile", "email"})

	v.SetDefault("server.addr", "127.0.0.1:8088")

	v.SetDefault("recorder.enabled", false)
	v.SetDefault("recorder.db_path", filepath.Join(configDir, "history.db"))

	v.SetDefault("notifications.enabled", false)
	v.SetDefault("notifications.level", "all")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", true)
	v.SetDefault("logging.file_path", filepath.Join(configDir, "logs", "dashboard.log"))
	v.SetDefault("logging.max_size", 50)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age", 14)
}

func loadConfigFile(configDir, name string, target interface{}) error {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v, configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		if err := createTemplateConfig(configDir, name); err != nil {
			return err
		}
	}

	return v.Unmarshal(target)
}

func applyEnvOverrides(cfg *Config) error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return err
	}

	if o.APIBaseURL != "" {
		cfg.API.BaseURL = o.APIBaseURL
	}
	if o.UseMock != "" {
		useMock, err := strconv.ParseBool(o.UseMock)
		if err != nil {
			return fmt.Errorf("MARKO_USE_MOCK: %w", err)
		}
		cfg.API.UseMock = useMock
	}
	if o.AccessToken != "" {
		cfg.Auth.AccessToken = o.AccessToken
	}
	if o.OIDCTokenURL != "" {
		cfg.Auth.OIDC.TokenURL = o.OIDCTokenURL
	}
	if o.OIDCClientID != "" {
		cfg.Auth.OIDC.ClientID = o.OIDCClientID
	}
	if o.OIDCClientSecret != "" {
		cfg.Auth.OIDC.ClientSecret = o.OIDCClientSecret
	}
	if o.OIDCScope != "" {
		cfg.Auth.OIDC.Scopes = strings.Fields(o.OIDCScope)
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	if o.ServerAddr != "" {
		cfg.Server.Addr = o.ServerAddr
	}
	if o.WebhookURL != "" {
		cfg.Notify.Webhook.URL = o.WebhookURL
		cfg.Notify.Webhook.Enabled = true
	}
	if o.TelegramToken != "" {
		cfg.Notify.Telegram.BotToken = o.TelegramToken
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if !c.API.UseMock {
		u, err := url.Parse(c.API.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("api.base_url must be an absolute http(s) URL, got %q", c.API.BaseURL)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("api.base_url scheme must be http or https, got %q", u.Scheme)
		}
	}

	if c.Polling.InstancesInterval <= 0 || c.Polling.TelemetryInterval <= 0 {
		return fmt.Errorf("polling intervals must be positive")
	}
	if c.Polling.MinFetchInterval < 0 || c.Polling.ConfirmDelay < 0 {
		return fmt.Errorf("min_fetch_interval and confirm_delay must be non-negative")
	}
	if c.Polling.DefaultBarsLimit < 10 || c.Polling.DefaultBarsLimit > 5000 {
		return fmt.Errorf("default_bars_limit must be between 10 and 5000")
	}
	if c.Catalog.DefinitionsTTL < 0 {
		return fmt.Errorf("catalog.definitions_ttl must be non-negative")
	}

	switch c.Notify.Level {
	case "", "all", "errors_only":
	default:
		return fmt.Errorf("invalid notifications.level: %s (must be all or errors_only)", c.Notify.Level)
	}
	if c.Notify.Webhook.Enabled && c.Notify.Webhook.URL == "" {
		return fmt.Errorf("notifications.webhook.url is required when the webhook is enabled")
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn or error)", c.Logging.Level)
	}

	return nil
}
