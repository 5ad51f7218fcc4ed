// Package config loads and validates the gateway configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath   = "config.toml"
	DefaultHTTPAddr     = ":8080"
	DefaultPGHost       = "127.0.0.1"
	DefaultPGPort       = 5432
	DefaultPGUser       = "postgres"
	DefaultPGDatabase   = "intaj"
	DefaultPGSSLMode    = "disable"
	DefaultRedisAddr    = "127.0.0.1:6379"
	DefaultAIBaseURL    = "https://api.openai.com/v1"
	DefaultModel        = "gpt-4o-mini"
	DefaultFallback     = "Sorry, I couldn't process that right now. Please try again in a moment."
	DefaultWindowSize   = 10
	DefaultCheckerSpec  = "@every 15m"
	DefaultDedupTTL     = "24h"
	DefaultCacheTTL     = "30m"
	DefaultAITimeout    = "30s"
	DefaultSendTimeout  = "10s"
	DefaultInitialDelay = "500ms"
	DefaultMaxDelay     = "8s"
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	Vault    VaultConfig    `toml:"vault"`
	AI       AIConfig       `toml:"ai"`
	Retry    RetryConfig    `toml:"retry"`
	Context  ContextConfig  `toml:"context"`
	Dedupe   DedupeConfig   `toml:"dedupe"`
	Checker  CheckerConfig  `toml:"checker"`
	Channels ChannelsConfig `toml:"channels"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// DSN renders the pool connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

type VaultConfig struct {
	// Key is the hex-encoded 32-byte encryption key. It lives in configuration
	// only; it is never persisted alongside the blobs it seals.
	Key string `toml:"key" validate:"required"`
}

type AIConfig struct {
	BaseURL       string   `toml:"base_url"`
	APIKey        string   `toml:"api_key" validate:"required"`
	Model         string   `toml:"model"`
	FallbackReply string   `toml:"fallback_reply"`
	Timeout       Duration `toml:"timeout"`
}

type RetryConfig struct {
	MaxAttempts   int      `toml:"max_attempts" validate:"min=1"`
	InitialDelay  Duration `toml:"initial_delay"`
	MaxDelay      Duration `toml:"max_delay"`
	BackoffFactor float64  `toml:"backoff_factor" validate:"min=1"`
}

type ContextConfig struct {
	WindowSize int      `toml:"window_size" validate:"min=1"`
	CacheTTL   Duration `toml:"cache_ttl"`
}

type DedupeConfig struct {
	Enabled bool     `toml:"enabled"`
	TTL     Duration `toml:"ttl"`
}

type CheckerConfig struct {
	Enabled  bool   `toml:"enabled"`
	Schedule string `toml:"schedule"`
}

type ChannelsConfig struct {
	Messenger MetaChannelConfig     `toml:"messenger"`
	WhatsApp  MetaChannelConfig     `toml:"whatsapp"`
	Telegram  TelegramChannelConfig `toml:"telegram"`
	// SendTimeout bounds every outbound platform API call.
	SendTimeout Duration `toml:"send_timeout"`
}

// MetaChannelConfig holds the app-level secrets shared by Meta platforms.
// Per-connection credentials (page tokens) live encrypted in the store.
type MetaChannelConfig struct {
	AppSecret   string `toml:"app_secret"`
	VerifyToken string `toml:"verify_token"`
}

type TelegramChannelConfig struct {
	// SecretToken is the value registered with setWebhook and echoed back by
	// Telegram in X-Telegram-Bot-Api-Secret-Token.
	SecretToken string `toml:"secret_token"`
}

// Duration unmarshals TOML strings like "30s" or "500ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func mustDuration(s string) Duration {
	parsed, err := time.ParseDuration(s)
	if err != nil {
		panic(err)
	}
	return Duration{parsed}
}

// Load reads the TOML config at path, applying defaults for anything omitted.
// A missing file yields the defaults; secrets may also arrive via environment.
func Load(path string) (Config, error) {
	cfg := Config{
		Log:    LogConfig{Level: "info", Format: "text"},
		Server: ServerConfig{Addr: DefaultHTTPAddr},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Redis: RedisConfig{Addr: DefaultRedisAddr},
		AI: AIConfig{
			BaseURL:       DefaultAIBaseURL,
			Model:         DefaultModel,
			FallbackReply: DefaultFallback,
			Timeout:       mustDuration(DefaultAITimeout),
		},
		Retry: RetryConfig{
			MaxAttempts:   3,
			InitialDelay:  mustDuration(DefaultInitialDelay),
			MaxDelay:      mustDuration(DefaultMaxDelay),
			BackoffFactor: 2,
		},
		Context: ContextConfig{
			WindowSize: DefaultWindowSize,
			CacheTTL:   mustDuration(DefaultCacheTTL),
		},
		Dedupe:  DedupeConfig{Enabled: true, TTL: mustDuration(DefaultDedupTTL)},
		Checker: CheckerConfig{Enabled: true, Schedule: DefaultCheckerSpec},
		Channels: ChannelsConfig{
			SendTimeout: mustDuration(DefaultSendTimeout),
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return cfg, err
		}
	} else if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// applyEnvOverrides lets deployments keep secrets out of the config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("INTAJ_VAULT_KEY"); v != "" {
		cfg.Vault.Key = v
	}
	if v := os.Getenv("INTAJ_AI_API_KEY"); v != "" {
		cfg.AI.APIKey = v
	}
	if v := os.Getenv("INTAJ_PG_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("INTAJ_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
}

// Validate checks the loaded config against its struct tags.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
