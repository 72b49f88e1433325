// Package config loads the ledger engine configuration from TOML files
// with environment overrides.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/shopspring/decimal"
)

// Config holds all configuration for the ledger engine
type Config struct {
	Environment string        `toml:"environment"`
	Server      ServerConfig  `toml:"server"`
	Ledger      LedgerConfig  `toml:"ledger"`
	Storage     StorageConfig `toml:"storage"`
	Quotes      QuotesConfig  `toml:"quotes"`
	Auth        AuthConfig    `toml:"auth"`
	Logging     LoggingConfig `toml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// Addr returns host:port for http.Server.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LedgerConfig holds accounting parameters.
type LedgerConfig struct {
	InitialCapital string `toml:"initial_capital"` // decimal string, default "10000"
}

// GetInitialCapital parses the starting cash. Invalid or non-positive
// values fall back to 10000.
func (c *LedgerConfig) GetInitialCapital() decimal.Decimal {
	d, err := decimal.NewFromString(c.InitialCapital)
	if err != nil || !d.IsPositive() {
		return decimal.NewFromInt(10000)
	}
	return d
}

// StorageConfig holds database and cache connection settings. Empty URLs
// select the in-memory store and disable the cache.
type StorageConfig struct {
	DatabaseURL string `toml:"database_url"`
	RedisURL    string `toml:"redis_url"`
	SnapshotTTL string `toml:"snapshot_ttl"`
}

// GetSnapshotTTL parses and returns the snapshot cache TTL
func (c *StorageConfig) GetSnapshotTTL() time.Duration {
	return positiveDuration(c.SnapshotTTL, 30*time.Second)
}

// QuotesConfig holds Finnhub API configuration
type QuotesConfig struct {
	BaseURL         string `toml:"base_url"`
	APIKey          string `toml:"api_key"`
	RateLimit       int    `toml:"rate_limit"`
	Concurrency     int    `toml:"concurrency"`
	Timeout         string `toml:"timeout"`
	RefreshInterval string `toml:"refresh_interval"`
	MaxAge          string `toml:"max_age"`
}

// GetTimeout parses and returns the timeout duration
func (c *QuotesConfig) GetTimeout() time.Duration {
	return positiveDuration(c.Timeout, 10*time.Second)
}

// GetRefreshInterval parses and returns the quote refresh period. Zero or
// negative values fall back to the default.
func (c *QuotesConfig) GetRefreshInterval() time.Duration {
	return positiveDuration(c.RefreshInterval, 30*time.Second)
}

// GetMaxAge returns how long a quote stays usable. Zero disables expiry.
func (c *QuotesConfig) GetMaxAge() time.Duration {
	return parseDuration(c.MaxAge, 5*time.Minute)
}

// AuthConfig holds JWT settings.
type AuthConfig struct {
	JWTSecret   string `toml:"jwt_secret"`
	TokenExpiry string `toml:"token_expiry"` // duration string, default "24h"
}

// GetTokenExpiry parses and returns the token expiry duration.
func (c *AuthConfig) GetTokenExpiry() time.Duration {
	return positiveDuration(c.TokenExpiry, 24*time.Hour)
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // json or text
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// positiveDuration is parseDuration for settings where zero or a negative
// value is meaningless.
func positiveDuration(s string, fallback time.Duration) time.Duration {
	if d := parseDuration(s, fallback); d > 0 {
		return d
	}
	return fallback
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			AllowedOrigins: []string{"*"},
		},
		Ledger: LedgerConfig{
			InitialCapital: "10000",
		},
		Storage: StorageConfig{
			SnapshotTTL: "30s",
		},
		Quotes: QuotesConfig{
			BaseURL:         "https://finnhub.io/api/v1",
			RateLimit:       5,
			Concurrency:     4,
			Timeout:         "10s",
			RefreshInterval: "30s",
			MaxAge:          "5m",
		},
		Auth: AuthConfig{
			JWTSecret:   "dev-jwt-secret-change-in-production",
			TokenExpiry: "24h",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Later files override earlier ones.
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if config.IsProduction() && config.Auth.JWTSecret == NewDefaultConfig().Auth.JWTSecret {
		return nil, fmt.Errorf("auth.jwt_secret must be set in production")
	}
	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("LEDGER_ENV"); env != "" {
		config.Environment = env
	}
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		config.Storage.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		config.Storage.RedisURL = v
	}
	if v := os.Getenv("FINNHUB_API_KEY"); v != "" {
		config.Quotes.APIKey = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		config.Auth.JWTSecret = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("INITIAL_CAPITAL"); v != "" {
		config.Ledger.InitialCapital = v
	}
}

// IsProduction reports whether the environment is production.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Environment)
	return env == "production" || env == "prod"
}

// NewLogger builds the process logger from the logging section.
func NewLogger(c LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(c.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
