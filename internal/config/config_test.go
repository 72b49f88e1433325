package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	for _, k := range []string{"PORT", "DATABASE_URL", "INITIAL_CAPITAL"} {
		t.Setenv(k, "")
	}
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "10000", cfg.Ledger.GetInitialCapital().String())
	assert.Equal(t, 30*time.Second, cfg.Storage.GetSnapshotTTL())
	assert.Equal(t, 30*time.Second, cfg.Quotes.GetRefreshInterval())
	assert.Equal(t, 5, cfg.Quotes.RateLimit)
	assert.Empty(t, cfg.Storage.DatabaseURL)
}

func TestLoadConfig_FilesMergeInOrder(t *testing.T) {
	base := writeFile(t, "base.toml", `
[server]
port = 9000

[ledger]
initial_capital = "25000.50"

[quotes]
refresh_interval = "1m"
`)
	local := writeFile(t, "local.toml", `
[server]
port = 9100
`)

	cfg, err := LoadConfig(base, local, filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "25000.5", cfg.Ledger.GetInitialCapital().String())
	assert.Equal(t, time.Minute, cfg.Quotes.GetRefreshInterval())
	assert.Equal(t, "10s", cfg.Quotes.Timeout, "untouched keys keep defaults")
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("DATABASE_URL", "postgres://localhost/ledger")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("FINNHUB_API_KEY", "fh-key")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("INITIAL_CAPITAL", "5000")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "postgres://localhost/ledger", cfg.Storage.DatabaseURL)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Storage.RedisURL)
	assert.Equal(t, "fh-key", cfg.Quotes.APIKey)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, "5000", cfg.Ledger.GetInitialCapital().String())
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadConfig_InvalidTOML(t *testing.T) {
	bad := writeFile(t, "bad.toml", "[server\nport = ")
	_, err := LoadConfig(bad)
	assert.Error(t, err)
}

func TestLoadConfig_ProductionNeedsSecret(t *testing.T) {
	t.Setenv("LEDGER_ENV", "production")
	_, err := LoadConfig()
	assert.Error(t, err)

	t.Setenv("JWT_SECRET", "real-secret")
	_, err = LoadConfig()
	assert.NoError(t, err)
}

func TestGetters_Fallbacks(t *testing.T) {
	l := LedgerConfig{InitialCapital: "-5"}
	assert.Equal(t, "10000", l.GetInitialCapital().String())

	q := QuotesConfig{Timeout: "soon"}
	assert.Equal(t, 10*time.Second, q.GetTimeout())
}

func TestGetters_NonPositiveDurations(t *testing.T) {
	for _, v := range []string{"0s", "-1m"} {
		q := QuotesConfig{RefreshInterval: v, Timeout: v, MaxAge: v}
		assert.Equal(t, 30*time.Second, q.GetRefreshInterval(), v)
		assert.Equal(t, 10*time.Second, q.GetTimeout(), v)

		s := StorageConfig{SnapshotTTL: v}
		assert.Equal(t, 30*time.Second, s.GetSnapshotTTL(), v)

		a := AuthConfig{TokenExpiry: v}
		assert.Equal(t, 24*time.Hour, a.GetTokenExpiry(), v)
	}

	// Zero max age is meaningful: it disables quote expiry.
	assert.Zero(t, (&QuotesConfig{MaxAge: "0s"}).GetMaxAge())
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(LoggingConfig{Level: "warn", Format: "json"}, &buf)

	log.Info("hidden")
	log.Warn("shown", "owner", "alice")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"owner":"alice"`)
}
