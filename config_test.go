package pagegen

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pagegen.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":3000", cfg.Addr)
	assert.Equal(t, "data/pagegen.db", cfg.DatabasePath)
	assert.Equal(t, 5*time.Minute, cfg.PageCacheTTL)
	assert.Equal(t, 10, cfg.CheckpointEvery)
	assert.Equal(t, 5*time.Second, cfg.DispatchInterval)
	assert.Equal(t, "pagegen.invalidate", cfg.NATSSubject)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadConfigFile(t *testing.T) {
	t.Setenv("TEST_REVALIDATE_SECRET", "from-env")
	path := writeConfig(t, `
name: Cheap Coverage
url: https://example.com
addr: ":8080"
database_path: /tmp/pages.db
page_cache_ttl: 2m
checkpoint_every: 25
revalidate_url: https://www.example.com
revalidate_secret: ${TEST_REVALIDATE_SECRET}
disable_metrics: true
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "Cheap Coverage", cfg.Name)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "/tmp/pages.db", cfg.DatabasePath)
	assert.Equal(t, 2*time.Minute, cfg.PageCacheTTL)
	assert.Equal(t, 25, cfg.CheckpointEvery)
	assert.Equal(t, "from-env", cfg.RevalidateSecret)
	assert.True(t, cfg.DisableMetrics)
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "addr: \":8080\"\ncheckpoint_every: 25\n")
	t.Setenv("PAGEGEN_ADDR", ":9090")
	t.Setenv("PAGEGEN_CHECKPOINT_EVERY", "3")
	t.Setenv("PAGEGEN_COOKIE_SECURE", "true")
	t.Setenv("PAGEGEN_DISPATCH_INTERVAL", "30s")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, 3, cfg.CheckpointEvery)
	assert.True(t, cfg.CookieSecure)
	assert.Equal(t, 30*time.Second, cfg.DispatchInterval)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	t.Setenv("PAGEGEN_PAGE_CACHE_TTL", "soon")
	_, err := LoadConfig("")
	assert.ErrorContains(t, err, "PAGEGEN_PAGE_CACHE_TTL")

	t.Setenv("PAGEGEN_PAGE_CACHE_TTL", "")
	_, err = LoadConfig(writeConfig(t, "name: [unterminated"))
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("debug")
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = NewLogger("chatty")
	assert.Error(t, err)
}

func TestEnvOr(t *testing.T) {
	t.Setenv("PAGEGEN_TEST_VALUE", "set")
	assert.Equal(t, "set", EnvOr("PAGEGEN_TEST_VALUE", "fallback"))
	assert.Equal(t, "fallback", EnvOr("PAGEGEN_TEST_UNSET", "fallback"))
}
