package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, 10*time.Minute, cfg.TreeCacheTTL)
	assert.Equal(t, "X-User-ID", cfg.AuthUserHeader)
	assert.False(t, cfg.OrgNewEnabled)
	assert.False(t, cfg.MenuNewEnabled)
	assert.False(t, cfg.APINewEnabled)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigDotenvDoesNotOverrideEnvironment(t *testing.T) {
	file := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(file, []byte("TREE_CACHE_TTL=2m\nMENU_NEW_ENABLED=true\nAPP_ENV=staging\n"), 0o600))
	t.Setenv("APP_ENV", "production")
	t.Cleanup(func() {
		os.Unsetenv("TREE_CACHE_TTL")
		os.Unsetenv("MENU_NEW_ENABLED")
	})

	cfg, err := LoadConfig(file)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.TreeCacheTTL)
	assert.True(t, cfg.MenuNewEnabled)
	assert.True(t, cfg.IsProduction())
}

func TestLoadConfigValidation(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.env")
	cases := map[string][2]string{
		"ttl":    {"TREE_CACHE_TTL", "0s"},
		"header": {"AUTH_USER_HEADER", " "},
		"rate":   {"RATE_LIMIT_PER_MINUTE", "-1"},
		"format": {"LOG_FORMAT", "xml"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			_, err := LoadConfig(missing)
			assert.Error(t, err)
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", parseLevel(&Config{LogLevel: "debug"}).String())
	assert.Equal(t, "WARN", parseLevel(&Config{LogLevel: "Warning"}).String())
	assert.Equal(t, "INFO", parseLevel(nil).String())
}
