package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("CSRF_SECRET", "csrf")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.RBACStore)
	assert.Equal(t, "log", cfg.AuditSink)
	assert.Equal(t, 5*time.Minute, cfg.RBACCacheTTL)
	assert.Equal(t, 90*24*time.Hour, cfg.AuditRetention)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigRequiresCSRFSecret(t *testing.T) {
	t.Setenv("CSRF_SECRET", "")
	_, err := LoadConfig()
	require.Error(t, err)
}

func TestValidateNormalisesEnums(t *testing.T) {
	cfg := Config{CSRFSecret: "x", RBACStore: " Memory ", AuditSink: "QUEUE"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "memory", cfg.RBACStore)
	assert.Equal(t, "queue", cfg.AuditSink)

	cfg = Config{CSRFSecret: "x", RBACStore: "mysql", AuditSink: "log"}
	assert.Error(t, cfg.Validate())

	cfg = Config{CSRFSecret: "x", RBACStore: "memory", AuditSink: "kafka"}
	assert.Error(t, cfg.Validate())

	cfg = Config{CSRFSecret: "x", RBACStore: "memory", AuditSink: "log", RBACCacheTTL: -time.Second}
	assert.Error(t, cfg.Validate())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", parseLevel("debug").String())
	assert.Equal(t, "WARN", parseLevel("Warning").String())
	assert.Equal(t, "INFO", parseLevel("").String())
}

func TestSkipStartupHonoursTestMode(t *testing.T) {
	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	assert.True(t, SkipStartup(nil, "api"))

	t.Setenv(testModeEnv, "")
	RefreshTestMode()
	assert.False(t, SkipStartup(nil, "api"))
}
