package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	assert.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  env: prod\n"))
	assert.NoError(t, err)

	assert.Equal(t, "prod", cfg.App.Env)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, ":9991", cfg.App.HTTPAddr)
	assert.Equal(t, "configs/rules.yaml", cfg.App.RulesPath)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, 30, cfg.Cache.PriceTTLSeconds)
	assert.Equal(t, 60, cfg.Cache.KlineTTLSeconds)
	assert.Equal(t, "https://api.binance.com", cfg.Market.Binance.RESTBaseURL)
	assert.Equal(t, "USDT", cfg.Market.Binance.Quote)
	assert.Equal(t, 5, cfg.Scheduler.HeartbeatSeconds)
	assert.Equal(t, 3, cfg.Notify.RetryAttempts)
}

func TestLoadRespectsExplicitValues(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
app:
  log_level: debug
cache:
  backend: redis
  redis:
    addr: redis:6379
scheduler:
  heartbeat_seconds: 10
`))
	assert.NoError(t, err)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, "redis:6379", cfg.Cache.Redis.Addr)
	assert.Equal(t, 10, cfg.Scheduler.HeartbeatSeconds)
}

func TestLoadRejectsBadLogLevel(t *testing.T) {
	_, err := Load(writeConfig(t, "app:\n  log_level: chatty\n"))
	assert.Error(t, err)
}

func TestLoadRejectsUnknownCacheBackend(t *testing.T) {
	_, err := Load(writeConfig(t, "cache:\n  backend: memcached\n"))
	assert.Error(t, err)
}

func TestLoadRejectsEnabledTelegramWithoutToken(t *testing.T) {
	_, err := Load(writeConfig(t, "notify:\n  telegram:\n    enabled: true\n"))
	assert.Error(t, err)
}

func TestLoadMergesIncludes(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.yaml")
	main := filepath.Join(dir, "config.yaml")
	assert.NoError(t, os.WriteFile(base, []byte("app:\n  env: staging\n  log_level: warn\n"), 0o644))
	assert.NoError(t, os.WriteFile(main, []byte("include:\n  - base.yaml\napp:\n  log_level: debug\n"), 0o644))

	cfg, err := Load(main)
	assert.NoError(t, err)
	assert.Equal(t, "staging", cfg.App.Env, "inherited from include")
	assert.Equal(t, "debug", cfg.App.LogLevel, "including file wins")
}
