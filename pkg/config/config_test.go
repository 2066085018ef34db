package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
api_prefix: /v1/
rules:
  - pattern: default
    requests: 60
    window_s: 60
  - pattern: /v1/auth/login
    requests: 5
    window_s: 900
  - pattern: "/v1/webhooks/*"
    requests: 30
    window_s: 60
    skip_successful: true
exempt:
  roles: [admin, support]
  addresses: ["203.0.113.5"]
backoff:
  enabled: true
  max_multiplier: 4
redis:
  addr: redis.internal:6379
  prefix: "shop:rl:"
  timeout_ms: 500
`

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ratelimit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/api/", cfg.APIPrefix)
	assert.Equal(t, 8, cfg.MaxBackoff())
	assert.Equal(t, 2*time.Second, cfg.RedisTimeout())

	table, err := cfg.RuleTable()
	require.NoError(t, err)
	require.NotNil(t, table.Default())
	assert.Equal(t, 100, table.Default().Requests)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "/api/", cfg.APIPrefix)
}

func TestLoad_File(t *testing.T) {
	cfg, err := Load(writeTemp(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "/v1/", cfg.APIPrefix)
	assert.Equal(t, []string{"admin", "support"}, cfg.Exempt.Roles)
	assert.Equal(t, []string{"203.0.113.5"}, cfg.Exempt.Addresses)
	assert.Equal(t, 4, cfg.MaxBackoff())
	assert.Equal(t, 500*time.Millisecond, cfg.RedisTimeout())

	table, err := cfg.RuleTable()
	require.NoError(t, err)

	login := table.Resolve("/v1/auth/login")
	require.NotNil(t, login)
	assert.Equal(t, 5, login.Requests)
	assert.Equal(t, 15*time.Minute, login.Window)

	hook := table.Resolve("/v1/webhooks/stripe")
	require.NotNil(t, hook)
	assert.True(t, hook.SkipSuccessful)
}

func TestLoad_BackoffDisabled(t *testing.T) {
	cfg, err := Load(writeTemp(t, "backoff:\n  enabled: false\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.MaxBackoff())
}

func TestLoad_InvalidRule(t *testing.T) {
	_, err := Load(writeTemp(t, "rules:\n  - pattern: /x\n    requests: 0\n    window_s: 60\n"))
	assert.Error(t, err)
}
