package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", c.LogLevel)
	assert.Equal(t, 30, c.Fetch.ThrottleBaseSeconds)
	assert.True(t, c.Fetch.Baostock.Enabled)
	assert.Empty(t, c.Store.DSN)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
fetch:
  throttle_base_seconds: 10
  tushare:
    enabled: true
    token_env: MY_TOKEN
    priority: 0
  eastmoney:
    enabled: true
    priority: 1
store:
  dsn: postgres://localhost/marketdata?sslmode=disable
  max_open_conns: 4
`), 0o644))

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, 10, c.Fetch.ThrottleBaseSeconds)
	assert.Equal(t, "MY_TOKEN", c.Fetch.Tushare.TokenEnv)
	assert.True(t, c.Fetch.Tushare.Enabled)
	assert.True(t, c.Fetch.Eastmoney.Enabled)
	// providers absent from an explicit roster stay off
	assert.False(t, c.Fetch.Baostock.Enabled)
	assert.False(t, c.Fetch.Tencent.Enabled)
	assert.Equal(t, "postgres://localhost/marketdata?sslmode=disable", c.Store.DSN)
	assert.Equal(t, 4, c.Store.MaxOpenConns)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fetch: [not a map"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}
