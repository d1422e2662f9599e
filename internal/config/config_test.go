package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)

	assert.Equal(t, 30*time.Second, cfg.Sandbox.CallTimeout)
	assert.Equal(t, 10*time.Millisecond, cfg.Sandbox.PumpInterval)
	assert.Equal(t, 2048, cfg.Sandbox.MaxCallStack)

	assert.Equal(t, 30*time.Second, cfg.Bridge.FetchTimeout)
	assert.Equal(t, 2, cfg.Bridge.RetryMax)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)
}

func TestLoadOrDefault(t *testing.T) {
	cfg := LoadOrDefault()

	assert.NotNil(t, cfg)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":          "9000",
		"CALL_TIMEOUT":  "5s",
		"PUMP_INTERVAL": "5ms",
		"FETCH_TIMEOUT": "10s",
		"SCRIPTS_DIR":   "/var/lib/yomuko/extensions",
		"LOG_LEVEL":     "debug",
		"LOG_DEV":       "true",
	}

	for key, value := range envVars {
		t.Setenv(key, value)
	}
	defer func() {
		for key := range envVars {
			os.Unsetenv(key)
		}
	}()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Sandbox.CallTimeout)
	assert.Equal(t, 5*time.Millisecond, cfg.Sandbox.PumpInterval)
	assert.Equal(t, 10*time.Second, cfg.Bridge.FetchTimeout)
	assert.Equal(t, "/var/lib/yomuko/extensions", cfg.Store.ScriptsDir)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
}
