package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adred-codev/ws_gateway/internal/types"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Port)
	assert.Equal(t, ":8081", cfg.Addr())
	assert.Equal(t, "/", cfg.Path)
	assert.Equal(t, "multi", cfg.ServerMode)
	assert.Empty(t, cfg.ServerID)
	assert.False(t, cfg.ForceAuthenticate)
	assert.False(t, cfg.NotifyClientOnNoAuth)
	assert.Equal(t, 30*time.Second, cfg.ReaperInterval)
	assert.Equal(t, "local", cfg.BusDriver)
}

func TestParseFromEnv(t *testing.T) {
	t.Setenv("WS_PORT", "9000")
	t.Setenv("WS_HOST", "127.0.0.1")
	t.Setenv("WS_SERVER_MODE", "single")
	t.Setenv("WS_SERVER_ID", "edge-1")
	t.Setenv("WS_FORCE_AUTHENTICATE", "true")
	t.Setenv("WS_NOTIFY_CLIENT_ON_NO_AUTH", "true")

	cfg, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Addr())
	assert.Equal(t, "edge-1", cfg.ServerID)

	sc := cfg.ServerConfig()
	assert.True(t, sc.ForceAuthenticate)
	assert.True(t, sc.NotifyClientOnNoAuth)
	assert.Equal(t, types.ModeSingle, types.ServerMode(cfg.ServerMode))
}

func TestValidate(t *testing.T) {
	base, err := Parse()
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(c *Config)
		errHas string
	}{
		{"bad mode", func(c *Config) { c.ServerMode = "cluster" }, "WS_SERVER_MODE"},
		{"bad port", func(c *Config) { c.Port = 0 }, "WS_PORT"},
		{"relative path", func(c *Config) { c.Path = "ws" }, "WS_PATH"},
		{"pong exceeds interval", func(c *Config) { c.PongTimeout = c.ReaperInterval }, "WS_PONG_TIMEOUT"},
		{"bad driver", func(c *Config) { c.BusDriver = "kafka" }, "BUS_DRIVER"},
		{"tied peer needs nats", func(c *Config) { c.TiedPeerSubject = "peer.get-server-id" }, "WS_TIED_PEER_SUBJECT"},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }, "LOG_LEVEL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *base
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errHas)
		})
	}
}
