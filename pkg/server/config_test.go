package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigApplyDefaults(t *testing.T) {
	cfg := Config{RateLimit: RateLimitConfig{RequestsPerSecond: 50}}
	cfg.ApplyDefaults()

	assert.Equal(t, ProtocolTCP, cfg.Protocol)
	assert.Equal(t, DefaultPortmapAddr, cfg.PortmapAddr)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 5*time.Minute, cfg.IdleTimeout)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, DefaultMaxRecordSize, cfg.MaxRecordSize)
	assert.Equal(t, uint(100), cfg.RateLimit.Burst, "burst defaults to twice the rate")
	require.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "protocol", mutate: func(c *Config) { c.Protocol = "sctp" }},
		{name: "port", mutate: func(c *Config) { c.Port = -1 }},
		{name: "max connections", mutate: func(c *Config) { c.MaxConnections = -5 }},
		{name: "read timeout", mutate: func(c *Config) { c.ReadTimeout = -time.Second }},
		{name: "shutdown timeout", mutate: func(c *Config) { c.ShutdownTimeout = -time.Second }},
		{name: "portmap address", mutate: func(c *Config) { c.Register = true; c.PortmapAddr = "no-port" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{}
			cfg.ApplyDefaults()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfigListenAddr(t *testing.T) {
	cfg := Config{Host: "::1", Port: 2049}
	assert.Equal(t, "[::1]:2049", cfg.listenAddr())
}
