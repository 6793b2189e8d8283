package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/oncrpc/pkg/portmap"
	"github.com/marmos91/oncrpc/pkg/portmap/memory"
	"github.com/marmos91/oncrpc/pkg/server"
)

func TestPortmapServerConfigs(t *testing.T) {
	cfg := GetDefaultConfig().Portmap
	cfg.Host = "127.0.0.1"
	cfg.MaxConnections = 8
	cfg.RateLimit = server.RateLimitConfig{RequestsPerSecond: 5, Burst: 10}

	configs := PortmapServerConfigs(&cfg)
	require.Len(t, configs, 2)

	for i, protocol := range []string{"tcp", "udp"} {
		c := configs[i]
		assert.Equal(t, protocol, c.Protocol)
		assert.Equal(t, "127.0.0.1", c.Host)
		assert.Equal(t, 111, c.Port)
		assert.Equal(t, 8, c.MaxConnections)
		assert.Equal(t, 5*time.Minute, c.IdleTimeout)
		assert.Equal(t, cfg.RateLimit, c.RateLimit)
		assert.False(t, c.Register, "the port mapper registers itself directly")
	}
}

func TestCreateServer(t *testing.T) {
	prog := portmap.NewProgram(memory.New())

	for _, protocol := range []string{"tcp", "UDP"} {
		t.Run(protocol, func(t *testing.T) {
			srv, err := CreateServer(server.Config{Protocol: protocol, Host: "127.0.0.1"}, prog)
			require.NoError(t, err)
			defer closeServers(srv)

			assert.Contains(t, []string{"tcp", "udp"}, srv.Protocol())
			assert.NotZero(t, srv.Port())
		})
	}

	_, err := CreateServer(server.Config{Protocol: "sctp"}, prog)
	assert.Error(t, err)
}

func TestCreatePortmapGroup(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Portmap.Host = "127.0.0.1"
	cfg.Portmap.Port = 0

	group, err := CreatePortmapGroup(&cfg.Portmap, portmap.NewProgram(memory.New()), InitializeMetrics(cfg))
	require.NoError(t, err)

	servers := group.Servers()
	require.Len(t, servers, 2)
	assert.Equal(t, "tcp", servers[0].Protocol())
	assert.Equal(t, "udp", servers[1].Protocol())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- group.Serve(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(10 * time.Second):
		t.Fatal("group did not stop")
	}
}
