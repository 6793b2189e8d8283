package config

import (
	"context"
	"fmt"

	"github.com/marmos91/oncrpc/pkg/server"
)

// CreateServer binds a TCP or UDP server for prog, as selected by
// cfg.Protocol.
func CreateServer(cfg server.Config, prog *server.Program, opts ...server.Option) (server.Server, error) {
	cfg.ApplyDefaults()

	switch cfg.Protocol {
	case server.ProtocolTCP:
		return server.NewTCPServer(cfg, prog, opts...)
	case server.ProtocolUDP:
		return server.NewUDPServer(cfg, prog, opts...)
	default:
		return nil, fmt.Errorf("unknown server protocol: %q", cfg.Protocol)
	}
}

// PortmapServerConfigs returns one server configuration per protocol the
// port mapper serves. The port mapper registers itself directly in its
// registry, so none of them call out to a port mapper.
func PortmapServerConfigs(cfg *PortmapConfig) []server.Config {
	configs := make([]server.Config, 0, len(cfg.Protocols))
	for _, protocol := range cfg.Protocols {
		configs = append(configs, server.Config{
			Protocol:        protocol,
			Host:            cfg.Host,
			Port:            cfg.Port,
			MaxConnections:  cfg.MaxConnections,
			IdleTimeout:     cfg.IdleTimeout,
			ShutdownTimeout: cfg.ShutdownTimeout,
			RateLimit:       cfg.RateLimit,
		})
	}
	return configs
}

// CreatePortmapGroup binds every port mapper server and collects them into
// a group. Each server reports to the metrics view of its transport.
//
// On error, servers already bound are stopped.
func CreatePortmapGroup(cfg *PortmapConfig, prog *server.Program, m *MetricsResult) (*server.Group, error) {
	group := server.NewGroup()
	for _, serverCfg := range PortmapServerConfigs(cfg) {
		srv, err := CreateServer(serverCfg, prog, server.WithMetrics(m.RPC(serverCfg.Protocol)))
		if err == nil {
			err = group.Add(srv)
			if err != nil {
				closeServers(srv)
			}
		}
		if err != nil {
			closeServers(group.Servers()...)
			return nil, fmt.Errorf("port mapper %s server: %w", serverCfg.Protocol, err)
		}
	}
	return group, nil
}

// closeServers releases the sockets of servers that never served.
func closeServers(servers ...server.Server) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, srv := range servers {
		_ = srv.Stop(ctx)
	}
}
