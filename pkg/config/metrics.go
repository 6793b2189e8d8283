package config

import (
	"github.com/marmos91/oncrpc/pkg/metrics"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// Portmap observes the port mapper registry (never nil, uses noop if disabled)
	Portmap metrics.PortmapMetrics
}

// RPC returns the metrics view for servers on transport ("tcp" or "udp").
// It is a no-op view when metrics are disabled.
func (r *MetricsResult) RPC(transport string) metrics.RPCMetrics {
	if r.Server == nil {
		return metrics.NewNoopRPCMetrics()
	}
	return metrics.NewRPCMetrics(transport)
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server
//   - Creates Prometheus-backed metrics instances for all components
//
// If metrics are disabled:
//   - Returns nil server
//   - Returns no-op metrics implementations
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{
			Portmap: metrics.NewNoopPortmapMetrics(),
		}
	}

	metrics.InitRegistry()

	server := metrics.NewServer(metrics.ServerConfig{
		Host: cfg.Metrics.Host,
		Port: cfg.Metrics.Port,
	})

	return &MetricsResult{
		Server:  server,
		Portmap: metrics.NewPortmapMetrics(),
	}
}
