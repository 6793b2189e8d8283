// Package metrics provides Prometheus metrics for RPC servers and the port
// mapper.
//
// All metrics are optional: until InitRegistry is called, constructors
// return no-op implementations, so servers run the same way with or without
// collection enabled.
//
// Usage:
//
//	// Initialize the global registry (typically in main.go)
//	metrics.InitRegistry()
//
//	// Create metrics views for components
//	tcpMetrics := metrics.NewRPCMetrics("tcp")
//	pmapMetrics := metrics.NewPortmapMetrics()
//
//	// Or pass nil for no-op behavior
//	srv, err := server.NewTCPServer(cfg, prog)
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// registry is written once by InitRegistry and read by every constructor
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the global Prometheus registry, with the Go runtime
// and process collectors attached. Later calls are ignored.
func InitRegistry() {
	registryOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		registry = reg
	})
}

// GetRegistry returns the global registry, or nil when metrics are
// disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
