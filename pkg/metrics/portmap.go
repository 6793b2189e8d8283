package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PortmapMetrics observes the port mapper's registry.
type PortmapMetrics interface {
	// RecordUpdate counts a SET or UNSET and whether it changed anything.
	//
	// Parameters:
	//   - op: "set" or "unset"
	//   - ok: the boolean returned to the caller
	RecordUpdate(op string, ok bool)

	// SetMappings updates the number of registered mappings.
	SetMappings(count int)
}

type portmapMetrics struct {
	updates  *prometheus.CounterVec
	mappings prometheus.Gauge
}

var (
	pmapMetrics     *portmapMetrics
	pmapMetricsOnce sync.Once
)

// NewPortmapMetrics returns a Prometheus-backed PortmapMetrics, or a no-op
// implementation if metrics are not enabled.
func NewPortmapMetrics() PortmapMetrics {
	if !IsEnabled() {
		return NewNoopPortmapMetrics()
	}

	pmapMetricsOnce.Do(func() {
		reg := GetRegistry()
		pmapMetrics = &portmapMetrics{
			updates: promauto.With(reg).NewCounterVec(
				prometheus.CounterOpts{
					Name: "oncrpc_portmap_updates_total",
					Help: "Total number of port mapper SET and UNSET calls by result",
				},
				[]string{"op", "ok"},
			),
			mappings: promauto.With(reg).NewGauge(
				prometheus.GaugeOpts{
					Name: "oncrpc_portmap_mappings",
					Help: "Current number of registered port mappings",
				},
			),
		}
	})
	return pmapMetrics
}

func (m *portmapMetrics) RecordUpdate(op string, ok bool) {
	m.updates.WithLabelValues(op, strconv.FormatBool(ok)).Inc()
}

func (m *portmapMetrics) SetMappings(count int) {
	m.mappings.Set(float64(count))
}

// NewNoopPortmapMetrics returns a PortmapMetrics that discards everything.
func NewNoopPortmapMetrics() PortmapMetrics {
	return noopPortmapMetrics{}
}

type noopPortmapMetrics struct{}

func (noopPortmapMetrics) RecordUpdate(string, bool) {}
func (noopPortmapMetrics) SetMappings(int)           {}
