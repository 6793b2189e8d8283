package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RPCMetrics provides observability for RPC servers.
//
// Implementations collect metrics about calls, reply status, connection
// lifecycle and throughput. Servers given a nil RPCMetrics use a no-op
// implementation.
//
// Example usage:
//
//	metrics.InitRegistry()
//	srv, err := server.NewTCPServer(cfg, prog, server.WithMetrics(metrics.NewRPCMetrics("tcp")))
type RPCMetrics interface {
	// RecordRequest records a completed call with the program and procedure
	// names, the time spent and the reply status (an accept_stat name such
	// as "SUCCESS", "RPC_MISMATCH", "AUTH_ERROR" or "NO_REPLY").
	RecordRequest(program, procedure string, duration time.Duration, status string)

	// RecordRequestStart increments the in-flight call gauge.
	RecordRequestStart(procedure string)

	// RecordRequestEnd decrements the in-flight call gauge.
	RecordRequestEnd(procedure string)

	// RecordDropped counts a message discarded without a reply.
	//
	// Parameters:
	//   - reason: short label such as "not_call" or "malformed"
	RecordDropped(reason string)

	// RecordBytesTransferred records bytes received or sent.
	//
	// Parameters:
	//   - direction: "in" or "out"
	//   - bytes: Number of bytes transferred
	RecordBytesTransferred(direction string, bytes int64)

	// SetActiveConnections updates the current connection count.
	SetActiveConnections(count int32)

	// RecordConnectionAccepted increments the total accepted connections counter.
	RecordConnectionAccepted()

	// RecordConnectionClosed increments the total closed connections counter.
	RecordConnectionClosed()
}

// rpcCollectors are shared by every RPCMetrics view: a process may run a TCP
// and a UDP server side by side, and collectors can only be registered once.
type rpcCollectors struct {
	requestsTotal       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	requestsInFlight    *prometheus.GaugeVec
	droppedTotal        *prometheus.CounterVec
	bytesTransferred    *prometheus.CounterVec
	activeConnections   *prometheus.GaugeVec
	connectionsAccepted *prometheus.CounterVec
	connectionsClosed   *prometheus.CounterVec
}

var (
	sharedRPC     *rpcCollectors
	sharedRPCOnce sync.Once
)

func getCollectors() *rpcCollectors {
	sharedRPCOnce.Do(func() {
		reg := GetRegistry()
		sharedRPC = &rpcCollectors{
			requestsTotal: promauto.With(reg).NewCounterVec(
				prometheus.CounterOpts{
					Name: "oncrpc_requests_total",
					Help: "Total number of RPC calls by program, procedure and reply status",
				},
				[]string{"transport", "program", "procedure", "status"},
			),
			requestDuration: promauto.With(reg).NewHistogramVec(
				prometheus.HistogramOpts{
					Name: "oncrpc_request_duration_seconds",
					Help: "Duration of RPC calls in seconds",
					Buckets: []float64{
						0.0001, // 100us
						0.0005, // 500us
						0.001,  // 1ms
						0.005,  // 5ms
						0.01,   // 10ms
						0.05,   // 50ms
						0.1,    // 100ms
						0.5,    // 500ms
						1.0,    // 1s
						5.0,    // 5s
					},
				},
				[]string{"transport", "program", "procedure"},
			),
			requestsInFlight: promauto.With(reg).NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "oncrpc_requests_in_flight",
					Help: "Current number of RPC calls being processed",
				},
				[]string{"transport", "procedure"},
			),
			droppedTotal: promauto.With(reg).NewCounterVec(
				prometheus.CounterOpts{
					Name: "oncrpc_messages_dropped_total",
					Help: "Total number of messages discarded without a reply",
				},
				[]string{"transport", "reason"},
			),
			bytesTransferred: promauto.With(reg).NewCounterVec(
				prometheus.CounterOpts{
					Name: "oncrpc_bytes_transferred_total",
					Help: "Total RPC message bytes received and sent",
				},
				[]string{"transport", "direction"},
			),
			activeConnections: promauto.With(reg).NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "oncrpc_active_connections",
					Help: "Current number of active RPC connections",
				},
				[]string{"transport"},
			),
			connectionsAccepted: promauto.With(reg).NewCounterVec(
				prometheus.CounterOpts{
					Name: "oncrpc_connections_accepted_total",
					Help: "Total number of RPC connections accepted",
				},
				[]string{"transport"},
			),
			connectionsClosed: promauto.With(reg).NewCounterVec(
				prometheus.CounterOpts{
					Name: "oncrpc_connections_closed_total",
					Help: "Total number of RPC connections closed",
				},
				[]string{"transport"},
			),
		}
	})
	return sharedRPC
}

// rpcMetrics is the Prometheus implementation of RPCMetrics, bound to one
// transport label.
type rpcMetrics struct {
	c         *rpcCollectors
	transport string
}

// NewRPCMetrics returns a Prometheus-backed RPCMetrics labelled with
// transport ("tcp" or "udp").
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry
// not called).
func NewRPCMetrics(transport string) RPCMetrics {
	if !IsEnabled() {
		return NewNoopRPCMetrics()
	}
	return &rpcMetrics{c: getCollectors(), transport: transport}
}

func (m *rpcMetrics) RecordRequest(program, procedure string, duration time.Duration, status string) {
	m.c.requestsTotal.WithLabelValues(m.transport, program, procedure, status).Inc()
	m.c.requestDuration.WithLabelValues(m.transport, program, procedure).Observe(duration.Seconds())
}

func (m *rpcMetrics) RecordRequestStart(procedure string) {
	m.c.requestsInFlight.WithLabelValues(m.transport, procedure).Inc()
}

func (m *rpcMetrics) RecordRequestEnd(procedure string) {
	m.c.requestsInFlight.WithLabelValues(m.transport, procedure).Dec()
}

func (m *rpcMetrics) RecordDropped(reason string) {
	m.c.droppedTotal.WithLabelValues(m.transport, reason).Inc()
}

func (m *rpcMetrics) RecordBytesTransferred(direction string, bytes int64) {
	m.c.bytesTransferred.WithLabelValues(m.transport, direction).Add(float64(bytes))
}

func (m *rpcMetrics) SetActiveConnections(count int32) {
	m.c.activeConnections.WithLabelValues(m.transport).Set(float64(count))
}

func (m *rpcMetrics) RecordConnectionAccepted() {
	m.c.connectionsAccepted.WithLabelValues(m.transport).Inc()
}

func (m *rpcMetrics) RecordConnectionClosed() {
	m.c.connectionsClosed.WithLabelValues(m.transport).Inc()
}

// NewNoopRPCMetrics returns an RPCMetrics that discards everything.
func NewNoopRPCMetrics() RPCMetrics {
	return noopRPCMetrics{}
}

// noopRPCMetrics is a no-op implementation of RPCMetrics with zero overhead.
type noopRPCMetrics struct{}

func (noopRPCMetrics) RecordRequest(program, procedure string, duration time.Duration, status string) {
}
func (noopRPCMetrics) RecordRequestStart(procedure string)                  {}
func (noopRPCMetrics) RecordRequestEnd(procedure string)                    {}
func (noopRPCMetrics) RecordDropped(reason string)                          {}
func (noopRPCMetrics) RecordBytesTransferred(direction string, bytes int64) {}
func (noopRPCMetrics) SetActiveConnections(count int32)                     {}
func (noopRPCMetrics) RecordConnectionAccepted()                            {}
func (noopRPCMetrics) RecordConnectionClosed()                              {}
