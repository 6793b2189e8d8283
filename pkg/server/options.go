package server

import (
	"context"
	"net"
	"strconv"

	"github.com/marmos91/oncrpc/pkg/client"
	"github.com/marmos91/oncrpc/pkg/metrics"
)

// Option configures a server.
type Option func(*options)

// PortMapperDialer opens a port mapper client for registration.
type PortMapperDialer func(ctx context.Context, addr string) (*client.PortMapper, error)

type options struct {
	metrics     metrics.RPCMetrics
	dialPortmap PortMapperDialer
}

func newOptions(opts []Option) *options {
	o := &options{
		dialPortmap: dialTCPPortMapper,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithMetrics records calls and connections into m.
func WithMetrics(m metrics.RPCMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithPortMapperDialer replaces how the port mapper is reached by Register
// and Unregister.
func WithPortMapperDialer(d PortMapperDialer) Option {
	return func(o *options) { o.dialPortmap = d }
}

// dialTCPPortMapper reaches the port mapper over TCP, whatever transport the
// server itself uses.
func dialTCPPortMapper(ctx context.Context, addr string) (*client.PortMapper, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, err
	}
	return client.NewTCPPortMapper(ctx, host, client.WithPortMapperPort(port))
}
