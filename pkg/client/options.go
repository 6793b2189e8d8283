package client

import (
	"context"
	"net"

	"github.com/marmos91/oncrpc/internal/protocol/rpc"
	"github.com/marmos91/oncrpc/pkg/portmap/xdr"
)

// Dialer opens transport connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Option configures how clients are created.
type Option func(*options)

type options struct {
	dialer      Dialer
	resolver    PortResolver
	reserved    *ReservedPortAllocator
	udp         UDPOptions
	maxRecord   int
	portmapPort int
	cred        *rpc.OpaqueAuth
	verf        *rpc.OpaqueAuth
}

func newOptions(opts []Option) *options {
	o := &options{
		dialer:      &net.Dialer{},
		udp:         DefaultUDPOptions(),
		portmapPort: xdr.Port,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.resolver == nil {
		o.resolver = &portMapperResolver{opts: o}
	}
	return o
}

// WithDialer replaces the dialer used for raw transports.
func WithDialer(d Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithPortResolver replaces the port mapper lookup done by NewTCPClient and
// NewUDPClient.
func WithPortResolver(r PortResolver) Option {
	return func(o *options) { o.resolver = r }
}

// WithReservedPort binds the local end of the socket to a privileged port
// taken from a.
func WithReservedPort(a *ReservedPortAllocator) Option {
	return func(o *options) { o.reserved = a }
}

// WithUDPOptions sets the retransmission schedule of UDP clients.
func WithUDPOptions(u UDPOptions) Option {
	return func(o *options) { o.udp = u }
}

// WithMaxRecordSize bounds the size of TCP replies.
func WithMaxRecordSize(n int) Option {
	return func(o *options) { o.maxRecord = n }
}

// WithPortMapperPort makes the default resolver look for the port mapper on
// port instead of 111.
func WithPortMapperPort(port int) Option {
	return func(o *options) { o.portmapPort = port }
}

// WithCredential sets the initial credential of the client.
func WithCredential(cred rpc.OpaqueAuth) Option {
	return func(o *options) { o.cred = &cred }
}

// WithVerifier sets the initial verifier of the client.
func WithVerifier(verf rpc.OpaqueAuth) Option {
	return func(o *options) { o.verf = &verf }
}
