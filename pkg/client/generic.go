package client

import (
	"context"
	"fmt"

	"github.com/marmos91/oncrpc/internal/logger"
	"github.com/marmos91/oncrpc/pkg/portmap/xdr"
)

// PortResolver finds the port a program listens on.
type PortResolver interface {
	// Resolve returns the port of (program, version, prot) on host, or 0
	// when it is not registered.
	Resolve(ctx context.Context, host string, program, version, prot uint32) (uint32, error)
}

// PortResolverFunc adapts a function to PortResolver.
type PortResolverFunc func(ctx context.Context, host string, program, version, prot uint32) (uint32, error)

func (f PortResolverFunc) Resolve(ctx context.Context, host string, program, version, prot uint32) (uint32, error) {
	return f(ctx, host, program, version, prot)
}

// portMapperResolver asks the port mapper on host, over the same protocol
// the caller wants to use, and hangs up right after.
type portMapperResolver struct {
	opts *options
}

func (r *portMapperResolver) Resolve(ctx context.Context, host string, program, version, prot uint32) (uint32, error) {
	var (
		c   *Client
		err error
	)
	if prot == xdr.ProtoUDP {
		c, err = newRawUDPClient(ctx, host, r.opts.portmapPort, xdr.Program, xdr.Version, r.opts)
	} else {
		c, err = newRawTCPClient(ctx, host, r.opts.portmapPort, xdr.Program, xdr.Version, r.opts)
	}
	if err != nil {
		return 0, fmt.Errorf("contact port mapper: %w", err)
	}

	pm := NewPortMapper(c)
	defer func() { _ = pm.Close() }()

	port, err := pm.GetPort(ctx, &xdr.Mapping{Prog: program, Vers: version, Prot: prot})
	if err != nil {
		return 0, fmt.Errorf("port mapper GETPORT: %w", err)
	}
	return port, nil
}

// NewTCPClient asks the port mapper on host where program/version listens
// over TCP and connects to it. ErrProgramNotRegistered is returned, without
// dialing anything else, when the port mapper reports port 0.
func NewTCPClient(ctx context.Context, host string, program, version uint32, opts ...Option) (*Client, error) {
	o := newOptions(opts)
	port, err := resolve(ctx, o, host, program, version, xdr.ProtoTCP)
	if err != nil {
		return nil, err
	}
	return newRawTCPClient(ctx, host, port, program, version, o)
}

// NewUDPClient is the UDP counterpart of NewTCPClient.
func NewUDPClient(ctx context.Context, host string, program, version uint32, opts ...Option) (*Client, error) {
	o := newOptions(opts)
	port, err := resolve(ctx, o, host, program, version, xdr.ProtoUDP)
	if err != nil {
		return nil, err
	}
	return newRawUDPClient(ctx, host, port, program, version, o)
}

func resolve(ctx context.Context, o *options, host string, program, version, prot uint32) (int, error) {
	port, err := o.resolver.Resolve(ctx, host, program, version, prot)
	if err != nil {
		return 0, err
	}
	if port == 0 {
		return 0, fmt.Errorf("%w: program %d version %d (%s) on %s",
			ErrProgramNotRegistered, program, version, xdr.ProtocolName(prot), host)
	}

	logger.Debug("RPC client: program %d version %d is on %s port %d", program, version, xdr.ProtocolName(prot), port)
	return int(port), nil
}
