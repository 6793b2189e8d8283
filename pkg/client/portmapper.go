package client

import (
	"context"

	"github.com/marmos91/oncrpc/internal/protocol/rpc"
	"github.com/marmos91/oncrpc/pkg/portmap/xdr"
)

// PortMapper is a client of the port mapper (program 100000, version 2).
type PortMapper struct {
	*Client
}

// NewPortMapper wraps a client already bound to the port mapper program.
func NewPortMapper(c *Client) *PortMapper {
	return &PortMapper{Client: c}
}

// NewTCPPortMapper connects to the port mapper on host over TCP.
func NewTCPPortMapper(ctx context.Context, host string, opts ...Option) (*PortMapper, error) {
	o := newOptions(opts)
	c, err := newRawTCPClient(ctx, host, o.portmapPort, xdr.Program, xdr.Version, o)
	if err != nil {
		return nil, err
	}
	return NewPortMapper(c), nil
}

// NewUDPPortMapper connects to the port mapper on host over UDP.
func NewUDPPortMapper(ctx context.Context, host string, opts ...Option) (*PortMapper, error) {
	o := newOptions(opts)
	c, err := newRawUDPClient(ctx, host, o.portmapPort, xdr.Program, xdr.Version, o)
	if err != nil {
		return nil, err
	}
	return NewPortMapper(c), nil
}

// Set registers a mapping. It reports false if the (prog, vers, prot)
// triple is already mapped.
func (pm *PortMapper) Set(ctx context.Context, m *xdr.Mapping) (bool, error) {
	return pm.boolCall(ctx, xdr.ProcSet, m)
}

// Unset removes every mapping of (prog, vers), whatever the protocol.
func (pm *PortMapper) Unset(ctx context.Context, m *xdr.Mapping) (bool, error) {
	return pm.boolCall(ctx, xdr.ProcUnset, m)
}

func (pm *PortMapper) boolCall(ctx context.Context, proc uint32, m *xdr.Mapping) (bool, error) {
	var ok bool
	err := pm.Call(ctx, proc,
		func(p *rpc.Packer) { xdr.EncodeMapping(p, m) },
		func(u *rpc.Unpacker) (err error) {
			ok, err = u.UnpackBool()
			return err
		})
	return ok, err
}

// GetPort returns the port of (prog, vers, prot), or 0 if none is registered.
// The port field of m is ignored.
func (pm *PortMapper) GetPort(ctx context.Context, m *xdr.Mapping) (uint32, error) {
	var port uint32
	err := pm.Call(ctx, xdr.ProcGetPort,
		func(p *rpc.Packer) { xdr.EncodeMapping(p, m) },
		func(u *rpc.Unpacker) (err error) {
			port, err = u.UnpackUint32()
			return err
		})
	return port, err
}

// Dump lists every registered mapping.
func (pm *PortMapper) Dump(ctx context.Context) ([]*xdr.Mapping, error) {
	var mappings []*xdr.Mapping
	err := pm.Call(ctx, xdr.ProcDump, nil, func(u *rpc.Unpacker) (err error) {
		mappings, err = xdr.DecodeDumpResponse(u)
		return err
	})
	return mappings, err
}

// CallIt asks the port mapper to forward a call to a local program.
//
// The port mapper stays silent when the forwarded call fails, so over UDP a
// failure surfaces as ErrTimeout.
func (pm *PortMapper) CallIt(ctx context.Context, args *xdr.CallArgs) (*xdr.CallResult, error) {
	var res *xdr.CallResult
	err := pm.Call(ctx, xdr.ProcCallIt,
		func(p *rpc.Packer) { xdr.EncodeCallArgs(p, args) },
		func(u *rpc.Unpacker) (err error) {
			res, err = xdr.DecodeCallResult(u)
			return err
		})
	return res, err
}

// BroadcastCallIt sends a CALLIT through b, which must target the port
// mapper, and collects the (port, result) answer of every responding host.
func BroadcastCallIt(ctx context.Context, b *Broadcaster, args *xdr.CallArgs, cb func(BroadcastReply[*xdr.CallResult])) ([]BroadcastReply[*xdr.CallResult], error) {
	return BroadcastCall(ctx, b, xdr.ProcCallIt,
		func(p *rpc.Packer) { xdr.EncodeCallArgs(p, args) },
		xdr.DecodeCallResult,
		cb)
}
