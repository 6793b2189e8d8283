package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/oncrpc/internal/logger"
	"github.com/marmos91/oncrpc/pkg/portmap/xdr"
)

// ErrRegistrationFailed is returned when the port mapper cannot be reached
// or refuses a SET or UNSET.
var ErrRegistrationFailed = errors.New("rpc server: port mapper registration failed")

// registration announces one (program, version, protocol) to the port
// mapper.
type registration struct {
	opts        *options
	portmapAddr string
	mapping     xdr.Mapping
}

func (r *registration) set(ctx context.Context) error {
	return r.do(ctx, "SET", func(ctx context.Context, m *xdr.Mapping) (bool, error) {
		pm, err := r.opts.dialPortmap(ctx, r.portmapAddr)
		if err != nil {
			return false, err
		}
		defer func() { _ = pm.Close() }()
		return pm.Set(ctx, m)
	})
}

// unset withdraws every protocol of the (program, version), which is how
// the port mapper's UNSET works.
func (r *registration) unset(ctx context.Context) error {
	return r.do(ctx, "UNSET", func(ctx context.Context, m *xdr.Mapping) (bool, error) {
		pm, err := r.opts.dialPortmap(ctx, r.portmapAddr)
		if err != nil {
			return false, err
		}
		defer func() { _ = pm.Close() }()
		return pm.Unset(ctx, m)
	})
}

func (r *registration) do(ctx context.Context, op string, call func(context.Context, *xdr.Mapping) (bool, error)) error {
	m := r.mapping
	ok, err := call(ctx, &m)
	if err != nil {
		return fmt.Errorf("%w: %s %d/%d via %s: %v", ErrRegistrationFailed, op, m.Prog, m.Vers, r.portmapAddr, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s %d/%d/%s refused by %s",
			ErrRegistrationFailed, op, m.Prog, m.Vers, xdr.ProtocolName(m.Prot), r.portmapAddr)
	}
	logger.Info("Port mapper %s: program %d version %d %s port %d",
		op, m.Prog, m.Vers, xdr.ProtocolName(m.Prot), m.Port)
	return nil
}
