// Package portmap implements a port mapper service (program 100000,
// version 2) on top of the generic RPC server.
//
// The mapping table lives behind the Registry interface so that it can be
// kept in memory or persisted across restarts (see the memory and badger
// subpackages).
package portmap

import (
	"context"
	"errors"

	"github.com/marmos91/oncrpc/pkg/portmap/xdr"
)

// ErrRegistryClosed is returned by a registry used after Close.
var ErrRegistryClosed = errors.New("portmap: registry closed")

// Registry stores port mappings. At most one port is kept per
// (prog, vers, prot).
//
// Implementations must be safe for concurrent use.
type Registry interface {
	// Set adds m. It reports false, leaving the registry untouched, when
	// (m.Prog, m.Vers, m.Prot) is already mapped.
	Set(ctx context.Context, m xdr.Mapping) (bool, error)

	// Unset removes every mapping of (prog, vers) whatever its protocol. It
	// reports whether anything was removed.
	Unset(ctx context.Context, prog, vers uint32) (bool, error)

	// GetPort returns the port of (prog, vers, prot), or 0 when unmapped.
	GetPort(ctx context.Context, prog, vers, prot uint32) (uint32, error)

	// Dump lists all mappings ordered by (prog, vers, prot).
	Dump(ctx context.Context) ([]xdr.Mapping, error)

	Close() error
}
