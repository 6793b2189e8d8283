// Package memory provides an in-memory port mapper registry. Mappings are
// lost when the process exits, which matches the behaviour of a classic
// port mapper: servers register again when they restart.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/marmos91/oncrpc/pkg/portmap"
	"github.com/marmos91/oncrpc/pkg/portmap/xdr"
)

type key struct {
	prog, vers, prot uint32
}

var _ portmap.Registry = (*Registry)(nil)

// Registry keeps mappings in a map guarded by a mutex.
type Registry struct {
	mu       sync.RWMutex
	mappings map[key]uint32
	closed   bool
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{mappings: make(map[key]uint32)}
}

func (r *Registry) Set(ctx context.Context, m xdr.Mapping) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false, portmap.ErrRegistryClosed
	}

	k := key{m.Prog, m.Vers, m.Prot}
	if _, exists := r.mappings[k]; exists {
		return false, nil
	}
	r.mappings[k] = m.Port
	return true, nil
}

func (r *Registry) Unset(ctx context.Context, prog, vers uint32) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false, portmap.ErrRegistryClosed
	}

	removed := false
	for k := range r.mappings {
		if k.prog == prog && k.vers == vers {
			delete(r.mappings, k)
			removed = true
		}
	}
	return removed, nil
}

func (r *Registry) GetPort(ctx context.Context, prog, vers, prot uint32) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return 0, portmap.ErrRegistryClosed
	}
	return r.mappings[key{prog, vers, prot}], nil
}

func (r *Registry) Dump(ctx context.Context) ([]xdr.Mapping, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil, portmap.ErrRegistryClosed
	}
	out := make([]xdr.Mapping, 0, len(r.mappings))
	for k, port := range r.mappings {
		out = append(out, xdr.Mapping{Prog: k.prog, Vers: k.vers, Prot: k.prot, Port: port})
	}
	r.mu.RUnlock()

	slices.SortFunc(out, xdr.Mapping.Compare)
	return out, nil
}

// Close drops every mapping. Later calls fail with ErrRegistryClosed.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.mappings = nil
	return nil
}
