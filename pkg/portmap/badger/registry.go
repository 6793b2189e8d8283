// Package badger provides a port mapper registry persisted in BadgerDB, so
// that mappings survive a restart of the port mapper.
//
// Storage Model:
//
//	Key                          Value
//	pmap:<prog>:<vers>:<prot>    port (uint32, big endian)
//
// Unset and Dump are prefix scans over "pmap:<prog>:<vers>:" and "pmap:".
package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/marmos91/oncrpc/internal/logger"
	"github.com/marmos91/oncrpc/pkg/portmap"
	"github.com/marmos91/oncrpc/pkg/portmap/xdr"
)

const (
	keyPrefix = "pmap:"

	// maxTxnRetries bounds retries of a read-modify-write transaction that
	// lost a conflict with a concurrent writer.
	maxTxnRetries = 5
)

// Config contains configuration for a BadgerDB registry.
type Config struct {
	// DBPath is the directory where BadgerDB stores its files.
	DBPath string `mapstructure:"db_path" validate:"required_without=InMemory" yaml:"db_path"`

	// InMemory keeps the database in memory only. Mostly useful for tests.
	InMemory bool `mapstructure:"in_memory" yaml:"in_memory"`

	// SyncWrites fsyncs every update before acknowledging it.
	SyncWrites bool `mapstructure:"sync_writes" yaml:"sync_writes"`
}

var _ portmap.Registry = (*Registry)(nil)

// Registry implements portmap.Registry on BadgerDB.
type Registry struct {
	db     *badger.DB
	closed atomic.Bool
}

// New opens (or creates) the database described by cfg.
func New(ctx context.Context, cfg Config) (*Registry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(cfg.DBPath)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.
		WithLoggingLevel(badger.WARNING).
		WithCompression(options.None).
		WithSyncWrites(cfg.SyncWrites)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.DBPath, err)
	}

	logger.Debug("Port mapper registry opened at %s (in_memory=%v)", cfg.DBPath, cfg.InMemory)
	return &Registry{db: db}, nil
}

func mappingKey(prog, vers, prot uint32) []byte {
	return fmt.Appendf(nil, "%s%d:%d:%d", keyPrefix, prog, vers, prot)
}

func programPrefix(prog, vers uint32) []byte {
	return fmt.Appendf(nil, "%s%d:%d:", keyPrefix, prog, vers)
}

func parseKey(key []byte) (prog, vers, prot uint32, err error) {
	parts := strings.Split(strings.TrimPrefix(string(key), keyPrefix), ":")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("malformed registry key %q", key)
	}
	var nums [3]uint32
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("malformed registry key %q: %w", key, err)
		}
		nums[i] = uint32(n)
	}
	return nums[0], nums[1], nums[2], nil
}

func encodePort(port uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, port)
}

func decodePort(val []byte) (uint32, error) {
	if len(val) != 4 {
		return 0, fmt.Errorf("malformed port value of %d bytes", len(val))
	}
	return binary.BigEndian.Uint32(val), nil
}

func (r *Registry) check(ctx context.Context) error {
	if r.closed.Load() {
		return portmap.ErrRegistryClosed
	}
	return ctx.Err()
}

// update runs fn in a read-write transaction, retrying on conflicts.
func (r *Registry) update(fn func(txn *badger.Txn) error) error {
	var err error
	for range maxTxnRetries {
		err = r.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (r *Registry) Set(ctx context.Context, m xdr.Mapping) (bool, error) {
	if err := r.check(ctx); err != nil {
		return false, err
	}

	var added bool
	err := r.update(func(txn *badger.Txn) error {
		added = false
		key := mappingKey(m.Prog, m.Vers, m.Prot)
		_, err := txn.Get(key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(key, encodePort(m.Port)); err != nil {
			return err
		}
		added = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("set mapping %d/%d/%s: %w", m.Prog, m.Vers, xdr.ProtocolName(m.Prot), err)
	}
	return added, nil
}

func (r *Registry) Unset(ctx context.Context, prog, vers uint32) (bool, error) {
	if err := r.check(ctx); err != nil {
		return false, err
	}

	var removed bool
	err := r.update(func(txn *badger.Txn) error {
		removed = false
		prefix := programPrefix(prog, vers)

		var keys [][]byte
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
			removed = true
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("unset mapping %d/%d: %w", prog, vers, err)
	}
	return removed, nil
}

func (r *Registry) GetPort(ctx context.Context, prog, vers, prot uint32) (uint32, error) {
	if err := r.check(ctx); err != nil {
		return 0, err
	}

	var port uint32
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(mappingKey(prog, vers, prot))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			port, err = decodePort(val)
			return err
		})
	})
	if err != nil {
		return 0, fmt.Errorf("get port %d/%d/%s: %w", prog, vers, xdr.ProtocolName(prot), err)
	}
	return port, nil
}

func (r *Registry) Dump(ctx context.Context) ([]xdr.Mapping, error) {
	if err := r.check(ctx); err != nil {
		return nil, err
	}

	mappings := []xdr.Mapping{}
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(keyPrefix), PrefetchValues: true})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			prog, vers, prot, err := parseKey(item.Key())
			if err != nil {
				return err
			}
			var port uint32
			if err := item.Value(func(val []byte) error {
				port, err = decodePort(val)
				return err
			}); err != nil {
				return err
			}
			mappings = append(mappings, xdr.Mapping{Prog: prog, Vers: vers, Prot: prot, Port: port})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dump mappings: %w", err)
	}

	// Keys sort as text, so "pmap:10:" precedes "pmap:9:"
	slices.SortFunc(mappings, xdr.Mapping.Compare)
	return mappings, nil
}

// Close flushes and closes the database. Closing twice is a no-op.
func (r *Registry) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("failed to close BadgerDB: %w", err)
	}
	return nil
}
