package config

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/oncrpc/pkg/portmap/badger"
	"github.com/marmos91/oncrpc/pkg/portmap/memory"
	"github.com/marmos91/oncrpc/pkg/portmap/xdr"
)

func TestCreateRegistry(t *testing.T) {
	ctx := context.Background()

	t.Run("Memory", func(t *testing.T) {
		reg, err := CreateRegistry(ctx, &StoreConfig{Type: "memory"})
		require.NoError(t, err)
		defer func() { _ = reg.Close() }()
		assert.IsType(t, &memory.Registry{}, reg)
	})

	t.Run("Badger", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "pmap")
		reg, err := CreateRegistry(ctx, &StoreConfig{
			Type:   "badger",
			Badger: map[string]any{"db_path": dbPath, "sync_writes": "true"},
		})
		require.NoError(t, err)
		defer func() { _ = reg.Close() }()
		assert.IsType(t, &badger.Registry{}, reg)

		ok, err := reg.Set(ctx, xdr.Mapping{Prog: 1, Vers: 1, Prot: xdr.ProtoTCP, Port: 10})
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("BadgerMissingPath", func(t *testing.T) {
		_, err := CreateRegistry(ctx, &StoreConfig{Type: "badger", Badger: map[string]any{}})
		assert.ErrorContains(t, err, "DBPath")
	})

	t.Run("Unknown", func(t *testing.T) {
		_, err := CreateRegistry(ctx, &StoreConfig{Type: "etcd"})
		assert.ErrorContains(t, err, "unknown registry store type")
	})
}

func TestDecodeBadgerConfig(t *testing.T) {
	cfg, err := decodeBadgerConfig(map[string]any{"db_path": "/data", "in_memory": false, "sync_writes": 1})
	require.NoError(t, err)
	assert.Equal(t, badger.Config{DBPath: "/data", SyncWrites: true}, cfg)

	_, err = decodeBadgerConfig(map[string]any{"path": "/data"})
	assert.Error(t, err)
}
