package badger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/oncrpc/pkg/portmap"
	portmaptesting "github.com/marmos91/oncrpc/pkg/portmap/testing"
	"github.com/marmos91/oncrpc/pkg/portmap/xdr"
)

func TestBadgerRegistry(t *testing.T) {
	suite := &portmaptesting.RegistryTestSuite{
		NewRegistry: func(t *testing.T) portmap.Registry {
			reg, err := New(context.Background(), Config{DBPath: filepath.Join(t.TempDir(), "pmap")})
			require.NoError(t, err)
			return reg
		},
	}

	suite.Run(t)
}

func TestBadgerRegistryInMemory(t *testing.T) {
	reg, err := New(context.Background(), Config{InMemory: true})
	require.NoError(t, err)
	defer func() { _ = reg.Close() }()

	ok, err := reg.Set(context.Background(), xdr.Mapping{Prog: 1, Vers: 1, Prot: xdr.ProtoUDP, Port: 10})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBadgerRegistryPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	cfg := Config{DBPath: filepath.Join(t.TempDir(), "pmap"), SyncWrites: true}

	reg, err := New(ctx, cfg)
	require.NoError(t, err)
	_, err = reg.Set(ctx, xdr.Mapping{Prog: 100003, Vers: 3, Prot: xdr.ProtoTCP, Port: 2049})
	require.NoError(t, err)
	_, err = reg.Set(ctx, xdr.Mapping{Prog: 100005, Vers: 3, Prot: xdr.ProtoUDP, Port: 892})
	require.NoError(t, err)
	require.NoError(t, reg.Close())

	reg, err = New(ctx, cfg)
	require.NoError(t, err)
	defer func() { _ = reg.Close() }()

	mappings, err := reg.Dump(ctx)
	require.NoError(t, err)
	assert.Equal(t, []xdr.Mapping{
		{Prog: 100003, Vers: 3, Prot: xdr.ProtoTCP, Port: 2049},
		{Prog: 100005, Vers: 3, Prot: xdr.ProtoUDP, Port: 892},
	}, mappings)
}

func TestParseKey(t *testing.T) {
	prog, vers, prot, err := parseKey(mappingKey(100000, 2, 17))
	require.NoError(t, err)
	assert.Equal(t, []uint32{100000, 2, 17}, []uint32{prog, vers, prot})

	_, _, _, err = parseKey([]byte("pmap:1:2"))
	assert.Error(t, err)

	_, _, _, err = parseKey([]byte("pmap:1:x:3"))
	assert.Error(t, err)
}
