// Package testing provides a conformance suite for portmap.Registry
// implementations.
package testing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/oncrpc/pkg/portmap"
	"github.com/marmos91/oncrpc/pkg/portmap/xdr"
)

// RegistryTestSuite checks the Registry contract, not implementation
// details, so every backend runs the same tests.
type RegistryTestSuite struct {
	// NewRegistry returns an empty registry for one test. The suite closes
	// it; implementations may register further cleanup on t.
	NewRegistry func(t *testing.T) portmap.Registry
}

// Run executes all tests in the suite.
func (suite *RegistryTestSuite) Run(t *testing.T) {
	t.Run("Set", suite.TestSet)
	t.Run("SetDuplicateKeepsFirstPort", suite.TestSetDuplicate)
	t.Run("SetSameProgramOtherProtocol", suite.TestSetOtherProtocol)
	t.Run("UnsetRemovesEveryProtocol", suite.TestUnset)
	t.Run("UnsetMissing", suite.TestUnsetMissing)
	t.Run("GetPortUnmapped", suite.TestGetPortUnmapped)
	t.Run("DumpEmpty", suite.TestDumpEmpty)
	t.Run("DumpOrdering", suite.TestDumpOrdering)
	t.Run("Closed", suite.TestClosed)
	t.Run("CancelledContext", suite.TestCancelledContext)
}

func (suite *RegistryTestSuite) open(t *testing.T) portmap.Registry {
	t.Helper()
	reg := suite.NewRegistry(t)
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func tcp(prog, vers, port uint32) xdr.Mapping {
	return xdr.Mapping{Prog: prog, Vers: vers, Prot: xdr.ProtoTCP, Port: port}
}

func udp(prog, vers, port uint32) xdr.Mapping {
	return xdr.Mapping{Prog: prog, Vers: vers, Prot: xdr.ProtoUDP, Port: port}
}

func (suite *RegistryTestSuite) TestSet(t *testing.T) {
	reg := suite.open(t)
	ctx := context.Background()

	ok, err := reg.Set(ctx, tcp(100003, 3, 2049))
	require.NoError(t, err)
	assert.True(t, ok)

	port, err := reg.GetPort(ctx, 100003, 3, xdr.ProtoTCP)
	require.NoError(t, err)
	assert.Equal(t, uint32(2049), port)
}

func (suite *RegistryTestSuite) TestSetDuplicate(t *testing.T) {
	reg := suite.open(t)
	ctx := context.Background()

	_, err := reg.Set(ctx, tcp(100003, 3, 2049))
	require.NoError(t, err)

	ok, err := reg.Set(ctx, tcp(100003, 3, 9999))
	require.NoError(t, err)
	assert.False(t, ok)

	port, err := reg.GetPort(ctx, 100003, 3, xdr.ProtoTCP)
	require.NoError(t, err)
	assert.Equal(t, uint32(2049), port)
}

func (suite *RegistryTestSuite) TestSetOtherProtocol(t *testing.T) {
	reg := suite.open(t)
	ctx := context.Background()

	_, err := reg.Set(ctx, tcp(100005, 1, 892))
	require.NoError(t, err)
	ok, err := reg.Set(ctx, udp(100005, 1, 893))
	require.NoError(t, err)
	assert.True(t, ok)

	port, err := reg.GetPort(ctx, 100005, 1, xdr.ProtoUDP)
	require.NoError(t, err)
	assert.Equal(t, uint32(893), port)
}

func (suite *RegistryTestSuite) TestUnset(t *testing.T) {
	reg := suite.open(t)
	ctx := context.Background()

	for _, m := range []xdr.Mapping{tcp(7, 1, 700), udp(7, 1, 701), tcp(7, 2, 702), tcp(77, 1, 770)} {
		_, err := reg.Set(ctx, m)
		require.NoError(t, err)
	}

	ok, err := reg.Unset(ctx, 7, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	mappings, err := reg.Dump(ctx)
	require.NoError(t, err)
	assert.Equal(t, []xdr.Mapping{tcp(7, 2, 702), tcp(77, 1, 770)}, mappings)
}

func (suite *RegistryTestSuite) TestUnsetMissing(t *testing.T) {
	reg := suite.open(t)

	ok, err := reg.Unset(context.Background(), 42, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func (suite *RegistryTestSuite) TestGetPortUnmapped(t *testing.T) {
	reg := suite.open(t)
	ctx := context.Background()

	_, err := reg.Set(ctx, tcp(100003, 3, 2049))
	require.NoError(t, err)

	port, err := reg.GetPort(ctx, 100003, 3, xdr.ProtoUDP)
	require.NoError(t, err)
	assert.Zero(t, port)

	port, err = reg.GetPort(ctx, 100003, 4, xdr.ProtoTCP)
	require.NoError(t, err)
	assert.Zero(t, port)
}

func (suite *RegistryTestSuite) TestDumpEmpty(t *testing.T) {
	reg := suite.open(t)

	mappings, err := reg.Dump(context.Background())
	require.NoError(t, err)
	assert.Empty(t, mappings)
}

func (suite *RegistryTestSuite) TestDumpOrdering(t *testing.T) {
	reg := suite.open(t)
	ctx := context.Background()

	for _, m := range []xdr.Mapping{udp(10, 1, 5), tcp(9, 2, 4), udp(9, 1, 3), tcp(9, 1, 2), tcp(100000, 2, 111)} {
		_, err := reg.Set(ctx, m)
		require.NoError(t, err)
	}

	mappings, err := reg.Dump(ctx)
	require.NoError(t, err)
	assert.Equal(t, []xdr.Mapping{
		tcp(9, 1, 2),
		udp(9, 1, 3),
		tcp(9, 2, 4),
		udp(10, 1, 5),
		tcp(100000, 2, 111),
	}, mappings)
}

func (suite *RegistryTestSuite) TestClosed(t *testing.T) {
	reg := suite.NewRegistry(t)
	ctx := context.Background()
	require.NoError(t, reg.Close())

	_, err := reg.Set(ctx, tcp(1, 1, 1))
	assert.ErrorIs(t, err, portmap.ErrRegistryClosed)
	_, err = reg.Unset(ctx, 1, 1)
	assert.ErrorIs(t, err, portmap.ErrRegistryClosed)
	_, err = reg.GetPort(ctx, 1, 1, xdr.ProtoTCP)
	assert.ErrorIs(t, err, portmap.ErrRegistryClosed)
	_, err = reg.Dump(ctx)
	assert.ErrorIs(t, err, portmap.ErrRegistryClosed)

	assert.NoError(t, reg.Close(), "second close")
}

func (suite *RegistryTestSuite) TestCancelledContext(t *testing.T) {
	reg := suite.open(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := reg.Set(ctx, tcp(1, 1, 1))
	assert.ErrorIs(t, err, context.Canceled)

	_, err = reg.Dump(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
