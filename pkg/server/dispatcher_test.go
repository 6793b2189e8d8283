package server

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/marmos91/oncrpc/internal/protocol/rpc"
	"github.com/marmos91/oncrpc/internal/ratelimiter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPeer = &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 700}

// handle runs raw through a fresh dispatcher and decodes the reply header.
func handle(t *testing.T, d *Dispatcher, raw []byte) (uint32, *rpc.Unpacker, error) {
	t.Helper()
	reply, ok := d.Handle(context.Background(), raw, testPeer)
	require.True(t, ok, "expected a reply")
	u := rpc.NewUnpacker(reply)
	xid, err := rpc.ReadReply(u)
	return xid, u, err
}

func TestDispatcherSuccess(t *testing.T) {
	d := NewDispatcher(newEchoProgram(), nil, nil)

	t.Run("Double", func(t *testing.T) {
		xid, u, err := handle(t, d, encodeCall(callSpec{xid: 77, procedure: 1, args: packString("ab")}))
		require.NoError(t, err)
		assert.Equal(t, uint32(77), xid)

		s, err := u.UnpackString()
		require.NoError(t, err)
		assert.Equal(t, "abab", s)
		assert.NoError(t, u.Finish())
	})

	t.Run("NullIsProvided", func(t *testing.T) {
		_, u, err := handle(t, d, encodeCall(callSpec{procedure: 0}))
		require.NoError(t, err)
		assert.Equal(t, 0, u.Len(), "NULL has an empty result")
	})

	t.Run("UnixCredentialIsParsed", func(t *testing.T) {
		cred, err := rpc.NewUnixCredential(1, "client-host", 501, 20, []uint32{20, 80})
		require.NoError(t, err)

		_, u, err := handle(t, d, encodeCall(callSpec{procedure: 6, cred: cred}))
		require.NoError(t, err)

		name, err := u.UnpackString()
		require.NoError(t, err)
		uid, err := u.UnpackUint32()
		require.NoError(t, err)
		assert.Equal(t, "client-host", name)
		assert.Equal(t, uint32(501), uid)
	})
}

func TestDispatcherDropsNonCalls(t *testing.T) {
	m := &recordingMetrics{}
	d := NewDispatcher(newEchoProgram(), nil, m)

	tests := []struct {
		name   string
		raw    []byte
		reason string
	}{
		{name: "ReplyMessage", raw: rpc.MakeSuccessReply(5, nil), reason: "not_call"},
		{name: "Truncated", raw: []byte{0, 0, 1}, reason: "malformed"},
		{name: "NoProcedure", raw: encodeCall(callSpec{procedure: 1})[:16], reason: "malformed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply, ok := d.Handle(context.Background(), tt.raw, testPeer)
			assert.False(t, ok)
			assert.Nil(t, reply)
			assert.Contains(t, m.dropped, tt.reason)
		})
	}
}

func TestDispatcherRejections(t *testing.T) {
	d := NewDispatcher(newEchoProgram(), nil, nil)

	t.Run("RPCVersionMismatch", func(t *testing.T) {
		p := rpc.NewPacker()
		p.PackUint32(99)
		p.PackEnum(rpc.RPCCall)
		p.PackUint32(3)
		p.PackUint32(echoProgram)
		p.PackUint32(echoVersion)
		p.PackUint32(0)

		xid, _, err := handle(t, d, p.Bytes())
		assert.Equal(t, uint32(99), xid)
		require.ErrorIs(t, err, rpc.ErrRPCMismatch)

		var re *rpc.RejectError
		require.True(t, errors.As(err, &re))
		assert.Equal(t, uint32(2), re.Low)
		assert.Equal(t, uint32(2), re.High)
	})

	t.Run("ProgramUnavailable", func(t *testing.T) {
		_, _, err := handle(t, d, encodeCall(callSpec{program: 0x20000099}))
		assert.ErrorIs(t, err, rpc.ErrProgUnavailable)
	})

	t.Run("VersionMismatch", func(t *testing.T) {
		_, _, err := handle(t, d, encodeCall(callSpec{version: 7}))
		require.ErrorIs(t, err, rpc.ErrProgMismatch)

		var ae *rpc.AcceptError
		require.True(t, errors.As(err, &ae))
		assert.Equal(t, uint32(echoVersion), ae.Low)
		assert.Equal(t, uint32(echoVersion), ae.High)
	})

	t.Run("ProcedureUnavailable", func(t *testing.T) {
		_, _, err := handle(t, d, encodeCall(callSpec{procedure: 42}))
		assert.ErrorIs(t, err, rpc.ErrProcUnavailable)
	})

	t.Run("MalformedUnixCredential", func(t *testing.T) {
		cred := rpc.OpaqueAuth{Flavor: rpc.AuthUnix, Body: []byte{0, 0, 0, 1}}

		_, _, err := handle(t, d, encodeCall(callSpec{procedure: 1, cred: cred, args: packString("x")}))
		require.ErrorIs(t, err, rpc.ErrAuthError)

		var re *rpc.RejectError
		require.True(t, errors.As(err, &re))
		assert.Equal(t, uint32(rpc.AuthBadCred), re.AuthStat)
	})

	t.Run("OversizedCredential", func(t *testing.T) {
		cred := rpc.OpaqueAuth{Flavor: rpc.AuthShort, Body: make([]byte, rpc.MaxAuthBodySize+4)}

		_, _, err := handle(t, d, encodeCall(callSpec{procedure: 0, cred: cred}))
		require.ErrorIs(t, err, rpc.ErrAuthError)
	})
}

func TestDispatcherHandlerOutcomes(t *testing.T) {
	m := &recordingMetrics{}
	d := NewDispatcher(newEchoProgram(), nil, m)

	t.Run("MissingArgumentsAreGarbage", func(t *testing.T) {
		_, _, err := handle(t, d, encodeCall(callSpec{procedure: 1}))
		assert.ErrorIs(t, err, rpc.ErrGarbageArgsRemote)
	})

	t.Run("TrailingArgumentsAreGarbage", func(t *testing.T) {
		args := func(p *rpc.Packer) {
			p.PackString("ab")
			p.PackUint32(9)
		}
		_, _, err := handle(t, d, encodeCall(callSpec{procedure: 1, args: args}))
		assert.ErrorIs(t, err, rpc.ErrGarbageArgsRemote)
	})

	t.Run("HandlerErrorDiscardsPartialReply", func(t *testing.T) {
		_, u, err := handle(t, d, encodeCall(callSpec{procedure: 4}))
		assert.ErrorIs(t, err, rpc.ErrSystemErr)
		assert.Equal(t, 0, u.Len(), "no results follow SYSTEM_ERR")
	})

	t.Run("PanicBecomesSystemErr", func(t *testing.T) {
		_, _, err := handle(t, d, encodeCall(callSpec{procedure: 2}))
		assert.ErrorIs(t, err, rpc.ErrSystemErr)

		// The dispatcher is still usable afterwards
		_, _, err = handle(t, d, encodeCall(callSpec{procedure: 1, args: packString("z")}))
		assert.NoError(t, err)
	})

	t.Run("ResultsWithoutTurnAround", func(t *testing.T) {
		_, _, err := handle(t, d, encodeCall(callSpec{procedure: 5}))
		assert.ErrorIs(t, err, rpc.ErrSystemErr)
	})

	t.Run("NoReply", func(t *testing.T) {
		reply, ok := d.Handle(context.Background(), encodeCall(callSpec{procedure: 3}), testPeer)
		assert.False(t, ok)
		assert.Nil(t, reply)
	})

	assert.Contains(t, m.statuses, "GARBAGE_ARGS")
	assert.Contains(t, m.statuses, "SYSTEM_ERR")
	assert.Contains(t, m.statuses, "SUCCESS")
	assert.Contains(t, m.statuses, statusNoReply)
}

func TestDispatcherRateLimit(t *testing.T) {
	limiter := ratelimiter.NewPeerLimiter(1, 1, time.Minute)
	d := NewDispatcher(newEchoProgram(), limiter, nil)
	call := encodeCall(callSpec{procedure: 0})

	_, _, err := handle(t, d, call)
	require.NoError(t, err)

	_, _, err = handle(t, d, call)
	assert.ErrorIs(t, err, rpc.ErrSystemErr, "second call within the same second is refused")

	other := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 700}
	reply, ok := d.Handle(context.Background(), call, other)
	require.True(t, ok)
	_, err = rpc.ReadReply(rpc.NewUnpacker(reply))
	assert.NoError(t, err, "buckets are per peer")
}

func TestPeerKey(t *testing.T) {
	assert.Equal(t, "10.0.0.1", peerKey(&net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 1}))
	assert.Equal(t, "10.0.0.1", peerKey(&net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 2}))
	assert.Equal(t, "", peerKey(nil))
}
