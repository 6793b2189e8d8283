package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/marmos91/oncrpc/internal/protocol/rpc"
	"github.com/marmos91/oncrpc/pkg/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUDPServerAnswersEachDatagramOnce(t *testing.T) {
	conn := newFakePacketConn()
	srv, err := NewUDPServerConn(conn, Config{}, newEchoProgram())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background()) }()

	peer := &net.UDPAddr{IP: net.IPv4(192, 0, 2, 7), Port: 999}
	conn.in <- datagram{data: encodeCall(callSpec{xid: 10, procedure: 1, args: packString("ab")}), addr: peer}

	requireEventually(t, func() bool { return len(conn.written()) == 1 }, "one reply")

	out := conn.written()[0]
	assert.Equal(t, peer, out.addr, "reply goes back to the sender")

	u := rpc.NewUnpacker(out.data)
	xid, err := rpc.ReadReply(u)
	require.NoError(t, err)
	assert.Equal(t, uint32(10), xid)
	s, err := u.UnpackString()
	require.NoError(t, err)
	assert.Equal(t, "abab", s)

	// Neither a reply message nor a NO_REPLY handler produce a datagram
	conn.in <- datagram{data: rpc.MakeSuccessReply(3, nil), addr: peer}
	conn.in <- datagram{data: encodeCall(callSpec{xid: 11, procedure: 3}), addr: peer}
	conn.in <- datagram{data: encodeCall(callSpec{xid: 12, procedure: 0}), addr: peer}

	requireEventually(t, func() bool { return len(conn.written()) == 2 }, "NULL answered")
	xid, err = rpc.ReadReply(rpc.NewUnpacker(conn.written()[1].data))
	require.NoError(t, err)
	assert.Equal(t, uint32(12), xid)

	require.NoError(t, srv.Stop(context.Background()))
	assert.NoError(t, <-done)
}

func TestUDPServerDropsOversizedDatagrams(t *testing.T) {
	conn := newFakePacketConn()
	m := &recordingMetrics{}
	srv, err := NewUDPServerConn(conn, Config{MaxRecordSize: 32}, newEchoProgram(), WithMetrics(m))
	require.NoError(t, err)

	go func() { _ = srv.Serve(context.Background()) }()
	defer func() { _ = srv.Stop(context.Background()) }()

	peer := &net.UDPAddr{IP: net.IPv4(192, 0, 2, 7), Port: 999}
	conn.in <- datagram{data: encodeCall(callSpec{procedure: 1, args: packString("0123456789abcdef")}), addr: peer}
	conn.in <- datagram{data: encodeCall(callSpec{xid: 5, procedure: 0})[:20], addr: peer}

	requireEventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return len(m.dropped) == 2
	}, "both datagrams dropped")
	assert.Empty(t, conn.written())
}

func TestUDPServerLoopback(t *testing.T) {
	srv, err := NewUDPServer(Config{Host: "127.0.0.1"}, newEchoProgram())
	require.NoError(t, err)
	require.NotZero(t, srv.Port())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	c, err := client.NewRawUDPClient(context.Background(), "127.0.0.1", srv.Port(), echoProgram, echoVersion)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	callCtx, callCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer callCancel()

	out, err := double(callCtx, c, "udp")
	require.NoError(t, err)
	assert.Equal(t, "udpudp", out)

	err = c.Call(callCtx, 42, nil, nil)
	assert.ErrorIs(t, err, rpc.ErrProcUnavailable)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
	assert.Equal(t, ProtocolUDP, srv.Protocol())
}
