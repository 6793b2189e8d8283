package client

import (
	"context"
	"net"
	"os"
	"sync"
	"time"

	"github.com/marmos91/oncrpc/internal/protocol/rpc"
)

// fakeClock is a frozen clock.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

// fakeDatagramConn is a connected datagram socket. Replies queued by respond
// are handed out by Read; once the queue is empty Read fails with a timeout
// and records how far in the future the read deadline was.
type fakeDatagramConn struct {
	mu       sync.Mutex
	clock    *fakeClock
	respond  func(n int, req []byte) [][]byte
	writes   [][]byte
	queue    [][]byte
	deadline time.Time
	waits    []time.Duration
	closed   bool

	// onSetDeadline, when set, runs after every SetReadDeadline.
	onSetDeadline func()
}

func (c *fakeDatagramConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), b...))
	if c.respond != nil {
		c.queue = append(c.queue, c.respond(len(c.writes), b)...)
	}
	return len(b), nil
}

func (c *fakeDatagramConn) Read(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		c.waits = append(c.waits, c.deadline.Sub(c.clock.Now()))
		return 0, os.ErrDeadlineExceeded
	}
	msg := c.queue[0]
	c.queue = c.queue[1:]
	return copy(b, msg), nil
}

func (c *fakeDatagramConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.deadline = t
	hook := c.onSetDeadline
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (c *fakeDatagramConn) SetDeadline(t time.Time) error    { return c.SetReadDeadline(t) }
func (c *fakeDatagramConn) SetWriteDeadline(time.Time) error { return nil }
func (c *fakeDatagramConn) LocalAddr() net.Addr              { return &net.UDPAddr{Port: 40000} }
func (c *fakeDatagramConn) RemoteAddr() net.Addr             { return &net.UDPAddr{Port: 111} }
func (c *fakeDatagramConn) Close() error                     { c.closed = true; return nil }
func (c *fakeDatagramConn) writeCount() int                  { c.mu.Lock(); defer c.mu.Unlock(); return len(c.writes) }

// fakeTransport answers every call with reply(xid, request).
type fakeTransport struct {
	xids   []uint32
	reply  func(xid uint32, req []byte) ([]byte, error)
	closed bool
}

func (t *fakeTransport) RoundTrip(_ context.Context, xid uint32, req []byte) ([]byte, error) {
	t.xids = append(t.xids, xid)
	return t.reply(xid, req)
}

func (t *fakeTransport) Close() error {
	t.closed = true
	return nil
}

// countingDialer records dial attempts and hands out one end of a pipe.
type countingDialer struct {
	mu        sync.Mutex
	addresses []string
	conns     []net.Conn
}

func (d *countingDialer) DialContext(_ context.Context, network, address string) (net.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.addresses = append(d.addresses, network+"://"+address)
	client, server := net.Pipe()
	d.conns = append(d.conns, server)
	return client, nil
}

func (d *countingDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.addresses)
}

func successReply(xid uint32, pack func(p *rpc.Packer)) []byte {
	p := rpc.NewPacker()
	rpc.WriteAcceptedReply(p, xid, rpc.NullAuth(), rpc.RPCSuccess)
	if pack != nil {
		pack(p)
	}
	return append([]byte(nil), p.Bytes()...)
}

func xidOf(req []byte) uint32 {
	call, _, err := rpc.ReadCall(req)
	if err != nil {
		return 0
	}
	return call.XID
}
