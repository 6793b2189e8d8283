package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/oncrpc/internal/protocol/rpc"
	"github.com/marmos91/oncrpc/pkg/portmap/xdr"
	"github.com/stretchr/testify/require"
)

const (
	echoProgram = 0x20000000
	echoVersion = 1
)

// newEchoProgram returns a program exercising every handler outcome.
func newEchoProgram() *Program {
	return &Program{
		Name:    "echo",
		Number:  echoProgram,
		Version: echoVersion,
		Procedures: map[uint32]Procedure{
			1: {Name: "DOUBLE", Handler: func(c *Call) error {
				s, err := c.Args.UnpackString()
				if err != nil {
					return err
				}
				if err := c.TurnAround(); err != nil {
					return err
				}
				c.Reply.PackString(s + s)
				return nil
			}},
			2: {Name: "PANIC", Handler: func(c *Call) error {
				panic("boom")
			}},
			3: {Name: "SILENT", Handler: func(c *Call) error {
				return ErrNoReply
			}},
			4: {Name: "FAIL", Handler: func(c *Call) error {
				if err := c.TurnAround(); err != nil {
					return err
				}
				c.Reply.PackString("partial")
				return errors.New("backend down")
			}},
			5: {Name: "NOHEADER", Handler: func(c *Call) error {
				c.Reply.PackUint32(1)
				return nil
			}},
			6: {Name: "WHOAMI", Handler: func(c *Call) error {
				if err := c.TurnAround(); err != nil {
					return err
				}
				if c.UnixAuth == nil {
					c.Reply.PackString("")
					return nil
				}
				c.Reply.PackString(c.UnixAuth.MachineName)
				c.Reply.PackUint32(c.UnixAuth.UID)
				return nil
			}},
		},
	}
}

type callSpec struct {
	xid       uint32
	program   uint32
	version   uint32
	procedure uint32
	cred      rpc.OpaqueAuth
	args      func(p *rpc.Packer)
}

func encodeCall(c callSpec) []byte {
	if c.program == 0 {
		c.program = echoProgram
	}
	if c.version == 0 {
		c.version = echoVersion
	}
	if c.xid == 0 {
		c.xid = 0x1234
	}
	if c.cred.Body == nil && c.cred.Flavor == 0 {
		c.cred = rpc.NullAuth()
	}
	p := rpc.NewPacker()
	rpc.WriteCall(p, &rpc.RPCCallMessage{
		XID:       c.xid,
		Program:   c.program,
		Version:   c.version,
		Procedure: c.procedure,
		Cred:      c.cred,
		Verf:      rpc.NullAuth(),
	})
	if c.args != nil {
		c.args(p)
	}
	return append([]byte(nil), p.Bytes()...)
}

func packString(s string) func(p *rpc.Packer) {
	return func(p *rpc.Packer) { p.PackString(s) }
}

// recordingMetrics keeps the statuses and drop reasons it was given.
type recordingMetrics struct {
	mu       sync.Mutex
	statuses []string
	dropped  []string
}

func (m *recordingMetrics) RecordRequest(_, _ string, _ time.Duration, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, status)
}

func (m *recordingMetrics) RecordDropped(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped = append(m.dropped, reason)
}

func (m *recordingMetrics) RecordRequestStart(string)            {}
func (m *recordingMetrics) RecordRequestEnd(string)              {}
func (m *recordingMetrics) RecordBytesTransferred(string, int64) {}
func (m *recordingMetrics) SetActiveConnections(int32)           {}
func (m *recordingMetrics) RecordConnectionAccepted()            {}
func (m *recordingMetrics) RecordConnectionClosed()              {}

// fakePortMapper answers SET and UNSET with a fixed result and records the
// mappings it was given. It implements client.Transport.
type fakePortMapper struct {
	mu      sync.Mutex
	result  bool
	procs   []uint32
	mapping []xdr.Mapping
}

func (f *fakePortMapper) RoundTrip(_ context.Context, xid uint32, req []byte) ([]byte, error) {
	call, args, err := rpc.ReadCall(req)
	if err != nil {
		return nil, err
	}
	m, err := xdr.DecodeMapping(args)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.procs = append(f.procs, call.Procedure)
	f.mapping = append(f.mapping, *m)
	f.mu.Unlock()

	p := rpc.NewPacker()
	rpc.WriteAcceptedReply(p, xid, rpc.NullAuth(), rpc.RPCSuccess)
	p.PackBool(f.result)
	return p.Bytes(), nil
}

func (f *fakePortMapper) Close() error { return nil }

func (f *fakePortMapper) calls() ([]uint32, []xdr.Mapping) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint32(nil), f.procs...), append([]xdr.Mapping(nil), f.mapping...)
}

// datagram is one packet seen by fakePacketConn.
type datagram struct {
	data []byte
	addr net.Addr
}

// fakePacketConn feeds queued datagrams to ReadFrom and records WriteTo.
type fakePacketConn struct {
	in     chan datagram
	mu     sync.Mutex
	out    []datagram
	closed chan struct{}
	once   sync.Once
}

func newFakePacketConn() *fakePacketConn {
	return &fakePacketConn{
		in:     make(chan datagram, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakePacketConn) ReadFrom(b []byte) (int, net.Addr, error) {
	select {
	case d := <-c.in:
		return copy(b, d.data), d.addr, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *fakePacketConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out = append(c.out, datagram{data: append([]byte(nil), b...), addr: addr})
	return len(b), nil
}

func (c *fakePacketConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakePacketConn) written() []datagram {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]datagram(nil), c.out...)
}

func (c *fakePacketConn) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4000}
}
func (c *fakePacketConn) SetDeadline(time.Time) error      { return nil }
func (c *fakePacketConn) SetReadDeadline(time.Time) error  { return nil }
func (c *fakePacketConn) SetWriteDeadline(time.Time) error { return nil }

func requireEventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}
