package client

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/marmos91/oncrpc/internal/logger"
	"github.com/marmos91/oncrpc/internal/protocol/rpc"
)

// DefaultBroadcastTimeout is how long a broadcast collects replies.
const DefaultBroadcastTimeout = 30 * time.Second

// BroadcastReply is one answer to a broadcast call.
type BroadcastReply[T any] struct {
	Addr   net.Addr
	Result T
}

// Broadcaster sends calls to every host on a network segment and gathers
// the answers. The call is sent once and never retransmitted.
type Broadcaster struct {
	mu      sync.Mutex
	conn    net.PacketConn
	addr    net.Addr
	program uint32
	version uint32
	lastXID uint32
	cred    rpc.OpaqueAuth
	verf    rpc.OpaqueAuth
	buf     []byte

	// Timeout bounds the collection window. Zero waits until the context
	// ends.
	Timeout time.Duration

	now func() time.Time
}

// NewBroadcaster sends calls for program/version from conn to addr.
// Sockets opened by net.ListenPacket already allow broadcast sends.
func NewBroadcaster(conn net.PacketConn, addr net.Addr, program, version uint32) *Broadcaster {
	return &Broadcaster{
		conn:    conn,
		addr:    addr,
		program: program,
		version: version,
		cred:    rpc.NullAuth(),
		verf:    rpc.NullAuth(),
		buf:     make([]byte, 65535),
		Timeout: DefaultBroadcastTimeout,
		now:     time.Now,
	}
}

// ListenBroadcast opens an IPv4 datagram socket and returns a Broadcaster
// aimed at bcast:port.
func ListenBroadcast(bcast string, port int, program, version uint32) (*Broadcaster, error) {
	addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(bcast, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("resolve broadcast address: %w", err)
	}
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, fmt.Errorf("open broadcast socket: %w", err)
	}
	return NewBroadcaster(conn, addr, program, version), nil
}

// SetCredential sets the credential sent with subsequent broadcasts.
func (b *Broadcaster) SetCredential(cred rpc.OpaqueAuth) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cred = cred
}

// SetVerifier sets the verifier sent with subsequent broadcasts.
func (b *Broadcaster) SetVerifier(verf rpc.OpaqueAuth) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.verf = verf
}

func (b *Broadcaster) Close() error {
	return b.conn.Close()
}

// BroadcastCall sends proc once and collects every reply that carries the
// call's xid, is accepted with SUCCESS and decodes cleanly. Other replies
// are skipped. Collection stops when b.Timeout has elapsed since the send,
// or when ctx ends; the replies gathered so far are returned either way.
//
// cb, when non-nil, is invoked for each reply as it arrives.
func BroadcastCall[T any](ctx context.Context, b *Broadcaster, proc uint32, args ArgsFunc, decode func(*rpc.Unpacker) (T, error), cb func(BroadcastReply[T])) ([]BroadcastReply[T], error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastXID++
	xid := b.lastXID

	p := rpc.NewPacker()
	rpc.WriteCall(p, &rpc.RPCCallMessage{
		XID:       xid,
		Program:   b.program,
		Version:   b.version,
		Procedure: proc,
		Cred:      b.cred,
		Verf:      b.verf,
	})
	if args != nil {
		args(p)
	}

	if _, err := b.conn.WriteTo(p.Bytes(), b.addr); err != nil {
		return nil, fmt.Errorf("broadcast to %s: %w", b.addr, err)
	}

	// One wall-clock window for the whole collection
	var deadline time.Time
	if b.Timeout > 0 {
		deadline = b.now().Add(b.Timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}

	stop := context.AfterFunc(ctx, func() {
		_ = b.conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	replies := []BroadcastReply[T]{}
	for {
		if ctx.Err() != nil {
			return replies, nil
		}
		if err := b.conn.SetReadDeadline(deadline); err != nil {
			return replies, fmt.Errorf("set read deadline: %w", err)
		}
		if ctx.Err() != nil {
			return replies, nil
		}

		n, from, err := b.conn.ReadFrom(b.buf)
		if err != nil {
			if isTimeout(err) {
				return replies, nil
			}
			return replies, fmt.Errorf("receive broadcast reply: %w", err)
		}

		// Decoded results may alias the datagram, so it must outlive the
		// next read.
		data := make([]byte, n)
		copy(data, b.buf[:n])
		u := rpc.NewUnpacker(data)
		rxid, err := rpc.ReadReply(u)
		if rxid != xid {
			continue
		}
		if err != nil {
			logger.Debug("RPC broadcast: skipping reply from %s: %v", from, err)
			continue
		}

		result, err := decode(u)
		if err == nil {
			err = u.Finish()
		}
		if err != nil {
			logger.Debug("RPC broadcast: skipping undecodable reply from %s: %v", from, err)
			continue
		}

		reply := BroadcastReply[T]{Addr: from, Result: result}
		replies = append(replies, reply)
		if cb != nil {
			cb(reply)
		}
	}
}
