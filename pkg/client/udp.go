package client

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/marmos91/oncrpc/internal/logger"
)

// UDPOptions controls retransmission on datagram transports.
//
// With the defaults a call is sent up to six times, waiting 1, 2, 4, 8, 16
// and 25 seconds for a reply after each send.
type UDPOptions struct {
	// InitialTimeout is the wait after the first send.
	InitialTimeout time.Duration

	// MaxTimeout caps the doubled wait between retransmissions.
	MaxTimeout time.Duration

	// MaxRetransmits is the number of resends after the first send.
	MaxRetransmits int

	// MaxReplySize is the receive buffer size.
	MaxReplySize int

	// Now is the clock deadlines are computed from. Defaults to time.Now.
	Now func() time.Time
}

// DefaultUDPOptions returns the standard retransmission schedule.
func DefaultUDPOptions() UDPOptions {
	return UDPOptions{
		InitialTimeout: time.Second,
		MaxTimeout:     25 * time.Second,
		MaxRetransmits: 5,
		MaxReplySize:   65535,
		Now:            time.Now,
	}
}

func (o *UDPOptions) applyDefaults() {
	def := DefaultUDPOptions()
	if o.InitialTimeout <= 0 {
		o.InitialTimeout = def.InitialTimeout
	}
	if o.MaxTimeout <= 0 {
		o.MaxTimeout = def.MaxTimeout
	}
	if o.MaxRetransmits < 0 {
		o.MaxRetransmits = 0
	}
	if o.MaxReplySize <= 0 {
		o.MaxReplySize = def.MaxReplySize
	}
	if o.Now == nil {
		o.Now = def.Now
	}
}

// UDPTransport sends each call as a single datagram on a connected socket
// and retransmits until a reply with the matching xid arrives.
//
// A retransmitted call may be executed more than once by the server. Only
// idempotent procedures are safe to call over UDP.
type UDPTransport struct {
	conn net.Conn
	opts UDPOptions
	buf  []byte
}

// NewUDPTransport wraps a connected datagram socket.
func NewUDPTransport(conn net.Conn, opts UDPOptions) *UDPTransport {
	opts.applyDefaults()
	return &UDPTransport{
		conn: conn,
		opts: opts,
		buf:  make([]byte, opts.MaxReplySize),
	}
}

// RoundTrip sends request and waits for the reply carrying xid.
//
// Replies to other xids (late answers to earlier retransmissions) are
// dropped and the wait continues until the deadline of the current attempt.
// After the last attempt ErrTimeout is returned.
func (t *UDPTransport) RoundTrip(ctx context.Context, xid uint32, request []byte) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = t.conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	timeout := t.opts.InitialTimeout
	for attempt := 0; attempt <= t.opts.MaxRetransmits; attempt++ {
		if _, err := t.conn.Write(request); err != nil {
			return nil, ctxErr(ctx, fmt.Errorf("send xid 0x%x: %w", xid, err))
		}

		deadline := t.opts.Now().Add(timeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}

		reply, err := t.await(ctx, xid, deadline)
		if err != nil {
			return nil, ctxErr(ctx, err)
		}
		if reply != nil {
			return reply, nil
		}
		if ctxDone(ctx) {
			return nil, ctxErr(ctx, fmt.Errorf("no reply to xid 0x%x", xid))
		}

		logger.Debug("RPC UDP: no reply to xid=0x%x after %v (attempt %d)", xid, timeout, attempt+1)

		timeout *= 2
		if timeout > t.opts.MaxTimeout {
			timeout = t.opts.MaxTimeout
		}
	}

	return nil, fmt.Errorf("%w: xid 0x%x", ErrTimeout, xid)
}

// await reads datagrams until one carries xid or the deadline passes. A nil
// reply with a nil error means the deadline passed.
func (t *UDPTransport) await(ctx context.Context, xid uint32, deadline time.Time) ([]byte, error) {
	for {
		if ctx.Err() != nil {
			return nil, nil
		}
		if err := t.conn.SetReadDeadline(deadline); err != nil {
			return nil, fmt.Errorf("set read deadline: %w", err)
		}
		// A cancellation landing before SetReadDeadline had its past
		// deadline overwritten.
		if ctx.Err() != nil {
			return nil, nil
		}

		n, err := t.conn.Read(t.buf)
		if err != nil {
			if isTimeout(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("receive reply to xid 0x%x: %w", xid, err)
		}

		if n < 4 {
			continue
		}
		if got := binary.BigEndian.Uint32(t.buf[:4]); got != xid {
			logger.Debug("RPC UDP: dropping reply with stale xid=0x%x (want 0x%x)", got, xid)
			continue
		}

		reply := make([]byte, n)
		copy(reply, t.buf[:n])
		return reply, nil
	}
}

func (t *UDPTransport) Close() error {
	return t.conn.Close()
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
