package client

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/marmos91/oncrpc/internal/protocol/rpc"
)

// TCPTransport exchanges record-marked messages over a stream connection.
// There is no retransmission: the stream is reliable and a lost connection
// is reported to the caller.
//
// A failed exchange leaves the stream in an unknown state: a late reply may
// still be queued, or a record may be cut mid-fragment. The connection is
// closed and every later RoundTrip fails with ErrClosed; callers redial.
type TCPTransport struct {
	conn      net.Conn
	maxRecord int

	mu     sync.Mutex
	broken error
	closed bool
}

// NewTCPTransport wraps an established connection. maxRecord bounds the size
// of a reply; zero selects rpc.DefaultMaxRecordSize.
func NewTCPTransport(conn net.Conn, maxRecord int) *TCPTransport {
	return &TCPTransport{conn: conn, maxRecord: maxRecord}
}

// RoundTrip sends request as one record and reads one record back.
//
// The context deadline is applied to the connection; cancelling the context
// interrupts blocked I/O.
func (t *TCPTransport) RoundTrip(ctx context.Context, xid uint32, request []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrClosed
	}
	if t.broken != nil {
		return nil, fmt.Errorf("%w: connection dropped after earlier failure: %v", ErrClosed, t.broken)
	}

	deadline, _ := ctx.Deadline()
	if err := t.conn.SetDeadline(deadline); err != nil {
		return nil, t.fail(fmt.Errorf("set deadline: %w", err))
	}
	stop := context.AfterFunc(ctx, func() {
		_ = t.conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	if err := rpc.SendRecord(t.conn, request, 0); err != nil {
		return nil, t.fail(ctxErr(ctx, err))
	}

	reply, err := rpc.RecvRecord(t.conn, t.maxRecord)
	if err != nil {
		return nil, t.fail(ctxErr(ctx, fmt.Errorf("read reply to xid 0x%x: %w", xid, err)))
	}
	return reply, nil
}

// fail marks the transport broken and closes the connection. Called with
// t.mu held.
func (t *TCPTransport) fail(err error) error {
	t.broken = err
	_ = t.conn.Close()
	return err
}

func (t *TCPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.broken != nil {
		return nil
	}
	return t.conn.Close()
}

// ctxErr prefers the context error when the context ended the I/O. A read
// deadline taken from the context can fire just before the context itself
// reports expiry, so an expired deadline counts too.
func ctxErr(ctx context.Context, err error) error {
	if ctxDone(ctx) {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ctx.Err(), err)
		}
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return err
}

func ctxDone(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	d, ok := ctx.Deadline()
	return ok && !time.Now().Before(d)
}
