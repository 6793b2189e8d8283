// Package client implements ONC RPC version 2 clients.
//
// A Client owns the call state (xid counter, credential, verifier) and
// delegates moving bytes to a Transport: TCP with record marking, or UDP
// with retransmission. The port mapper client and the broadcast caller are
// built on the same pieces.
//
// Example:
//
//	c, err := client.NewTCPClient(ctx, "server", 0x20000000, 1)
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	var doubled string
//	err = c.Call(ctx, 1,
//	    func(p *rpc.Packer) { p.PackString("abc") },
//	    func(u *rpc.Unpacker) (err error) { doubled, err = u.UnpackString(); return },
//	)
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/marmos91/oncrpc/internal/logger"
	"github.com/marmos91/oncrpc/internal/protocol/rpc"
)

// ArgsFunc packs the arguments of a call. A nil ArgsFunc sends no arguments.
type ArgsFunc func(p *rpc.Packer)

// ResultFunc unpacks the results of a call. A nil ResultFunc expects an
// empty result; anything left over fails the call with rpc.ErrGarbageArgs.
type ResultFunc func(u *rpc.Unpacker) error

// Transport moves one encoded call to the server and returns the encoded
// reply whose xid matches.
type Transport interface {
	RoundTrip(ctx context.Context, xid uint32, request []byte) ([]byte, error)
	Close() error
}

// Client issues calls to one (program, version) on one server.
//
// Calls are serialized: a Client can be shared between goroutines but only
// one call is in flight at a time.
type Client struct {
	mu        sync.Mutex
	transport Transport
	packer    *rpc.Packer
	closed    bool

	host    string
	port    int
	program uint32
	version uint32

	lastXID uint32
	cred    rpc.OpaqueAuth
	verf    rpc.OpaqueAuth
}

// New returns a Client speaking to program/version through t. host and port
// are informational.
func New(t Transport, host string, port int, program, version uint32) *Client {
	return &Client{
		transport: t,
		packer:    rpc.NewPacker(),
		host:      host,
		port:      port,
		program:   program,
		version:   version,
		cred:      rpc.NullAuth(),
		verf:      rpc.NullAuth(),
	}
}

// Call invokes procedure proc.
//
// The reply must carry the xid of this call (rpc.ErrXIDMismatch otherwise).
// Accepted-but-failed and denied replies come back as *rpc.AcceptError and
// *rpc.RejectError.
func (c *Client) Call(ctx context.Context, proc uint32, args ArgsFunc, result ResultFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	c.lastXID++
	xid := c.lastXID

	c.packer.Reset()
	rpc.WriteCall(c.packer, &rpc.RPCCallMessage{
		XID:       xid,
		Program:   c.program,
		Version:   c.version,
		Procedure: proc,
		Cred:      c.cred,
		Verf:      c.verf,
	})
	if args != nil {
		args(c.packer)
	}

	logger.Debug("RPC call: xid=0x%x prog=%d vers=%d proc=%d host=%s", xid, c.program, c.version, proc, c.host)

	reply, err := c.transport.RoundTrip(ctx, xid, c.packer.Bytes())
	if err != nil {
		return fmt.Errorf("call proc %d: %w", proc, err)
	}

	u := rpc.NewUnpacker(reply)
	rxid, err := rpc.ReadReply(u)
	if rxid != xid && !errors.Is(err, rpc.ErrShortRead) {
		return fmt.Errorf("%w: sent 0x%x, got 0x%x", rpc.ErrXIDMismatch, xid, rxid)
	}
	if err != nil {
		return fmt.Errorf("call proc %d: %w", proc, err)
	}

	if result != nil {
		if err := result(u); err != nil {
			return fmt.Errorf("decode proc %d result: %w", proc, err)
		}
	}
	if err := u.Finish(); err != nil {
		return fmt.Errorf("decode proc %d result: %w", proc, err)
	}

	return nil
}

// Null calls procedure 0, which every program implements as a no-op.
func (c *Client) Null(ctx context.Context) error {
	return c.Call(ctx, 0, nil, nil)
}

// SetCredential sets the credential sent with subsequent calls.
func (c *Client) SetCredential(cred rpc.OpaqueAuth) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cred = cred
}

// SetVerifier sets the verifier sent with subsequent calls.
func (c *Client) SetVerifier(verf rpc.OpaqueAuth) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.verf = verf
}

// Close releases the transport. Further calls fail with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.transport.Close()
}

// LastXID returns the xid of the most recent call.
func (c *Client) LastXID() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastXID
}

func (c *Client) Host() string    { return c.host }
func (c *Client) Port() int       { return c.port }
func (c *Client) Program() uint32 { return c.program }
func (c *Client) Version() uint32 { return c.version }
