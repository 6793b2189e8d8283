package server

import (
	"context"
	"net"

	"github.com/marmos91/oncrpc/internal/protocol/rpc"
)

// Call is the context handed to a procedure handler.
type Call struct {
	// Context is cancelled when the server shuts down.
	Context context.Context

	// Header is the decoded call header, credential and verifier included.
	Header *rpc.RPCCallMessage

	// Args is positioned at the procedure arguments.
	Args *rpc.Unpacker

	// Reply receives the results, after TurnAround has written the reply
	// header.
	Reply *rpc.Packer

	// Addr is the caller's address.
	Addr net.Addr

	// UnixAuth holds the parsed credential when the caller used AUTH_UNIX.
	UnixAuth *rpc.UnixAuth

	// Procedure is the name of the procedure being run.
	Procedure string

	turnedAround bool
}

// TurnAround ends argument decoding and starts the reply.
//
// It fails with rpc.ErrGarbageArgs if arguments were left undecoded; the
// handler should return that error so the caller gets GARBAGE_ARGS.
// Otherwise it writes an accepted SUCCESS header to Reply. Calling it twice
// is a no-op.
func (c *Call) TurnAround() error {
	if c.turnedAround {
		return nil
	}
	if err := c.Args.Finish(); err != nil {
		return err
	}
	c.turnedAround = true
	rpc.WriteAcceptedReply(c.Reply, c.Header.XID, rpc.NullAuth(), rpc.RPCSuccess)
	return nil
}
