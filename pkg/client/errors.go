package client

import "errors"

var (
	// ErrTimeout is returned by the UDP transport once every retransmission
	// has gone unanswered.
	ErrTimeout = errors.New("rpc client: timed out waiting for reply")

	// ErrProgramNotRegistered is returned by NewTCPClient and NewUDPClient
	// when the port mapper reports port 0 for the requested program.
	ErrProgramNotRegistered = errors.New("rpc client: program not registered")

	// ErrClosed is returned by calls made on a closed client.
	ErrClosed = errors.New("rpc client: closed")
)
