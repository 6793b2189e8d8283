package rpc

import (
	"errors"
	"fmt"
)

// Format errors. These are never retryable: the bytes on the wire do not
// form a valid RPC message.
var (
	// ErrBadRPCFormat is returned when msg_type is not the expected CALL or REPLY.
	ErrBadRPCFormat = errors.New("rpc: bad message type")

	// ErrBadRPCVersion is returned when a call carries an RPC version other than 2.
	ErrBadRPCVersion = errors.New("rpc: bad rpc version")

	// ErrShortRead is returned when a decoder runs past the end of the buffer.
	ErrShortRead = errors.New("rpc: short read")

	// ErrUnexpectedEOF is returned when a stream closes in the middle of a
	// record (inside a fragment header or payload).
	ErrUnexpectedEOF = errors.New("rpc: unexpected EOF inside record")

	// ErrRecordTooLarge is returned when an incoming record exceeds the
	// configured size limit.
	ErrRecordTooLarge = errors.New("rpc: record too large")

	// ErrXIDMismatch is returned on a reliable transport when the reply does
	// not carry the xid of the call it answers.
	ErrXIDMismatch = errors.New("rpc: reply xid does not match call")

	// ErrBadAuth is returned when a credential or verifier is malformed or
	// does not match its declared flavor.
	ErrBadAuth = errors.New("rpc: malformed authentication data")

	// ErrGarbageArgs is returned by Unpacker.Finish when undecoded bytes remain.
	ErrGarbageArgs = errors.New("rpc: unconsumed trailing bytes")
)

// Remote rejections carried by a well-formed reply. Match with errors.Is
// against an *AcceptError or *RejectError.
var (
	ErrProgUnavailable   = errors.New("rpc: program unavailable")
	ErrProgMismatch      = errors.New("rpc: program version mismatch")
	ErrProcUnavailable   = errors.New("rpc: procedure unavailable")
	ErrGarbageArgsRemote = errors.New("rpc: server could not decode arguments")
	ErrSystemErr         = errors.New("rpc: server system error")
	ErrRPCMismatch       = errors.New("rpc: rpc version mismatch")
	ErrAuthError         = errors.New("rpc: authentication error")
)

// AcceptError reports a reply that was MSG_ACCEPTED with a non-SUCCESS status.
type AcceptError struct {
	Stat uint32

	// Low and High are the supported version range for PROG_MISMATCH.
	Low  uint32
	High uint32
}

func (e *AcceptError) Error() string {
	if e.Stat == RPCProgMismatch {
		return fmt.Sprintf("rpc: call accepted with %s (supported versions %d-%d)",
			AcceptStatName(e.Stat), e.Low, e.High)
	}
	return fmt.Sprintf("rpc: call accepted with %s", AcceptStatName(e.Stat))
}

// Is maps the accept status onto the package sentinels.
func (e *AcceptError) Is(target error) bool {
	switch e.Stat {
	case RPCProgUnavail:
		return target == ErrProgUnavailable
	case RPCProgMismatch:
		return target == ErrProgMismatch
	case RPCProcUnavail:
		return target == ErrProcUnavailable
	case RPCGarbageArgs:
		return target == ErrGarbageArgsRemote
	case RPCSystemErr:
		return target == ErrSystemErr
	}
	return false
}

// RejectError reports a reply that was MSG_DENIED.
type RejectError struct {
	Stat uint32

	// Low and High are the supported RPC version range for RPC_MISMATCH.
	Low  uint32
	High uint32

	// AuthStat is the auth_stat reason for AUTH_ERROR.
	AuthStat uint32
}

func (e *RejectError) Error() string {
	if e.Stat == RPCMismatch {
		return fmt.Sprintf("rpc: call denied: RPC_MISMATCH (supported versions %d-%d)", e.Low, e.High)
	}
	return fmt.Sprintf("rpc: call denied: AUTH_ERROR (%s)", AuthStatName(e.AuthStat))
}

func (e *RejectError) Is(target error) bool {
	switch e.Stat {
	case RPCMismatch:
		return target == ErrRPCMismatch
	case RPCAuthError:
		return target == ErrAuthError
	}
	return false
}

// IsDecodeError reports whether err means that a message body could not be
// decoded as expected (under- or over-consumption of its bytes).
func IsDecodeError(err error) bool {
	return errors.Is(err, ErrShortRead) || errors.Is(err, ErrGarbageArgs)
}
