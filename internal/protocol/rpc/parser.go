package rpc

import (
	"fmt"
)

// WriteCall packs a call header. The procedure arguments are expected to be
// packed into the same Packer right after it.
func WriteCall(p *Packer, call *RPCCallMessage) {
	p.PackUint32(call.XID)
	p.PackEnum(RPCCall)
	p.PackUint32(RPCVersion)
	p.PackUint32(call.Program)
	p.PackUint32(call.Version)
	p.PackUint32(call.Procedure)
	p.PackAuth(call.Cred)
	p.PackAuth(call.Verf)
}

// ReadCallPrefix reads the fixed part of a call header: everything up to and
// including the procedure number.
//
// The returned message is never nil once the xid has been read, so callers
// can still answer an RPC_MISMATCH with the right xid when the error is
// ErrBadRPCVersion.
func ReadCallPrefix(u *Unpacker) (*RPCCallMessage, error) {
	call := &RPCCallMessage{}

	var err error
	if call.XID, err = u.UnpackUint32(); err != nil {
		return nil, err
	}
	if call.MsgType, err = u.UnpackEnum(); err != nil {
		return call, err
	}
	if call.MsgType != RPCCall {
		return call, fmt.Errorf("%w: expected CALL (0), got %d", ErrBadRPCFormat, call.MsgType)
	}
	if call.RPCVersion, err = u.UnpackUint32(); err != nil {
		return call, err
	}
	if call.RPCVersion != RPCVersion {
		return call, fmt.Errorf("%w: %d", ErrBadRPCVersion, call.RPCVersion)
	}
	if call.Program, err = u.UnpackUint32(); err != nil {
		return call, err
	}
	if call.Version, err = u.UnpackUint32(); err != nil {
		return call, err
	}
	if call.Procedure, err = u.UnpackUint32(); err != nil {
		return call, err
	}
	return call, nil
}

// ReadCallAuth reads the credential and verifier that follow the fixed
// header, leaving u positioned at the procedure arguments.
func ReadCallAuth(u *Unpacker, call *RPCCallMessage) error {
	var err error
	if call.Cred, err = u.UnpackAuth(); err != nil {
		return fmt.Errorf("credential: %w", err)
	}
	if call.Verf, err = u.UnpackAuth(); err != nil {
		return fmt.Errorf("verifier: %w", err)
	}
	return nil
}

// ReadCall decodes a complete call header from data and returns an Unpacker
// positioned at the procedure arguments.
func ReadCall(data []byte) (*RPCCallMessage, *Unpacker, error) {
	u := NewUnpacker(data)
	call, err := ReadCallPrefix(u)
	if err != nil {
		return call, nil, fmt.Errorf("unmarshal RPC call: %w", err)
	}
	if err := ReadCallAuth(u, call); err != nil {
		return call, nil, fmt.Errorf("unmarshal RPC call: %w", err)
	}
	return call, u, nil
}

// ReadReply decodes a reply header, leaving u positioned at the results.
//
// The xid is returned whenever it could be read, even alongside an error, so
// that a transport can recognise and drop replies to other calls before
// looking at their status. A reply that is anything other than
// MSG_ACCEPTED/SUCCESS yields an *AcceptError or *RejectError.
func ReadReply(u *Unpacker) (uint32, error) {
	xid, err := u.UnpackUint32()
	if err != nil {
		return 0, err
	}

	mtype, err := u.UnpackEnum()
	if err != nil {
		return xid, err
	}
	if mtype != RPCReply {
		return xid, fmt.Errorf("%w: expected REPLY (1), got %d", ErrBadRPCFormat, mtype)
	}

	stat, err := u.UnpackEnum()
	if err != nil {
		return xid, err
	}

	switch stat {
	case RPCMsgAccepted:
		if _, err := u.UnpackAuth(); err != nil {
			return xid, err
		}
		astat, err := u.UnpackEnum()
		if err != nil {
			return xid, err
		}
		switch astat {
		case RPCSuccess:
			return xid, nil
		case RPCProgMismatch:
			low, high, err := unpackRange(u)
			if err != nil {
				return xid, err
			}
			return xid, &AcceptError{Stat: astat, Low: low, High: high}
		default:
			return xid, &AcceptError{Stat: astat}
		}

	case RPCMsgDenied:
		rstat, err := u.UnpackEnum()
		if err != nil {
			return xid, err
		}
		switch rstat {
		case RPCMismatch:
			low, high, err := unpackRange(u)
			if err != nil {
				return xid, err
			}
			return xid, &RejectError{Stat: rstat, Low: low, High: high}
		case RPCAuthError:
			why, err := u.UnpackEnum()
			if err != nil {
				return xid, err
			}
			return xid, &RejectError{Stat: rstat, AuthStat: why}
		default:
			return xid, fmt.Errorf("%w: unknown reject_stat %d", ErrBadRPCFormat, rstat)
		}

	default:
		return xid, fmt.Errorf("%w: unknown reply_stat %d", ErrBadRPCFormat, stat)
	}
}

func unpackRange(u *Unpacker) (uint32, uint32, error) {
	low, err := u.UnpackUint32()
	if err != nil {
		return 0, 0, err
	}
	high, err := u.UnpackUint32()
	if err != nil {
		return 0, 0, err
	}
	return low, high, nil
}
