package rpc

// WriteAcceptedReply packs an accepted reply header with the given status.
// For RPCSuccess the procedure results are packed right after it.
func WriteAcceptedReply(p *Packer, xid uint32, verf OpaqueAuth, stat uint32) {
	p.PackUint32(xid)
	p.PackEnum(RPCReply)
	p.PackEnum(RPCMsgAccepted)
	p.PackAuth(verf)
	p.PackEnum(stat)
}

// WriteProgMismatchReply packs a PROG_MISMATCH reply carrying the range of
// program versions the server supports.
func WriteProgMismatchReply(p *Packer, xid uint32, low, high uint32) {
	WriteAcceptedReply(p, xid, NullAuth(), RPCProgMismatch)
	p.PackUint32(low)
	p.PackUint32(high)
}

// WriteRPCMismatchReply packs a MSG_DENIED/RPC_MISMATCH reply.
func WriteRPCMismatchReply(p *Packer, xid uint32, low, high uint32) {
	p.PackUint32(xid)
	p.PackEnum(RPCReply)
	p.PackEnum(RPCMsgDenied)
	p.PackEnum(RPCMismatch)
	p.PackUint32(low)
	p.PackUint32(high)
}

// WriteAuthErrorReply packs a MSG_DENIED/AUTH_ERROR reply with an auth_stat
// reason.
func WriteAuthErrorReply(p *Packer, xid uint32, why uint32) {
	p.PackUint32(xid)
	p.PackEnum(RPCReply)
	p.PackEnum(RPCMsgDenied)
	p.PackEnum(RPCAuthError)
	p.PackEnum(why)
}

// MakeSuccessReply returns a complete SUCCESS reply message with an
// AUTH_NULL verifier followed by the already encoded results.
func MakeSuccessReply(xid uint32, results []byte) []byte {
	p := NewPacker()
	WriteAcceptedReply(p, xid, NullAuth(), RPCSuccess)
	p.PackRaw(results)
	return p.Bytes()
}

// MakeErrorReply returns a complete accepted reply carrying a non-SUCCESS
// status and no body.
func MakeErrorReply(xid uint32, stat uint32) []byte {
	p := NewPacker()
	WriteAcceptedReply(p, xid, NullAuth(), stat)
	return p.Bytes()
}
