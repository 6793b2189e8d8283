package rpc

// RPCCallMessage represents an RPC call (request) header.
//
// Wire Format (XDR encoding):
//   - XID:        4 bytes (transaction identifier)
//   - MsgType:    4 bytes (must be 0 for CALL)
//   - RPCVersion: 4 bytes (must be 2)
//   - Program:    4 bytes (program number)
//   - Version:    4 bytes (program version)
//   - Procedure:  4 bytes (procedure number within program)
//   - Cred:       variable (authentication credentials)
//   - Verf:       variable (authentication verifier)
//   - [procedure-specific parameters follow]
//
// Reference: RFC 1057 Section 8
type RPCCallMessage struct {
	// XID is chosen by the client and echoed by the server so that a reply
	// can be matched with its call. Over UDP it is also how stale replies to
	// earlier retransmissions are recognised and dropped.
	XID uint32

	MsgType    uint32
	RPCVersion uint32

	Program   uint32
	Version   uint32
	Procedure uint32

	// Cred identifies the caller. The flavor decides how Body is read.
	Cred OpaqueAuth

	// Verf is the verifier accompanying Cred. AUTH_NULL for AUTH_UNIX callers.
	Verf OpaqueAuth
}

// OpaqueAuth represents authentication credentials or verifiers.
//
// The RPC layer does not interpret Body beyond checking that it is well
// formed for its Flavor; what the contents mean is up to the program.
type OpaqueAuth struct {
	Flavor uint32
	Body   []byte `xdr:"opaque"`
}

// NullAuth returns an AUTH_NULL credential or verifier.
func NullAuth() OpaqueAuth {
	return OpaqueAuth{Flavor: AuthNull, Body: []byte{}}
}

// GetAuthFlavor returns the authentication flavor from the call credentials.
func (c *RPCCallMessage) GetAuthFlavor() uint32 {
	return c.Cred.Flavor
}

// GetAuthBody returns the raw credential body.
func (c *RPCCallMessage) GetAuthBody() []byte {
	return c.Cred.Body
}
