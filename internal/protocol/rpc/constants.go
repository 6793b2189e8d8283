package rpc

// RPCVersion is the only RPC protocol version spoken (RFC 1057 Section 8).
const RPCVersion = 2

// RPC Message Types
//
// Reference: RFC 1057 Section 8 (msg_type)
const (
	// RPCCall indicates an RPC call message
	RPCCall = 0

	// RPCReply indicates an RPC reply message
	RPCReply = 1
)

// RPC Reply States
const (
	// RPCMsgAccepted indicates the RPC call was accepted
	RPCMsgAccepted = 0

	// RPCMsgDenied indicates the RPC call was denied
	RPCMsgDenied = 1
)

// RPC Accept Status
//
// When an RPC call is accepted (RPCMsgAccepted), the accept_stat field
// indicates whether the procedure executed successfully or why it failed.
const (
	// RPCSuccess indicates successful RPC execution
	RPCSuccess = 0

	// RPCProgUnavail indicates the remote host does not export the program
	RPCProgUnavail = 1

	// RPCProgMismatch indicates the program exists but not in the requested
	// version. The reply carries the supported [low, high] version range.
	RPCProgMismatch = 2

	// RPCProcUnavail indicates the procedure is unavailable
	RPCProcUnavail = 3

	// RPCGarbageArgs indicates the procedure could not decode its arguments
	RPCGarbageArgs = 4

	// RPCSystemErr indicates a server-side failure unrelated to the call
	// itself, such as resource exhaustion or rate limiting.
	RPCSystemErr = 5
)

// RPC Reject Status
const (
	// RPCMismatch indicates the RPC version number was not 2. The reply
	// carries the supported [low, high] RPC version range.
	RPCMismatch = 0

	// RPCAuthError indicates the caller could not be authenticated. The
	// reply carries an auth_stat reason.
	RPCAuthError = 1
)

// Authentication failure reasons (auth_stat).
const (
	AuthOK           = 0
	AuthBadCred      = 1 // bad credentials (seal broken)
	AuthRejectedCred = 2 // client must begin new session
	AuthBadVerf      = 3 // bad verifier (seal broken)
	AuthRejectedVerf = 4 // verifier expired or replayed
	AuthTooWeak      = 5 // rejected for security reasons
)

// Authentication flavors.
//
// Reference: RFC 1057 Section 9
const (
	AuthNull  uint32 = 0
	AuthUnix  uint32 = 1
	AuthShort uint32 = 2
	AuthDES   uint32 = 3
)

// MaxAuthBodySize is the largest credential or verifier body allowed on the
// wire (RFC 1057 Section 7.2).
const MaxAuthBodySize = 400

// IP protocol numbers used by the port mapper to tell transports apart.
const (
	IPProtoTCP = 6
	IPProtoUDP = 17
)

// acceptStatNames and rejectStatNames are used for logging and metrics labels.
var acceptStatNames = map[uint32]string{
	RPCSuccess:      "SUCCESS",
	RPCProgUnavail:  "PROG_UNAVAIL",
	RPCProgMismatch: "PROG_MISMATCH",
	RPCProcUnavail:  "PROC_UNAVAIL",
	RPCGarbageArgs:  "GARBAGE_ARGS",
	RPCSystemErr:    "SYSTEM_ERR",
}

var authStatNames = map[uint32]string{
	AuthOK:           "AUTH_OK",
	AuthBadCred:      "AUTH_BADCRED",
	AuthRejectedCred: "AUTH_REJECTEDCRED",
	AuthBadVerf:      "AUTH_BADVERF",
	AuthRejectedVerf: "AUTH_REJECTEDVERF",
	AuthTooWeak:      "AUTH_TOOWEAK",
}

// AcceptStatName returns the protocol name of an accept_stat value.
func AcceptStatName(stat uint32) string {
	if name, ok := acceptStatNames[stat]; ok {
		return name
	}
	return "UNKNOWN"
}

// AuthStatName returns the protocol name of an auth_stat value.
func AuthStatName(stat uint32) string {
	if name, ok := authStatNames[stat]; ok {
		return name
	}
	return "UNKNOWN"
}
