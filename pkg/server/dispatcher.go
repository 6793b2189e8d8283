package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"time"

	"github.com/marmos91/oncrpc/internal/logger"
	"github.com/marmos91/oncrpc/internal/protocol/rpc"
	"github.com/marmos91/oncrpc/internal/ratelimiter"
	"github.com/marmos91/oncrpc/pkg/metrics"
)

// Reply statuses recorded for replies that are not an accept_stat.
const (
	statusRPCMismatch = "RPC_MISMATCH"
	statusAuthError   = "AUTH_ERROR"
	statusNoReply     = "NO_REPLY"
)

// peerIdleTTL is how long an idle peer keeps its rate limit bucket.
const peerIdleTTL = 10 * time.Minute

// Dispatcher validates incoming calls and routes them to the procedures of
// one program. It holds no per-connection state and is safe for concurrent
// use by every session of a server.
type Dispatcher struct {
	program *Program
	limiter *ratelimiter.PeerLimiter
	metrics metrics.RPCMetrics
}

// NewDispatcher returns a Dispatcher for prog. A nil limiter disables rate
// limiting and nil metrics disables metrics.
func NewDispatcher(prog *Program, limiter *ratelimiter.PeerLimiter, m metrics.RPCMetrics) *Dispatcher {
	if m == nil {
		m = metrics.NewNoopRPCMetrics()
	}
	return &Dispatcher{program: prog, limiter: limiter, metrics: m}
}

// newLimiter builds the per-peer limiter described by cfg, or nil.
func newLimiter(cfg RateLimitConfig) *ratelimiter.PeerLimiter {
	if cfg.RequestsPerSecond == 0 {
		return nil
	}
	return ratelimiter.NewPeerLimiter(cfg.RequestsPerSecond, cfg.Burst, peerIdleTTL)
}

// Handle processes one raw call message and returns the encoded reply. The
// boolean is false when nothing must be sent back: the message was not a
// decodable call, or the handler asked for no reply.
//
// Validation order:
//  1. msg_type must be CALL, else the message is dropped;
//  2. rpc_version must be 2, else MSG_DENIED/RPC_MISMATCH(2, 2);
//  3. program, version and procedure must be served, else PROG_UNAVAIL,
//     PROG_MISMATCH(v, v) or PROC_UNAVAIL;
//  4. the credential and verifier must be well formed, else
//     MSG_DENIED/AUTH_ERROR;
//  5. the caller must be within its rate limit, else SYSTEM_ERR.
//
// The handler then runs. Decode errors become GARBAGE_ARGS and any other
// error or panic becomes SYSTEM_ERR; in both cases the partial reply is
// discarded.
func (d *Dispatcher) Handle(ctx context.Context, raw []byte, addr net.Addr) ([]byte, bool) {
	start := time.Now()
	p := rpc.NewPacker()

	u := rpc.NewUnpacker(raw)
	hdr, err := rpc.ReadCallPrefix(u)
	if err != nil {
		if hdr != nil && errors.Is(err, rpc.ErrBadRPCVersion) {
			logger.Debug("RPC from %s: unsupported rpc version %d (xid=0x%x)", addr, hdr.RPCVersion, hdr.XID)
			rpc.WriteRPCMismatchReply(p, hdr.XID, rpc.RPCVersion, rpc.RPCVersion)
			d.metrics.RecordRequest(d.program.Name, "", time.Since(start), statusRPCMismatch)
			return p.Bytes(), true
		}
		reason := "malformed"
		if errors.Is(err, rpc.ErrBadRPCFormat) {
			reason = "not_call"
		}
		logger.Debug("RPC from %s: dropping message: %v", addr, err)
		d.metrics.RecordDropped(reason)
		return nil, false
	}

	if hdr.Program != d.program.Number {
		return d.reject(p, hdr, addr, start, rpc.RPCProgUnavail)
	}
	if hdr.Version != d.program.Version {
		rpc.WriteProgMismatchReply(p, hdr.XID, d.program.Version, d.program.Version)
		d.record(hdr, start, rpc.AcceptStatName(rpc.RPCProgMismatch))
		logger.Debug("RPC from %s: program %d version %d not served (have %d)",
			addr, hdr.Program, hdr.Version, d.program.Version)
		return p.Bytes(), true
	}
	proc, ok := d.program.procedure(hdr.Procedure)
	if !ok {
		return d.reject(p, hdr, addr, start, rpc.RPCProcUnavail)
	}

	call := &Call{
		Context:   ctx,
		Header:    hdr,
		Args:      u,
		Reply:     p,
		Addr:      addr,
		Procedure: proc.Name,
	}

	if why, err := d.authenticate(u, call); err != nil {
		logger.Debug("RPC %s from %s: rejecting credentials: %v", proc.Name, addr, err)
		rpc.WriteAuthErrorReply(p, hdr.XID, why)
		d.record(hdr, start, statusAuthError)
		return p.Bytes(), true
	}

	if d.limiter != nil && !d.limiter.Allow(peerKey(addr)) {
		logger.Debug("RPC %s from %s: rate limit exceeded", proc.Name, addr)
		return d.reject(p, hdr, addr, start, rpc.RPCSystemErr)
	}

	if call.UnixAuth != nil {
		logger.Debug("RPC %s: xid=0x%x uid=%d gid=%d ngids=%d",
			proc.Name, hdr.XID, call.UnixAuth.UID, call.UnixAuth.GID, len(call.UnixAuth.GIDs))
	} else {
		logger.Debug("RPC %s: xid=0x%x auth_flavor=%d", proc.Name, hdr.XID, hdr.Cred.Flavor)
	}

	d.metrics.RecordRequestStart(proc.Name)
	err = d.invoke(proc, call)
	d.metrics.RecordRequestEnd(proc.Name)

	switch {
	case errors.Is(err, ErrNoReply):
		d.record(hdr, start, statusNoReply)
		return nil, false

	case err != nil && rpc.IsDecodeError(err):
		logger.Debug("RPC %s from %s: garbage arguments: %v", proc.Name, addr, err)
		return d.reject(p, hdr, addr, start, rpc.RPCGarbageArgs)

	case err != nil:
		logger.Warn("RPC %s from %s failed: %v", proc.Name, addr, err)
		return d.reject(p, hdr, addr, start, rpc.RPCSystemErr)

	case !call.turnedAround:
		// A handler that packed results without a header produced garbage
		if p.Len() > 0 {
			logger.Error("RPC %s: handler wrote results before TurnAround", proc.Name)
			return d.reject(p, hdr, addr, start, rpc.RPCSystemErr)
		}
		if err := call.TurnAround(); err != nil {
			return d.reject(p, hdr, addr, start, rpc.RPCGarbageArgs)
		}
	}

	d.record(hdr, start, rpc.AcceptStatName(rpc.RPCSuccess))
	return p.Bytes(), true
}

// reject discards anything packed so far and writes an accepted reply with
// a failure status and no body.
func (d *Dispatcher) reject(p *rpc.Packer, hdr *rpc.RPCCallMessage, addr net.Addr, start time.Time, stat uint32) ([]byte, bool) {
	if stat == rpc.RPCProgUnavail || stat == rpc.RPCProcUnavail {
		logger.Debug("RPC from %s: %s for program %d version %d procedure %d",
			addr, rpc.AcceptStatName(stat), hdr.Program, hdr.Version, hdr.Procedure)
	}
	p.Reset()
	rpc.WriteAcceptedReply(p, hdr.XID, rpc.NullAuth(), stat)
	d.record(hdr, start, rpc.AcceptStatName(stat))
	return p.Bytes(), true
}

func (d *Dispatcher) record(hdr *rpc.RPCCallMessage, start time.Time, status string) {
	d.metrics.RecordRequest(d.program.Name, d.program.procedureName(hdr.Procedure), time.Since(start), status)
}

// authenticate decodes the credential and verifier into call. On failure it
// returns the auth_stat to reply with.
func (d *Dispatcher) authenticate(u *rpc.Unpacker, call *Call) (uint32, error) {
	cred, err := u.UnpackAuth()
	if err != nil {
		return rpc.AuthBadCred, fmt.Errorf("credential: %w", err)
	}
	verf, err := u.UnpackAuth()
	if err != nil {
		return rpc.AuthBadVerf, fmt.Errorf("verifier: %w", err)
	}
	call.Header.Cred = cred
	call.Header.Verf = verf

	if cred.Flavor == rpc.AuthUnix {
		auth, err := rpc.ParseUnixAuth(cred.Body)
		if err != nil {
			return rpc.AuthBadCred, err
		}
		call.UnixAuth = auth
	}
	return rpc.AuthOK, nil
}

// invoke runs the handler, turning a panic into an error so that one bad
// call does not take the session down.
func (d *Dispatcher) invoke(proc Procedure, call *Call) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in RPC handler %s: %v\n%s", proc.Name, r, debug.Stack())
			err = fmt.Errorf("panic in %s: %v", proc.Name, r)
		}
	}()
	return proc.Handler(call)
}

// peerKey identifies a caller for rate limiting: its IP, without the port.
func peerKey(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP.String()
	case *net.UDPAddr:
		return a.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
