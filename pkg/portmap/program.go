package portmap

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/marmos91/oncrpc/internal/logger"
	"github.com/marmos91/oncrpc/internal/protocol/rpc"
	"github.com/marmos91/oncrpc/pkg/client"
	"github.com/marmos91/oncrpc/pkg/metrics"
	"github.com/marmos91/oncrpc/pkg/portmap/xdr"
	"github.com/marmos91/oncrpc/pkg/server"
)

// DefaultCallItTimeout bounds a relayed CALLIT.
const DefaultCallItTimeout = 5 * time.Second

// Relay forwards a CALLIT to the program registered on the local UDP port
// and returns its encoded results.
type Relay func(ctx context.Context, port uint32, args *xdr.CallArgs) ([]byte, error)

// Option configures the port mapper program.
type Option func(*service)

// WithRelay replaces the UDP relay used by CALLIT.
func WithRelay(r Relay) Option {
	return func(s *service) { s.relay = r }
}

// WithCallItTimeout bounds each relayed call.
func WithCallItTimeout(d time.Duration) Option {
	return func(s *service) { s.callItTimeout = d }
}

// WithLoopbackOnlyUpdates refuses SET and UNSET from non-loopback callers;
// they get false back.
func WithLoopbackOnlyUpdates() Option {
	return func(s *service) { s.loopbackOnly = true }
}

// WithMetrics records registry changes and size.
func WithMetrics(m metrics.PortmapMetrics) Option {
	return func(s *service) { s.metrics = m }
}

type service struct {
	registry      Registry
	relay         Relay
	callItTimeout time.Duration
	loopbackOnly  bool
	metrics       metrics.PortmapMetrics
}

// NewProgram returns the port mapper program (100000, version 2) serving
// reg. Procedure 0 is the implicit NULL.
func NewProgram(reg Registry, opts ...Option) *server.Program {
	s := &service{
		registry:      reg,
		callItTimeout: DefaultCallItTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.relay == nil {
		s.relay = s.relayUDP
	}
	if s.metrics == nil {
		s.metrics = metrics.NewNoopPortmapMetrics()
	}

	return &server.Program{
		Name:    "portmap",
		Number:  xdr.Program,
		Version: xdr.Version,
		Procedures: map[uint32]server.Procedure{
			xdr.ProcSet:     {Name: "SET", Handler: s.set},
			xdr.ProcUnset:   {Name: "UNSET", Handler: s.unset},
			xdr.ProcGetPort: {Name: "GETPORT", Handler: s.getPort},
			xdr.ProcDump:    {Name: "DUMP", Handler: s.dump},
			xdr.ProcCallIt:  {Name: "CALLIT", Handler: s.callIt},
		},
	}
}

// Endpoint is a bound port mapper server. server.Server satisfies it.
type Endpoint interface {
	Protocol() string
	Port() int
}

// RegisterSelf maps the port mapper itself on the port of each endpoint.
// Existing entries are replaced.
func RegisterSelf(ctx context.Context, reg Registry, endpoints ...Endpoint) error {
	if _, err := reg.Unset(ctx, xdr.Program, xdr.Version); err != nil {
		return err
	}
	for _, ep := range endpoints {
		prot, err := protocolNumber(ep.Protocol())
		if err != nil {
			return err
		}
		m := xdr.Mapping{Prog: xdr.Program, Vers: xdr.Version, Prot: prot, Port: uint32(ep.Port())}
		if _, err := reg.Set(ctx, m); err != nil {
			return err
		}
		logger.Debug("Registered port mapper on %s port %d", ep.Protocol(), ep.Port())
	}
	return nil
}

func protocolNumber(name string) (uint32, error) {
	switch name {
	case server.ProtocolTCP:
		return xdr.ProtoTCP, nil
	case server.ProtocolUDP:
		return xdr.ProtoUDP, nil
	}
	return 0, fmt.Errorf("unknown protocol %q", name)
}

func (s *service) set(c *server.Call) error {
	m, err := xdr.DecodeMapping(c.Args)
	if err != nil {
		return err
	}
	if err := c.TurnAround(); err != nil {
		return err
	}

	ok := false
	if s.mayUpdate(c) {
		ok, err = s.registry.Set(c.Context, *m)
		if err != nil {
			return err
		}
	}
	logger.Debug("SET %d/%d/%s port %d from %s: %v", m.Prog, m.Vers, xdr.ProtocolName(m.Prot), m.Port, c.Addr, ok)
	s.recordUpdate(c.Context, "set", ok)

	c.Reply.PackBool(ok)
	return nil
}

func (s *service) unset(c *server.Call) error {
	m, err := xdr.DecodeMapping(c.Args)
	if err != nil {
		return err
	}
	if err := c.TurnAround(); err != nil {
		return err
	}

	ok := false
	if s.mayUpdate(c) {
		ok, err = s.registry.Unset(c.Context, m.Prog, m.Vers)
		if err != nil {
			return err
		}
	}
	logger.Debug("UNSET %d/%d from %s: %v", m.Prog, m.Vers, c.Addr, ok)
	s.recordUpdate(c.Context, "unset", ok)

	c.Reply.PackBool(ok)
	return nil
}

func (s *service) getPort(c *server.Call) error {
	m, err := xdr.DecodeMapping(c.Args)
	if err != nil {
		return err
	}
	if err := c.TurnAround(); err != nil {
		return err
	}

	port, err := s.registry.GetPort(c.Context, m.Prog, m.Vers, m.Prot)
	if err != nil {
		return err
	}
	c.Reply.PackUint32(port)
	return nil
}

func (s *service) dump(c *server.Call) error {
	if err := c.TurnAround(); err != nil {
		return err
	}

	mappings, err := s.registry.Dump(c.Context)
	if err != nil {
		return err
	}
	ptrs := make([]*xdr.Mapping, len(mappings))
	for i := range mappings {
		ptrs[i] = &mappings[i]
	}
	xdr.EncodeDumpResponse(c.Reply, ptrs)
	return nil
}

// callIt relays to the UDP port registered for the target program. Any
// failure, including an unregistered target, produces no reply so that
// broadcasters only hear from hosts that ran the call.
func (s *service) callIt(c *server.Call) error {
	args, err := xdr.DecodeCallArgs(c.Args)
	if err != nil {
		return err
	}
	if err := c.TurnAround(); err != nil {
		return err
	}

	if args.Prog == xdr.Program {
		logger.Debug("CALLIT from %s: refusing to relay to the port mapper", c.Addr)
		return server.ErrNoReply
	}

	port, err := s.registry.GetPort(c.Context, args.Prog, args.Vers, xdr.ProtoUDP)
	if err != nil || port == 0 {
		logger.Debug("CALLIT from %s: %d/%d not registered on udp", c.Addr, args.Prog, args.Vers)
		return server.ErrNoReply
	}

	ctx, cancel := context.WithTimeout(c.Context, s.callItTimeout)
	defer cancel()

	result, err := s.relay(ctx, port, args)
	if err != nil {
		logger.Debug("CALLIT %d/%d/%d via port %d failed: %v", args.Prog, args.Vers, args.Proc, port, err)
		return server.ErrNoReply
	}

	xdr.EncodeCallResult(c.Reply, &xdr.CallResult{Port: port, Result: result})
	return nil
}

// relayUDP makes the call with a raw UDP client on the loopback interface.
func (s *service) relayUDP(ctx context.Context, port uint32, args *xdr.CallArgs) ([]byte, error) {
	udpOpts := client.DefaultUDPOptions()
	udpOpts.MaxTimeout = s.callItTimeout

	c, err := client.NewRawUDPClient(ctx, "127.0.0.1", int(port), args.Prog, args.Vers, client.WithUDPOptions(udpOpts))
	if err != nil {
		return nil, err
	}
	defer func() { _ = c.Close() }()

	var result []byte
	err = c.Call(ctx, args.Proc,
		func(p *rpc.Packer) { p.PackRaw(args.Args) },
		func(u *rpc.Unpacker) error {
			result = u.Remaining()
			return nil
		})
	return result, err
}

func (s *service) mayUpdate(c *server.Call) bool {
	if !s.loopbackOnly {
		return true
	}
	if isLoopback(c.Addr) {
		return true
	}
	logger.Warn("Refusing port mapper update from non-local caller %s", c.Addr)
	return false
}

func (s *service) recordUpdate(ctx context.Context, op string, ok bool) {
	s.metrics.RecordUpdate(op, ok)
	if !ok {
		return
	}
	if mappings, err := s.registry.Dump(ctx); err == nil {
		s.metrics.SetMappings(len(mappings))
	}
}

func isLoopback(addr net.Addr) bool {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP.IsLoopback()
	case *net.UDPAddr:
		return a.IP.IsLoopback()
	}
	if addr == nil {
		return false
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
