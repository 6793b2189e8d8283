package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/marmos91/oncrpc/internal/logger"
	"github.com/marmos91/oncrpc/internal/protocol/rpc"
	"github.com/marmos91/oncrpc/pkg/metrics"
	"github.com/marmos91/oncrpc/pkg/portmap/xdr"
)

// UDPServer serves one program over datagrams. Each datagram is one call;
// the reply goes back to the sender. Calls are processed in arrival order
// and no per-peer state is kept, so a retransmitted call is simply executed
// again.
type UDPServer struct {
	config     Config
	program    *Program
	opts       *options
	conn       net.PacketConn
	dispatcher *Dispatcher
	metrics    metrics.RPCMetrics

	shutdownOnce sync.Once
	shutdown     chan struct{}
	stopped      chan struct{}

	shutdownCtx    context.Context
	cancelRequests context.CancelFunc
}

// NewUDPServer validates cfg and binds the socket.
func NewUDPServer(cfg Config, prog *Program, opts ...Option) (*UDPServer, error) {
	cfg.Protocol = ProtocolUDP
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid UDP server config: %w", err)
	}
	if err := prog.validate(); err != nil {
		return nil, err
	}

	conn, err := net.ListenPacket("udp", cfg.listenAddr())
	if err != nil {
		return nil, fmt.Errorf("failed to bind UDP socket on %s: %w", cfg.listenAddr(), err)
	}
	return newUDPServer(cfg, prog, conn, newOptions(opts)), nil
}

// NewUDPServerConn serves on an existing packet connection.
func NewUDPServerConn(conn net.PacketConn, cfg Config, prog *Program, opts ...Option) (*UDPServer, error) {
	cfg.Protocol = ProtocolUDP
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid UDP server config: %w", err)
	}
	if err := prog.validate(); err != nil {
		return nil, err
	}
	return newUDPServer(cfg, prog, conn, newOptions(opts)), nil
}

func newUDPServer(cfg Config, prog *Program, conn net.PacketConn, o *options) *UDPServer {
	m := o.metrics
	if m == nil {
		m = metrics.NewNoopRPCMetrics()
	}
	shutdownCtx, cancelRequests := context.WithCancel(context.Background())

	return &UDPServer{
		config:         cfg,
		program:        prog,
		opts:           o,
		conn:           conn,
		dispatcher:     NewDispatcher(prog, newLimiter(cfg.RateLimit), m),
		metrics:        m,
		shutdown:       make(chan struct{}),
		stopped:        make(chan struct{}),
		shutdownCtx:    shutdownCtx,
		cancelRequests: cancelRequests,
	}
}

// Serve reads and answers datagrams until ctx is cancelled or Stop is
// called. Registration follows the same rules as TCPServer.Serve.
func (s *UDPServer) Serve(ctx context.Context) error {
	defer close(s.stopped)

	logger.Info("%s listening on udp %s", s.program.Name, s.conn.LocalAddr())

	if s.config.Register {
		if err := s.Register(ctx); err != nil {
			s.initiateShutdown()
			return err
		}
		defer s.unregisterOnExit()
	}

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("%s shutdown signal received: %v", s.program.Name, ctx.Err())
			s.initiateShutdown()
		case <-s.shutdown:
		}
	}()

	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := s.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-s.shutdown:
				logger.Info("%s stopped", s.program.Name)
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.Debug("Error reading datagram: %v", err)
			continue
		}

		if n > s.config.MaxRecordSize {
			logger.Debug("Dropping %d byte datagram from %s: exceeds %d", n, addr, s.config.MaxRecordSize)
			s.metrics.RecordDropped("too_large")
			continue
		}
		s.metrics.RecordBytesTransferred("in", int64(n))

		s.handleDatagram(buf[:n], addr)
	}
}

func (s *UDPServer) handleDatagram(datagram []byte, addr net.Addr) {
	reply, ok := s.dispatcher.Handle(s.shutdownCtx, datagram, addr)
	if !ok {
		return
	}

	if s.config.WriteTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	}
	if _, err := s.conn.WriteTo(reply, addr); err != nil {
		logger.Debug("Error replying to %s: %v", addr, err)
		return
	}
	s.metrics.RecordBytesTransferred("out", int64(len(reply)))
}

func (s *UDPServer) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		logger.Debug("%s shutdown initiated", s.program.Name)
		close(s.shutdown)
		s.cancelRequests()
		if err := s.conn.Close(); err != nil {
			logger.Debug("Error closing UDP socket: %v", err)
		}
	})
}

// Stop closes the socket and waits for Serve to return or ctx to end.
func (s *UDPServer) Stop(ctx context.Context) error {
	s.initiateShutdown()
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-s.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Register issues a port mapper SET for this server's program, version and
// port. The port mapper is always reached over TCP.
func (s *UDPServer) Register(ctx context.Context) error {
	return s.registration().set(ctx)
}

// Unregister issues a port mapper UNSET for this server's program and
// version.
func (s *UDPServer) Unregister(ctx context.Context) error {
	return s.registration().unset(ctx)
}

func (s *UDPServer) registration() *registration {
	return &registration{
		opts:        s.opts,
		portmapAddr: s.config.PortmapAddr,
		mapping: xdr.Mapping{
			Prog: s.program.Number,
			Vers: s.program.Version,
			Prot: rpc.IPProtoUDP,
			Port: uint32(s.Port()),
		},
	}
}

func (s *UDPServer) unregisterOnExit() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.WriteTimeout)
	defer cancel()
	if err := s.Unregister(ctx); err != nil {
		logger.Warn("%v", err)
	}
}

// Addr returns the bound address.
func (s *UDPServer) Addr() net.Addr {
	return s.conn.LocalAddr()
}

// Port returns the bound UDP port.
func (s *UDPServer) Port() int {
	if addr, ok := s.conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.Port
	}
	return s.config.Port
}

// Protocol returns "udp".
func (s *UDPServer) Protocol() string {
	return ProtocolUDP
}
