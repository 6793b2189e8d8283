package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/oncrpc/internal/logger"
	"github.com/marmos91/oncrpc/internal/protocol/rpc"
	"github.com/marmos91/oncrpc/pkg/metrics"
	"github.com/marmos91/oncrpc/pkg/portmap/xdr"
)

// TCPServer serves one program over record-marked TCP streams.
//
// Each accepted connection is handled by its own goroutine, bounded by
// MaxConnections. Calls on one connection are processed in order.
//
// Shutdown flow:
//  1. Context cancelled or Stop() called
//  2. Listener closed (no new connections)
//  3. shutdownCtx cancelled (signals in-flight calls to abort)
//  4. Wait for active connections to complete (up to ShutdownTimeout)
//  5. Force-close any remaining connections after timeout
//
// Thread safety:
// All methods are safe for concurrent use. Serve should be called once.
type TCPServer struct {
	config     Config
	program    *Program
	opts       *options
	listener   net.Listener
	dispatcher *Dispatcher
	metrics    metrics.RPCMetrics

	// activeConns tracks running sessions for graceful shutdown
	activeConns sync.WaitGroup

	shutdownOnce sync.Once
	shutdown     chan struct{}

	connCount atomic.Int32

	// connSemaphore limits concurrent connections; nil when unlimited
	connSemaphore chan struct{}

	// shutdownCtx is passed to every call and cancelled at shutdown
	shutdownCtx    context.Context
	cancelRequests context.CancelFunc

	// activeConnections maps session IDs to connections for forced closure
	activeConnections sync.Map
}

// NewTCPServer validates cfg and binds the listening socket, so that Port
// reports the real port before Serve is called.
func NewTCPServer(cfg Config, prog *Program, opts ...Option) (*TCPServer, error) {
	if cfg.Protocol == "" {
		cfg.Protocol = ProtocolTCP
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid TCP server config: %w", err)
	}
	if cfg.Protocol != ProtocolTCP {
		return nil, fmt.Errorf("invalid TCP server config: protocol %q", cfg.Protocol)
	}
	if err := prog.validate(); err != nil {
		return nil, err
	}

	listener, err := net.Listen("tcp", cfg.listenAddr())
	if err != nil {
		return nil, fmt.Errorf("failed to create TCP listener on %s: %w", cfg.listenAddr(), err)
	}
	return newTCPServer(cfg, prog, listener, newOptions(opts)), nil
}

// NewTCPServerListener serves on an existing listener.
func NewTCPServerListener(listener net.Listener, cfg Config, prog *Program, opts ...Option) (*TCPServer, error) {
	cfg.Protocol = ProtocolTCP
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid TCP server config: %w", err)
	}
	if err := prog.validate(); err != nil {
		return nil, err
	}
	return newTCPServer(cfg, prog, listener, newOptions(opts)), nil
}

func newTCPServer(cfg Config, prog *Program, listener net.Listener, o *options) *TCPServer {
	var connSemaphore chan struct{}
	if cfg.MaxConnections > 0 {
		connSemaphore = make(chan struct{}, cfg.MaxConnections)
		logger.Debug("%s connection limit: %d", prog.Name, cfg.MaxConnections)
	}

	m := o.metrics
	if m == nil {
		m = metrics.NewNoopRPCMetrics()
	}

	shutdownCtx, cancelRequests := context.WithCancel(context.Background())

	return &TCPServer{
		config:         cfg,
		program:        prog,
		opts:           o,
		listener:       listener,
		dispatcher:     NewDispatcher(prog, newLimiter(cfg.RateLimit), m),
		metrics:        m,
		shutdown:       make(chan struct{}),
		connSemaphore:  connSemaphore,
		shutdownCtx:    shutdownCtx,
		cancelRequests: cancelRequests,
	}
}

// Serve accepts connections until ctx is cancelled or Stop is called.
//
// When cfg.Register is set, the program is registered with the port mapper
// first (failure is fatal) and unregistered on the way out.
//
// Returns nil on graceful shutdown, or an error if registration failed or
// connections had to be force-closed.
func (s *TCPServer) Serve(ctx context.Context) error {
	logger.Info("%s listening on tcp %s", s.program.Name, s.listener.Addr())
	logger.Debug("%s config: max_connections=%d read_timeout=%v write_timeout=%v idle_timeout=%v",
		s.program.Name, s.config.MaxConnections, s.config.ReadTimeout, s.config.WriteTimeout, s.config.IdleTimeout)

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

	if s.config.MetricsLogInterval > 0 {
		go s.logMetrics(s.shutdownCtx)
	}

	for {
		if s.connSemaphore != nil {
			select {
			case s.connSemaphore <- struct{}{}:
			case <-s.shutdown:
				return s.gracefulShutdown()
			}
		}

		tcpConn, err := s.listener.Accept()
		if err != nil {
			if s.connSemaphore != nil {
				<-s.connSemaphore
			}

			select {
			case <-s.shutdown:
				return s.gracefulShutdown()
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return s.gracefulShutdown()
			}
			logger.Debug("Error accepting connection: %v", err)
			continue
		}

		s.activeConns.Add(1)
		s.connCount.Add(1)

		id := uuid.NewString()
		s.activeConnections.Store(id, tcpConn)

		s.metrics.RecordConnectionAccepted()
		currentConns := s.connCount.Load()
		s.metrics.SetActiveConnections(currentConns)

		logger.Debug("Connection %s accepted from %s (active: %d)", id, tcpConn.RemoteAddr(), currentConns)

		sess := newSession(id, s, tcpConn)
		go func() {
			defer func() {
				s.activeConnections.Delete(id)

				s.activeConns.Done()
				s.connCount.Add(-1)
				if s.connSemaphore != nil {
					<-s.connSemaphore
				}

				s.metrics.RecordConnectionClosed()
				currentConns := s.connCount.Load()
				s.metrics.SetActiveConnections(currentConns)

				logger.Debug("Connection %s closed (active: %d)", id, currentConns)
			}()

			sess.serve(s.shutdownCtx)
		}()
	}
}

// initiateShutdown closes the listener and cancels in-flight calls. Safe to
// call more than once.
func (s *TCPServer) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		logger.Debug("%s shutdown initiated", s.program.Name)
		close(s.shutdown)

		if err := s.listener.Close(); err != nil {
			logger.Debug("Error closing listener: %v", err)
		}

		s.cancelRequests()
	})
}

// gracefulShutdown waits for active connections up to ShutdownTimeout, then
// force-closes the rest.
func (s *TCPServer) gracefulShutdown() error {
	activeCount := s.connCount.Load()
	logger.Info("%s graceful shutdown: waiting for %d active connection(s) (timeout: %v)",
		s.program.Name, activeCount, s.config.ShutdownTimeout)

	select {
	case <-s.connsDone():
		logger.Info("%s graceful shutdown complete", s.program.Name)
		return nil

	case <-time.After(s.config.ShutdownTimeout):
		remaining := s.connCount.Load()
		logger.Warn("%s shutdown timeout exceeded: %d connection(s) still active after %v, forcing closure",
			s.program.Name, remaining, s.config.ShutdownTimeout)
		s.forceCloseConnections()
		return fmt.Errorf("shutdown timeout: %d connections force-closed", remaining)
	}
}

func (s *TCPServer) connsDone() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()
	return done
}

// forceCloseConnections closes every tracked connection so that sessions
// stuck in I/O fail and exit.
func (s *TCPServer) forceCloseConnections() {
	closedCount := 0
	s.activeConnections.Range(func(key, value any) bool {
		id := key.(string)
		conn := value.(net.Conn)

		if err := conn.Close(); err != nil {
			logger.Debug("Error force-closing connection %s: %v", id, err)
		} else {
			closedCount++
		}
		return true
	})

	if closedCount > 0 {
		logger.Info("Force-closed %d connection(s)", closedCount)
	}
}

// Stop initiates shutdown and waits for active connections to finish or for
// ctx to end, whichever comes first.
func (s *TCPServer) Stop(ctx context.Context) error {
	s.initiateShutdown()

	if ctx == nil {
		return s.gracefulShutdown()
	}

	select {
	case <-s.connsDone():
		return nil
	case <-ctx.Done():
		remaining := s.connCount.Load()
		logger.Warn("%s stop: %d connection(s) still active: %v", s.program.Name, remaining, ctx.Err())
		s.forceCloseConnections()
		return ctx.Err()
	}
}

// logMetrics periodically logs the active connection count.
func (s *TCPServer) logMetrics(ctx context.Context) {
	ticker := time.NewTicker(s.config.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Info("%s metrics: active_connections=%d", s.program.Name, s.connCount.Load())
		}
	}
}

// Register issues a port mapper SET for this server's program, version and
// port over TCP.
func (s *TCPServer) Register(ctx context.Context) error {
	return s.registration().set(ctx)
}

// Unregister issues a port mapper UNSET for this server's program and
// version.
func (s *TCPServer) Unregister(ctx context.Context) error {
	return s.registration().unset(ctx)
}

func (s *TCPServer) registration() *registration {
	return &registration{
		opts:        s.opts,
		portmapAddr: s.config.PortmapAddr,
		mapping: xdr.Mapping{
			Prog: s.program.Number,
			Vers: s.program.Version,
			Prot: rpc.IPProtoTCP,
			Port: uint32(s.Port()),
		},
	}
}

func (s *TCPServer) unregisterOnExit() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.WriteTimeout)
	defer cancel()
	if err := s.Unregister(ctx); err != nil {
		logger.Warn("%v", err)
	}
}

// GetActiveConnections returns the current number of active connections.
func (s *TCPServer) GetActiveConnections() int32 {
	return s.connCount.Load()
}

// Addr returns the bound listening address.
func (s *TCPServer) Addr() net.Addr {
	return s.listener.Addr()
}

// Port returns the bound TCP port, which differs from the configured one
// when that was 0.
func (s *TCPServer) Port() int {
	if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return s.config.Port
}

// Protocol returns "tcp".
func (s *TCPServer) Protocol() string {
	return ProtocolTCP
}
