package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/oncrpc/internal/logger"
)

// Server is the lifecycle shared by TCPServer and UDPServer.
type Server interface {
	// Serve blocks until ctx is cancelled, Stop is called, or a fatal error
	// occurs.
	Serve(ctx context.Context) error

	// Stop initiates graceful shutdown and waits up to ctx's deadline.
	Stop(ctx context.Context) error

	// Protocol returns "tcp" or "udp".
	Protocol() string

	// Port returns the bound port.
	Port() int
}

var (
	_ Server = (*TCPServer)(nil)
	_ Server = (*UDPServer)(nil)
)

// stopTimeout bounds how long a Group waits for each member to stop.
const stopTimeout = 30 * time.Second

// Group runs several servers, typically the TCP and UDP front ends of one
// program, and stops them together.
//
// Lifecycle:
//  1. Creation: NewGroup()
//  2. Registration: Add() for each server
//  3. Startup: Serve() starts all servers concurrently
//  4. Shutdown: context cancellation or any member failing stops every
//     member, in reverse registration order
//
// Example usage:
//
//	g := server.NewGroup()
//	_ = g.Add(tcpSrv)
//	_ = g.Add(udpSrv)
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//
//	if err := g.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
//	    log.Fatal(err)
//	}
type Group struct {
	mu      sync.Mutex
	servers []Server
	served  bool
}

// NewGroup returns an empty Group.
func NewGroup() *Group {
	return &Group{servers: make([]Server, 0, 2)}
}

// Add registers s. Two servers for the same protocol are rejected.
func (g *Group) Add(s Server) error {
	if s == nil {
		return errors.New("server cannot be nil")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.served {
		return errors.New("cannot add a server after Serve has been called")
	}

	for _, existing := range g.servers {
		if existing.Protocol() == s.Protocol() {
			return fmt.Errorf("server for protocol %s already registered", s.Protocol())
		}
	}

	g.servers = append(g.servers, s)
	logger.Debug("Registered %s server on port %d", s.Protocol(), s.Port())
	return nil
}

// Serve starts every member and blocks until ctx is cancelled or a member
// fails, then stops all of them.
//
// Returns ctx.Err() after a cancellation, or the first member error.
func (g *Group) Serve(ctx context.Context) error {
	g.mu.Lock()
	if g.served {
		g.mu.Unlock()
		return errors.New("group is already serving")
	}
	if len(g.servers) == 0 {
		g.mu.Unlock()
		return errors.New("no servers registered; call Add() before Serve()")
	}
	g.served = true
	servers := make([]Server, len(g.servers))
	copy(servers, g.servers)
	g.mu.Unlock()

	type serverError struct {
		protocol string
		err      error
	}
	errChan := make(chan serverError, len(servers))

	var wg sync.WaitGroup
	for _, srv := range servers {
		wg.Add(1)
		go func(s Server) {
			defer wg.Done()

			if err := s.Serve(ctx); err != nil && ctx.Err() == nil {
				logger.Error("%s server failed: %v", s.Protocol(), err)
				errChan <- serverError{protocol: s.Protocol(), err: err}
				return
			}
			logger.Debug("%s server stopped", s.Protocol())
		}(srv)
	}

	var shutdownErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received (reason: %v)", ctx.Err())
		shutdownErr = ctx.Err()

	case se := <-errChan:
		shutdownErr = fmt.Errorf("%s server error: %w", se.protocol, se.err)
	}

	stopAll(servers)
	wg.Wait()

	return shutdownErr
}

// stopAll stops servers in reverse registration order.
func stopAll(servers []Server) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	for i := len(servers) - 1; i >= 0; i-- {
		s := servers[i]
		if err := s.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s server: %v", s.Protocol(), err)
		}
	}
}

// Servers returns a snapshot of the registered servers.
func (g *Group) Servers() []Server {
	g.mu.Lock()
	defer g.mu.Unlock()

	servers := make([]Server, len(g.servers))
	copy(servers, g.servers)
	return servers
}
