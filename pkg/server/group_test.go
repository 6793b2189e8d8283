package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer blocks in Serve until stopped, or fails right away when
// serveErr is set.
type fakeServer struct {
	protocol string
	port     int
	serveErr error

	stopOnce sync.Once
	stopped  chan struct{}
	log      *stopLog
}

type stopLog struct {
	mu    sync.Mutex
	order []string
}

func (l *stopLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.order = append(l.order, s)
}

func newFakeServer(protocol string, port int, log *stopLog) *fakeServer {
	return &fakeServer{protocol: protocol, port: port, stopped: make(chan struct{}), log: log}
}

func (f *fakeServer) Serve(ctx context.Context) error {
	if f.serveErr != nil {
		return f.serveErr
	}
	select {
	case <-ctx.Done():
	case <-f.stopped:
	}
	return nil
}

func (f *fakeServer) Stop(context.Context) error {
	f.stopOnce.Do(func() {
		f.log.add(f.protocol)
		close(f.stopped)
	})
	return nil
}

func (f *fakeServer) Protocol() string { return f.protocol }
func (f *fakeServer) Port() int        { return f.port }

func TestGroupAdd(t *testing.T) {
	log := &stopLog{}
	g := NewGroup()

	require.NoError(t, g.Add(newFakeServer("tcp", 1000, log)))
	require.NoError(t, g.Add(newFakeServer("udp", 1000, log)), "tcp and udp may share a port number")

	err := g.Add(newFakeServer("tcp", 2000, log))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	assert.Len(t, g.Servers(), 2)
	assert.Error(t, g.Add(nil))
}

func TestGroupServe(t *testing.T) {
	t.Run("CancelStopsAllInReverseOrder", func(t *testing.T) {
		log := &stopLog{}
		g := NewGroup()
		require.NoError(t, g.Add(newFakeServer("tcp", 1, log)))
		require.NoError(t, g.Add(newFakeServer("udp", 1, log)))

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- g.Serve(ctx) }()

		cancel()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(5 * time.Second):
			t.Fatal("Serve did not return")
		}
		assert.Equal(t, []string{"udp", "tcp"}, log.order)
	})

	t.Run("MemberFailureStopsOthers", func(t *testing.T) {
		log := &stopLog{}
		g := NewGroup()
		healthy := newFakeServer("tcp", 1, log)
		broken := newFakeServer("udp", 1, log)
		broken.serveErr = errors.New("bind failed")
		require.NoError(t, g.Add(healthy))
		require.NoError(t, g.Add(broken))

		err := g.Serve(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "udp server error")
		assert.Contains(t, log.order, "tcp")

		assert.Error(t, g.Serve(context.Background()), "Serve runs once")
		assert.Error(t, g.Add(newFakeServer("other", 2, log)), "no Add after Serve")
	})

	t.Run("EmptyGroup", func(t *testing.T) {
		assert.Error(t, NewGroup().Serve(context.Background()))
	})
}
