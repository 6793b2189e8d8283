package client

import (
	"errors"
	"fmt"
	"sync"
	"syscall"
)

const (
	// ReservedPortHigh and ReservedPortLow bound the privileged port range
	// some servers require callers to bind from.
	ReservedPortHigh = 1023
	ReservedPortLow  = 512
)

// ReservedPortAllocator hands out privileged local ports, walking down from
// 1023 to 512 and wrapping. It remembers where it stopped so that
// consecutive clients do not all contend for 1023.
//
// Binding a privileged port normally needs root or CAP_NET_BIND_SERVICE.
type ReservedPortAllocator struct {
	mu   sync.Mutex
	last int
}

// NewReservedPortAllocator returns an allocator whose first candidate is 1023.
func NewReservedPortAllocator() *ReservedPortAllocator {
	return &ReservedPortAllocator{last: ReservedPortHigh + 1}
}

func (a *ReservedPortAllocator) next() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.last--
	if a.last < ReservedPortLow {
		a.last = ReservedPortHigh
	}
	return a.last
}

// Bind calls bind with successive candidate ports until one succeeds. Ports
// already in use are skipped; any other error stops the search. Each port of
// the range is tried at most once.
func (a *ReservedPortAllocator) Bind(bind func(port int) error) (int, error) {
	for i := 0; i <= ReservedPortHigh-ReservedPortLow; i++ {
		port := a.next()
		err := bind(port)
		if err == nil {
			return port, nil
		}
		if errors.Is(err, syscall.EADDRINUSE) {
			continue
		}
		return 0, fmt.Errorf("bind reserved port %d: %w", port, err)
	}
	return 0, fmt.Errorf("bind reserved port: %w", syscall.EADDRINUSE)
}
