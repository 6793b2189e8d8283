// Package ratelimiter throttles incoming RPC calls with token buckets.
//
// A server holds one global bucket and, optionally, one bucket per peer host
// so that a single chatty client (typically a UDP sender retransmitting in a
// loop) cannot starve everybody else. Calls that are refused are answered by
// the dispatcher with SYSTEM_ERR instead of being executed.
package ratelimiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// unlimited is used instead of rate.Inf, which ignores burst and makes
// Tokens() meaningless.
const unlimited = 1_000_000_000

// RateLimiter is a token bucket limiter.
//
// Thread safety:
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a limiter admitting requestsPerSecond calls on average with the
// given burst capacity. requestsPerSecond = 0 disables limiting.
func New(requestsPerSecond, burst uint) *RateLimiter {
	if requestsPerSecond == 0 {
		requestsPerSecond = unlimited
		burst = requestsPerSecond
	}
	if burst == 0 {
		burst = 1
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), int(burst)),
	}
}

// Allow consumes a token if one is available.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// AllowN consumes n tokens at once if available.
func (r *RateLimiter) AllowN(n uint) bool {
	return r.limiter.AllowN(time.Now(), int(n))
}

// SetLimit changes the sustained rate. 0 disables limiting.
func (r *RateLimiter) SetLimit(requestsPerSecond uint) {
	if requestsPerSecond == 0 {
		requestsPerSecond = unlimited
	}

	oldRate := uint(r.limiter.Limit())
	oldBurst := uint(r.limiter.Burst())
	r.limiter.SetLimit(rate.Limit(requestsPerSecond))

	// Keep a burst that was derived from the rate in step with it
	if oldBurst == oldRate*2 || oldBurst <= oldRate {
		r.limiter.SetBurst(int(requestsPerSecond * 2))
	}
}

func (r *RateLimiter) SetBurst(burst uint) {
	r.limiter.SetBurst(int(burst))
}

func (r *RateLimiter) Tokens() float64 {
	return r.limiter.Tokens()
}

// PeerLimiter keeps one bucket per peer key (usually the remote host).
//
// Buckets that have been idle for longer than idleTTL are dropped by Sweep so
// that a server receiving datagrams from many short-lived ports does not grow
// without bound.
type PeerLimiter struct {
	mu                sync.Mutex
	requestsPerSecond uint
	burst             uint
	idleTTL           time.Duration
	peers             map[string]*peerBucket
	now               func() time.Time
}

type peerBucket struct {
	limiter  *RateLimiter
	lastSeen time.Time
}

// NewPeerLimiter creates a per-peer limiter. requestsPerSecond = 0 disables
// limiting entirely: Allow always returns true and no buckets are kept.
func NewPeerLimiter(requestsPerSecond, burst uint, idleTTL time.Duration) *PeerLimiter {
	if idleTTL <= 0 {
		idleTTL = 5 * time.Minute
	}
	return &PeerLimiter{
		requestsPerSecond: requestsPerSecond,
		burst:             burst,
		idleTTL:           idleTTL,
		peers:             make(map[string]*peerBucket),
		now:               time.Now,
	}
}

// Allow consumes a token from the bucket belonging to peer.
func (p *PeerLimiter) Allow(peer string) bool {
	if p.requestsPerSecond == 0 {
		return true
	}

	p.mu.Lock()
	b, ok := p.peers[peer]
	if !ok {
		b = &peerBucket{limiter: New(p.requestsPerSecond, p.burst)}
		p.peers[peer] = b
	}
	b.lastSeen = p.now()
	p.mu.Unlock()

	return b.limiter.Allow()
}

// Sweep drops buckets idle for longer than the configured TTL and returns
// how many were removed.
func (p *PeerLimiter) Sweep() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := p.now().Add(-p.idleTTL)
	removed := 0
	for peer, b := range p.peers {
		if b.lastSeen.Before(cutoff) {
			delete(p.peers, peer)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked peers.
func (p *PeerLimiter) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.peers)
}
