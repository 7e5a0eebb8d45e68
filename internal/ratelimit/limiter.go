package ratelimit

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter throttles connection attempts per remote host, with one shared
// bucket on top so a spread of hosts cannot exceed the global rate either.
type Limiter struct {
	global *rate.Limiter
	limit  rate.Limit
	burst  int

	mu    sync.Mutex
	hosts map[string]*hostEntry
}

type hostEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiter allows perSecond events per host with the given burst. The
// global bucket allows four times that.
func NewLimiter(perSecond float64, burst int) *Limiter {
	limit := rate.Limit(perSecond)
	return &Limiter{
		global: rate.NewLimiter(limit*4, burst*4),
		limit:  limit,
		burst:  burst,
		hosts:  make(map[string]*hostEntry),
	}
}

func (l *Limiter) forHost(addr string) *rate.Limiter {
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.hosts[host]
	if !ok {
		e = &hostEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.hosts[host] = e
	}
	e.lastSeen = time.Now()
	return e.limiter
}

// Allow reports whether a connection from addr may proceed now.
func (l *Limiter) Allow(addr string) bool {
	if !l.forHost(addr).Allow() {
		return false
	}
	return l.global.Allow()
}

// Wait blocks until the global bucket admits one event or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.global.Wait(ctx)
}

// Prune drops host buckets idle for longer than maxIdle.
func (l *Limiter) Prune(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for host, e := range l.hosts {
		if e.lastSeen.Before(cutoff) {
			delete(l.hosts, host)
			removed++
		}
	}
	return removed
}

// Hosts returns the number of tracked hosts.
func (l *Limiter) Hosts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hosts)
}
