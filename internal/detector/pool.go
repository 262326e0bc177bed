package detector

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultPoolSize is used when the configured pool size is not positive.
	DefaultPoolSize = 4
	AcquireTimeout  = 5 * time.Second
)

// pooled is anything a SessionPool can hand out and tear down.
type pooled interface {
	Destroy()
}

// SessionPool bounds concurrent inference by lending out a fixed set of
// sessions. A session is never used by two callers at once.
type SessionPool[S pooled] struct {
	sessions chan S
	size     int
	mu       sync.Mutex
	closed   bool
	metrics  PoolMetrics
}

// PoolMetrics counts pool activity.
type PoolMetrics struct {
	InUse           int   `json:"in_use"`
	TotalAcquired   int64 `json:"total_acquired"`
	TotalReleased   int64 `json:"total_released"`
	AcquireFailures int64 `json:"acquire_failures"`
}

// NewSessionPool creates size sessions with newSession. If any creation fails
// the sessions built so far are destroyed.
func NewSessionPool[S pooled](size int, newSession func() (S, error)) (*SessionPool[S], error) {
	if size <= 0 {
		size = DefaultPoolSize
	}

	pool := &SessionPool[S]{
		sessions: make(chan S, size),
		size:     size,
	}

	for i := 0; i < size; i++ {
		session, err := newSession()
		if err != nil {
			pool.Destroy()
			return nil, fmt.Errorf("failed to initialize session %d: %w", i, err)
		}
		pool.sessions <- session
	}

	return pool, nil
}

// Acquire waits for a free session, the context, or AcquireTimeout.
func (p *SessionPool[S]) Acquire(ctx context.Context) (S, error) {
	var zero S
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return zero, fmt.Errorf("pool is closed")
	}

	timer := time.NewTimer(AcquireTimeout)
	defer timer.Stop()

	select {
	case session, ok := <-p.sessions:
		if !ok {
			return zero, fmt.Errorf("pool is closed")
		}
		p.mu.Lock()
		p.metrics.InUse++
		p.metrics.TotalAcquired++
		p.mu.Unlock()
		return session, nil
	case <-timer.C:
		p.mu.Lock()
		p.metrics.AcquireFailures++
		p.mu.Unlock()
		return zero, fmt.Errorf("timeout waiting for available session")
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Release returns a session to the pool, or destroys it if the pool is closed.
func (p *SessionPool[S]) Release(session S) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		session.Destroy()
		return
	}
	p.metrics.InUse--
	p.metrics.TotalReleased++
	p.sessions <- session
}

// Size returns the number of sessions the pool was built with.
func (p *SessionPool[S]) Size() int {
	return p.size
}

// Metrics returns a snapshot of the pool counters.
func (p *SessionPool[S]) Metrics() PoolMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metrics
}

// Destroy closes the pool and destroys every idle session. Sessions still on
// loan are destroyed when released.
func (p *SessionPool[S]) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	close(p.sessions)
	for session := range p.sessions {
		session.Destroy()
	}
}
