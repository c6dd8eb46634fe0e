package detections

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrPoolClosed     = errors.New("pool is closed")
	ErrAcquireTimeout = errors.New("timeout waiting for available session")
)

// SessionPool hands out model sessions so that no two requests share the
// same input and output tensors.
type SessionPool struct {
	sessions       chan *ModelSession
	size           int
	live           int
	newSession     func() (*ModelSession, error)
	acquireTimeout time.Duration
	mu             sync.Mutex
	closed         bool
	done           chan struct{}
	metrics        *PoolMetrics
	lastErrors     []error
}

type PoolMetrics struct {
	mu              sync.RWMutex
	InUse           int
	TotalAcquired   int64
	TotalReleased   int64
	TotalDiscarded  int64
	AcquireFailures int64
	WaitTime        time.Duration
}

// MetricsSnapshot is a copy of PoolMetrics that is safe to pass around.
type MetricsSnapshot struct {
	Size            int           `json:"pool_size"`
	Live            int           `json:"live_sessions"`
	InUse           int           `json:"sessions_in_use"`
	TotalAcquired   int64         `json:"total_acquired"`
	TotalReleased   int64         `json:"total_released"`
	TotalDiscarded  int64         `json:"total_discarded"`
	AcquireFailures int64         `json:"acquire_failures"`
	WaitTime        time.Duration `json:"wait_time_ns"`
	LastErrors      []string      `json:"last_errors,omitempty"`
}

func NewSessionPool(size int, acquireTimeout time.Duration, newSession func() (*ModelSession, error)) (*SessionPool, error) {
	if size <= 0 {
		size = DefaultPoolSize
	}
	if acquireTimeout <= 0 {
		acquireTimeout = DefaultAcquireTimeout
	}

	pool := &SessionPool{
		sessions:       make(chan *ModelSession, size),
		size:           size,
		newSession:     newSession,
		acquireTimeout: acquireTimeout,
		done:           make(chan struct{}),
		metrics:        &PoolMetrics{},
	}

	for i := 0; i < size; i++ {
		session, err := newSession()
		if err != nil {
			pool.Destroy()
			return nil, fmt.Errorf("failed to initialize session %d: %w", i, err)
		}
		pool.live++
		pool.sessions <- session
	}

	go pool.healthCheck(HealthCheckPeriod)

	return pool, nil
}

func (p *SessionPool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *SessionPool) Acquire(ctx context.Context) (*ModelSession, error) {
	if p.isClosed() {
		return nil, ErrPoolClosed
	}

	start := time.Now()
	defer func() {
		p.metrics.mu.Lock()
		p.metrics.WaitTime += time.Since(start)
		p.metrics.mu.Unlock()
	}()

	timer := time.NewTimer(p.acquireTimeout)
	defer timer.Stop()

	select {
	case session, ok := <-p.sessions:
		if !ok {
			return nil, ErrPoolClosed
		}
		p.metrics.mu.Lock()
		p.metrics.InUse++
		p.metrics.TotalAcquired++
		p.metrics.mu.Unlock()
		return session, nil
	case <-timer.C:
		p.metrics.mu.Lock()
		p.metrics.AcquireFailures++
		p.metrics.mu.Unlock()
		return nil, ErrAcquireTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *SessionPool) Release(session *ModelSession) {
	p.metrics.mu.Lock()
	p.metrics.InUse--
	p.metrics.TotalReleased++
	p.metrics.mu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		session.Destroy()
		return
	}
	p.sessions <- session
}

// Discard destroys a session that failed during inference and starts building
// its replacement. If that fails the health check retries on its next tick.
func (p *SessionPool) Discard(session *ModelSession) {
	p.metrics.mu.Lock()
	p.metrics.InUse--
	p.metrics.TotalDiscarded++
	p.metrics.mu.Unlock()

	session.Destroy()

	p.mu.Lock()
	p.live--
	closed := p.closed
	p.mu.Unlock()

	if !closed {
		go p.replenish()
	}
}

func (p *SessionPool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.closed = true
	close(p.done)
	close(p.sessions)

	for session := range p.sessions {
		session.Destroy()
	}
}

func (p *SessionPool) healthCheck(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.replenish()
		}
	}
}

func (p *SessionPool) replenish() {
	p.mu.Lock()
	missing := p.size - p.live
	p.mu.Unlock()

	for i := 0; i < missing; i++ {
		session, err := p.newSession()
		if err != nil {
			p.recordError(err)
			continue
		}

		p.mu.Lock()
		// Discard and the health check may replenish at the same time.
		if p.closed || p.live >= p.size {
			p.mu.Unlock()
			session.Destroy()
			return
		}
		p.live++
		p.sessions <- session
		p.mu.Unlock()
	}
}

func (p *SessionPool) recordError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastErrors = append(p.lastErrors, err)
	if len(p.lastErrors) > 10 {
		p.lastErrors = p.lastErrors[1:]
	}
}

func (p *SessionPool) Metrics() MetricsSnapshot {
	p.mu.Lock()
	size, live := p.size, p.live
	var lastErrors []string
	for _, err := range p.lastErrors {
		lastErrors = append(lastErrors, err.Error())
	}
	p.mu.Unlock()

	p.metrics.mu.RLock()
	defer p.metrics.mu.RUnlock()
	return MetricsSnapshot{
		Size:            size,
		Live:            live,
		InUse:           p.metrics.InUse,
		TotalAcquired:   p.metrics.TotalAcquired,
		TotalReleased:   p.metrics.TotalReleased,
		TotalDiscarded:  p.metrics.TotalDiscarded,
		AcquireFailures: p.metrics.AcquireFailures,
		WaitTime:        p.metrics.WaitTime,
		LastErrors:      lastErrors,
	}
}
