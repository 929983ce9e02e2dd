package vaultcrypt

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
)

// PoolMetrics tracks KDF pool operational metrics.
type PoolMetrics struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Abandoned int64 `json:"abandoned"`
}

// ErrPoolShutdown is returned when work is submitted to a shut-down pool.
var ErrPoolShutdown = errors.New("kdf pool is shut down")

// Pool bounds the number of PBKDF2 derivations running at once so a burst of
// vault operations cannot starve the rest of the process of CPU.
type Pool struct {
	sem     chan struct{}
	wg      sync.WaitGroup
	metrics PoolMetrics
	mu      sync.Mutex
	done    chan struct{}
	closed  bool
}

// NewPool creates a pool with the given max concurrency.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		sem:  make(chan struct{}, size),
		done: make(chan struct{}),
	}
}

var (
	defaultPoolOnce sync.Once
	defaultPool     *Pool
)

// DefaultPool returns the process-wide pool sized to GOMAXPROCS.
func DefaultPool() *Pool {
	defaultPoolOnce.Do(func() {
		defaultPool = NewPool(runtime.GOMAXPROCS(0))
	})
	return defaultPool
}

type deriveResult struct {
	key *DerivedKey
	err error
}

// Derive runs DeriveKey on a pool goroutine. It waits for a free slot and for
// the result, returning early with a CANCELLED error if ctx ends first. A
// derivation abandoned mid-flight still runs to completion and its key is wiped.
func (p *Pool) Derive(ctx context.Context, password, salt []byte) (*DerivedKey, error) {
	if ctx.Err() != nil {
		return nil, cancelled(ctx)
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolShutdown
	}
	p.mu.Unlock()

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, cancelled(ctx)
	case <-p.done:
		return nil, ErrPoolShutdown
	}

	// wg.Add must happen under the lock so Shutdown's Wait cannot race it.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.sem
		return nil, ErrPoolShutdown
	}
	p.wg.Add(1)
	atomic.AddInt64(&p.metrics.Active, 1)
	p.mu.Unlock()

	ch := make(chan deriveResult, 1)
	go func() {
		defer func() {
			atomic.AddInt64(&p.metrics.Active, -1)
			<-p.sem
			p.wg.Done()
		}()
		key, err := DeriveKey(password, salt)
		if err != nil {
			atomic.AddInt64(&p.metrics.Failed, 1)
		} else {
			atomic.AddInt64(&p.metrics.Completed, 1)
		}
		ch <- deriveResult{key: key, err: err}
	}()

	select {
	case r := <-ch:
		return r.key, r.err
	case <-ctx.Done():
		atomic.AddInt64(&p.metrics.Abandoned, 1)
		go func() {
			if r := <-ch; r.key != nil {
				r.key.Wipe()
			}
		}()
		return nil, cancelled(ctx)
	}
}

// Shutdown stops accepting work and waits for running derivations.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
}

// Metrics returns a snapshot of the current pool metrics.
func (p *Pool) Metrics() PoolMetrics {
	return PoolMetrics{
		Active:    atomic.LoadInt64(&p.metrics.Active),
		Completed: atomic.LoadInt64(&p.metrics.Completed),
		Failed:    atomic.LoadInt64(&p.metrics.Failed),
		Abandoned: atomic.LoadInt64(&p.metrics.Abandoned),
	}
}
