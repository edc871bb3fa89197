package resilience

import (
	"context"
	"fmt"
	"sync"
)

// PoolConfig configures the worker pool.
type PoolConfig struct {
	// MaxConcurrent is the maximum number of tasks running at once.
	// Default: 16
	MaxConcurrent int

	// OnPanic is called with the recovered value when a task panics.
	// The pool keeps running either way.
	OnPanic func(recovered any)
}

// Pool runs fire-and-forget tasks on a bounded number of goroutines.
// Submissions never block: when every slot is busy the task is rejected.
type Pool struct {
	config PoolConfig
	sem    chan struct{}
	wg     sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	active    int
	maxActive int
	rejected  int64
	panics    int64
}

// NewPool creates a new worker pool.
func NewPool(config PoolConfig) *Pool {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 16
	}
	return &Pool{
		config: config,
		sem:    make(chan struct{}, config.MaxConcurrent),
	}
}

// Go schedules task on a free slot. It returns ErrPoolFull when no slot is
// free and ErrPoolClosed after Close.
func (p *Pool) Go(task func()) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	select {
	case p.sem <- struct{}{}:
	default:
		p.rejected++
		p.mu.Unlock()
		return ErrPoolFull
	}
	p.active++
	if p.active > p.maxActive {
		p.maxActive = p.active
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go p.run(task)
	return nil
}

func (p *Pool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.mu.Lock()
			p.panics++
			p.mu.Unlock()
			if p.config.OnPanic != nil {
				p.config.OnPanic(r)
			}
		}
		<-p.sem
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
		p.wg.Done()
	}()
	task()
}

// Close stops accepting tasks and waits for running ones, or for ctx.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("resilience: pool close: %w", ctx.Err())
	}
}

// Wait blocks until every scheduled task has finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Metrics returns current pool metrics.
func (p *Pool) Metrics() PoolMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()

	return PoolMetrics{
		Active:        p.active,
		MaxActive:     p.maxActive,
		MaxConcurrent: p.config.MaxConcurrent,
		Rejected:      p.rejected,
		Panics:        p.panics,
	}
}

// PoolMetrics contains pool statistics.
type PoolMetrics struct {
	Active        int
	MaxActive     int
	MaxConcurrent int
	Rejected      int64
	Panics        int64
}
