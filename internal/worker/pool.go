// Package worker runs detached tasks with a concurrency bound.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("worker pool closed")

// Task is one unit of work. The context is the pool's, not the submitter's.
type Task func(ctx context.Context)

// Pool starts every submitted task in its own goroutine; at most limit run at once
// and the rest wait for a slot. Nothing is dropped or reordered on purpose, and
// nothing is ordered either.
type Pool struct {
	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New creates a pool with the given limit (minimum 1).
func New(limit int, logger zerolog.Logger) *Pool {
	if limit < 1 {
		limit = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		sem:    semaphore.NewWeighted(int64(limit)),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// Submit never blocks on the task itself.
func (p *Pool) Submit(name string, task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.wg.Add(1)
	go p.run(name, task)
	return nil
}

func (p *Pool) run(name string, task Task) {
	defer p.wg.Done()
	if err := p.sem.Acquire(p.ctx, 1); err != nil {
		p.logger.Warn().Str("task", name).Msg("task dropped at shutdown before it started")
		return
	}
	defer p.sem.Release(1)
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Str("task", name).Str("panic", fmt.Sprint(r)).Msg("task panicked")
		}
	}()
	task(p.ctx)
}

// Wait blocks until every submitted task has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Close stops accepting tasks and waits for running ones. If ctx expires first,
// running tasks get their context cancelled and Close still waits for them.
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
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}
