// Package workpool runs blocking pipeline work on a bounded ants pool.
package workpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
)

var (
	ErrPoolClosed   = errors.New("worker pool is closed")
	ErrPoolOverload = errors.New("worker pool is overloaded")
)

type Config struct {
	Name     string
	Capacity int
	Expiry   time.Duration
	// MaxBlockingTasks caps submitters waiting for a free worker; 0 means no cap.
	MaxBlockingTasks int
}

func DefaultConfig() Config {
	return Config{
		Name:     "pipeline",
		Capacity: 16,
		Expiry:   60 * time.Second,
	}
}

type Pool struct {
	name string
	pool *ants.Pool

	submitted atomic.Int64
	completed atomic.Int64
	panicked  atomic.Int64
}

type Stats struct {
	Submitted int64
	Completed int64
	Panicked  int64
}

func New(cfg Config) (*Pool, error) {
	def := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = def.Expiry
	}

	p := &Pool{name: cfg.Name}
	pool, err := ants.NewPool(cfg.Capacity,
		ants.WithExpiryDuration(cfg.Expiry),
		ants.WithNonblocking(false),
		ants.WithMaxBlockingTasks(cfg.MaxBlockingTasks),
		ants.WithPanicHandler(func(v any) {
			p.panicked.Add(1)
			slog.Error("worker_panic_recovered", "pool", cfg.Name, "panic", v, "stack", string(debug.Stack()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	p.pool = pool

	slog.Info("worker_pool_created", "pool", cfg.Name, "capacity", cfg.Capacity)
	return p, nil
}

// Submit schedules fn without waiting for it. It blocks while every worker
// is busy.
func (p *Pool) Submit(fn func()) error {
	if fn == nil {
		return errors.New("workpool: task is nil")
	}
	err := p.pool.Submit(func() {
		defer p.completed.Add(1)
		fn()
	})
	if err != nil {
		return p.mapError(err)
	}
	p.submitted.Add(1)
	return nil
}

// Do runs fn on a worker and waits for its result. A panic in fn is turned
// into an error. When ctx ends first, Do returns ctx.Err() and fn keeps
// running with the same, now cancelled, context.
func (p *Pool) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	result := make(chan error, 1)
	err := p.Submit(func() {
		defer func() {
			if v := recover(); v != nil {
				p.panicked.Add(1)
				slog.Error("worker_task_panic", "pool", p.name, "panic", v)
				result <- fmt.Errorf("worker task panic: %v", v)
			}
		}()
		result <- fn(ctx)
	})
	if err != nil {
		return err
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) Running() int {
	return p.pool.Running()
}

func (p *Pool) Cap() int {
	return p.pool.Cap()
}

func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Panicked:  p.panicked.Load(),
	}
}

// Release waits up to timeout for running tasks and closes the pool.
func (p *Pool) Release(timeout time.Duration) error {
	if err := p.pool.ReleaseTimeout(timeout); err != nil {
		return fmt.Errorf("release worker pool %s: %w", p.name, err)
	}
	return nil
}

func (p *Pool) mapError(err error) error {
	switch {
	case errors.Is(err, ants.ErrPoolClosed):
		return ErrPoolClosed
	case errors.Is(err, ants.ErrPoolOverload):
		return ErrPoolOverload
	default:
		return err
	}
}
