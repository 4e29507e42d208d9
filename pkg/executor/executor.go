// Package executor provides a uniform façade over "run function F across an
// input stream with mode M", yielding results in completion or submission
// order. Both pipeline stages share this façade so their concurrency is
// configured the same way from the command line.
package executor

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Mode selects how jobs are executed.
type Mode string

const (
	// ModeSerial runs jobs lazily on the calling stream, one at a time.
	ModeSerial Mode = "serial"
	// ModeThreaded runs jobs on a worker pool sized by MaxWorkers. Suited
	// to jobs that mostly wait, like subprocess-bound decompilation.
	ModeThreaded Mode = "threaded"
	// ModeProcessed runs jobs on a pool pinned to GOMAXPROCS with chunked
	// hand-off. The name mirrors the process-pool mode of scanners hosted
	// in interpreted runtimes; Go needs no separate address spaces for
	// CPU-bound regex work, so this is a tuning profile rather than a
	// different isolation level.
	ModeProcessed Mode = "processed"
)

// ParseMode validates a mode string from the command line.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeSerial, ModeThreaded, ModeProcessed:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown concurrency type %q (serial, threaded, processed)", s)
}

// Order selects how results are yielded relative to their inputs.
type Order string

const (
	// OrderCompleted yields results as workers finish them.
	OrderCompleted Order = "completed"
	// OrderSubmitted yields results in input order; a slow job blocks
	// later outputs.
	OrderSubmitted Order = "submitted"
)

// ParseOrder validates an order string from the command line.
func ParseOrder(s string) (Order, error) {
	switch Order(s) {
	case OrderCompleted, OrderSubmitted:
		return Order(s), nil
	}
	return "", fmt.Errorf("unknown results order %q (completed, submitted)", s)
}

// Config carries the per-stage execution options.
type Config struct {
	Mode       Mode
	Order      Order
	MaxWorkers int           // 0 = host CPU count
	ChunkSize  int           // batch granularity, 0/1 = per-item hand-off
	Timeout    time.Duration // per-job; 0 = none
}

func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = ModeThreaded
	}
	if c.Order == "" {
		c.Order = OrderCompleted
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = runtime.NumCPU()
	}
	if c.Mode == ModeProcessed {
		c.MaxWorkers = min(c.MaxWorkers, runtime.GOMAXPROCS(0))
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 1
	}
	return c
}

// Executor is a reusable worker bound. It may be threaded through multiple
// map calls and multiple pipeline stages without leaking workers; the
// semaphore caps in-flight jobs across all of them.
type Executor struct {
	cfg    Config
	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// New creates an executor with the given configuration.
func New(cfg Config) *Executor {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		cfg:    cfg,
		sem:    semaphore.NewWeighted(int64(cfg.MaxWorkers)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Config returns the executor's effective configuration.
func (e *Executor) Config() Config {
	return e.cfg
}

// Shutdown releases the executor. With cancelPending, jobs not yet started
// are abandoned and running jobs see their context cancelled; otherwise
// in-flight work drains first. Shutdown is idempotent.
func (e *Executor) Shutdown(wait, cancelPending bool) {
	if cancelPending {
		e.once.Do(e.cancel)
	}
	if wait {
		e.wg.Wait()
	}
	if !cancelPending {
		e.once.Do(e.cancel)
	}
}

// Map applies fn to every value from inputs and returns a channel of
// results. The channel closes when the input stream is exhausted or either
// context is cancelled. Jobs that exceed the configured timeout produce no
// result; the stream continues past them.
func Map[T, R any](e *Executor, ctx context.Context, inputs <-chan T, fn func(context.Context, T) R) <-chan R {
	runCtx, stop := mergeContexts(ctx, e.ctx)

	out := make(chan R)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer stop()
		defer close(out)

		switch {
		case e.cfg.Mode == ModeSerial:
			mapSerial(e, runCtx, inputs, fn, out)
		case e.cfg.Order == OrderSubmitted:
			mapSubmitted(e, runCtx, inputs, fn, out)
		default:
			mapCompleted(e, runCtx, inputs, fn, out)
		}
	}()
	return out
}

func mapSerial[T, R any](e *Executor, ctx context.Context, inputs <-chan T, fn func(context.Context, T) R, out chan<- R) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-inputs:
			if !ok {
				return
			}
			if r, ok := runJob(ctx, e.cfg.Timeout, v, fn); ok {
				select {
				case out <- r:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// mapCompleted fans inputs out to MaxWorkers workers in chunks and yields
// results as they finish.
func mapCompleted[T, R any](e *Executor, ctx context.Context, inputs <-chan T, fn func(context.Context, T) R, out chan<- R) {
	chunks := chunkStream(ctx, inputs, e.cfg.ChunkSize)

	var wg sync.WaitGroup
	for i := 0; i < e.cfg.MaxWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for chunk := range chunks {
				if e.sem.Acquire(ctx, 1) != nil {
					return
				}
				for _, v := range chunk {
					if r, ok := runJob(ctx, e.cfg.Timeout, v, fn); ok {
						select {
						case out <- r:
						case <-ctx.Done():
							e.sem.Release(1)
							return
						}
					}
				}
				e.sem.Release(1)
			}
		}()
	}
	wg.Wait()
}

// mapSubmitted preserves input order by handing each job a single-slot
// result channel and draining the slots in submission order. A job that
// produced no result (timeout, cancellation) closes its slot empty.
func mapSubmitted[T, R any](e *Executor, ctx context.Context, inputs <-chan T, fn func(context.Context, T) R, out chan<- R) {
	slots := make(chan chan R, e.cfg.MaxWorkers*2)

	go func() {
		defer close(slots)
		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-inputs:
				if !ok {
					return
				}
				slot := make(chan R, 1)
				select {
				case slots <- slot:
				case <-ctx.Done():
					return
				}
				go func() {
					defer close(slot)
					if e.sem.Acquire(ctx, 1) != nil {
						return
					}
					defer e.sem.Release(1)
					if r, ok := runJob(ctx, e.cfg.Timeout, v, fn); ok {
						slot <- r
					}
				}()
			}
		}
	}()

	for slot := range slots {
		r, ok := <-slot
		if !ok {
			continue
		}
		select {
		case out <- r:
		case <-ctx.Done():
			return
		}
	}
}

// runJob executes one job under the per-job timeout. On timeout the result
// is discarded; the job's goroutine finishes on its own once fn observes the
// cancelled context.
func runJob[T, R any](ctx context.Context, timeout time.Duration, v T, fn func(context.Context, T) R) (R, bool) {
	if timeout <= 0 {
		if ctx.Err() != nil {
			var zero R
			return zero, false
		}
		return fn(ctx, v), true
	}

	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan R, 1)
	go func() {
		done <- fn(jobCtx, v)
	}()

	select {
	case r := <-done:
		return r, true
	case <-jobCtx.Done():
		var zero R
		return zero, false
	}
}

// chunkStream groups the input stream into slices of up to size items.
func chunkStream[T any](ctx context.Context, inputs <-chan T, size int) <-chan []T {
	out := make(chan []T)
	go func() {
		defer close(out)
		chunk := make([]T, 0, size)
		flush := func() bool {
			if len(chunk) == 0 {
				return true
			}
			select {
			case out <- chunk:
				chunk = make([]T, 0, size)
				return true
			case <-ctx.Done():
				return false
			}
		}
		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-inputs:
				if !ok {
					flush()
					return
				}
				chunk = append(chunk, v)
				if len(chunk) == size && !flush() {
					return
				}
			}
		}
	}()
	return out
}

// mergeContexts derives a context cancelled when either parent is.
func mergeContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
