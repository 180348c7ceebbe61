// Package dispatcher runs delayed tasks concurrently. Any task may schedule
// further delayed tasks; they are flat enqueues on the same pool, never nested
// calls, and Wait gathers all of them.
package dispatcher

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/trackmeet-harvester/internal/harvest"
	"github.com/JakeFAU/trackmeet-harvester/internal/metrics"
)

// Stats counts task outcomes since the dispatcher was created.
type Stats struct {
	Scheduled int64
	Succeeded int64
	Failed    int64
	Dropped   int64
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithAfter replaces the delay source, mainly for tests.
func WithAfter(after func(time.Duration) <-chan time.Time) Option {
	return func(d *Dispatcher) {
		d.after = after
	}
}

// Dispatcher is a pool of delayed tasks.
type Dispatcher struct {
	ctx    context.Context
	logger *zap.Logger
	after  func(time.Duration) <-chan time.Time
	wg     sync.WaitGroup

	scheduled atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

var _ harvest.TaskScheduler = (*Dispatcher)(nil)

// New creates a Dispatcher bound to ctx. Cancelling ctx drops tasks that are
// still waiting out their delay; tasks already running keep going to
// completion with a context that is never cancelled.
func New(ctx context.Context, logger *zap.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		ctx:    ctx,
		logger: logger.Named("dispatcher"),
		after:  time.After,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Schedule starts task after delay. It never blocks.
func (d *Dispatcher) Schedule(name string, delay time.Duration, task harvest.Task) {
	if delay < 0 {
		delay = 0
	}
	d.scheduled.Add(1)
	metrics.ObserveScheduledDelay(name, delay)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if delay > 0 {
			select {
			case <-d.ctx.Done():
				d.dropped.Add(1)
				d.logger.Debug("task dropped before start", zap.String("task", name))
				return
			case <-d.after(delay):
			}
		} else if d.ctx.Err() != nil {
			d.dropped.Add(1)
			return
		}
		d.run(name, task)
	}()
}

func (d *Dispatcher) run(name string, task harvest.Task) {
	metrics.IncInflightTasks()
	defer metrics.DecInflightTasks()

	err := safeRun(context.WithoutCancel(d.ctx), task)
	if err != nil {
		d.failed.Add(1)
		d.logger.Warn("task failed", zap.String("task", name), zap.Error(err))
		return
	}
	d.succeeded.Add(1)
}

func safeRun(ctx context.Context, task harvest.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
		}
	}()
	return task(ctx)
}

// Wait blocks until every scheduled task, including follow-ups scheduled by
// running tasks, has finished or been dropped.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Stats returns a snapshot of task counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Scheduled: d.scheduled.Load(),
		Succeeded: d.succeeded.Load(),
		Failed:    d.failed.Load(),
		Dropped:   d.dropped.Load(),
	}
}

// UniformDelay draws a delay uniformly from [0, upper). Non-positive bounds
// yield zero.
func UniformDelay(upper time.Duration) time.Duration {
	if upper <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(upper)))
}
