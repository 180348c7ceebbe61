// Package scheduler drives the polling cycle: read the feed, persist each new
// meet, start a jittered ingestion task per meet not yet ingested, and gather
// every task before the next poll. A meet is marked ingested only once its
// task and all of its follow-ups succeeded, so failed or dropped work is
// picked up again by a later cycle.
//
// A cycle moves Idle -> Polling -> Dispatching -> Waiting -> Idle. Cycles
// never overlap: the next poll starts only after all tasks from the previous
// one, follow-ups included, have finished.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/trackmeet-harvester/internal/dispatcher"
	"github.com/JakeFAU/trackmeet-harvester/internal/feed"
	"github.com/JakeFAU/trackmeet-harvester/internal/harvest"
	"github.com/JakeFAU/trackmeet-harvester/internal/ingest"
	"github.com/JakeFAU/trackmeet-harvester/internal/metrics"
)

// State is the scheduler's position in a cycle.
type State int32

// Cycle states.
const (
	StateIdle State = iota
	StatePolling
	StateDispatching
	StateWaiting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateDispatching:
		return "dispatching"
	case StateWaiting:
		return "waiting"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Clock supplies time and timers.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Ingestor ingests one meet.
type Ingestor interface {
	IngestMeet(ctx context.Context, meet harvest.MeetDescriptor, sched harvest.TaskScheduler, deadline time.Time) (ingest.Summary, error)
}

// Pool runs delayed tasks and gathers them.
type Pool interface {
	harvest.TaskScheduler
	Wait()
}

// IDGenerator names cycles in logs.
type IDGenerator interface {
	NewID() (string, error)
}

// Config holds the polling settings.
type Config struct {
	FeedURL  string
	Interval time.Duration
}

// Report summarizes one cycle. Known counts meets already ingested in an
// earlier cycle; Retried counts dispatched meets whose descriptor was stored
// by an earlier cycle that did not complete them.
type Report struct {
	CycleID    string
	Items      int
	Dispatched int
	Retried    int
	Known      int
	Skipped    int
	Completed  int
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithJitter replaces the per-meet delay source.
func WithJitter(jitter func(upper time.Duration) time.Duration) Option {
	return func(s *Scheduler) {
		s.jitter = jitter
	}
}

// Scheduler runs polling cycles.
type Scheduler struct {
	cfg      Config
	fetcher  harvest.Fetcher
	parser   *feed.Parser
	meets    harvest.MeetStore
	ingestor Ingestor
	pool     Pool
	clock    Clock
	ids      IDGenerator
	jitter   func(upper time.Duration) time.Duration
	logger   *zap.Logger
	state    atomic.Int32
}

// New builds a Scheduler.
func New(
	cfg Config,
	fetcher harvest.Fetcher,
	meets harvest.MeetStore,
	ingestor Ingestor,
	pool Pool,
	clock Clock,
	ids IDGenerator,
	logger *zap.Logger,
	opts ...Option,
) (*Scheduler, error) {
	if cfg.FeedURL == "" {
		return nil, errors.New("scheduler: feed url is required")
	}
	if cfg.Interval <= 0 {
		return nil, errors.New("scheduler: interval must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		cfg:      cfg,
		fetcher:  fetcher,
		parser:   feed.NewParser(),
		meets:    meets,
		ingestor: ingestor,
		pool:     pool,
		clock:    clock,
		ids:      ids,
		jitter:   dispatcher.UniformDelay,
		logger:   logger.Named("scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// State reports the current cycle state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

func (s *Scheduler) setState(state State) {
	s.state.Store(int32(state))
}

// Run polls until ctx is cancelled. Cycle failures are logged and retried on
// the next cycle.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			s.setState(StateIdle)
			return nil
		}
		start := s.clock.Now()
		if _, err := s.RunCycle(ctx); err != nil {
			s.logger.Error("cycle ended early", zap.Error(err))
		}

		s.setState(StateWaiting)
		wait := start.Add(s.cfg.Interval).Sub(s.clock.Now())
		if wait < 0 {
			wait = 0
		}
		select {
		case <-ctx.Done():
			s.setState(StateIdle)
			return nil
		case <-s.clock.After(wait):
		}
		s.setState(StateIdle)
	}
}

// RunCycle performs one poll and gathers everything it dispatched. An error
// means the feed could not be read or a meet could not be persisted; meets
// dispatched before the failure still run to completion.
func (s *Scheduler) RunCycle(ctx context.Context) (Report, error) {
	start := s.clock.Now()
	report := Report{CycleID: s.cycleID()}
	logger := s.logger.With(zap.String("cycle_id", report.CycleID))

	s.setState(StatePolling)
	items, err := s.poll(ctx)
	if err != nil {
		metrics.ObserveFeedPoll("error")
		s.setState(StateIdle)
		return report, err
	}
	metrics.ObserveFeedPoll("ok")
	report.Items = len(items)

	s.setState(StateDispatching)
	deadline := start.Add(s.cfg.Interval)
	window := s.cfg.Interval / 24
	var (
		dispatchErr error
		runs        []*meetRun
	)
	for _, item := range items {
		meet, err := feed.Descriptor(item)
		if err != nil {
			report.Skipped++
			logger.Warn("feed item skipped", zap.String("title", item.Title), zap.Error(err))
			continue
		}
		inserted, err := s.meets.InsertMeet(ctx, meet)
		if err != nil {
			dispatchErr = fmt.Errorf("persist meet %d: %w", meet.ExternalID, err)
			break
		}
		if !inserted {
			done, err := s.meets.MeetIngested(ctx, meet.ExternalID)
			if err != nil {
				dispatchErr = fmt.Errorf("meet %d status: %w", meet.ExternalID, err)
				break
			}
			if done {
				report.Known++
				continue
			}
			report.Retried++
		}
		run := &meetRun{meet: meet, pool: s.pool}
		runs = append(runs, run)
		delay := s.jitter(window)
		run.Schedule("meet", delay, s.meetTask(run, deadline))
		report.Dispatched++
		metrics.ObserveMeetDispatched()
		logger.Debug("meet scheduled",
			zap.Int64("meet_id", meet.ExternalID),
			zap.String("title", meet.Title),
			zap.Duration("delay", delay),
		)
	}

	s.pool.Wait()
	report.Completed = s.markCompleted(ctx, runs, logger)
	logger.Info("cycle finished",
		zap.Int("items", report.Items),
		zap.Int("dispatched", report.Dispatched),
		zap.Int("retried", report.Retried),
		zap.Int("known", report.Known),
		zap.Int("skipped", report.Skipped),
		zap.Int("completed", report.Completed),
		zap.Duration("elapsed", s.clock.Now().Sub(start)),
	)
	return report, dispatchErr
}

func (s *Scheduler) poll(ctx context.Context) ([]feed.Item, error) {
	page, err := s.fetcher.Fetch(ctx, s.cfg.FeedURL)
	if err != nil {
		return nil, fmt.Errorf("poll feed: %w", err)
	}
	items, err := s.parser.Items(page.Body)
	if err != nil {
		return nil, fmt.Errorf("poll feed: %w", err)
	}
	return items, nil
}

func (s *Scheduler) meetTask(run *meetRun, deadline time.Time) harvest.Task {
	return func(ctx context.Context) error {
		_, err := s.ingestor.IngestMeet(ctx, run.meet, run, deadline)
		return err
	}
}

// markCompleted stamps every meet whose task and follow-ups all succeeded.
// The rest stay unmarked and are dispatched again by the next cycle.
func (s *Scheduler) markCompleted(ctx context.Context, runs []*meetRun, logger *zap.Logger) int {
	ctx = context.WithoutCancel(ctx)
	now := s.clock.Now()
	completed := 0
	for _, run := range runs {
		id := run.meet.ExternalID
		if !run.complete() {
			logger.Info("meet incomplete, will retry",
				zap.Int64("meet_id", id),
				zap.Int64("unfinished", run.pending.Load()),
				zap.Bool("failed", run.failed.Load()),
			)
			continue
		}
		if err := s.meets.MarkMeetIngested(ctx, id, now); err != nil {
			logger.Warn("mark meet ingested failed", zap.Int64("meet_id", id), zap.Error(err))
			continue
		}
		completed++
	}
	return completed
}

// meetRun schedules one meet's tasks on the pool and tracks them. Tasks the
// pool drops before they start stay pending.
type meetRun struct {
	meet    harvest.MeetDescriptor
	pool    Pool
	pending atomic.Int64
	failed  atomic.Bool
}

var _ harvest.TaskScheduler = (*meetRun)(nil)

func (r *meetRun) Schedule(name string, delay time.Duration, task harvest.Task) {
	r.pending.Add(1)
	r.pool.Schedule(name, delay, func(ctx context.Context) error {
		ok := false
		defer func() {
			if !ok {
				r.failed.Store(true)
			}
			r.pending.Add(-1)
		}()
		err := task(ctx)
		ok = err == nil
		return err
	})
}

func (r *meetRun) complete() bool {
	return r.pending.Load() == 0 && !r.failed.Load()
}

func (s *Scheduler) cycleID() string {
	if s.ids == nil {
		return ""
	}
	id, err := s.ids.NewID()
	if err != nil {
		s.logger.Warn("cycle id unavailable", zap.Error(err))
		return ""
	}
	return id
}
