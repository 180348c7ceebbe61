package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/trackmeet-harvester/internal/dispatcher"
	"github.com/JakeFAU/trackmeet-harvester/internal/harvest"
	"github.com/JakeFAU/trackmeet-harvester/internal/ingest"
	"github.com/JakeFAU/trackmeet-harvester/internal/storage/memory"
)

const feedURL = "https://www.tfrrs.org/results.rss"

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel>
<title>Latest Results</title>
<item><title>2024 Spring Invitational</title><description>April 27-28, 2024</description><link>https://www.tfrrs.org/results/79700/Spring</link></item>
<item><title>Broken Date Open</title><description>sometime soon</description><link>https://www.tfrrs.org/results/79701/Broken</link></item>
<item><title>Conference Championships</title><description>May 3, 2024</description><link>https://www.tfrrs.org/results/79702/Conf</link></item>
</channel></rss>`

type feedFetcher struct {
	body string
	err  error
}

func (f feedFetcher) Fetch(_ context.Context, url string) (harvest.Page, error) {
	if f.err != nil {
		return harvest.Page{}, f.err
	}
	return harvest.Page{URL: url, StatusCode: 200, Body: []byte(f.body)}, nil
}

type recordingIngestor struct {
	mu           sync.Mutex
	meets        []int64
	deadlines    []time.Time
	store        *memory.Store
	fail         int64
	failFollowUp int64
}

func (r *recordingIngestor) IngestMeet(
	ctx context.Context,
	meet harvest.MeetDescriptor,
	sched harvest.TaskScheduler,
	deadline time.Time,
) (ingest.Summary, error) {
	// The descriptor must already be stored when the task starts.
	inserted, err := r.store.InsertMeet(ctx, meet)
	if err != nil || inserted {
		return ingest.Summary{}, errors.New("meet not persisted before ingestion")
	}
	r.mu.Lock()
	r.meets = append(r.meets, meet.ExternalID)
	r.deadlines = append(r.deadlines, deadline)
	r.mu.Unlock()
	if meet.ExternalID == r.fail {
		return ingest.Summary{}, errors.New("boom")
	}
	failFollowUp := meet.ExternalID == r.failFollowUp
	sched.Schedule("athlete", time.Minute, func(context.Context) error {
		if failFollowUp {
			return &harvest.EntityFetchError{Kind: "athlete", Reference: "1", Err: errors.New("timeout")}
		}
		return nil
	})
	return ingest.Summary{}, nil
}

func (r *recordingIngestor) setFailures(meet, followUp int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail, r.failFollowUp = meet, followUp
}

func (r *recordingIngestor) ingested() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.meets...)
}

type manualClock struct {
	mu    sync.Mutex
	now   time.Time
	waits chan time.Duration
	fire  chan time.Time
}

func newManualClock(now time.Time) *manualClock {
	return &manualClock{now: now, waits: make(chan time.Duration, 8), fire: make(chan time.Time)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	c.waits <- d
	return c.fire
}

type fixedIDs struct{}

func (fixedIDs) NewID() (string, error) { return "cycle-1", nil }

func immediate(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

type harness struct {
	sched    *Scheduler
	store    *memory.Store
	ingestor *recordingIngestor
	pool     *dispatcher.Dispatcher
	clock    *manualClock
	jitters  []time.Duration
}

func newHarness(t *testing.T, fetcher harvest.Fetcher, meets harvest.MeetStore) *harness {
	t.Helper()
	pool := dispatcher.New(context.Background(), nil, dispatcher.WithAfter(immediate))
	return buildHarness(t, memory.New(), fetcher, meets, pool)
}

func buildHarness(
	t *testing.T,
	store *memory.Store,
	fetcher harvest.Fetcher,
	meets harvest.MeetStore,
	pool *dispatcher.Dispatcher,
) *harness {
	t.Helper()
	if meets == nil {
		meets = store
	}
	h := &harness{
		store:    store,
		ingestor: &recordingIngestor{store: store},
		pool:     pool,
		clock:    newManualClock(time.Date(2024, 5, 4, 6, 0, 0, 0, time.UTC)),
	}
	var mu sync.Mutex
	sched, err := New(
		Config{FeedURL: feedURL, Interval: 24 * time.Hour},
		fetcher, meets, h.ingestor, h.pool, h.clock, fixedIDs{}, nil,
		WithJitter(func(upper time.Duration) time.Duration {
			mu.Lock()
			h.jitters = append(h.jitters, upper)
			mu.Unlock()
			return upper - time.Second
		}),
	)
	require.NoError(t, err)
	h.sched = sched
	return h
}

func TestRunCycleSkipsBadItemsAndContinues(t *testing.T) {
	t.Parallel()

	h := newHarness(t, feedFetcher{body: sampleRSS}, nil)
	report, err := h.sched.RunCycle(context.Background())
	require.NoError(t, err)

	require.Equal(t, Report{CycleID: "cycle-1", Items: 3, Dispatched: 2, Skipped: 1, Completed: 2}, report)
	require.ElementsMatch(t, []int64{79700, 79702}, h.ingestor.meets)
	require.Equal(t, []time.Duration{time.Hour, time.Hour}, h.jitters)

	deadline := h.clock.Now().Add(24 * time.Hour)
	for _, d := range h.ingestor.deadlines {
		require.Equal(t, deadline, d)
	}
	// two meets plus one follow-up each
	require.Equal(t, int64(4), h.pool.Stats().Succeeded)
	require.Equal(t, StateDispatching, h.sched.State())
}

func TestRunCycleSkipsIngestedMeets(t *testing.T) {
	t.Parallel()

	h := newHarness(t, feedFetcher{body: sampleRSS}, nil)
	_, err := h.sched.RunCycle(context.Background())
	require.NoError(t, err)

	report, err := h.sched.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, report.Dispatched)
	require.Equal(t, 2, report.Known)
	require.Len(t, h.ingestor.ingested(), 2)
}

func TestRunCycleRetriesFailedMeets(t *testing.T) {
	t.Parallel()

	h := newHarness(t, feedFetcher{body: sampleRSS}, nil)
	h.ingestor.setFailures(79700, 0)
	report, err := h.sched.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, report.Dispatched)
	require.Equal(t, 1, report.Completed)

	h.ingestor.setFailures(0, 0)
	report, err = h.sched.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Dispatched)
	require.Equal(t, 1, report.Retried)
	require.Equal(t, 1, report.Known)
	require.Equal(t, 1, report.Completed)
	require.Equal(t, []int64{79700, 79700}, filter(h.ingestor.ingested(), 79700))

	done, err := h.store.MeetIngested(context.Background(), 79700)
	require.NoError(t, err)
	require.True(t, done)
}

func TestRunCycleRetriesMeetsWithFailedFollowUps(t *testing.T) {
	t.Parallel()

	h := newHarness(t, feedFetcher{body: sampleRSS}, nil)
	h.ingestor.setFailures(0, 79702)
	report, err := h.sched.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Completed)

	h.ingestor.setFailures(0, 0)
	report, err = h.sched.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, Report{CycleID: "cycle-1", Items: 3, Dispatched: 1, Retried: 1, Known: 1, Skipped: 1, Completed: 1}, report)
}

func TestRunCycleRedispatchesMeetsDroppedAtShutdown(t *testing.T) {
	t.Parallel()

	store := memory.New()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	stopping := dispatcher.New(ctx, nil, dispatcher.WithAfter(func(time.Duration) <-chan time.Time {
		cancel()
		return make(chan time.Time)
	}))
	h := buildHarness(t, store, feedFetcher{body: sampleRSS}, nil, stopping)
	report, err := h.sched.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, report.Dispatched)
	require.Zero(t, report.Completed)
	require.Equal(t, int64(2), stopping.Stats().Dropped)
	require.Empty(t, h.ingestor.ingested())

	restarted := dispatcher.New(context.Background(), nil, dispatcher.WithAfter(immediate))
	h = buildHarness(t, store, feedFetcher{body: sampleRSS}, nil, restarted)
	report, err = h.sched.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, report.Dispatched)
	require.Equal(t, 2, report.Retried)
	require.Equal(t, 2, report.Completed)
	require.ElementsMatch(t, []int64{79700, 79702}, h.ingestor.ingested())
}

func filter(ids []int64, want int64) []int64 {
	var out []int64
	for _, id := range ids {
		if id == want {
			out = append(out, id)
		}
	}
	return out
}

func TestRunCycleIsolatesTaskFailures(t *testing.T) {
	t.Parallel()

	h := newHarness(t, feedFetcher{body: sampleRSS}, nil)
	h.ingestor.fail = 79700
	report, err := h.sched.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, report.Dispatched)

	stats := h.pool.Stats()
	require.Equal(t, int64(1), stats.Failed)
	require.Equal(t, int64(2), stats.Succeeded)
}

func TestRunCycleFeedFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, feedFetcher{err: &harvest.FetchError{URL: feedURL, StatusCode: 503}}, nil)
	_, err := h.sched.RunCycle(context.Background())
	var fetchErr *harvest.FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Empty(t, h.ingestor.meets)
	require.Equal(t, StateIdle, h.sched.State())
}

type failingMeets struct{}

func (failingMeets) InsertMeet(context.Context, harvest.MeetDescriptor) (bool, error) {
	return false, errors.New("connection lost")
}

func (failingMeets) MeetIngested(context.Context, int64) (bool, error) {
	return false, errors.New("connection lost")
}

func (failingMeets) MarkMeetIngested(context.Context, int64, time.Time) error {
	return errors.New("connection lost")
}

func TestRunCycleStoreFailureEndsDispatch(t *testing.T) {
	t.Parallel()

	h := newHarness(t, feedFetcher{body: sampleRSS}, failingMeets{})
	report, err := h.sched.RunCycle(context.Background())
	require.ErrorContains(t, err, "connection lost")
	require.Equal(t, 0, report.Dispatched)
	require.Empty(t, h.ingestor.meets)
}

func TestRunWaitsForNextCycleAndStops(t *testing.T) {
	t.Parallel()

	h := newHarness(t, feedFetcher{body: sampleRSS}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.sched.Run(ctx) }()

	select {
	case wait := <-h.clock.waits:
		require.Equal(t, 24*time.Hour, wait)
	case <-time.After(time.Second):
		t.Fatal("scheduler never started waiting")
	}
	require.Equal(t, StateWaiting, h.sched.State())

	h.clock.fire <- time.Time{}
	select {
	case <-h.clock.waits:
	case <-time.After(time.Second):
		t.Fatal("second cycle never finished")
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
	require.Equal(t, StateIdle, h.sched.State())
	require.Len(t, h.ingestor.ingested(), 2)
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Interval: time.Hour}, nil, nil, nil, nil, nil, nil, nil)
	require.Error(t, err)
	_, err = New(Config{FeedURL: feedURL}, nil, nil, nil, nil, nil, nil, nil)
	require.Error(t, err)
}

func TestStateString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "waiting", StateWaiting.String())
	require.Equal(t, "state(9)", State(9).String())
}
