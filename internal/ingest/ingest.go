// Package ingest turns one meet into stored result rows.
//
// Both per-sex views of a meet are fetched and extracted concurrently. Rows for
// athletes already in the store are written as one batch. Rows for unknown
// athletes are grouped per athlete and handed to the task scheduler as
// delayed follow-ups that resolve the athlete and then write its rows, so
// athlete page fetches spread out over the time left before the next poll.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/trackmeet-harvester/internal/dispatcher"
	"github.com/JakeFAU/trackmeet-harvester/internal/extract"
	"github.com/JakeFAU/trackmeet-harvester/internal/harvest"
	"github.com/JakeFAU/trackmeet-harvester/internal/metrics"
	"github.com/JakeFAU/trackmeet-harvester/internal/resolve"
)

// Resolver is the part of the entity resolver the coordinator needs.
type Resolver interface {
	Known(ctx context.Context, id int64) (bool, error)
	ResolveAthlete(ctx context.Context, ref, teamRef string, sex harvest.Sex) (int64, error)
}

// Reasons recorded on unresolved rows.
const (
	ReasonNoAthleteLink = "no athlete link"
	ReasonBadReference  = "malformed athlete reference"
)

// Summary counts what happened to one meet's rows.
type Summary struct {
	Rows       int
	Stored     int
	Duplicate  int
	Pending    int
	Unresolved int
	Skipped    int
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithJitter replaces the follow-up delay source.
func WithJitter(jitter func(upper time.Duration) time.Duration) Option {
	return func(c *Coordinator) {
		c.jitter = jitter
	}
}

// Coordinator ingests meets.
type Coordinator struct {
	fetcher  harvest.Fetcher
	resolver Resolver
	results  harvest.ResultStore
	clock    harvest.Clock
	jitter   func(upper time.Duration) time.Duration
	logger   *zap.Logger
}

// New builds a Coordinator.
func New(
	fetcher harvest.Fetcher,
	resolver Resolver,
	results harvest.ResultStore,
	clock harvest.Clock,
	logger *zap.Logger,
	opts ...Option,
) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		fetcher:  fetcher,
		resolver: resolver,
		results:  results,
		clock:    clock,
		jitter:   dispatcher.UniformDelay,
		logger:   logger.Named("ingest"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ViewURL returns the per-sex results page for a meet, on the same host as
// the meet's source link.
func ViewURL(meet harvest.MeetDescriptor, sex harvest.Sex) (string, error) {
	src, err := url.Parse(meet.SourceURL)
	if err != nil || src.Host == "" {
		return "", &harvest.ReferenceFormatError{Kind: "meet", Reference: meet.SourceURL}
	}
	view := url.URL{
		Scheme: src.Scheme,
		Host:   src.Host,
		Path:   fmt.Sprintf("/results/%d/%s/", meet.ExternalID, sex.PathSegment()),
	}
	return view.String(), nil
}

type pendingAthlete struct {
	ref     string
	teamRef string
	sex     harvest.Sex
	rows    []harvest.RawRow
}

// IngestMeet fetches both views of meet, stores rows for known athletes, and
// schedules follow-ups on sched for the rest. Follow-up delays are drawn from
// the time left until deadline. Only losing both views or a store failure is
// returned as an error; row-level problems are logged and recorded.
func (c *Coordinator) IngestMeet(
	ctx context.Context,
	meet harvest.MeetDescriptor,
	sched harvest.TaskScheduler,
	deadline time.Time,
) (Summary, error) {
	logger := c.logger.With(zap.Int64("meet_id", meet.ExternalID))
	rows, err := c.extractViews(ctx, meet, logger)
	if err != nil {
		return Summary{}, err
	}

	var (
		sum     Summary
		batch   []harvest.ResultRow
		pending = make(map[int64]*pendingAthlete)
		order   []int64
	)
	for _, row := range rows {
		sum.Rows++
		perf, ok := row.Performance.(harvest.TimedPerformance)
		if !ok {
			sum.Skipped++
			continue
		}
		if row.AthleteRef == "" {
			sum.Unresolved++
			if err := c.recordUnresolved(ctx, meet, row, perf, ReasonNoAthleteLink); err != nil {
				return sum, err
			}
			continue
		}
		id, err := resolve.AthleteID(row.AthleteRef)
		if err != nil {
			sum.Unresolved++
			if err := c.recordUnresolved(ctx, meet, row, perf, ReasonBadReference); err != nil {
				return sum, err
			}
			continue
		}
		known, err := c.resolver.Known(ctx, id)
		if err != nil {
			return sum, fmt.Errorf("meet %d: %w", meet.ExternalID, err)
		}
		if known {
			batch = append(batch, resultRow(meet, id, row, perf))
			continue
		}
		p, ok := pending[id]
		if !ok {
			p = &pendingAthlete{ref: row.AthleteRef, teamRef: row.TeamRef, sex: row.Sex}
			pending[id] = p
			order = append(order, id)
		}
		p.rows = append(p.rows, row)
		sum.Pending++
	}

	if len(batch) > 0 {
		n, err := c.results.InsertResults(ctx, batch)
		if err != nil {
			return sum, fmt.Errorf("meet %d: insert results: %w", meet.ExternalID, err)
		}
		sum.Stored = n
		sum.Duplicate = len(batch) - n
	}
	metrics.ObserveRows(metrics.RowStored, sum.Stored)
	metrics.ObserveRows(metrics.RowDuplicate, sum.Duplicate)
	metrics.ObserveRows(metrics.RowUnresolved, sum.Unresolved)
	metrics.ObserveRows(metrics.RowSkipped, sum.Skipped)
	metrics.ObserveRows(metrics.RowPending, sum.Pending)

	window := deadline.Sub(c.clock.Now())
	for _, id := range order {
		p := pending[id]
		sched.Schedule("athlete", c.jitter(window), c.followUp(meet, id, p))
	}

	logger.Info("meet ingested",
		zap.Int("rows", sum.Rows),
		zap.Int("stored", sum.Stored),
		zap.Int("duplicate", sum.Duplicate),
		zap.Int("pending", sum.Pending),
		zap.Int("athletes_scheduled", len(order)),
		zap.Int("unresolved", sum.Unresolved),
		zap.Int("skipped", sum.Skipped),
	)
	return sum, nil
}

// extractViews fetches the men's and women's views concurrently. One view
// failing is logged; both failing is an error.
func (c *Coordinator) extractViews(
	ctx context.Context,
	meet harvest.MeetDescriptor,
	logger *zap.Logger,
) ([]harvest.RawRow, error) {
	sexes := []harvest.Sex{harvest.SexMale, harvest.SexFemale}
	views := make([][]harvest.RawRow, len(sexes))
	errs := make([]error, len(sexes))

	// No shared context: one view failing must not cancel the other.
	var g errgroup.Group
	for i, sex := range sexes {
		g.Go(func() error {
			rows, err := c.extractView(ctx, meet, sex, logger)
			if err != nil {
				logger.Warn("meet view failed", zap.String("sex", string(sex)), zap.Error(err))
				errs[i] = fmt.Errorf("%s view: %w", sex, err)
				return errs[i]
			}
			views[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		failed := 0
		for _, viewErr := range errs {
			if viewErr != nil {
				failed++
			}
		}
		if failed == len(sexes) {
			return nil, fmt.Errorf("meet %d: no view could be read: %w", meet.ExternalID, errors.Join(errs...))
		}
	}

	var rows []harvest.RawRow
	for _, view := range views {
		rows = append(rows, view...)
	}
	return rows, nil
}

func (c *Coordinator) extractView(
	ctx context.Context,
	meet harvest.MeetDescriptor,
	sex harvest.Sex,
	logger *zap.Logger,
) ([]harvest.RawRow, error) {
	viewURL, err := ViewURL(meet, sex)
	if err != nil {
		return nil, err
	}
	page, err := c.fetcher.Fetch(ctx, viewURL)
	if err != nil {
		return nil, err
	}
	doc, err := page.Document()
	if err != nil {
		return nil, err
	}
	out := extract.Extract(doc, sex)
	for _, issue := range out.Issues {
		logger.Warn("skipped table content", zap.String("sex", string(sex)), zap.Error(issue))
	}
	metrics.ObserveRows(metrics.RowSkipped, len(out.Issues))
	if out.Continuations > 0 || out.FieldTables > 0 {
		logger.Debug("skipped blocks",
			zap.String("sex", string(sex)),
			zap.Int("continuations", out.Continuations),
			zap.Int("field_tables", out.FieldTables),
		)
	}
	return out.Rows, nil
}

// followUp resolves one unknown athlete and stores the rows waiting on it.
func (c *Coordinator) followUp(meet harvest.MeetDescriptor, id int64, p *pendingAthlete) harvest.Task {
	return func(ctx context.Context) error {
		athleteID, err := c.resolver.ResolveAthlete(ctx, p.ref, p.teamRef, p.sex)
		if err != nil {
			var entityErr *harvest.EntityFetchError
			var refErr *harvest.ReferenceFormatError
			if errors.As(err, &entityErr) || errors.As(err, &refErr) {
				for _, row := range p.rows {
					perf, _ := row.Performance.(harvest.TimedPerformance)
					if recErr := c.recordUnresolved(ctx, meet, row, perf, err.Error()); recErr != nil {
						return recErr
					}
				}
				metrics.ObserveRows(metrics.RowUnresolved, len(p.rows))
			}
			return fmt.Errorf("athlete %d: %w", id, err)
		}

		batch := make([]harvest.ResultRow, 0, len(p.rows))
		for _, row := range p.rows {
			perf, _ := row.Performance.(harvest.TimedPerformance)
			batch = append(batch, resultRow(meet, athleteID, row, perf))
		}
		n, err := c.results.InsertResults(ctx, batch)
		if err != nil {
			return fmt.Errorf("athlete %d: insert results: %w", id, err)
		}
		metrics.ObserveRows(metrics.RowStored, n)
		metrics.ObserveRows(metrics.RowDuplicate, len(batch)-n)
		return nil
	}
}

func (c *Coordinator) recordUnresolved(
	ctx context.Context,
	meet harvest.MeetDescriptor,
	row harvest.RawRow,
	perf harvest.TimedPerformance,
	reason string,
) error {
	err := c.results.RecordUnresolved(ctx, harvest.UnresolvedRow{
		MeetID:       meet.ExternalID,
		Event:        row.Event,
		Sex:          row.Sex,
		Place:        row.Place,
		Mark:         perf.Seconds,
		RawReference: row.AthleteRef,
		Reason:       reason,
	})
	if err != nil {
		return fmt.Errorf("meet %d: record unresolved: %w", meet.ExternalID, err)
	}
	return nil
}

func resultRow(meet harvest.MeetDescriptor, athleteID int64, row harvest.RawRow, perf harvest.TimedPerformance) harvest.ResultRow {
	return harvest.ResultRow{
		MeetID:       meet.ExternalID,
		AthleteID:    athleteID,
		Event:        row.Event,
		Sex:          row.Sex,
		MeetDate:     meet.Date,
		Place:        row.Place,
		Mark:         perf.Seconds,
		RawReference: row.AthleteRef,
	}
}
