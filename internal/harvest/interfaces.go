package harvest

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Page is a fetched source document.
type Page struct {
	URL        string
	StatusCode int
	Body       []byte
}

// Document parses the page body as HTML. Relative links resolve against URL.
func (p Page) Document() (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(p.Body))
	if err != nil {
		return nil, fmt.Errorf("parse document %s: %w", p.URL, err)
	}
	if u, err := url.Parse(p.URL); err == nil {
		doc.Url = u
	}
	return doc, nil
}

// Fetcher retrieves a URL. Failures are reported as *FetchError.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}

// MeetStore persists meet descriptors. A repeated external ID is a no-op and
// reports inserted=false. Completion is tracked apart from the descriptor so a
// meet whose ingestion failed or never ran is dispatched again.
type MeetStore interface {
	InsertMeet(ctx context.Context, meet MeetDescriptor) (inserted bool, err error)
	MeetIngested(ctx context.Context, id int64) (bool, error)
	MarkMeetIngested(ctx context.Context, id int64, at time.Time) error
}

// EntityStore holds athletes and schools. Writes must go through the resolver.
type EntityStore interface {
	GetAthlete(ctx context.Context, id int64) (Athlete, error)
	InsertAthlete(ctx context.Context, athlete Athlete) error
	GetSchoolByKey(ctx context.Context, key string) (School, error)
	InsertSchool(ctx context.Context, school School) (int64, error)
}

// ResultStore persists result rows. InsertResults is atomic per call and skips
// rows whose (meet, athlete, event) key already exists.
type ResultStore interface {
	InsertResults(ctx context.Context, rows []ResultRow) (inserted int, err error)
	RecordUnresolved(ctx context.Context, row UnresolvedRow) error
}

// AthleteQuery is the read side exposed to the HTTP layer.
type AthleteQuery interface {
	SearchAthletes(ctx context.Context, name string, exact bool, limit int) ([]Athlete, error)
}

// Store is the full persistence capability.
type Store interface {
	MeetStore
	EntityStore
	ResultStore
	AthleteQuery
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Task is a unit of delayed work.
type Task func(ctx context.Context) error

// TaskScheduler accepts delayed follow-up work. Implementations run tasks
// concurrently and never nest them.
type TaskScheduler interface {
	Schedule(name string, delay time.Duration, task Task)
}
