package harvest

import (
	"time"
)

// Sex tags a result view and the athletes found in it.
type Sex string

// Sex values as stored.
const (
	SexMale   Sex = "M"
	SexFemale Sex = "F"
)

// PathSegment returns the per-sex segment used by meet result URLs.
func (s Sex) PathSegment() string {
	if s == SexFemale {
		return "f"
	}
	return "m"
}

// Division is a school's competitive division. The zero value means unknown.
type Division string

// Known divisions.
const (
	DivisionUnknown  Division = ""
	DivisionNCAADI   Division = "NCAA DI"
	DivisionNCAADII  Division = "NCAA DII"
	DivisionNCAADIII Division = "NCAA DIII"
	DivisionNAIA     Division = "NAIA"
)

// MeetDescriptor identifies one published meet. It is written once.
type MeetDescriptor struct {
	ExternalID int64
	Title      string
	Date       time.Time
	SourceURL  string
}

// Athlete is keyed by the source-assigned identifier.
type Athlete struct {
	ID        int64
	Name      string
	ClassYear int // 0 when the detail page does not publish one
	SchoolID  int64
	Sex       Sex
}

// School is keyed by a store-generated ID; Key is the normalized display name
// used for dedup.
type School struct {
	ID         int64
	Name       string
	Key        string
	Division   Division
	Conference string
}

// ResultRow is one stored performance. Place and Mark are nil when absent.
type ResultRow struct {
	MeetID       int64
	AthleteID    int64
	Event        EventType
	Sex          Sex
	MeetDate     time.Time
	Place        *int
	Mark         *float64
	RawReference string
}

// UnresolvedRow records a parsed row whose athlete could not be mapped to a
// stored identity.
type UnresolvedRow struct {
	MeetID       int64
	Event        EventType
	Sex          Sex
	Place        *int
	Mark         *float64
	RawReference string
	Reason       string
}

// Performance is the shape of a row's outcome.
type Performance interface {
	isPerformance()
}

// TimedPerformance carries a normalized mark; Seconds is nil for sentinels.
type TimedPerformance struct {
	Seconds *float64
	Raw     string
}

// UnsupportedFieldPerformance is a distance or height mark this pipeline does
// not ingest.
type UnsupportedFieldPerformance struct {
	Raw string
}

func (TimedPerformance) isPerformance() {}

func (UnsupportedFieldPerformance) isPerformance() {}

// RawRow is one extracted table row before entity resolution.
type RawRow struct {
	Event       EventType
	EventTitle  string
	Sex         Sex
	Place       *int
	Performance Performance
	AthleteRef  string // absolute link to the athlete page, empty when unlinked
	AthleteName string
	TeamRef     string // absolute link to the team page, empty when unlinked
	TeamName    string
}
