// Package memory keeps harvested entities in process memory for local runs
// and tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/trackmeet-harvester/internal/harvest"
)

type resultKey struct {
	meetID    int64
	athleteID int64
	event     harvest.EventType
}

type unresolvedKey struct {
	meetID    int64
	event     harvest.EventType
	sex       harvest.Sex
	place     int
	placed    bool
	reference string
}

func keyOfUnresolved(row harvest.UnresolvedRow) unresolvedKey {
	key := unresolvedKey{
		meetID:    row.MeetID,
		event:     row.Event,
		sex:       row.Sex,
		reference: row.RawReference,
	}
	if row.Place != nil {
		key.place, key.placed = *row.Place, true
	}
	return key
}

// Store is a mutex-guarded implementation of harvest.Store.
type Store struct {
	mu           sync.RWMutex
	meets        map[int64]harvest.MeetDescriptor
	ingested     map[int64]time.Time
	athletes     map[int64]harvest.Athlete
	schools      map[int64]harvest.School
	schoolKeys   map[string]int64
	nextSchoolID int64
	results      map[resultKey]harvest.ResultRow
	unresolved   []harvest.UnresolvedRow
	unresolvedBy map[unresolvedKey]struct{}
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		meets:        make(map[int64]harvest.MeetDescriptor),
		ingested:     make(map[int64]time.Time),
		athletes:     make(map[int64]harvest.Athlete),
		schools:      make(map[int64]harvest.School),
		schoolKeys:   make(map[string]int64),
		results:      make(map[resultKey]harvest.ResultRow),
		unresolvedBy: make(map[unresolvedKey]struct{}),
	}
}

// InsertMeet stores the descriptor unless its external ID is already present.
func (s *Store) InsertMeet(_ context.Context, meet harvest.MeetDescriptor) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.meets[meet.ExternalID]; ok {
		return false, nil
	}
	s.meets[meet.ExternalID] = meet
	return true, nil
}

// MeetIngested reports whether the meet was marked complete. Unknown meets are
// not ingested.
func (s *Store) MeetIngested(_ context.Context, id int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ingested[id]
	return ok, nil
}

// MarkMeetIngested records completion once; later calls keep the first time.
func (s *Store) MarkMeetIngested(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.meets[id]; !ok {
		return harvest.ErrNotFound
	}
	if _, ok := s.ingested[id]; !ok {
		s.ingested[id] = at
	}
	return nil
}

// GetAthlete returns harvest.ErrNotFound for unknown IDs.
func (s *Store) GetAthlete(_ context.Context, id int64) (harvest.Athlete, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	athlete, ok := s.athletes[id]
	if !ok {
		return harvest.Athlete{}, harvest.ErrNotFound
	}
	return athlete, nil
}

// InsertAthlete returns harvest.ErrDuplicate when the ID is taken.
func (s *Store) InsertAthlete(_ context.Context, athlete harvest.Athlete) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.athletes[athlete.ID]; ok {
		return harvest.ErrDuplicate
	}
	s.athletes[athlete.ID] = athlete
	return nil
}

// GetSchoolByKey looks a school up by its normalized name.
func (s *Store) GetSchoolByKey(_ context.Context, key string) (harvest.School, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.schoolKeys[key]
	if !ok {
		return harvest.School{}, harvest.ErrNotFound
	}
	return s.schools[id], nil
}

// InsertSchool assigns the next ID and returns it.
func (s *Store) InsertSchool(_ context.Context, school harvest.School) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schoolKeys[school.Key]; ok {
		return 0, harvest.ErrDuplicate
	}
	s.nextSchoolID++
	school.ID = s.nextSchoolID
	s.schools[school.ID] = school
	s.schoolKeys[school.Key] = school.ID
	return school.ID, nil
}

// InsertResults stores every row whose key is new and reports how many were
// written. Rows repeated within one call count once.
func (s *Store) InsertResults(_ context.Context, rows []harvest.ResultRow) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, row := range rows {
		key := resultKey{meetID: row.MeetID, athleteID: row.AthleteID, event: row.Event}
		if _, ok := s.results[key]; ok {
			continue
		}
		s.results[key] = row
		inserted++
	}
	return inserted, nil
}

// RecordUnresolved appends the row unless one with the same meet, event, sex,
// place and reference was already recorded.
func (s *Store) RecordUnresolved(_ context.Context, row harvest.UnresolvedRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := keyOfUnresolved(row)
	if _, ok := s.unresolvedBy[key]; ok {
		return nil
	}
	s.unresolvedBy[key] = struct{}{}
	s.unresolved = append(s.unresolved, row)
	return nil
}

// SearchAthletes matches names case-insensitively, exactly or by substring,
// ordered by name then ID.
func (s *Store) SearchAthletes(_ context.Context, name string, exact bool, limit int) ([]harvest.Athlete, error) {
	needle := strings.ToLower(strings.TrimSpace(name))
	s.mu.RLock()
	var out []harvest.Athlete
	for _, a := range s.athletes {
		hay := strings.ToLower(a.Name)
		if (exact && hay == needle) || (!exact && strings.Contains(hay, needle)) {
			out = append(out, a)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Schools returns a snapshot of stored schools ordered by ID.
func (s *Store) Schools() []harvest.School {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]harvest.School, 0, len(s.schools))
	for _, school := range s.schools {
		out = append(out, school)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Results returns a snapshot of stored result rows for one meet, ordered by
// event then place.
func (s *Store) Results(meetID int64) []harvest.ResultRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []harvest.ResultRow
	for key, row := range s.results {
		if key.meetID == meetID {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Event != out[j].Event {
			return out[i].Event < out[j].Event
		}
		return placeOf(out[i]) < placeOf(out[j])
	})
	return out
}

// Unresolved returns a snapshot of the recorded unresolved rows.
func (s *Store) Unresolved() []harvest.UnresolvedRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]harvest.UnresolvedRow(nil), s.unresolved...)
}

// Meets returns how many meet descriptors are stored.
func (s *Store) Meets() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.meets)
}

func placeOf(row harvest.ResultRow) int {
	if row.Place == nil {
		return int(^uint(0) >> 1)
	}
	return *row.Place
}

var _ harvest.Store = (*Store)(nil)
