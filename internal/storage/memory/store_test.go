package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/trackmeet-harvester/internal/harvest"
)

func TestInsertMeetIsIdempotent(t *testing.T) {
	t.Parallel()

	store := New()
	ctx := context.Background()
	inserted, err := store.InsertMeet(ctx, harvest.MeetDescriptor{ExternalID: 7})
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = store.InsertMeet(ctx, harvest.MeetDescriptor{ExternalID: 7, Title: "again"})
	require.NoError(t, err)
	require.False(t, inserted)
	require.Equal(t, 1, store.Meets())
}

func TestSchoolKeysAreUnique(t *testing.T) {
	t.Parallel()

	store := New()
	ctx := context.Background()
	id, err := store.InsertSchool(ctx, harvest.School{Name: "Pomona-Pitzer", Key: "pomona-pitzer"})
	require.NoError(t, err)
	require.Equal(t, int64(1), id)

	_, err = store.InsertSchool(ctx, harvest.School{Name: "POMONA-PITZER", Key: "pomona-pitzer"})
	require.ErrorIs(t, err, harvest.ErrDuplicate)

	got, err := store.GetSchoolByKey(ctx, "pomona-pitzer")
	require.NoError(t, err)
	require.Equal(t, "Pomona-Pitzer", got.Name)

	_, err = store.GetSchoolByKey(ctx, "caltech")
	require.ErrorIs(t, err, harvest.ErrNotFound)
}

func TestInsertResultsSkipsExistingKeys(t *testing.T) {
	t.Parallel()

	store := New()
	ctx := context.Background()
	row := harvest.ResultRow{MeetID: 1, AthleteID: 2, Event: harvest.Event5000m}
	n, err := store.InsertResults(ctx, []harvest.ResultRow{row, row})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	other := harvest.ResultRow{MeetID: 1, AthleteID: 2, Event: harvest.Event1500m}
	n, err = store.InsertResults(ctx, []harvest.ResultRow{row, other})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Len(t, store.Results(1), 2)
}

func TestSearchAthletes(t *testing.T) {
	t.Parallel()

	store := New()
	ctx := context.Background()
	require.NoError(t, store.InsertAthlete(ctx, harvest.Athlete{ID: 3, Name: "Ada Runner"}))
	require.NoError(t, store.InsertAthlete(ctx, harvest.Athlete{ID: 1, Name: "Ada Lovelace"}))
	require.ErrorIs(t, store.InsertAthlete(ctx, harvest.Athlete{ID: 1, Name: "x"}), harvest.ErrDuplicate)

	got, err := store.SearchAthletes(ctx, "ada", false, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, int64(1), got[0].ID)

	got, err = store.SearchAthletes(ctx, "ada runner", true, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, int64(3), got[0].ID)

	got, err = store.SearchAthletes(ctx, "ada", false, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestMeetIngestedTracksCompletion(t *testing.T) {
	t.Parallel()

	store := New()
	ctx := context.Background()
	require.ErrorIs(t, store.MarkMeetIngested(ctx, 7, time.Now()), harvest.ErrNotFound)

	_, err := store.InsertMeet(ctx, harvest.MeetDescriptor{ExternalID: 7})
	require.NoError(t, err)
	done, err := store.MeetIngested(ctx, 7)
	require.NoError(t, err)
	require.False(t, done)

	require.NoError(t, store.MarkMeetIngested(ctx, 7, time.Now()))
	require.NoError(t, store.MarkMeetIngested(ctx, 7, time.Now()))
	done, err = store.MeetIngested(ctx, 7)
	require.NoError(t, err)
	require.True(t, done)
}

func TestRecordUnresolvedSkipsRepeats(t *testing.T) {
	t.Parallel()

	store := New()
	ctx := context.Background()
	first, second := 1, 2
	row := harvest.UnresolvedRow{MeetID: 1, Event: harvest.Event4x400, Sex: harvest.SexMale, Place: &first, Reason: "no athlete link"}
	require.NoError(t, store.RecordUnresolved(ctx, row))

	again := row
	again.Reason = "different wording"
	require.NoError(t, store.RecordUnresolved(ctx, again))

	other := row
	other.Place = &second
	require.NoError(t, store.RecordUnresolved(ctx, other))

	unplaced := row
	unplaced.Place = nil
	require.NoError(t, store.RecordUnresolved(ctx, unplaced))
	require.NoError(t, store.RecordUnresolved(ctx, unplaced))

	got := store.Unresolved()
	require.Len(t, got, 3)
	require.Equal(t, "no athlete link", got[0].Reason)
}
