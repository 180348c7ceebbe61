package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/trackmeet-harvester/internal/harvest"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel>
<title>Latest Results</title>
<link>https://www.tfrrs.org</link>
<description>Recently published results</description>
<item><title>2024 Spring Invitational</title><description>April 27-28, 2024</description><link>https://www.tfrrs.org/results/79700/2024_Spring_Invitational</link></item>
<item><title>Broken Date Open</title><description>sometime soon</description><link>https://www.tfrrs.org/results/79701/Broken</link></item>
<item><title>Conference Championships</title><description>May 3, 2024 at Claremont, CA</description><link>https://www.tfrrs.org/results/79702/Conf</link></item>
</channel></rss>`

func TestParserItems(t *testing.T) {
	t.Parallel()

	items, err := NewParser().Items([]byte(sampleRSS))
	require.NoError(t, err)
	require.Len(t, items, 3)
	require.Equal(t, "2024 Spring Invitational", items[0].Title)
	require.Equal(t, "April 27-28, 2024", items[0].Description)
}

func TestParserItemsRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := NewParser().Items([]byte("not a feed"))
	require.Error(t, err)
}

func TestDescriptor(t *testing.T) {
	t.Parallel()

	meet, err := Descriptor(Item{
		Title:       "2024 Spring Invitational",
		Description: "April 27-28, 2024",
		Link:        "https://www.tfrrs.org/results/79700/2024_Spring_Invitational",
	})
	require.NoError(t, err)
	require.Equal(t, int64(79700), meet.ExternalID)
	require.Equal(t, time.Date(2024, time.April, 27, 0, 0, 0, 0, time.UTC), meet.Date)

	_, err = Descriptor(Item{Description: "April 27, 2024", Link: "https://www.tfrrs.org/results/1"})
	require.Error(t, err)
}

func TestParseMeetDate(t *testing.T) {
	t.Parallel()

	got, err := ParseMeetDate("May 3, 2024 at Claremont, CA")
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, time.May, 3, 0, 0, 0, 0, time.UTC), got)

	got, err = ParseMeetDate("March 9 - 11, 2023")
	require.NoError(t, err)
	require.Equal(t, 9, got.Day())

	got, err = ParseMeetDate("April 30 - May 2, 2024")
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, time.April, 30, 0, 0, 0, 0, time.UTC), got)

	got, err = ParseMeetDate("May 31-June 1, 2024")
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, time.May, 31, 0, 0, 0, 0, time.UTC), got)

	for _, bad := range []string{"sometime soon", "Smarch 4, 2024", "2024-04-27"} {
		_, err := ParseMeetDate(bad)
		var dateErr *harvest.DateFormatError
		require.ErrorAs(t, err, &dateErr, bad)
	}
}

func TestParseMeetID(t *testing.T) {
	t.Parallel()

	id, err := ParseMeetID("https://www.tfrrs.org/results/xc/23456/Regional")
	require.NoError(t, err)
	require.Equal(t, int64(23456), id)

	_, err = ParseMeetID("https://www.tfrrs.org/teams/abc")
	var refErr *harvest.ReferenceFormatError
	require.ErrorAs(t, err, &refErr)
	require.Equal(t, "meet", refErr.Kind)
}
