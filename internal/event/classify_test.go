package event

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/trackmeet-harvester/internal/harvest"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		title string
		want  harvest.EventType
	}{
		{"Men's 5000 Meters", harvest.Event5000m},
		{"Women's 4 x 400 Meter Relay", harvest.Event4x400},
		{"Women's Pole Vault", harvest.EventPoleVault},
		{"Men's 100 Meters", harvest.Event100m},
		{"Women's 100 Hurdles", harvest.Event100mH},
		{"Women's 100 Meter Hurdles", harvest.Event100mH},
		{"Men's 110 Hurdles", harvest.Event110mH},
		{"Men's 400 Meters Preliminaries", harvest.Event400m},
		{"Men's 400 Hurdles Finals", harvest.Event400mH},
		{"Men's 3000 Steeplechase", harvest.Event3000mSC},
		{"Women's 3000 Meters", harvest.Event3000m},
		{"Men's 1500 Meters Heat 2", harvest.Event1500m},
		{"Men's 4 x 100m Relay", harvest.Event4x100},
		{"Men's 10,000 Meters", harvest.Event10000m},
		{"Women's 10000 Meters", harvest.Event10000m},
		{"Men's Triple Jump", harvest.EventTripleJump},
		{"Men's Shot Put", harvest.EventShotPut},
		{"Women’s Heptathlon", harvest.EventHeptathlon},
	}
	for _, tc := range cases {
		got, err := Classify(tc.title)
		require.NoError(t, err, tc.title)
		require.Equal(t, tc.want, got, tc.title)
	}
}

func TestClassifyRejects(t *testing.T) {
	t.Parallel()

	for _, title := range []string{
		"Women's Competitive Rowing",
		"Men's 60 Meters",
		"Men's 200 Hurdles",
		"Men's 5000 Racewalk",
		"Women's 4 x 800 Meter Relay",
		"",
	} {
		_, err := Classify(title)
		var classErr *harvest.UnclassifiableEventError
		require.ErrorAs(t, err, &classErr, title)
		require.Equal(t, title, classErr.Title)
	}
}

func TestStrip(t *testing.T) {
	t.Parallel()

	require.Equal(t, "5000 Meters", Strip("Men's  5000 Meters"))
	require.Equal(t, "400 Hurdles", Strip("Women's 400 Hurdles Preliminaries"))
	require.Equal(t, "100 Meters", Strip("Womens 100 Meters Heat 3"))
}

func TestDistanceRule(t *testing.T) {
	t.Parallel()

	et, ok, err := classifyDistance("800 Meters")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, harvest.Event800m, et)

	_, ok, err = classifyDistance("4 x 400 Relay")
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = classifyDistance("10,000 Meters")
	require.NoError(t, err)
	require.False(t, ok, "comma-grouped distances fall through to the long-form rule")

	_, _, err = classifyDistance("3000 Hurdles")
	require.Error(t, err)
}

func TestRelayRule(t *testing.T) {
	t.Parallel()

	et, ok, err := classifyRelay("4x100 Relay")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, harvest.Event4x100, et)

	_, ok, err = classifyRelay("Distance Medley Relay")
	require.NoError(t, err)
	require.False(t, ok)

	_, _, err = classifyRelay("4 x 200 Relay")
	require.Error(t, err)
}

func TestFieldRule(t *testing.T) {
	t.Parallel()

	et, ok, err := classifyField("Hammer Throw")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, harvest.EventHammer, et)
	require.True(t, et.IsField())

	_, ok, _ = classifyField("Weight Throw")
	require.False(t, ok)
}

func TestLongFormRule(t *testing.T) {
	t.Parallel()

	et, ok, err := classifyLongForm("10,000 Meters")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, harvest.Event10000m, et)

	_, ok, _ = classifyLongForm("10,000 Meter Run")
	require.False(t, ok)
}
