package timewindow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elis-salobehaj/log-ai/errors"
)

var testNow = time.Date(2026, 1, 24, 12, 30, 0, 0, time.UTC)

func TestResolveExplicitUTC(t *testing.T) {
	w, err := Resolve(Spec{
		Start: "2026-01-24T10:00:00Z",
		End:   "2026-01-24T11:00:00Z",
	}, testNow)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 1, 24, 10, 0, 0, 0, time.UTC), w.Start)
	assert.Equal(t, time.Date(2026, 1, 24, 11, 0, 0, 0, time.UTC), w.End)
	assert.Equal(t, time.UTC, w.Start.Location())
	assert.Equal(t, time.UTC, w.End.Location())
}

func TestResolveLocalTimezone(t *testing.T) {
	// 10:00 in Toronto during winter is 15:00 UTC.
	w, err := Resolve(Spec{
		Start:    "2026-01-24 10:00",
		End:      "2026-01-24 11:00",
		Timezone: "America/Toronto",
	}, testNow)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 1, 24, 15, 0, 0, 0, time.UTC), w.Start)
	assert.Equal(t, time.Date(2026, 1, 24, 16, 0, 0, 0, time.UTC), w.End)
}

func TestResolveDateOnly(t *testing.T) {
	w, err := Resolve(Spec{Start: "2026-01-23", End: "2026-01-24"}, testNow)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 1, 23, 0, 0, 0, 0, time.UTC), w.Start)
	assert.Equal(t, 24*time.Hour, w.Duration())
}

func TestResolveKeywords(t *testing.T) {
	w, err := Resolve(Spec{Start: "yesterday", End: "now"}, testNow)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 1, 23, 0, 0, 0, 0, time.UTC), w.Start)
	assert.Equal(t, testNow, w.End)

	w, err = Resolve(Spec{Start: "today", End: "now"}, testNow)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 24, 0, 0, 0, 0, time.UTC), w.Start)
}

func TestResolveRelative(t *testing.T) {
	tests := []struct {
		since string
		want  time.Duration
	}{
		{"2h", 2 * time.Hour},
		{"90m", 90 * time.Minute},
		{"past 2 hours", 2 * time.Hour},
		{"last 3 days", 72 * time.Hour},
		{"past 30 minutes", 30 * time.Minute},
		{"last 1 week", 7 * 24 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.since, func(t *testing.T) {
			w, err := Resolve(Spec{Since: tt.since}, testNow)
			require.NoError(t, err)
			assert.Equal(t, testNow, w.End)
			assert.Equal(t, tt.want, w.Duration())
			assert.Equal(t, time.UTC, w.Start.Location())
		})
	}
}

func TestResolveInvertedRange(t *testing.T) {
	_, err := Resolve(Spec{
		Start: "2026-01-24T11:00:00Z",
		End:   "2026-01-24T10:00:00Z",
	}, testNow)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidTimeRange))
	assert.True(t, errors.IsInvalid(err))
}

func TestResolveZeroLengthAllowed(t *testing.T) {
	w, err := Resolve(Spec{
		Start: "2026-01-24T10:00:00Z",
		End:   "2026-01-24T10:00:00Z",
	}, testNow)
	require.NoError(t, err)
	assert.True(t, w.IsZeroLength())
}

func TestResolveRejectsAmbiguousSpec(t *testing.T) {
	_, err := Resolve(Spec{Since: "2h", Start: "2026-01-24T10:00:00Z"}, testNow)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestResolveRejectsIncomplete(t *testing.T) {
	_, err := Resolve(Spec{Start: "2026-01-24T10:00:00Z"}, testNow)
	require.Error(t, err)

	_, err = Resolve(Spec{}, testNow)
	require.Error(t, err)
}

func TestResolveRejectsGarbage(t *testing.T) {
	_, err := Resolve(Spec{Start: "not a time", End: "now"}, testNow)
	require.Error(t, err)

	_, err = Resolve(Spec{Since: "sometime recently"}, testNow)
	require.Error(t, err)

	_, err = Resolve(Spec{Since: "-2h"}, testNow)
	require.Error(t, err)
}

func TestResolveUnknownTimezone(t *testing.T) {
	_, err := Resolve(Spec{
		Start:    "2026-01-24 10:00",
		End:      "2026-01-24 11:00",
		Timezone: "Mars/Olympus_Mons",
	}, testNow)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}
