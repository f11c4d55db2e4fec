// Package timewindow turns a query's loose time bounds into a concrete
// UTC window and, combined with a service's path template, into the
// finite ordered list of candidate files to scan.
//
// The UTC conversion here is a hard boundary: nothing downstream of
// Resolve deals in local time or relative expressions.
package timewindow

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/elis-salobehaj/log-ai/errors"
)

// Window is a fully resolved UTC time range, start inclusive, end
// exclusive for partition walking purposes. Start == End is a valid
// empty window.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// IsZeroLength reports whether the window spans no time at all.
func (w Window) IsZeroLength() bool {
	return !w.Start.Before(w.End)
}

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Spec is the caller-facing description of a time range, before
// resolution. Exactly one of (Start+End) or Since must be supplied.
type Spec struct {
	// Start and End accept RFC 3339 timestamps, "YYYY-MM-DD HH:MM[:SS]"
	// local datetimes, bare "YYYY-MM-DD" dates, and the words "now",
	// "today", "yesterday". Local forms are interpreted in Timezone.
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
	// Since is a relative lookback from now: a Go duration ("90m",
	// "2h") or a phrase like "past 2 hours" / "last 3 days".
	Since string `json:"since,omitempty"`
	// Timezone is the IANA zone local inputs are interpreted in.
	// Empty means UTC.
	Timezone string `json:"timezone,omitempty"`
}

// Resolve converts a Spec into a UTC Window. now is injected so the
// relative forms are testable.
func Resolve(spec Spec, now time.Time) (Window, error) {
	now = now.UTC()

	loc := time.UTC
	if spec.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(spec.Timezone)
		if err != nil {
			return Window{}, errors.WrapInvalid(err, "timewindow", "Resolve",
				fmt.Sprintf("unknown timezone %q", spec.Timezone))
		}
	}

	if spec.Since != "" {
		if spec.Start != "" || spec.End != "" {
			return Window{}, errors.WrapInvalid(
				fmt.Errorf("both relative and explicit bounds supplied"),
				"timewindow", "Resolve", "ambiguous time specification")
		}
		lookback, err := parseLookback(spec.Since)
		if err != nil {
			return Window{}, errors.WrapInvalid(err, "timewindow", "Resolve", "parse relative range")
		}
		return Window{Start: now.Add(-lookback), End: now}, nil
	}

	if spec.Start == "" || spec.End == "" {
		return Window{}, errors.WrapInvalid(
			fmt.Errorf("start and end are both required"),
			"timewindow", "Resolve", "incomplete time range")
	}

	start, err := parseInstant(spec.Start, loc, now)
	if err != nil {
		return Window{}, errors.WrapInvalid(err, "timewindow", "Resolve", "parse start")
	}
	end, err := parseInstant(spec.End, loc, now)
	if err != nil {
		return Window{}, errors.WrapInvalid(err, "timewindow", "Resolve", "parse end")
	}

	if start.After(end) {
		return Window{}, errors.WrapInvalid(errors.ErrInvalidTimeRange, "timewindow", "Resolve",
			fmt.Sprintf("start %s is after end %s", start.Format(time.RFC3339), end.Format(time.RFC3339)))
	}

	return Window{Start: start.UTC(), End: end.UTC()}, nil
}

// instantLayouts are tried in order for non-keyword inputs. Layouts
// without a zone are interpreted in the spec's timezone.
var instantLayouts = []struct {
	layout string
	zoned  bool
}{
	{time.RFC3339Nano, true},
	{time.RFC3339, true},
	{"2006-01-02T15:04:05", false},
	{"2006-01-02 15:04:05", false},
	{"2006-01-02T15:04", false},
	{"2006-01-02 15:04", false},
	{"2006-01-02", false},
}

func parseInstant(input string, loc *time.Location, now time.Time) (time.Time, error) {
	trimmed := strings.TrimSpace(input)

	switch strings.ToLower(trimmed) {
	case "now":
		return now, nil
	case "today":
		local := now.In(loc)
		return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc), nil
	case "yesterday":
		local := now.In(loc).AddDate(0, 0, -1)
		return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc), nil
	}

	for _, l := range instantLayouts {
		var t time.Time
		var err error
		if l.zoned {
			t, err = time.Parse(l.layout, trimmed)
		} else {
			t, err = time.ParseInLocation(l.layout, trimmed, loc)
		}
		if err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized time %q", input)
}

// lookbackRe matches phrases like "past 2 hours", "last 1 day",
// "past 30 minutes".
var lookbackRe = regexp.MustCompile(`^(?:past|last)\s+(\d+)\s*(minute|min|hour|hr|day|week)s?$`)

func parseLookback(input string) (time.Duration, error) {
	trimmed := strings.ToLower(strings.TrimSpace(input))

	if d, err := time.ParseDuration(trimmed); err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("lookback must be positive, got %s", d)
		}
		return d, nil
	}

	m := lookbackRe.FindStringSubmatch(trimmed)
	if m == nil {
		return 0, fmt.Errorf("unrecognized relative range %q", input)
	}

	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid count in relative range %q", input)
	}

	var unit time.Duration
	switch m[2] {
	case "minute", "min":
		unit = time.Minute
	case "hour", "hr":
		unit = time.Hour
	case "day":
		unit = 24 * time.Hour
	case "week":
		unit = 7 * 24 * time.Hour
	}

	return time.Duration(n) * unit, nil
}
