package timewindow

import (
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar"

	"github.com/elis-salobehaj/log-ai/registry"
)

// EnumeratePaths expands a service's path template over a UTC window,
// producing the ordered, deduplicated list of candidate files to scan.
// The walk runs at the template's finest placeholder granularity (hour
// if {HH} is present, else day); every file matched by the glob
// remainder within a partition is retained. A zero-length window yields
// an empty list.
func EnumeratePaths(svc *registry.ServiceDefinition, window Window) ([]string, error) {
	if svc == nil || window.IsZeroLength() {
		return nil, nil
	}

	template := svc.PathTemplate

	// Templates without date placeholders name a fixed location; the
	// window cannot narrow them.
	if !strings.Contains(template, "{YYYY}") {
		return expandGlob(template)
	}

	step := 24 * time.Hour
	truncate := truncateToDay
	if strings.Contains(template, "{HH}") {
		step = time.Hour
		truncate = truncateToHour
	}

	var paths []string
	seen := make(map[string]struct{})

	for t := truncate(window.Start.UTC()); t.Before(window.End.UTC()); t = t.Add(step) {
		pattern := formatTemplate(template, t)
		matches, err := expandGlob(pattern)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			paths = append(paths, m)
		}
	}

	return paths, nil
}

// formatTemplate substitutes the date placeholders for one partition
// instant.
func formatTemplate(template string, t time.Time) string {
	r := strings.NewReplacer(
		"{YYYY}", t.Format("2006"),
		"{MM}", t.Format("01"),
		"{DD}", t.Format("02"),
		"{HH}", t.Format("15"),
	)
	return r.Replace(template)
}

// expandGlob resolves a pattern against the filesystem. A pattern with
// no glob metacharacters is returned as-is so a fixed path is always a
// candidate even before its file exists.
func expandGlob(pattern string) ([]string, error) {
	if !strings.ContainsAny(pattern, "*?[{") {
		return []string{pattern}, nil
	}

	matches, err := doublestar.Glob(pattern)
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func truncateToHour(t time.Time) time.Time {
	return t.Truncate(time.Hour)
}
