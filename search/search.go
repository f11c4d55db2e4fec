// Package search runs one admitted search to completion: per-service
// scans in parallel under a per-request ceiling, a hard wall-clock
// budget for the whole scan, and partial-result preservation when the
// budget expires or a matcher crashes. Matches already collected are
// never discarded by a later failure.
package search

import (
	"fmt"
	"time"

	"github.com/elis-salobehaj/log-ai/errors"
	"github.com/elis-salobehaj/log-ai/matcher"
	"github.com/elis-salobehaj/log-ai/registry"
	"github.com/elis-salobehaj/log-ai/timewindow"
)

// MatchRecord is one matched line, tagged with the owning service.
type MatchRecord = matcher.MatchRecord

// OutputShape selects the result encoding a client asked for. It is
// part of the cache fingerprint so differently shaped responses do not
// collide.
type OutputShape string

// Supported output shapes.
const (
	ShapeText OutputShape = "text"
	ShapeJSON OutputShape = "json"
)

// NormalizeShape applies the text default and rejects shapes the
// engine cannot render.
func NormalizeShape(s OutputShape) (OutputShape, error) {
	switch s {
	case "":
		return ShapeText, nil
	case ShapeText, ShapeJSON:
		return s, nil
	}
	return "", errors.WrapInvalid(fmt.Errorf("unknown output shape %q", s),
		"search", "NormalizeShape", "validate shape")
}

// RenderText formats one record the way text-shaped responses carry
// it: "[file:line] content".
func RenderText(rec MatchRecord) string {
	return fmt.Sprintf("[%s:%d] %s", rec.File, rec.Line, rec.Content)
}

// RenderTextAll formats a record slice, preserving order.
func RenderTextAll(recs []MatchRecord) []string {
	if len(recs) == 0 {
		return nil
	}
	lines := make([]string, len(recs))
	for i, rec := range recs {
		lines[i] = RenderText(rec)
	}
	return lines
}

// Query is one fully resolved search: concrete services, a literal
// pattern, and a UTC window.
type Query struct {
	Services []registry.ServiceDefinition
	Pattern  string
	Window   timewindow.Window
	Shape    OutputShape
}

// ServiceNames returns the names of the queried services.
func (q Query) ServiceNames() []string {
	names := make([]string, len(q.Services))
	for i, svc := range q.Services {
		names[i] = svc.Name
	}
	return names
}

// State names a terminal executor state.
type State string

// Executor states. A search is admitted before Execute is called and
// released by the caller after it returns; Execute itself moves
// through Scanning to one of the terminal states.
const (
	StateAdmitted  State = "admitted"
	StateScanning  State = "scanning"
	StateCompleted State = "completed"
	StateTimedOut  State = "timed_out"
	StateCancelled State = "cancelled"
	StateCrashed   State = "crashed"
)

// Diagnostics describes how a search actually went, including the
// partial cases a caller must be told about.
type Diagnostics struct {
	State         State          `json:"state"`
	Partial       bool           `json:"partial"`
	PerService    map[string]int `json:"per_service"`
	FilesScanned  int            `json:"files_scanned"`
	Elapsed       time.Duration  `json:"elapsed"`
	CacheHit      bool           `json:"cache_hit"`
	Failures      []string       `json:"failures,omitempty"`
	ArtifactError string         `json:"artifact_error,omitempty"`
}

// Progress is a point-in-time snapshot streamed to interactive
// clients while a search runs.
type Progress struct {
	Matches      int           `json:"matches"`
	ServicesDone int           `json:"services_done"`
	ServiceCount int           `json:"service_count"`
	Elapsed      time.Duration `json:"elapsed"`
}
