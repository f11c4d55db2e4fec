// Package matcher is the boundary to the external line-oriented search
// process. The engine never loads log files itself; it hands a pattern
// and a file list to a matcher and consumes matched lines as a stream,
// so a crashing or killed matcher costs only the lines not yet emitted.
package matcher

import (
	"context"
)

// MatchRecord is one matched line. Service is filled in by the caller,
// which knows which service the scanned files belong to.
type MatchRecord struct {
	Service string `json:"service"`
	File    string `json:"file"`
	Line    int    `json:"line"`
	Content string `json:"content"`
}

// Matcher streams matched lines for a pattern over a set of files.
// Implementations must emit records incrementally, honor ctx
// cancellation, and leave already-emitted records standing on any
// failure.
type Matcher interface {
	Search(ctx context.Context, pattern string, files []string, emit func(MatchRecord)) error
}

// Func adapts a function to the Matcher interface, mostly for tests.
type Func func(ctx context.Context, pattern string, files []string, emit func(MatchRecord)) error

// Search implements Matcher.
func (f Func) Search(ctx context.Context, pattern string, files []string, emit func(MatchRecord)) error {
	return f(ctx, pattern, files, emit)
}
