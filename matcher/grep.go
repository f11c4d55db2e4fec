package matcher

import (
	"bufio"
	"bytes"
	"context"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/elis-salobehaj/log-ai/errors"
)

// maxLineBytes bounds a single matched line; log lines can carry large
// serialized payloads.
const maxLineBytes = 1 << 20

// Grep runs the system grep as the matcher subprocess: one invocation
// per file batch, case-insensitive, with file name and line number on
// every match.
//
// Exit code semantics follow grep: 1 with empty stderr means no
// matches, any other failure with stderr output (or a launch failure)
// means the matcher crashed. Missing files are filtered before launch
// and suppressed with -s, so a file rotated away mid-scan does not
// count as a crash.
type Grep struct {
	binary string
	logger *slog.Logger
}

// GrepOption configures a Grep matcher.
type GrepOption func(*Grep)

// WithBinary overrides the grep binary path.
func WithBinary(path string) GrepOption {
	return func(g *Grep) {
		if path != "" {
			g.binary = path
		}
	}
}

// WithGrepLogger sets the structured logger.
func WithGrepLogger(logger *slog.Logger) GrepOption {
	return func(g *Grep) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGrep builds the grep-backed matcher.
func NewGrep(opts ...GrepOption) *Grep {
	g := &Grep{
		binary: "grep",
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Search implements Matcher.
func (g *Grep) Search(ctx context.Context, pattern string, files []string, emit func(MatchRecord)) error {
	if pattern == "" {
		return errors.WrapInvalid(errors.ErrEmptyPattern,
			"Grep", "Search", "validate pattern")
	}

	existing := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}

	args := make([]string, 0, len(existing)+5)
	// -F: the pattern is literal text, not a regular expression.
	args = append(args, "-i", "-n", "-H", "-s", "-F", pattern)
	args = append(args, existing...)

	cmd := exec.CommandContext(ctx, g.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.WrapTransient(err, "Grep", "Search", "open stdout pipe")
	}
	if err := cmd.Start(); err != nil {
		return errors.WrapTransient(err, "Grep", "Search", "launch matcher process")
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		if rec, ok := parseGrepLine(scanner.Text()); ok {
			emit(rec)
		}
	}
	scanErr := scanner.Err()

	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		// Killed on cancellation; emitted records stand.
		return errors.Wrap(ctx.Err(), "Grep", "Search", "scan files")
	}
	if scanErr != nil {
		return errors.WrapTransient(scanErr, "Grep", "Search", "read matcher output")
	}
	if waitErr == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		code := exitErr.ExitCode()
		if stderr.Len() == 0 {
			// No matches (1), or a file vanished mid-scan (2 with -s).
			if code == 2 {
				g.logger.Debug("matcher reported suppressed file errors", "code", code)
			}
			return nil
		}
		g.logger.Error("matcher process failed",
			"code", code, "stderr", truncate(stderr.String(), 512))
		return errors.WrapTransient(errors.ErrMatcherCrashed,
			"Grep", "Search", "run matcher process")
	}
	return errors.WrapTransient(waitErr, "Grep", "Search", "wait for matcher process")
}

// parseGrepLine splits grep -H -n output, file:line:content. The file
// part may itself contain colons, so the line number is located as the
// first all-digit segment working left to right.
func parseGrepLine(line string) (MatchRecord, bool) {
	rest := line
	offset := 0
	for {
		idx := strings.IndexByte(rest, ':')
		if idx < 0 {
			return MatchRecord{}, false
		}
		next := strings.IndexByte(rest[idx+1:], ':')
		if next < 0 {
			return MatchRecord{}, false
		}
		numPart := rest[idx+1 : idx+1+next]
		if n, err := strconv.Atoi(numPart); err == nil && n > 0 {
			return MatchRecord{
				File:    line[:offset+idx],
				Line:    n,
				Content: rest[idx+1+next+1:],
			}, true
		}
		offset += idx + 1
		rest = rest[idx+1:]
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
