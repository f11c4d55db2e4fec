// Package session hands each client connection a scratch namespace for
// overflow artifacts and reaps aged artifacts in the background.
// Artifacts outlive the session that wrote them, on purpose: a client
// may fetch an overflow long after its search finished. The reaper
// deletes by age alone.
package session

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/elis-salobehaj/log-ai/errors"
	"github.com/elis-salobehaj/log-ai/metric"
)

const (
	// DefaultRetention is how long artifacts live before the reaper
	// takes them.
	DefaultRetention = 24 * time.Hour

	// DefaultSweepInterval is how often the reaper runs.
	DefaultSweepInterval = time.Hour
)

// Session is one connection's scratch namespace.
type Session struct {
	Dir     string
	manager *Manager
	closed  bool
}

// Close marks the session done. Its artifacts stay on disk until the
// reaper ages them out.
func (s *Session) Close() {
	if s == nil || s.closed {
		return
	}
	s.closed = true
	s.manager.sessionClosed()
}

// Manager owns the artifact root directory.
type Manager struct {
	root      string
	retention time.Duration
	sweep     time.Duration
	logger    *slog.Logger
	metrics   *metric.Metrics
}

// Option configures a Manager.
type Option func(*Manager)

// WithRetention overrides the artifact retention window.
func WithRetention(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.retention = d
		}
	}
}

// WithSweepInterval overrides the reaper cadence.
func WithSweepInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.sweep = d
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics wires the session gauges.
func WithMetrics(mt *metric.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// NewManager builds a manager rooted at root, creating it if needed.
func NewManager(root string, opts ...Option) (*Manager, error) {
	if root == "" {
		return nil, errors.WrapInvalid(errors.New("root directory is required"),
			"Manager", "NewManager", "validate root")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.WrapFatal(err, "Manager", "NewManager", "create artifact root")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.WrapFatal(err, "Manager", "NewManager", "resolve artifact root")
	}

	m := &Manager{
		root:      abs,
		retention: DefaultRetention,
		sweep:     DefaultSweepInterval,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Open creates a fresh <root>/<YYYY-MM-DD>-<uuid8>/ namespace.
func (m *Manager) Open() (*Session, error) {
	name := time.Now().UTC().Format("2006-01-02") + "-" + uuid.NewString()[:8]
	dir := filepath.Join(m.root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.WrapTransient(err, "Manager", "Open", "create session directory")
	}
	if m.metrics != nil {
		m.metrics.SessionsActive.Inc()
	}
	return &Session{Dir: dir, manager: m}, nil
}

func (m *Manager) sessionClosed() {
	if m.metrics != nil {
		m.metrics.SessionsActive.Dec()
	}
}

// Contains reports whether path points inside the artifact root, after
// resolving traversal. Overflow handles from clients go through this
// before any read.
func (m *Manager) Contains(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(m.root, abs)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Root returns the artifact root directory.
func (m *Manager) Root() string { return m.root }

// Run sweeps on the configured cadence until ctx ends. One sweep runs
// immediately so a restart does not postpone cleanup by a full
// interval.
func (m *Manager) Run(ctx context.Context) {
	m.Sweep(time.Now())
	ticker := time.NewTicker(m.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.Sweep(now)
		}
	}
}

// Sweep deletes artifacts older than the retention window and removes
// session directories left empty. Returns how many files were
// deleted.
func (m *Manager) Sweep(now time.Time) int {
	cutoff := now.Add(-m.retention)
	removed := 0

	sessions, err := os.ReadDir(m.root)
	if err != nil {
		m.logger.Error("artifact sweep failed to list root", "root", m.root, "error", err)
		return 0
	}
	for _, entry := range sessions {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(m.root, entry.Name())
		removed += m.sweepDir(dir, cutoff)

		// A session directory past retention with nothing left in it
		// goes too.
		if info, err := entry.Info(); err == nil && info.ModTime().Before(cutoff) {
			if remaining, err := os.ReadDir(dir); err == nil && len(remaining) == 0 {
				if err := os.Remove(dir); err == nil {
					m.logger.Debug("removed empty session directory", "dir", dir)
				}
			}
		}
	}

	if removed > 0 {
		if m.metrics != nil {
			m.metrics.SessionsReaped.Add(float64(removed))
		}
		m.logger.Info("artifact sweep finished", "removed", removed)
	}
	return removed
}

func (m *Manager) sweepDir(dir string, cutoff time.Time) int {
	removed := 0
	files, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		info, err := f.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(dir, f.Name())
		if err := os.Remove(path); err != nil {
			m.logger.Warn("failed to remove aged artifact", "path", path, "error", err)
			continue
		}
		removed++
	}
	return removed
}
