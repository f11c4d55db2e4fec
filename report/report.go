// Package report is the best-effort telemetry boundary. Searches hand
// off performance records and error reports without ever blocking on
// delivery: submission is a bounded queue, and a full queue drops the
// record. Nothing in the search path depends on a reporter succeeding.
package report

import (
	"context"
	"log/slog"
	"time"

	"github.com/elis-salobehaj/log-ai/errors"
	"github.com/elis-salobehaj/log-ai/pkg/worker"
)

// PerfRecord describes one finished search.
type PerfRecord struct {
	Services   []string      `json:"services"`
	Pattern    string        `json:"pattern"`
	State      string        `json:"state"`
	Partial    bool          `json:"partial"`
	CacheHit   bool          `json:"cache_hit"`
	Matches    int           `json:"matches"`
	Files      int           `json:"files"`
	Elapsed    time.Duration `json:"elapsed"`
	FinishedAt time.Time     `json:"finished_at"`
}

// ErrorReport describes one operational failure worth surfacing.
type ErrorReport struct {
	Component string    `json:"component"`
	Message   string    `json:"message"`
	Err       string    `json:"error"`
	At        time.Time `json:"at"`
}

// Reporter receives telemetry. Implementations must not block.
type Reporter interface {
	SubmitPerf(rec PerfRecord)
	SubmitError(rep ErrorReport)
}

// Noop discards everything; the default for tests.
type Noop struct{}

// SubmitPerf implements Reporter.
func (Noop) SubmitPerf(PerfRecord) {}

// SubmitError implements Reporter.
func (Noop) SubmitError(ErrorReport) {}

// item is the queue element carrying either kind of record.
type item struct {
	perf *PerfRecord
	fail *ErrorReport
}

// Slog delivers telemetry as structured log lines through a worker
// pool, keeping submission non-blocking even when the logger's sink is
// slow.
type Slog struct {
	pool   *worker.Pool[item]
	logger *slog.Logger
}

// NewSlog builds the reporter. Start must be called before records are
// delivered; submissions before Start are dropped.
func NewSlog(logger *slog.Logger, workers, queueSize int) (*Slog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Slog{logger: logger}

	pool, err := worker.NewPool(workers, queueSize, r.deliver)
	if err != nil {
		return nil, errors.Wrap(err, "Slog", "NewSlog", "create delivery pool")
	}
	r.pool = pool
	return r, nil
}

// Start launches the delivery workers.
func (r *Slog) Start(ctx context.Context) error {
	return r.pool.Start(ctx)
}

// Stop drains the queue within timeout.
func (r *Slog) Stop(timeout time.Duration) error {
	return r.pool.Stop(timeout)
}

// SubmitPerf implements Reporter.
func (r *Slog) SubmitPerf(rec PerfRecord) {
	if err := r.pool.Submit(item{perf: &rec}); err != nil {
		r.logger.Debug("perf record dropped", "error", err)
	}
}

// SubmitError implements Reporter.
func (r *Slog) SubmitError(rep ErrorReport) {
	if err := r.pool.Submit(item{fail: &rep}); err != nil {
		r.logger.Debug("error report dropped", "error", err)
	}
}

func (r *Slog) deliver(_ context.Context, it item) error {
	switch {
	case it.perf != nil:
		r.logger.Info("search performance",
			"services", it.perf.Services,
			"state", it.perf.State,
			"partial", it.perf.Partial,
			"cache_hit", it.perf.CacheHit,
			"matches", it.perf.Matches,
			"files", it.perf.Files,
			"elapsed", it.perf.Elapsed,
			"finished_at", it.perf.FinishedAt)
	case it.fail != nil:
		r.logger.Warn("reported failure",
			"component", it.fail.Component,
			"message", it.fail.Message,
			"error", it.fail.Err,
			"at", it.fail.At)
	}
	return nil
}
