package report

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureHandler records every slog line it sees.
type captureHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r)
	return nil
}

func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *captureHandler) WithGroup(string) slog.Handler      { return h }

func (h *captureHandler) messages() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	msgs := make([]string, len(h.records))
	for i, r := range h.records {
		msgs[i] = r.Message
	}
	return msgs
}

func TestSlogDeliversPerfAndErrors(t *testing.T) {
	h := &captureHandler{}
	r, err := NewSlog(slog.New(h), 2, 16)
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))

	r.SubmitPerf(PerfRecord{
		Services:   []string{"hub-ca-auth"},
		State:      "completed",
		Matches:    3,
		FinishedAt: time.Now(),
	})
	r.SubmitError(ErrorReport{
		Component: "searchcache",
		Message:   "kv degraded",
		At:        time.Now(),
	})

	require.NoError(t, r.Stop(2*time.Second))

	msgs := h.messages()
	assert.Contains(t, msgs, "search performance")
	assert.Contains(t, msgs, "reported failure")
}

func TestSlogSubmitNeverBlocks(t *testing.T) {
	h := &captureHandler{}
	r, err := NewSlog(slog.New(h), 1, 1)
	require.NoError(t, err)
	// Not started: every submission is rejected without blocking.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			r.SubmitPerf(PerfRecord{State: "completed"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("submission blocked on a full queue")
	}
}

func TestNoopReporter(t *testing.T) {
	var rep Reporter = Noop{}
	rep.SubmitPerf(PerfRecord{})
	rep.SubmitError(ErrorReport{})
}
