package search

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elis-salobehaj/log-ai/errors"
	"github.com/elis-salobehaj/log-ai/matcher"
	"github.com/elis-salobehaj/log-ai/registry"
	"github.com/elis-salobehaj/log-ai/timewindow"
)

func testWindow() timewindow.Window {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return timewindow.Window{Start: start, End: start.Add(time.Hour)}
}

func testServices(names ...string) []registry.ServiceDefinition {
	svcs := make([]registry.ServiceDefinition, len(names))
	for i, name := range names {
		svcs[i] = registry.ServiceDefinition{
			Name:         name,
			PathTemplate: "/var/log/" + name + "/app.log",
		}
	}
	return svcs
}

// emitLines builds a matcher that emits n lines per file handed to it.
func emitLines(n int) matcher.Func {
	return func(_ context.Context, pattern string, files []string, emit func(matcher.MatchRecord)) error {
		for _, f := range files {
			for i := 1; i <= n; i++ {
				emit(matcher.MatchRecord{File: f, Line: i, Content: pattern})
			}
		}
		return nil
	}
}

func collectRecords() (func(MatchRecord), *[]MatchRecord, *sync.Mutex) {
	var mu sync.Mutex
	var records []MatchRecord
	return func(r MatchRecord) {
		mu.Lock()
		defer mu.Unlock()
		records = append(records, r)
	}, &records, &mu
}

func TestExecuteCompleted(t *testing.T) {
	e, err := NewExecutor(emitLines(2))
	require.NoError(t, err)

	emit, records, _ := collectRecords()
	diag, err := e.Execute(context.Background(), Query{
		Services: testServices("hub-ca-auth", "hub-us-auth"),
		Pattern:  "timeout",
		Window:   testWindow(),
	}, emit, nil)
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, diag.State)
	assert.False(t, diag.Partial)
	assert.Empty(t, diag.Failures)
	assert.Equal(t, 2, diag.PerService["hub-ca-auth"])
	assert.Equal(t, 2, diag.PerService["hub-us-auth"])
	assert.Len(t, *records, 4)
	for _, r := range *records {
		assert.Contains(t, []string{"hub-ca-auth", "hub-us-auth"}, r.Service)
		assert.Equal(t, "timeout", r.Content)
	}
}

func TestExecuteInputErrors(t *testing.T) {
	called := atomic.Bool{}
	m := matcher.Func(func(context.Context, string, []string, func(matcher.MatchRecord)) error {
		called.Store(true)
		return nil
	})
	e, err := NewExecutor(m)
	require.NoError(t, err)

	_, err = e.Execute(context.Background(), Query{
		Services: testServices("hub-ca-auth"),
		Window:   testWindow(),
	}, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.True(t, errors.Is(err, errors.ErrEmptyPattern))

	_, err = e.Execute(context.Background(), Query{
		Pattern: "x",
		Window:  testWindow(),
	}, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrServiceNotFound))

	assert.False(t, called.Load(), "matcher must not run on input errors")
}

func TestExecutePreservesMatchesOnCrash(t *testing.T) {
	var calls atomic.Int32
	m := matcher.Func(func(_ context.Context, _ string, files []string, emit func(matcher.MatchRecord)) error {
		if calls.Add(1) == 1 {
			// First service: five matches then a crash.
			for i := 1; i <= 5; i++ {
				emit(matcher.MatchRecord{File: files[0], Line: i, Content: "hit"})
			}
			return errors.WrapTransient(errors.ErrMatcherCrashed,
				"fake", "Search", "simulate crash")
		}
		emit(matcher.MatchRecord{File: files[0], Line: 1, Content: "hit"})
		return nil
	})
	e, err := NewExecutor(m, WithPerRequestLimit(1))
	require.NoError(t, err)

	emit, records, _ := collectRecords()
	diag, err := e.Execute(context.Background(), Query{
		Services: testServices("svc-a", "svc-b"),
		Pattern:  "hit",
		Window:   testWindow(),
	}, emit, nil)
	require.NoError(t, err, "crash must not discard collected matches")

	assert.Equal(t, StateCrashed, diag.State)
	assert.True(t, diag.Partial)
	assert.Len(t, *records, 6)
	require.Len(t, diag.Failures, 1)
	assert.Contains(t, diag.Failures[0], "svc-a")
}

// TestExecuteSerializesEmits drives several services through parallel
// scans into a deliberately unguarded emit callback. Emits must arrive
// one at a time: the collector behind them is single-writer.
func TestExecuteSerializesEmits(t *testing.T) {
	const perService = 300
	e, err := NewExecutor(matcher.Func(
		func(_ context.Context, _ string, files []string, emit func(matcher.MatchRecord)) error {
			for i := 1; i <= perService; i++ {
				emit(matcher.MatchRecord{File: files[0], Line: i, Content: "hit"})
			}
			return nil
		}), WithPerRequestLimit(4))
	require.NoError(t, err)

	var inEmit atomic.Bool
	var overlaps atomic.Int32
	var records []MatchRecord // unguarded on purpose
	emit := func(rec MatchRecord) {
		if !inEmit.CompareAndSwap(false, true) {
			overlaps.Add(1)
			return
		}
		runtime.Gosched() // widen the window for a second goroutine
		records = append(records, rec)
		inEmit.Store(false)
	}

	diag, err := e.Execute(context.Background(), Query{
		Services: testServices("s1", "s2", "s3", "s4"),
		Pattern:  "hit",
		Window:   testWindow(),
	}, emit, nil)
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, diag.State)
	assert.Zero(t, overlaps.Load(), "emit callbacks must never overlap")
	assert.Len(t, records, 4*perService)
}

// TestExecuteSerializedCounts tallies into plain (unsynchronized) state
// from the emit callback, checking the counts stay exact under parallel
// scans.
func TestExecuteSerializedCounts(t *testing.T) {
	const perService = 200
	e, err := NewExecutor(emitLines(perService), WithPerRequestLimit(3))
	require.NoError(t, err)

	total := 0
	perSvc := make(map[string]int)
	emit := func(rec MatchRecord) {
		total++
		perSvc[rec.Service]++
	}

	diag, err := e.Execute(context.Background(), Query{
		Services: testServices("a", "b", "c"),
		Pattern:  "x",
		Window:   testWindow(),
	}, emit, nil)
	require.NoError(t, err)

	assert.Equal(t, 3*perService, total)
	assert.Equal(t, perSvc, diag.PerService)
}

func TestExecuteClientCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := matcher.Func(func(mctx context.Context, _ string, files []string, emit func(matcher.MatchRecord)) error {
		emit(matcher.MatchRecord{File: files[0], Line: 1, Content: "early"})
		cancel()
		<-mctx.Done()
		return mctx.Err()
	})
	e, err := NewExecutor(m)
	require.NoError(t, err)

	emit, records, _ := collectRecords()
	diag, err := e.Execute(ctx, Query{
		Services: testServices("hub-ca-auth"),
		Pattern:  "x",
		Window:   testWindow(),
	}, emit, nil)
	require.NoError(t, err)

	assert.Equal(t, StateCancelled, diag.State, "client cancellation is not a timeout")
	assert.True(t, diag.Partial)
	assert.Len(t, *records, 1)
}

func TestExecuteWallClockExpiry(t *testing.T) {
	m := matcher.Func(func(ctx context.Context, _ string, files []string, emit func(matcher.MatchRecord)) error {
		emit(matcher.MatchRecord{File: files[0], Line: 1, Content: "early"})
		<-ctx.Done()
		return ctx.Err()
	})
	e, err := NewExecutor(m, WithWallClock(50*time.Millisecond))
	require.NoError(t, err)

	emit, records, _ := collectRecords()
	start := time.Now()
	diag, err := e.Execute(context.Background(), Query{
		Services: testServices("hub-ca-auth"),
		Pattern:  "x",
		Window:   testWindow(),
	}, emit, nil)
	require.NoError(t, err)

	assert.Equal(t, StateTimedOut, diag.State)
	assert.True(t, diag.Partial)
	assert.Len(t, *records, 1, "pre-expiry matches are preserved")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecutePerRequestCeiling(t *testing.T) {
	var active, peak atomic.Int32
	m := matcher.Func(func(context.Context, string, []string, func(matcher.MatchRecord)) error {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		active.Add(-1)
		return nil
	})
	e, err := NewExecutor(m, WithPerRequestLimit(2))
	require.NoError(t, err)

	_, err = e.Execute(context.Background(), Query{
		Services: testServices("s1", "s2", "s3", "s4", "s5", "s6"),
		Pattern:  "x",
		Window:   testWindow(),
	}, nil, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestExecuteProgressUpdates(t *testing.T) {
	e, err := NewExecutor(emitLines(3))
	require.NoError(t, err)

	var mu sync.Mutex
	var updates []Progress
	diag, err := e.Execute(context.Background(), Query{
		Services: testServices("hub-ca-auth"),
		Pattern:  "x",
		Window:   testWindow(),
	}, nil, func(p Progress) {
		mu.Lock()
		defer mu.Unlock()
		updates = append(updates, p)
	})
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, diag.State)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, updates)
	assert.Equal(t, 1, updates[0].ServiceCount)
	last := updates[len(updates)-1]
	assert.GreaterOrEqual(t, last.Matches, 1)
}

func TestQueryServiceNames(t *testing.T) {
	q := Query{Services: testServices("a", "b")}
	assert.Equal(t, []string{"a", "b"}, q.ServiceNames())
}
