package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elis-salobehaj/log-ai/errors"
	"github.com/elis-salobehaj/log-ai/limiter"
	"github.com/elis-salobehaj/log-ai/matcher"
	"github.com/elis-salobehaj/log-ai/registry"
	"github.com/elis-salobehaj/log-ai/pkg/retry"
	"github.com/elis-salobehaj/log-ai/search"
	"github.com/elis-salobehaj/log-ai/searchcache"
	"github.com/elis-salobehaj/log-ai/session"
	"github.com/elis-salobehaj/log-ai/timewindow"
)

func testSnapshot() *registry.Snapshot {
	return registry.NewStaticSnapshot([]registry.ServiceDefinition{
		{
			Name:         "hub-ca-auth",
			PathTemplate: "/var/log/hub-ca-auth/app.log",
			InsightRules: []registry.InsightRule{{
				Patterns:       []string{"connection refused"},
				Recommendation: "Check the upstream auth provider.",
				Severity:       "critical",
			}},
		},
		{
			Name:         "hub-us-auth",
			PathTemplate: "/var/log/hub-us-auth/app.log",
		},
	})
}

func fastRetry() retry.Config {
	return retry.Config{
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

type testEngine struct {
	engine  *Engine
	calls   *atomic.Int32
	limiter *limiter.Limiter
}

// newTestEngine wires an engine over a fake matcher that emits n lines
// for the hub-ca-auth file only.
func newTestEngine(t *testing.T, emitCount int, opts ...Option) *testEngine {
	t.Helper()

	calls := &atomic.Int32{}
	m := matcher.Func(func(_ context.Context, pattern string, files []string, emit func(matcher.MatchRecord)) error {
		calls.Add(1)
		for _, f := range files {
			if f != "/var/log/hub-ca-auth/app.log" {
				continue
			}
			for i := 1; i <= emitCount; i++ {
				emit(matcher.MatchRecord{File: f, Line: i, Content: fmt.Sprintf("match %d", i)})
			}
		}
		return nil
	})

	executor, err := search.NewExecutor(m)
	require.NoError(t, err)

	provider := StaticSnapshots{Snap: testSnapshot()}
	cache, err := searchcache.New(context.Background(), searchcache.DefaultConfig(), provider.Generation)
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	lim, err := limiter.New(2, limiter.WithRetry(fastRetry()))
	require.NoError(t, err)

	sessions, err := session.NewManager(t.TempDir())
	require.NoError(t, err)

	e, err := New(provider, executor, cache, lim, sessions, opts...)
	require.NoError(t, err)
	t.Cleanup(e.Close)

	return &testEngine{engine: e, calls: calls, limiter: lim}
}

func authRequest() SearchRequest {
	return SearchRequest{
		Services: []string{"auth"},
		Pattern:  "match",
		Time: timewindow.Spec{
			Start: "2024-03-01T10:00:00Z",
			End:   "2024-03-01T11:00:00Z",
		},
	}
}

func TestSearchEndToEnd(t *testing.T) {
	te := newTestEngine(t, 3)

	res, err := te.engine.Search(context.Background(), authRequest())
	require.NoError(t, err)

	// "auth" resolves to both locale variants; matches come only from
	// the hub-ca-auth file.
	assert.ElementsMatch(t, []string{"hub-ca-auth", "hub-us-auth"}, res.Services)
	assert.Equal(t, 3, res.Result.TotalCount)
	require.Len(t, res.Result.Preview, 3)
	for _, rec := range res.Result.Preview {
		assert.Equal(t, "hub-ca-auth", rec.Service)
	}
	assert.False(t, res.Result.Overflowed)
	assert.Equal(t, search.StateCompleted, res.Diagnostics.State)
	assert.False(t, res.Diagnostics.Partial)
	assert.False(t, res.Diagnostics.CacheHit)
	assert.Equal(t, 3, res.Diagnostics.PerService["hub-ca-auth"])
}

func TestSearchCacheHit(t *testing.T) {
	te := newTestEngine(t, 3)
	ctx := context.Background()

	first, err := te.engine.Search(ctx, authRequest())
	require.NoError(t, err)
	require.False(t, first.Diagnostics.CacheHit)
	callsAfterFirst := te.calls.Load()

	second, err := te.engine.Search(ctx, authRequest())
	require.NoError(t, err)
	assert.True(t, second.Diagnostics.CacheHit)
	assert.Equal(t, first.Result.TotalCount, second.Result.TotalCount)
	assert.Equal(t, callsAfterFirst, te.calls.Load(), "cache hit must not rescan")
}

func TestSearchStreamReplaysCacheHit(t *testing.T) {
	te := newTestEngine(t, 2)
	ctx := context.Background()

	_, err := te.engine.Search(ctx, authRequest())
	require.NoError(t, err)

	var streamed []search.MatchRecord
	res, err := te.engine.SearchStream(ctx, authRequest(), StreamCallbacks{
		OnMatch: func(r search.MatchRecord) { streamed = append(streamed, r) },
	})
	require.NoError(t, err)
	assert.True(t, res.Diagnostics.CacheHit)
	assert.Len(t, streamed, 2)
}

func TestSearchResolutionFailure(t *testing.T) {
	te := newTestEngine(t, 1)

	req := authRequest()
	req.Services = []string{"hub-ca-authx"}
	_, err := te.engine.Search(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrServiceNotFound))
	assert.True(t, errors.IsInvalid(err))

	var resErr *ResolutionError
	require.True(t, errors.As(err, &resErr))
	assert.Equal(t, "hub-ca-authx", resErr.Name)
	assert.NotEmpty(t, resErr.Suggestions)
}

func TestSearchInputValidation(t *testing.T) {
	te := newTestEngine(t, 1)
	ctx := context.Background()

	req := authRequest()
	req.Pattern = "   "
	_, err := te.engine.Search(ctx, req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrEmptyPattern))

	req = authRequest()
	req.Services = nil
	_, err = te.engine.Search(ctx, req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrServiceNotFound))

	req = authRequest()
	req.Time = timewindow.Spec{
		Start: "2024-03-01T11:00:00Z",
		End:   "2024-03-01T10:00:00Z",
	}
	_, err = te.engine.Search(ctx, req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidTimeRange))
}

func TestSearchSaturation(t *testing.T) {
	te := newTestEngine(t, 1)

	// Hold the whole budget so admission fails after bounded retries.
	t1, err := te.limiter.Acquire(context.Background())
	require.NoError(t, err)
	t2, err := te.limiter.Acquire(context.Background())
	require.NoError(t, err)
	defer t1.Release()
	defer t2.Release()

	_, err = te.engine.Search(context.Background(), authRequest())
	require.Error(t, err)
	assert.True(t, errors.IsSaturated(err))
}

func TestSearchOverflowAndReadBack(t *testing.T) {
	te := newTestEngine(t, 9, WithPreviewLimit(4))
	ctx := context.Background()

	res, err := te.engine.Search(ctx, authRequest())
	require.NoError(t, err)
	assert.Equal(t, 9, res.Result.TotalCount)
	assert.Len(t, res.Result.Preview, 4)
	require.True(t, res.Result.Overflowed)
	require.NotEmpty(t, res.Result.ArtifactPath)

	page, err := te.engine.ReadOverflow(ctx, res.Result.ArtifactPath, search.ShapeJSON)
	require.NoError(t, err)
	assert.Equal(t, 9, page.Total)
	require.Len(t, page.Records, 9)
	for i, rec := range page.Records {
		assert.Equal(t, i+1, rec.Line, "arrival order preserved")
	}
}

func TestReadOverflowShapes(t *testing.T) {
	te := newTestEngine(t, 7, WithPreviewLimit(2))
	ctx := context.Background()

	res, err := te.engine.Search(ctx, authRequest())
	require.NoError(t, err)
	require.True(t, res.Result.Overflowed)

	structured, err := te.engine.ReadOverflow(ctx, res.Result.ArtifactPath, search.ShapeJSON)
	require.NoError(t, err)
	require.Len(t, structured.Records, 7)
	assert.Empty(t, structured.Rendered)

	text, err := te.engine.ReadOverflow(ctx, res.Result.ArtifactPath, search.ShapeText)
	require.NoError(t, err)
	assert.Empty(t, text.Records)
	require.Len(t, text.Rendered, 7)
	assert.Equal(t, search.RenderText(structured.Records[0]), text.Rendered[0])

	_, err = te.engine.ReadOverflow(ctx, res.Result.ArtifactPath, "xml")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestSearchShapeRendering(t *testing.T) {
	te := newTestEngine(t, 2)
	ctx := context.Background()

	req := authRequest()
	req.Shape = search.ShapeText
	text, err := te.engine.Search(ctx, req)
	require.NoError(t, err)
	require.Len(t, text.Rendered, 2)
	assert.Equal(t, "[/var/log/hub-ca-auth/app.log:1] match 1", text.Rendered[0])

	req.Shape = search.ShapeJSON
	structured, err := te.engine.Search(ctx, req)
	require.NoError(t, err)
	assert.Empty(t, structured.Rendered, "json shape carries records only")
	assert.Equal(t, text.Result.TotalCount, structured.Result.TotalCount)

	// Cache hits keep rendering: the fingerprint includes the shape, so
	// the text replay must still carry display lines.
	textAgain, err := te.engine.Search(ctx, authRequest())
	require.NoError(t, err)
	assert.True(t, textAgain.Diagnostics.CacheHit)
	assert.Equal(t, text.Rendered, textAgain.Rendered)

	req.Shape = "csv"
	_, err = te.engine.Search(ctx, req)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestReadOverflowRejectsForeignPaths(t *testing.T) {
	te := newTestEngine(t, 1)
	ctx := context.Background()

	for _, handle := range []string{"", "/etc/passwd", "../escape.jsonl"} {
		_, err := te.engine.ReadOverflow(ctx, handle, search.ShapeJSON)
		require.Error(t, err, "handle %q", handle)
		assert.True(t, errors.Is(err, errors.ErrArtifactNotFound))
	}
}

func TestInsights(t *testing.T) {
	te := newTestEngine(t, 1)
	ctx := context.Background()

	got := te.engine.Insights(ctx, "hub-ca-auth", "dial: connection refused by peer")
	assert.Equal(t, "[CRITICAL] Recommendation: Check the upstream auth provider.", got)

	got = te.engine.Insights(ctx, "hub-ca-auth", "all clear")
	assert.Equal(t, "No issues matched known patterns.", got)

	got = te.engine.Insights(ctx, "hub-us-auth", "connection refused")
	assert.Equal(t, "No specific insight rules configured for this service.", got)

	got = te.engine.Insights(ctx, "missing-service", "connection refused")
	assert.Equal(t, "No specific insight rules configured for this service.", got)
}

func TestPartialResultNotCached(t *testing.T) {
	var calls atomic.Int32
	m := matcher.Func(func(_ context.Context, _ string, files []string, emit func(matcher.MatchRecord)) error {
		calls.Add(1)
		emit(matcher.MatchRecord{File: files[0], Line: 1, Content: "hit"})
		return errors.WrapTransient(errors.ErrMatcherCrashed, "fake", "Search", "simulate crash")
	})
	executor, err := search.NewExecutor(m)
	require.NoError(t, err)

	provider := StaticSnapshots{Snap: testSnapshot()}
	cache, err := searchcache.New(context.Background(), searchcache.DefaultConfig(), provider.Generation)
	require.NoError(t, err)
	defer cache.Close()
	lim, err := limiter.New(2, limiter.WithRetry(fastRetry()))
	require.NoError(t, err)
	sessions, err := session.NewManager(t.TempDir())
	require.NoError(t, err)
	e, err := New(provider, executor, cache, lim, sessions)
	require.NoError(t, err)
	defer e.Close()

	ctx := context.Background()
	req := authRequest()
	req.Services = []string{"hub-ca-auth"}

	first, err := e.Search(ctx, req)
	require.NoError(t, err)
	assert.True(t, first.Diagnostics.Partial)
	assert.Equal(t, 1, first.Result.TotalCount, "pre-crash matches preserved")

	second, err := e.Search(ctx, req)
	require.NoError(t, err)
	assert.False(t, second.Diagnostics.CacheHit, "partial results are not cached")
	assert.Equal(t, int32(2), calls.Load())
}

// TestSearchConcurrentServicesCollectExactly runs parallel per-service
// scans into the real collector and checks nothing is lost or
// duplicated on the way to the preview and the artifact.
func TestSearchConcurrentServicesCollectExactly(t *testing.T) {
	const perService = 250
	m := matcher.Func(func(_ context.Context, _ string, files []string, emit func(matcher.MatchRecord)) error {
		for _, f := range files {
			for i := 1; i <= perService; i++ {
				emit(matcher.MatchRecord{File: f, Line: i, Content: "hit"})
			}
		}
		return nil
	})
	executor, err := search.NewExecutor(m)
	require.NoError(t, err)

	provider := StaticSnapshots{Snap: testSnapshot()}
	cache, err := searchcache.New(context.Background(), searchcache.DefaultConfig(), provider.Generation)
	require.NoError(t, err)
	defer cache.Close()
	lim, err := limiter.New(2, limiter.WithRetry(fastRetry()))
	require.NoError(t, err)
	sessions, err := session.NewManager(t.TempDir())
	require.NoError(t, err)
	e, err := New(provider, executor, cache, lim, sessions, WithPreviewLimit(10))
	require.NoError(t, err)
	defer e.Close()

	ctx := context.Background()
	res, err := e.Search(ctx, authRequest())
	require.NoError(t, err)

	// Both locale variants scan in parallel; every record must land.
	assert.Equal(t, 2*perService, res.Result.TotalCount)
	assert.Equal(t, perService, res.Diagnostics.PerService["hub-ca-auth"])
	assert.Equal(t, perService, res.Diagnostics.PerService["hub-us-auth"])
	require.True(t, res.Result.Overflowed)

	page, err := e.ReadOverflow(ctx, res.Result.ArtifactPath, search.ShapeJSON)
	require.NoError(t, err)
	require.Len(t, page.Records, 2*perService)
	perSvc := map[string]int{}
	for _, rec := range page.Records {
		perSvc[rec.Service]++
	}
	assert.Equal(t, perService, perSvc["hub-ca-auth"])
	assert.Equal(t, perService, perSvc["hub-us-auth"])
}

func TestLimiterTokenAlwaysReleased(t *testing.T) {
	te := newTestEngine(t, 1)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		req := authRequest()
		// Unique pattern defeats the cache so every search admits.
		req.Pattern = fmt.Sprintf("match %d", i)
		_, err := te.engine.Search(ctx, req)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(0), te.limiter.Outstanding())
}
