// Package engine wires the whole search path together and exposes the
// three client-facing operations: Search, ReadOverflow and Insights.
// Everything stateful lives behind it: the service registry snapshot,
// the result cache, the admission limiter, the executor and the
// artifact sessions.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/elis-salobehaj/log-ai/errors"
	"github.com/elis-salobehaj/log-ai/health"
	"github.com/elis-salobehaj/log-ai/insight"
	"github.com/elis-salobehaj/log-ai/limiter"
	"github.com/elis-salobehaj/log-ai/registry"
	"github.com/elis-salobehaj/log-ai/report"
	"github.com/elis-salobehaj/log-ai/resolver"
	"github.com/elis-salobehaj/log-ai/search"
	"github.com/elis-salobehaj/log-ai/searchcache"
	"github.com/elis-salobehaj/log-ai/session"
	"github.com/elis-salobehaj/log-ai/sink"
	"github.com/elis-salobehaj/log-ai/timewindow"
)

// SnapshotProvider hands out the current immutable service set.
// *registry.Registry satisfies it; tests use a static snapshot.
type SnapshotProvider interface {
	Snapshot() *registry.Snapshot
	Generation() uint64
}

// StaticSnapshots adapts a fixed snapshot to SnapshotProvider.
type StaticSnapshots struct{ Snap *registry.Snapshot }

// Snapshot implements SnapshotProvider.
func (s StaticSnapshots) Snapshot() *registry.Snapshot { return s.Snap }

// Generation implements SnapshotProvider.
func (s StaticSnapshots) Generation() uint64 { return s.Snap.Generation }

// SearchRequest is one client search as it arrives, names and time
// expressions still unresolved.
type SearchRequest struct {
	Services []string           `json:"services"`
	Locale   string             `json:"locale,omitempty"`
	Pattern  string             `json:"pattern"`
	Time     timewindow.Spec    `json:"time"`
	Shape    search.OutputShape `json:"shape,omitempty"`

	// Session scopes overflow artifacts; nil uses the engine's shared
	// session.
	Session *session.Session `json:"-"`
}

// SearchResult is the self-describing response. Rendered carries the
// preview as display lines when the request asked for the text shape.
type SearchResult struct {
	Result      sink.Result        `json:"result"`
	Rendered    []string           `json:"rendered,omitempty"`
	Diagnostics search.Diagnostics `json:"diagnostics"`
	Services    []string           `json:"services"`
	Window      timewindow.Window  `json:"window"`
}

// OverflowPage is one complete artifact read-back in the requested
// shape: records for json, display lines for text.
type OverflowPage struct {
	Records  []search.MatchRecord `json:"records,omitempty"`
	Rendered []string             `json:"rendered,omitempty"`
	Total    int                  `json:"total"`
}

// StreamCallbacks receive live data during a streaming search. Either
// field may be nil.
type StreamCallbacks struct {
	OnMatch    func(search.MatchRecord)
	OnProgress func(search.Progress)
}

// ResolutionError carries suggestions for a name that resolved to
// nothing.
type ResolutionError struct {
	Name        string
	Suggestions []string
}

func (e *ResolutionError) Error() string {
	if len(e.Suggestions) == 0 {
		return fmt.Sprintf("service %q not found", e.Name)
	}
	return fmt.Sprintf("service %q not found, close matches: %s",
		e.Name, strings.Join(e.Suggestions, ", "))
}

// Unwrap classifies resolution failures as the not-found input error.
func (e *ResolutionError) Unwrap() error { return errors.ErrServiceNotFound }

// cachedResult is the cache payload shape.
type cachedResult struct {
	Result      sink.Result        `json:"result"`
	Diagnostics search.Diagnostics `json:"diagnostics"`
	Services    []string           `json:"services"`
	Window      timewindow.Window  `json:"window"`
}

// Engine is the coordination core.
type Engine struct {
	snapshots    SnapshotProvider
	executor     *search.Executor
	cache        *searchcache.Store
	limiter      *limiter.Limiter
	sessions     *session.Manager
	reporter     report.Reporter
	monitor      *health.Monitor
	logger       *slog.Logger
	previewLimit int
	now          func() time.Time

	shared *session.Session
}

// Option configures an Engine.
type Option func(*Engine)

// WithReporter sets the telemetry reporter.
func WithReporter(r report.Reporter) Option {
	return func(e *Engine) {
		if r != nil {
			e.reporter = r
		}
	}
}

// WithMonitor attaches the health monitor the engine keeps current.
func WithMonitor(m *health.Monitor) Option {
	return func(e *Engine) { e.monitor = m }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithPreviewLimit overrides how many records responses carry inline.
func WithPreviewLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.previewLimit = n
		}
	}
}

// WithClock injects the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New wires an engine. All five collaborators are required.
func New(snapshots SnapshotProvider, executor *search.Executor, cache *searchcache.Store,
	lim *limiter.Limiter, sessions *session.Manager, opts ...Option) (*Engine, error) {

	if snapshots == nil || executor == nil || cache == nil || lim == nil || sessions == nil {
		return nil, errors.WrapInvalid(errors.New("missing collaborator"),
			"Engine", "New", "validate dependencies")
	}

	e := &Engine{
		snapshots:    snapshots,
		executor:     executor,
		cache:        cache,
		limiter:      lim,
		sessions:     sessions,
		reporter:     report.Noop{},
		logger:       slog.Default(),
		previewLimit: sink.DefaultPreviewLimit,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	shared, err := sessions.Open()
	if err != nil {
		return nil, errors.Wrap(err, "Engine", "New", "open shared session")
	}
	e.shared = shared
	return e, nil
}

// Close releases the engine's shared session.
func (e *Engine) Close() {
	e.shared.Close()
}

// Search runs one search to completion and returns the collected
// result. Input problems and saturation come back as errors; timeouts
// and matcher crashes come back as partial results.
func (e *Engine) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	return e.SearchStream(ctx, req, StreamCallbacks{})
}

// SearchStream is Search with live match and progress callbacks for
// interactive clients. Cache hits replay the preview through OnMatch.
func (e *Engine) SearchStream(ctx context.Context, req SearchRequest, cb StreamCallbacks) (*SearchResult, error) {
	if strings.TrimSpace(req.Pattern) == "" {
		return nil, errors.WrapInvalid(errors.ErrEmptyPattern,
			"Engine", "Search", "validate pattern")
	}

	snap := e.snapshots.Snapshot()
	services, err := e.resolveServices(snap, req)
	if err != nil {
		return nil, err
	}

	window, err := timewindow.Resolve(req.Time, e.now())
	if err != nil {
		return nil, err
	}

	shape, err := search.NormalizeShape(req.Shape)
	if err != nil {
		return nil, err
	}
	query := search.Query{
		Services: services,
		Pattern:  req.Pattern,
		Window:   window,
		Shape:    shape,
	}

	fp := searchcache.NewFingerprint(query.ServiceNames(), req.Pattern, window, string(shape))
	if hit, ok := e.cacheGet(ctx, fp, cb); ok {
		hit.Rendered = renderPreview(shape, hit.Result.Preview)
		e.submitPerf(query, hit.Diagnostics, hit.Result.TotalCount)
		return hit, nil
	}

	token, err := e.limiter.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer token.Release()

	dir := e.shared.Dir
	if req.Session != nil {
		dir = req.Session.Dir
	}
	collector := sink.NewCollector(dir, firstName(query), sink.WithPreviewLimit(e.previewLimit))

	emit := collector.Add
	if cb.OnMatch != nil {
		emit = func(rec search.MatchRecord) {
			collector.Add(rec)
			cb.OnMatch(rec)
		}
	}

	diag, err := e.executor.Execute(ctx, query, emit, cb.OnProgress)
	if err != nil {
		return nil, err
	}

	result, artifactErr := collector.Finalize()
	diag.ArtifactError = artifactErr

	out := &SearchResult{
		Result:      result,
		Rendered:    renderPreview(shape, result.Preview),
		Diagnostics: diag,
		Services:    query.ServiceNames(),
		Window:      window,
	}
	e.cachePut(ctx, fp, out)
	e.submitPerf(query, diag, result.TotalCount)
	e.refreshHealth()
	return out, nil
}

// ReadOverflow loads the complete record set behind an overflow handle
// in the requested shape. Handles outside the artifact root are
// reported as missing, not distinguished, so a probing client learns
// nothing.
func (e *Engine) ReadOverflow(_ context.Context, handle string, shape search.OutputShape) (*OverflowPage, error) {
	shape, err := search.NormalizeShape(shape)
	if err != nil {
		return nil, err
	}
	if handle == "" || !e.sessions.Contains(handle) {
		return nil, errors.WrapInvalid(errors.ErrArtifactNotFound,
			"Engine", "ReadOverflow", "validate handle")
	}
	records, err := sink.ReadArtifact(handle)
	if err != nil {
		return nil, err
	}
	page := &OverflowPage{Total: len(records)}
	if shape == search.ShapeText {
		page.Rendered = search.RenderTextAll(records)
	} else {
		page.Records = records
	}
	return page, nil
}

// renderPreview produces the display lines for text-shaped responses;
// json-shaped responses carry the records alone.
func renderPreview(shape search.OutputShape, preview []search.MatchRecord) []string {
	if shape != search.ShapeText {
		return nil
	}
	return search.RenderTextAll(preview)
}

// Insights applies a service's configured rules to log content and
// returns the rendered recommendations.
func (e *Engine) Insights(_ context.Context, serviceName, content string) string {
	snap := e.snapshots.Snapshot()
	svc, ok := snap.Lookup(serviceName)
	if !ok {
		return insight.NoRulesMessage
	}
	return insight.Render(svc, insight.Apply(svc, content))
}

// resolveServices resolves every requested name against the snapshot,
// deduplicating the union.
func (e *Engine) resolveServices(snap *registry.Snapshot, req SearchRequest) ([]registry.ServiceDefinition, error) {
	if len(req.Services) == 0 {
		return nil, errors.WrapInvalid(errors.ErrServiceNotFound,
			"Engine", "Search", "validate service names")
	}

	seen := make(map[string]bool)
	var services []registry.ServiceDefinition
	for _, name := range req.Services {
		matches := resolver.Resolve(snap, name, req.Locale)
		if len(matches) == 0 {
			return nil, errors.WrapInvalid(&ResolutionError{
				Name:        name,
				Suggestions: resolver.Suggest(snap, name, resolver.DefaultMaxSuggestions),
			}, "Engine", "Search", "resolve service name")
		}
		for _, svc := range matches {
			if !seen[svc.Name] {
				seen[svc.Name] = true
				services = append(services, svc)
			}
		}
	}
	return services, nil
}

func (e *Engine) cacheGet(ctx context.Context, fp searchcache.Fingerprint, cb StreamCallbacks) (*SearchResult, bool) {
	payload, ok := e.cache.Get(ctx, fp)
	if !ok {
		return nil, false
	}
	var cached cachedResult
	if err := json.Unmarshal(payload, &cached); err != nil {
		e.logger.Warn("discarding undecodable cache entry", "fingerprint", fp, "error", err)
		return nil, false
	}

	if cb.OnMatch != nil {
		for _, rec := range cached.Result.Preview {
			cb.OnMatch(rec)
		}
	}
	cached.Diagnostics.CacheHit = true
	return &SearchResult{
		Result:      cached.Result,
		Diagnostics: cached.Diagnostics,
		Services:    cached.Services,
		Window:      cached.Window,
	}, true
}

// cachePut stores clean completed results only; a cached partial would
// pin an incomplete answer until eviction.
func (e *Engine) cachePut(ctx context.Context, fp searchcache.Fingerprint, out *SearchResult) {
	if out.Diagnostics.Partial || out.Diagnostics.State != search.StateCompleted {
		return
	}
	payload, err := json.Marshal(cachedResult{
		Result:      out.Result,
		Diagnostics: out.Diagnostics,
		Services:    out.Services,
		Window:      out.Window,
	})
	if err != nil {
		e.logger.Warn("failed to encode result for cache", "error", err)
		return
	}
	e.cache.Put(ctx, fp, payload)
}

func (e *Engine) submitPerf(query search.Query, diag search.Diagnostics, matches int) {
	e.reporter.SubmitPerf(report.PerfRecord{
		Services:   query.ServiceNames(),
		Pattern:    query.Pattern,
		State:      string(diag.State),
		Partial:    diag.Partial,
		CacheHit:   diag.CacheHit,
		Matches:    matches,
		Files:      diag.FilesScanned,
		Elapsed:    diag.Elapsed,
		FinishedAt: e.now(),
	})
}

// refreshHealth mirrors the degradable backends into the monitor.
func (e *Engine) refreshHealth() {
	if e.monitor == nil {
		return
	}
	switch e.cache.Mode() {
	case searchcache.ModeDistributed:
		e.monitor.UpdateHealthy("searchcache", "distributed backend")
	case searchcache.ModeLocal:
		e.monitor.UpdateDegraded("searchcache", "process-local fallback")
	case searchcache.ModeDisabled:
		e.monitor.UpdateHealthy("searchcache", "disabled")
	}
	switch e.limiter.Mode() {
	case limiter.ModeDistributed:
		e.monitor.UpdateHealthy("limiter", "fleet-wide budget")
	case limiter.ModeLocal:
		e.monitor.UpdateDegraded("limiter", "process-local budget")
	}
}

func firstName(q search.Query) string {
	if len(q.Services) == 0 {
		return ""
	}
	return q.Services[0].Name
}
