// Package registry owns the set of known services: which logical names
// exist, where each service's log files live on disk, and what metadata
// (format, locale, insight rules) is attached to them.
//
// The set is loaded from a YAML file into an immutable Snapshot behind an
// atomic pointer. Readers never lock; a reload swaps the pointer and bumps
// a monotonically increasing generation counter, which downstream
// consumers (the result cache in particular) compare to decide whether
// their derived state is stale.
package registry

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/elis-salobehaj/log-ai/errors"
)

// Format describes how a service's log lines are structured.
type Format string

// Recognized content formats.
const (
	FormatStructured Format = "structured"
	FormatLine       Format = "line"
)

// InsightRule maps log content patterns to an operator recommendation.
// A rule fires when any one of its patterns appears (case-insensitive)
// in the content under analysis.
type InsightRule struct {
	Patterns       []string `yaml:"patterns"`
	Recommendation string   `yaml:"recommendation"`
	Severity       string   `yaml:"severity"`
}

// ServiceDefinition describes one registered service. Immutable once
// loaded; a configuration change produces a whole new Snapshot.
type ServiceDefinition struct {
	// Name is the unique canonical name, e.g. "hub-ca-auth".
	Name string `yaml:"name"`
	// Format tags the content as structured or line-oriented.
	Format Format `yaml:"format"`
	// Description is free-form operator documentation.
	Description string `yaml:"description"`
	// PathTemplate locates the service's log files. It may contain the
	// ordered placeholders {YYYY} {MM} {DD} {HH} and a glob remainder,
	// e.g. "/var/log/auth/{YYYY}/{MM}/{DD}/*.log".
	PathTemplate string `yaml:"path_template"`
	// Alias is the canonical name used by external collaborators
	// (issue tracker project, APM service id). Optional.
	Alias string `yaml:"alias"`
	// Locale tags the regional variant ("ca", "us", ...). Optional.
	Locale string `yaml:"locale"`
	// InsightRules drive the content analysis operation. Optional.
	InsightRules []InsightRule `yaml:"insight_rules"`
}

// Snapshot is an immutable view of the full service set at one
// generation. Callers hold the pointer for the duration of a request so
// every lookup within that request sees the same configuration.
type Snapshot struct {
	Services   []ServiceDefinition
	Generation uint64
	LoadedAt   time.Time
	SourceMod  time.Time

	byName map[string]*ServiceDefinition
}

// Lookup returns the definition for a canonical name.
func (s *Snapshot) Lookup(name string) (*ServiceDefinition, bool) {
	def, ok := s.byName[name]
	return def, ok
}

// Names returns all canonical names in load order.
func (s *Snapshot) Names() []string {
	names := make([]string, len(s.Services))
	for i := range s.Services {
		names[i] = s.Services[i].Name
	}
	return names
}

// NewStaticSnapshot builds a snapshot directly from definitions,
// bypassing file loading. Used for fixed in-memory service sets.
func NewStaticSnapshot(services []ServiceDefinition) *Snapshot {
	return newSnapshot(services, 1, time.Time{})
}

// Registry loads and serves service definition snapshots.
type Registry struct {
	path   string
	logger *slog.Logger

	snapshot   atomic.Pointer[Snapshot]
	generation atomic.Uint64

	reloadMu sync.Mutex

	changeMu  sync.Mutex
	onChange  []func(*Snapshot)
	pollEvery time.Duration
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the structured logger used for reload events.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithPollInterval sets the mtime polling cadence used when filesystem
// notification is unavailable.
func WithPollInterval(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.pollEvery = d
		}
	}
}

// New creates a Registry and performs the initial load. A load failure
// at startup is fatal: the engine cannot run without a service set.
func New(path string, opts ...Option) (*Registry, error) {
	r := &Registry{
		path:      path,
		logger:    slog.Default(),
		pollEvery: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}

	if err := r.Reload(); err != nil {
		return nil, errors.WrapFatal(err, "Registry", "New", "initial load")
	}

	return r, nil
}

// Snapshot returns the current immutable service set.
func (r *Registry) Snapshot() *Snapshot {
	return r.snapshot.Load()
}

// Generation returns the current configuration generation.
func (r *Registry) Generation() uint64 {
	return r.generation.Load()
}

// OnChange registers a callback invoked with the new snapshot after
// every successful reload. Callbacks run on the reloading goroutine and
// must not block.
func (r *Registry) OnChange(fn func(*Snapshot)) {
	r.changeMu.Lock()
	defer r.changeMu.Unlock()
	r.onChange = append(r.onChange, fn)
}

// Reload re-reads the backing file and swaps in a new snapshot. On any
// parse or validation error the previous snapshot stays in place.
func (r *Registry) Reload() error {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	info, err := os.Stat(r.path)
	if err != nil {
		return errors.WrapTransient(err, "Registry", "Reload", "stat services file")
	}

	data, err := os.ReadFile(r.path)
	if err != nil {
		return errors.WrapTransient(err, "Registry", "Reload", "read services file")
	}

	services, err := parseServices(data)
	if err != nil {
		return errors.WrapInvalid(err, "Registry", "Reload", "parse services file")
	}

	generation := r.generation.Add(1)
	snapshot := newSnapshot(services, generation, info.ModTime())
	r.snapshot.Store(snapshot)

	r.logger.Info("service registry loaded",
		"path", r.path,
		"services", len(services),
		"generation", generation)

	r.changeMu.Lock()
	callbacks := make([]func(*Snapshot), len(r.onChange))
	copy(callbacks, r.onChange)
	r.changeMu.Unlock()

	for _, fn := range callbacks {
		fn(snapshot)
	}

	return nil
}

// sourceModTime returns the mtime recorded at the last successful load.
func (r *Registry) sourceModTime() time.Time {
	if snap := r.snapshot.Load(); snap != nil {
		return snap.SourceMod
	}
	return time.Time{}
}

func newSnapshot(services []ServiceDefinition, generation uint64, mod time.Time) *Snapshot {
	byName := make(map[string]*ServiceDefinition, len(services))
	for i := range services {
		byName[services[i].Name] = &services[i]
	}
	return &Snapshot{
		Services:   services,
		Generation: generation,
		LoadedAt:   time.Now(),
		SourceMod:  mod,
		byName:     byName,
	}
}

type servicesFile struct {
	Services []ServiceDefinition `yaml:"services"`
}

func parseServices(data []byte) ([]ServiceDefinition, error) {
	var file servicesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if len(file.Services) == 0 {
		return nil, fmt.Errorf("no services defined")
	}

	seen := make(map[string]struct{}, len(file.Services))
	for i := range file.Services {
		svc := &file.Services[i]

		svc.Name = strings.TrimSpace(svc.Name)
		if svc.Name == "" {
			return nil, fmt.Errorf("service %d: name is required", i)
		}
		if _, dup := seen[svc.Name]; dup {
			return nil, fmt.Errorf("duplicate service name %q", svc.Name)
		}
		seen[svc.Name] = struct{}{}

		if svc.PathTemplate == "" {
			return nil, fmt.Errorf("service %q: path_template is required", svc.Name)
		}
		if err := validateTemplate(svc.PathTemplate); err != nil {
			return nil, fmt.Errorf("service %q: %w", svc.Name, err)
		}

		switch svc.Format {
		case FormatStructured, FormatLine:
		case "":
			svc.Format = FormatLine
		default:
			return nil, fmt.Errorf("service %q: unknown format %q", svc.Name, svc.Format)
		}
	}

	return file.Services, nil
}

// placeholder order as it must appear in a template
var placeholderOrder = []string{"{YYYY}", "{MM}", "{DD}", "{HH}"}

// validateTemplate checks that date placeholders appear in coarse-to-fine
// order and that no finer placeholder appears without its coarser ones.
func validateTemplate(template string) error {
	lastIdx := -1
	for _, ph := range placeholderOrder {
		idx := strings.Index(template, ph)
		if idx < 0 {
			continue
		}
		if idx < lastIdx {
			return fmt.Errorf("placeholder %s out of order in template", ph)
		}
		lastIdx = idx
	}

	// A template with {DD} but no {MM}/{YYYY} cannot enumerate partitions
	hasDay := strings.Contains(template, "{DD}")
	hasMonth := strings.Contains(template, "{MM}")
	hasYear := strings.Contains(template, "{YYYY}")
	hasHour := strings.Contains(template, "{HH}")
	if (hasHour && !hasDay) || (hasDay && !hasMonth) || (hasMonth && !hasYear) {
		return fmt.Errorf("template uses a fine-grained placeholder without its coarser ones")
	}

	return nil
}
