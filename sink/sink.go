// Package sink collects the match stream for one search: the first N
// records stay in memory as a preview, and once the total passes N the
// complete set, preview included, is spilled to a JSONL overflow
// artifact written atomically. A failed spill degrades the search to
// preview-only with a diagnostic rather than failing it.
package sink

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/elis-salobehaj/log-ai/errors"
	"github.com/elis-salobehaj/log-ai/matcher"
	"github.com/elis-salobehaj/log-ai/metric"
)

// MatchRecord is the record shape flowing through the sink.
type MatchRecord = matcher.MatchRecord

// DefaultPreviewLimit is how many records a response carries inline.
const DefaultPreviewLimit = 100

// Result is what a finished collection hands back to the engine.
type Result struct {
	Preview      []MatchRecord `json:"preview"`
	TotalCount   int           `json:"total_count"`
	Overflowed   bool          `json:"overflowed"`
	ArtifactPath string        `json:"artifact_path,omitempty"`
}

// Collector accumulates one search's match stream. Not safe for
// concurrent use; the executor serializes emits.
type Collector struct {
	dir          string
	serviceHint  string
	previewLimit int
	logger       *slog.Logger
	metrics      *metric.Metrics

	preview     []MatchRecord
	total       int
	spill       *os.File
	spillWriter *bufio.Writer
	spillPath   string
	spillBytes  int64
	spillErr    error
}

// Option configures a Collector.
type Option func(*Collector)

// WithPreviewLimit overrides the inline record bound.
func WithPreviewLimit(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.previewLimit = n
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Collector) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics wires the overflow counters.
func WithMetrics(m *metric.Metrics) Option {
	return func(c *Collector) { c.metrics = m }
}

// NewCollector builds a collector spilling into dir. serviceHint is
// woven into the artifact name so operators can eyeball a directory
// listing; any string is safe.
func NewCollector(dir, serviceHint string, opts ...Option) *Collector {
	c := &Collector{
		dir:          dir,
		serviceHint:  serviceHint,
		previewLimit: DefaultPreviewLimit,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Add accepts the next record in arrival order.
func (c *Collector) Add(rec MatchRecord) {
	c.total++
	if len(c.preview) < c.previewLimit {
		c.preview = append(c.preview, rec)
	}
	if c.total <= c.previewLimit {
		return
	}

	// Past the preview bound: everything goes to the artifact. The
	// spill opens lazily and starts by replaying the preview so the
	// artifact holds the complete set.
	if c.spill == nil && c.spillErr == nil {
		c.openSpill()
	}
	if c.spillErr != nil {
		return
	}
	if c.total == c.previewLimit+1 {
		for _, buffered := range c.preview {
			if !c.writeRecord(buffered) {
				return
			}
		}
	}
	c.writeRecord(rec)
}

func (c *Collector) openSpill() {
	f, err := os.CreateTemp(c.dir, "spill-*.tmp")
	if err != nil {
		c.failSpill(err)
		return
	}
	c.spill = f
	c.spillWriter = bufio.NewWriter(f)
}

func (c *Collector) writeRecord(rec MatchRecord) bool {
	line, err := json.Marshal(rec)
	if err != nil {
		c.failSpill(err)
		return false
	}
	n, err := c.spillWriter.Write(append(line, '\n'))
	if err != nil {
		c.failSpill(err)
		return false
	}
	c.spillBytes += int64(n)
	return true
}

func (c *Collector) failSpill(err error) {
	c.spillErr = err
	c.logger.Error("overflow artifact write failed, degrading to preview only",
		"dir", c.dir, "error", err)
	c.discardSpill()
}

func (c *Collector) discardSpill() {
	if c.spill != nil {
		name := c.spill.Name()
		c.spill.Close()
		os.Remove(name)
		c.spill = nil
		c.spillWriter = nil
	}
}

// Finalize closes the collection. The returned string is the artifact
// error diagnostic, empty when the spill either succeeded or never
// happened.
func (c *Collector) Finalize() (Result, string) {
	res := Result{
		Preview:    c.preview,
		TotalCount: c.total,
	}

	if c.spillErr != nil {
		return res, c.spillErr.Error()
	}
	if c.spill == nil {
		return res, ""
	}

	if err := c.spillWriter.Flush(); err != nil {
		c.failSpill(err)
		return res, c.spillErr.Error()
	}
	if err := c.spill.Close(); err != nil {
		c.spill = nil
		c.spillErr = err
		return res, err.Error()
	}

	final := filepath.Join(c.dir, artifactName(c.serviceHint, time.Now().UTC()))
	if err := os.Rename(c.spill.Name(), final); err != nil {
		os.Remove(c.spill.Name())
		c.spill = nil
		c.spillErr = err
		return res, err.Error()
	}
	c.spill = nil

	res.Overflowed = true
	res.ArtifactPath = final
	if c.metrics != nil {
		c.metrics.OverflowSpills.Inc()
		c.metrics.OverflowBytes.Add(float64(c.spillBytes))
	}
	c.logger.Info("overflow artifact written",
		"path", final, "records", c.total, "bytes", c.spillBytes)
	return res, ""
}

// artifactName builds search-<timestamp>-<service fragment>-<uuid
// fragment>.jsonl.
func artifactName(serviceHint string, now time.Time) string {
	frag := sanitizeFragment(serviceHint)
	if frag == "" {
		frag = "search"
	}
	id := uuid.NewString()[:8]
	return "search-" + now.Format("20060102-150405") + "-" + frag + "-" + id + ".jsonl"
}

// sanitizeFragment keeps the service hint filesystem-safe and short.
func sanitizeFragment(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		case r == '_', r == ' ':
			b.WriteByte('-')
		}
		if b.Len() >= 24 {
			break
		}
	}
	return strings.Trim(b.String(), "-")
}

// ReadArtifact loads every record from an overflow artifact in its
// original arrival order.
func ReadArtifact(path string) ([]MatchRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WrapInvalid(errors.ErrArtifactNotFound,
				"sink", "ReadArtifact", "open artifact")
		}
		return nil, errors.WrapTransient(err, "sink", "ReadArtifact", "open artifact")
	}
	defer f.Close()

	var records []MatchRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec MatchRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, errors.WrapInvalid(err, "sink", "ReadArtifact", "decode artifact line")
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.WrapTransient(err, "sink", "ReadArtifact", "read artifact")
	}
	return records, nil
}
