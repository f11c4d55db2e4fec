package sink

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elis-salobehaj/log-ai/errors"
)

func makeRecords(n int) []MatchRecord {
	records := make([]MatchRecord, n)
	for i := range records {
		records[i] = MatchRecord{
			Service: "hub-ca-auth",
			File:    "/var/log/auth/app.log",
			Line:    i + 1,
			Content: fmt.Sprintf("line %d", i+1),
		}
	}
	return records
}

func TestCollectorWithinPreviewBound(t *testing.T) {
	dir := t.TempDir()
	c := NewCollector(dir, "hub-ca-auth", WithPreviewLimit(10))
	for _, rec := range makeRecords(5) {
		c.Add(rec)
	}

	res, artifactErr := c.Finalize()
	assert.Empty(t, artifactErr)
	assert.Equal(t, 5, res.TotalCount)
	assert.Len(t, res.Preview, 5)
	assert.False(t, res.Overflowed)
	assert.Empty(t, res.ArtifactPath)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no artifact below the preview bound")
}

func TestCollectorOverflowKeepsCompleteSet(t *testing.T) {
	dir := t.TempDir()
	c := NewCollector(dir, "hub-ca-auth", WithPreviewLimit(3))
	records := makeRecords(10)
	for _, rec := range records {
		c.Add(rec)
	}

	res, artifactErr := c.Finalize()
	require.Empty(t, artifactErr)
	assert.Equal(t, 10, res.TotalCount)
	assert.Len(t, res.Preview, 3)
	assert.True(t, res.Overflowed)
	require.NotEmpty(t, res.ArtifactPath)

	// The artifact holds every record, preview included, in arrival
	// order.
	got, err := ReadArtifact(res.ArtifactPath)
	require.NoError(t, err)
	require.Len(t, got, 10)
	assert.Equal(t, records, got)

	// No leftover temp files.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, filepath.Base(res.ArtifactPath), entries[0].Name())
}

func TestCollectorSpillFailureDegradesToPreview(t *testing.T) {
	c := NewCollector("/nonexistent/spill/dir", "hub-ca-auth", WithPreviewLimit(2))
	for _, rec := range makeRecords(6) {
		c.Add(rec)
	}

	res, artifactErr := c.Finalize()
	assert.NotEmpty(t, artifactErr)
	assert.Equal(t, 6, res.TotalCount, "counting continues past a failed spill")
	assert.Len(t, res.Preview, 2)
	assert.False(t, res.Overflowed)
	assert.Empty(t, res.ArtifactPath)
}

func TestReadArtifactMissing(t *testing.T) {
	_, err := ReadArtifact(filepath.Join(t.TempDir(), "gone.jsonl"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrArtifactNotFound))
}

func TestReadArtifactSkipsBlankLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.jsonl")
	content := `{"service":"s","file":"f","line":1,"content":"x"}` + "\n\n" +
		`{"service":"s","file":"f","line":2,"content":"y"}` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	got, err := ReadArtifact(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 2, got[1].Line)
}

func TestArtifactName(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	name := artifactName("Hub CA Auth_v2", now)
	assert.Regexp(t,
		regexp.MustCompile(`^search-20240301-103000-hub-ca-auth-v2-[0-9a-f]{8}\.jsonl$`),
		name)

	// A hostile hint degrades to a generic fragment.
	name = artifactName("../../etc", now)
	assert.Regexp(t,
		regexp.MustCompile(`^search-20240301-103000-etc-[0-9a-f]{8}\.jsonl$`),
		name)
}
