package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const servicesYAML = `
services:
  - name: hub-ca-auth
    format: line
    description: Canadian auth hub
    path_template: /var/log/hub-ca-auth/{YYYY}/{MM}/{DD}/*.log
    alias: hub-auth
    locale: ca
    insight_rules:
      - patterns: ["connection refused", "timeout"]
        recommendation: Check upstream auth provider availability.
        severity: warning
  - name: hub-us-auth
    format: line
    path_template: /var/log/hub-us-auth/{YYYY}/{MM}/{DD}/*.log
    alias: hub-auth
    locale: us
  - name: billing
    format: structured
    path_template: /var/log/billing/{YYYY}{MM}{DD}-*.jsonl
`

func writeServices(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "services.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadServices(t *testing.T) {
	reg, err := New(writeServices(t, servicesYAML))
	require.NoError(t, err)

	snap := reg.Snapshot()
	require.NotNil(t, snap)
	assert.Len(t, snap.Services, 3)
	assert.Equal(t, uint64(1), snap.Generation)
	assert.Equal(t, uint64(1), reg.Generation())

	auth, ok := snap.Lookup("hub-ca-auth")
	require.True(t, ok)
	assert.Equal(t, FormatLine, auth.Format)
	assert.Equal(t, "ca", auth.Locale)
	assert.Equal(t, "hub-auth", auth.Alias)
	require.Len(t, auth.InsightRules, 1)
	assert.Equal(t, "warning", auth.InsightRules[0].Severity)

	_, ok = snap.Lookup("nope")
	assert.False(t, ok)

	assert.Equal(t, []string{"hub-ca-auth", "hub-us-auth", "billing"}, snap.Names())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadRejectsDuplicateNames(t *testing.T) {
	_, err := New(writeServices(t, `
services:
  - name: auth
    path_template: /var/log/a/{YYYY}/{MM}/{DD}/*.log
  - name: auth
    path_template: /var/log/b/{YYYY}/{MM}/{DD}/*.log
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate service name")
}

func TestLoadRejectsMissingTemplate(t *testing.T) {
	_, err := New(writeServices(t, `
services:
  - name: auth
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path_template is required")
}

func TestLoadRejectsUnknownFormat(t *testing.T) {
	_, err := New(writeServices(t, `
services:
  - name: auth
    format: binary
    path_template: /var/log/auth/{YYYY}/{MM}/{DD}/*.log
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown format")
}

func TestFormatDefaultsToLine(t *testing.T) {
	reg, err := New(writeServices(t, `
services:
  - name: auth
    path_template: /var/log/auth/{YYYY}/{MM}/{DD}/*.log
`))
	require.NoError(t, err)

	svc, ok := reg.Snapshot().Lookup("auth")
	require.True(t, ok)
	assert.Equal(t, FormatLine, svc.Format)
}

func TestValidateTemplate(t *testing.T) {
	tests := []struct {
		name     string
		template string
		wantErr  bool
	}{
		{"full hierarchy", "/logs/{YYYY}/{MM}/{DD}/{HH}/*.log", false},
		{"day granularity", "/logs/{YYYY}/{MM}/{DD}/*.log", false},
		{"compact date", "/logs/{YYYY}{MM}{DD}-*.log", false},
		{"no placeholders", "/logs/static/*.log", false},
		{"out of order", "/logs/{DD}/{MM}/{YYYY}/*.log", true},
		{"hour without day", "/logs/{YYYY}/{HH}/*.log", true},
		{"day without month", "/logs/{YYYY}/{DD}/*.log", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateTemplate(tt.template)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestReloadBumpsGeneration(t *testing.T) {
	path := writeServices(t, servicesYAML)
	reg, err := New(path)
	require.NoError(t, err)
	require.Equal(t, uint64(1), reg.Generation())

	require.NoError(t, os.WriteFile(path, []byte(`
services:
  - name: only-one
    path_template: /var/log/only/{YYYY}/{MM}/{DD}/*.log
`), 0o644))

	require.NoError(t, reg.Reload())
	assert.Equal(t, uint64(2), reg.Generation())
	assert.Len(t, reg.Snapshot().Services, 1)
}

func TestFailedReloadKeepsSnapshot(t *testing.T) {
	path := writeServices(t, servicesYAML)
	reg, err := New(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("services: [{name: ''}]"), 0o644))

	err = reg.Reload()
	require.Error(t, err)
	assert.Equal(t, uint64(1), reg.Generation())
	assert.Len(t, reg.Snapshot().Services, 3)
}

func TestOnChangeCallback(t *testing.T) {
	path := writeServices(t, servicesYAML)
	reg, err := New(path)
	require.NoError(t, err)

	var got *Snapshot
	reg.OnChange(func(s *Snapshot) { got = s })

	require.NoError(t, reg.Reload())
	require.NotNil(t, got)
	assert.Equal(t, uint64(2), got.Generation)
}

func TestReloadIfChangeddetectsMtime(t *testing.T) {
	path := writeServices(t, servicesYAML)
	reg, err := New(path, WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)

	// Unchanged mtime: no reload.
	reg.reloadIfChanged()
	assert.Equal(t, uint64(1), reg.Generation())

	// Push the mtime forward past the recorded one.
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	reg.reloadIfChanged()
	assert.Equal(t, uint64(2), reg.Generation())
}
