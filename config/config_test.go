package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elis-salobehaj/log-ai/errors"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 20, cfg.Search.GlobalCeiling)
	assert.Equal(t, 2*time.Minute, cfg.Search.WallClock.Std())
	assert.False(t, cfg.NATS.Enabled)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Search.PreviewLimit, cfg.Search.PreviewLimit)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		"http": {"addr": ":9090"},
		"search": {"wall_clock": "90s", "global_ceiling": 5},
		"cache": {"ttl": "1m"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, 90*time.Second, cfg.Search.WallClock.Std())
	assert.Equal(t, 5, cfg.Search.GlobalCeiling)
	assert.Equal(t, time.Minute, cfg.Cache.TTL.Std())
	// Untouched sections keep their defaults.
	assert.Equal(t, 4, cfg.Search.PerRequestLimit)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadMalformedFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOGAI_HTTP_ADDR", ":7000")
	t.Setenv("LOGAI_SEARCH_GLOBAL_CEILING", "3")
	t.Setenv("LOGAI_SEARCH_WALL_CLOCK", "45s")
	t.Setenv("LOGAI_NATS_ENABLED", "true")
	t.Setenv("LOGAI_NATS_URL", "nats://broker:4222")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.HTTP.Addr)
	assert.Equal(t, 3, cfg.Search.GlobalCeiling)
	assert.Equal(t, 45*time.Second, cfg.Search.WallClock.Std())
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, "nats://broker:4222", cfg.NATS.URL)
}

func TestEnvOverrideIgnoresGarbage(t *testing.T) {
	t.Setenv("LOGAI_SEARCH_GLOBAL_CEILING", "many")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Search.GlobalCeiling, cfg.Search.GlobalCeiling)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty addr", func(c *Config) { c.HTTP.Addr = "" }, "http.addr"},
		{"zero ceiling", func(c *Config) { c.Search.GlobalCeiling = 0 }, "global_ceiling"},
		{"negative wall clock", func(c *Config) { c.Search.WallClock = Duration(-time.Second) }, "wall_clock"},
		{"zero preview", func(c *Config) { c.Search.PreviewLimit = 0 }, "preview_limit"},
		{"nats enabled without url", func(c *Config) { c.NATS.Enabled = true; c.NATS.URL = "" }, "nats.url"},
		{"cache without entries", func(c *Config) { c.Cache.MaxEntries = 0 }, "max_entries"},
		{"missing registry path", func(c *Config) { c.Registry.Path = "" }, "registry.path"},
		{"missing artifacts root", func(c *Config) { c.Artifacts.Root = "" }, "artifacts.root"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDurationRoundTrip(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"1h30m"`)))
	assert.Equal(t, 90*time.Minute, d.Std())

	out, err := d.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1h30m0s"`, string(out))

	require.NoError(t, d.UnmarshalJSON([]byte(`1000000000`)))
	assert.Equal(t, time.Second, d.Std())

	assert.Error(t, d.UnmarshalJSON([]byte(`"soon"`)))
	assert.Error(t, d.UnmarshalJSON([]byte(`true`)))
}
