package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode: report
scheduler:
  in_flight_limit: 4
retries:
  max: 5
  backoff_ms: 250
cache:
  dir: /tmp/cache
  enabled: both
post_reflect:
  enabled: true
`), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ModeReport, c.Mode)
	require.Equal(t, 4, c.Scheduler.InFlightLimit)
	require.Equal(t, 5, c.Retries.Max)
	require.True(t, c.PostReflect.Enabled)
	require.Equal(t, 6, c.Scheduler.MaxLayers, "unset key keeps its default")
}

func TestValidateRejectsBadMode(t *testing.T) {
	c := Default()
	c.Mode = "bogus"
	require.Error(t, c.Validate())
}

func TestBackoffForDoublesPerAttempt(t *testing.T) {
	c := Default()
	c.Retries.BackoffMs = 100
	require.Equal(t, int64(100), c.BackoffFor(1).Milliseconds())
	require.Equal(t, int64(200), c.BackoffFor(2).Milliseconds())
	require.Equal(t, int64(400), c.BackoffFor(3).Milliseconds())
}

func TestCacheEnabledFor(t *testing.T) {
	c := Default()
	c.Cache.Enabled = CacheLLM
	require.True(t, c.CacheEnabledFor("llm"))
	require.False(t, c.CacheEnabledFor("search"))

	c.Cache.Enabled = CacheBoth
	require.True(t, c.CacheEnabledFor("search"))

	c.Cache.Enabled = CacheNone
	require.False(t, c.CacheEnabledFor("llm"))
}
