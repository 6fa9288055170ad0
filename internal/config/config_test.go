package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_CreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Paris", cfg.Timezone)
	assert.Equal(t, 60, cfg.FallbackOffsetMinutes)
	assert.False(t, cfg.RecreateIgnoresPresent)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoad_NormalizesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
timezone: Europe/Paris
links:
  - year: 3A
    url: https://edt.example.org/3a.ics
database:
  driver: POSTGRES
  dsn: host=db user=attend
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0 6 * * *", cfg.Schedule)
	assert.Equal(t, 30, cfg.FetchTimeoutSeconds)
	assert.Equal(t, 2, cfg.Parallelism)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, []string{"travail personnel", "personal work"}, cfg.PersonalWorkMarkers)
	require.Len(t, cfg.Links, 1)

	link, ok := cfg.Link("3A")
	assert.True(t, ok)
	assert.Equal(t, "https://edt.example.org/3a.ics", link.URL)
	require.NoError(t, cfg.Validate())
}

func TestApplyEnv_Overrides(t *testing.T) {
	t.Setenv("ATTENDCAL_DB_DSN", "file:test.db")
	t.Setenv("ATTENDCAL_LISTEN", ":9090")
	t.Setenv("ATTENDCAL_PARALLELISM", "4")

	cfg := DefaultConfig()
	cfg.ApplyEnv()

	assert.Equal(t, "file:test.db", cfg.Database.DSN)
	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, 4, cfg.Parallelism)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Links = []LinkConfig{{Year: "3A", URL: "not a url"}}
	assert.Error(t, cfg.Validate())

	cfg.Links = []LinkConfig{
		{Year: "3A", URL: "https://edt.example.org/a.ics"},
		{Year: "3A", URL: "https://edt.example.org/b.ics"},
	}
	assert.ErrorContains(t, cfg.Validate(), "unique")

	cfg = DefaultConfig()
	cfg.Database.Driver = "mysql"
	assert.Error(t, cfg.Validate())
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.Links = append(cfg.Links, LinkConfig{Year: "4B", URL: "https://edt.example.org/4b.ics"})
	cfg.RecreateIgnoresPresent = true
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Links, loaded.Links)
	assert.True(t, loaded.RecreateIgnoresPresent)
}
