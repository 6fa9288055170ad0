package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LinkConfig binds one academic year (cohort tag) to its ICS feed.
type LinkConfig struct {
	// Year is the cohort tag sessions are stored under (e.g. "3A").
	Year string `yaml:"year" json:"year" validate:"required"`
	// URL is the ICS export endpoint for that year.
	URL string `yaml:"url" json:"url" validate:"required,url"`
}

// DatabaseConfig selects the gorm dialect and its DSN.
type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver string `yaml:"driver" json:"driver" validate:"oneof=postgres sqlite"`
	// DSN is passed verbatim to the driver. For sqlite it is a file path.
	DSN string `yaml:"dsn" json:"dsn" validate:"required"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the admin API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the admin API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone the feed's UTC instants are converted to.
	Timezone string `yaml:"timezone" json:"timezone" validate:"required"`

	// FallbackOffsetMinutes is the fixed UTC offset used when Timezone is
	// missing from the runtime's zone database.
	FallbackOffsetMinutes int `yaml:"fallback_offset_minutes" json:"fallback_offset_minutes" validate:"gte=-720,lte=840"`

	// Schedule is a cron expression (5 fields) for the daily import, evaluated
	// in Timezone.
	Schedule string `yaml:"schedule" json:"schedule" validate:"required"`

	LogLevel string `yaml:"log_level" json:"log_level" validate:"omitempty,oneof=debug info warn error"`

	// CacheDir holds the conditional-GET cache of fetched feeds.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	FetchTimeoutSeconds int `yaml:"fetch_timeout_seconds" json:"fetch_timeout_seconds" validate:"gt=0"`

	// HorizonDays bounds RRULE expansion of feed entries that are not
	// pre-expanded.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days" validate:"gt=0"`

	// Parallelism is the number of years synchronized at the same time.
	Parallelism int `yaml:"parallelism" json:"parallelism" validate:"gt=0"`

	// RecreateIgnoresPresent restores the legacy behavior where an exact match
	// whose display fields changed is deleted and recreated even when it holds
	// a Present attendance. When false (default) such a session is updated in
	// place and keeps its attendance.
	RecreateIgnoresPresent bool `yaml:"recreate_ignores_present" json:"recreate_ignores_present"`

	// PersonalWorkMarkers disable presenter extraction when found in a title.
	PersonalWorkMarkers []string `yaml:"personal_work_markers" json:"personal_work_markers"`

	// BoilerplatePrefixes are description lines that never carry a presenter.
	BoilerplatePrefixes []string `yaml:"boilerplate_prefixes" json:"boilerplate_prefixes"`

	Links []LinkConfig `yaml:"links" json:"links" validate:"unique=Year,dive"`

	Database DatabaseConfig `yaml:"database" json:"database"`

	// BasicAuth, if non-nil, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

var (
	defaultMarkers     = []string{"travail personnel", "personal work"}
	defaultBoilerplate = []string{"(Exporté le", "Exporté le", "(Updated"}
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:                "127.0.0.1:8080",
		Timezone:              "Europe/Paris",
		FallbackOffsetMinutes: 60,
		Schedule:              "0 6 * * *",
		LogLevel:              "info",
		CacheDir:              "./var/ics-cache",
		FetchTimeoutSeconds:   30,
		HorizonDays:           180,
		Parallelism:           2,
		PersonalWorkMarkers:   append([]string(nil), defaultMarkers...),
		BoilerplatePrefixes:   append([]string(nil), defaultBoilerplate...),
		Links:                 []LinkConfig{},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "./var/attendcal.db",
		},
	}
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.FallbackOffsetMinutes == 0 && c.Timezone == def.Timezone {
		c.FallbackOffsetMinutes = def.FallbackOffsetMinutes
	}
	if c.Schedule == "" {
		c.Schedule = def.Schedule
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	c.LogLevel = strings.ToLower(c.LogLevel)
	if c.CacheDir == "" {
		c.CacheDir = def.CacheDir
	}
	if c.FetchTimeoutSeconds <= 0 {
		c.FetchTimeoutSeconds = def.FetchTimeoutSeconds
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = def.HorizonDays
	}
	if c.Parallelism <= 0 {
		c.Parallelism = def.Parallelism
	}
	if c.PersonalWorkMarkers == nil {
		c.PersonalWorkMarkers = def.PersonalWorkMarkers
	}
	if c.BoilerplatePrefixes == nil {
		c.BoilerplatePrefixes = def.BoilerplatePrefixes
	}
	if c.Links == nil {
		c.Links = []LinkConfig{}
	}
	if c.Database.Driver == "" {
		c.Database.Driver = def.Database.Driver
	}
	c.Database.Driver = strings.ToLower(c.Database.Driver)
	if c.Database.DSN == "" && c.Database.Driver == "sqlite" {
		c.Database.DSN = def.Database.DSN
	}
}

// ApplyEnv overrides file values with ATTENDCAL_* environment variables. A
// .env file in the working directory is loaded first if present; variables
// already set in the process environment win over it.
func (c *Config) ApplyEnv() {
	_ = godotenv.Load()

	if v := os.Getenv("ATTENDCAL_DB_DRIVER"); v != "" {
		c.Database.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("ATTENDCAL_DB_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("ATTENDCAL_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("ATTENDCAL_LOG_LEVEL"); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("ATTENDCAL_PARALLELISM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Parallelism = n
		}
	}
}

// Validate checks the configuration and returns the first violations found.
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

// Link returns the configured link for year.
func (c *Config) Link(year string) (LinkConfig, bool) {
	for _, l := range c.Links {
		if l.Year == year {
			return l, true
		}
	}
	return LinkConfig{}, false
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     permissions and returned.
//   - Otherwise the YAML is unmarshaled and defaults are filled in.
//
// Environment overrides are applied in both cases.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				cfg.ApplyEnv()
				return cfg, err
			}
			cfg.ApplyEnv()
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	cfg.ApplyEnv()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".attendcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
