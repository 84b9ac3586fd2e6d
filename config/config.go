// Package config loads the run configuration of spec §6: mode, per-task
// capability selection, scheduler bounds, retry policy, cache settings,
// per-call timeout, and the post-reflection gate.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Mode selects the overall generation mode (spec §6).
type Mode string

const (
	ModeStory  Mode = "story"
	ModeReport Mode = "report"
)

// CacheScope selects which resource classes are cached (spec §6
// cache.enabled).
type CacheScope string

const (
	CacheNone   CacheScope = "none"
	CacheLLM    CacheScope = "llm"
	CacheSearch CacheScope = "search"
	CacheBoth   CacheScope = "both"
)

// Config is the full set of configuration keys spec §6 enumerates, loaded
// from YAML the way the teacher's deployment manifests are (yaml.v3
// throughout the pack's config-adjacent files).
type Config struct {
	Mode Mode `yaml:"mode"`

	Model struct {
		Plan      string `yaml:"plan"`
		Execute   string `yaml:"execute"`
		Aggregate string `yaml:"aggregate"`
	} `yaml:"model"`

	Scheduler struct {
		InFlightLimit int `yaml:"in_flight_limit"`
		MaxLayers     int `yaml:"max_layers"`
	} `yaml:"scheduler"`

	Retries struct {
		Max        int `yaml:"max"`
		BackoffMs  int `yaml:"backoff_ms"`
	} `yaml:"retries"`

	Cache struct {
		Dir     string     `yaml:"dir"`
		Enabled CacheScope `yaml:"enabled"`
	} `yaml:"cache"`

	CallTimeoutMs int `yaml:"call_timeout_ms"`

	PostReflect struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"post_reflect"`

	// Redis/Mongo carry connection settings for the domain stack's
	// durable backends (SPEC_FULL.md §10 "cache/registry connection
	// settings (Redis/Mongo DSNs)"): the disk cache of spec §4.2/§6 needs
	// neither, but operators who configure cache.enabled against a
	// shared cluster, or who run more than one engine process against
	// the replicated capability registry (registry/), need a DSN
	// somewhere other than a command-line flag.
	Redis struct {
		Addr string `yaml:"addr"`
	} `yaml:"redis"`

	Mongo struct {
		URI        string `yaml:"uri"`
		Database   string `yaml:"database"`
		Collection string `yaml:"collection"`
	} `yaml:"mongo"`
}

// Default returns the configuration spec §5 implies when nothing is
// overridden: in_flight_limit 1 (deterministic story mode), retries.max 3
// with a 500ms base backoff, and caching disabled.
func Default() Config {
	var c Config
	c.Mode = ModeStory
	c.Scheduler.InFlightLimit = 1
	c.Scheduler.MaxLayers = 6
	c.Retries.Max = 3
	c.Retries.BackoffMs = 500
	c.Cache.Enabled = CacheNone
	c.CallTimeoutMs = 60_000
	return c
}

// Load reads and parses a YAML configuration file, starting from Default
// so an omitted key keeps its default rather than zeroing out.
func Load(path string) (Config, error) {
	c := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate rejects configurations the scheduler could not run correctly.
func (c Config) Validate() error {
	if c.Mode != ModeStory && c.Mode != ModeReport {
		return fmt.Errorf("config: mode must be %q or %q, got %q", ModeStory, ModeReport, c.Mode)
	}
	if c.Scheduler.InFlightLimit < 1 {
		return fmt.Errorf("config: scheduler.in_flight_limit must be >= 1")
	}
	if c.Scheduler.MaxLayers < 1 {
		return fmt.Errorf("config: scheduler.max_layers must be >= 1")
	}
	if c.Retries.Max < 0 {
		return fmt.Errorf("config: retries.max must be >= 0")
	}
	switch c.Cache.Enabled {
	case CacheNone, CacheLLM, CacheSearch, CacheBoth, "":
	default:
		return fmt.Errorf("config: cache.enabled must be one of none/llm/search/both, got %q", c.Cache.Enabled)
	}
	return nil
}

// CallTimeout returns the per-capability-call timeout as a time.Duration.
func (c Config) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutMs) * time.Millisecond
}

// BackoffFor returns the exponential backoff delay before retry attempt
// number attempt (1-based): backoff_ms * 2^(attempt-1).
func (c Config) BackoffFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	ms := c.Retries.BackoffMs
	for i := 1; i < attempt; i++ {
		ms *= 2
	}
	return time.Duration(ms) * time.Millisecond
}

// CacheEnabledFor reports whether namespace ("llm" or "search") should be
// cached under this configuration.
func (c Config) CacheEnabledFor(namespace string) bool {
	switch c.Cache.Enabled {
	case CacheBoth:
		return true
	case CacheLLM:
		return namespace == "llm"
	case CacheSearch:
		return namespace == "search"
	default:
		return false
	}
}
