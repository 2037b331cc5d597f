package config

import (
	"fmt"
	"os"
	"time"

	"github.com/avmeta/harvester/internal/common/configtypes"
	"github.com/avmeta/harvester/internal/common/yamlutil"
	"github.com/avmeta/harvester/pkg/types"
)

// Config is the root configuration for the harvester.
type Config struct {
	Log     configtypes.LogConfig     `yaml:"log"`
	HTTP    HTTPConfig                `yaml:"http"`
	Limiter LimiterConfig             `yaml:"limiter"`
	Bypass  BypassConfig              `yaml:"bypass"`
	Sites   SitesConfig               `yaml:"sites"`
	Browser BrowserConfig             `yaml:"browser"`
	Cache   CacheConfig               `yaml:"cache"`
	Metrics configtypes.MetricsConfig `yaml:"metrics"`
}

// HTTPConfig controls the shared web client.
type HTTPConfig struct {
	Timeout   types.Duration `yaml:"timeout"`
	Retry     int            `yaml:"retry"`
	Proxy     string         `yaml:"proxy,omitempty"`
	UserAgent string         `yaml:"user_agent,omitempty"`
}

// LimiterConfig controls per-host request rates.
type LimiterConfig struct {
	// RatePerSecond is the default per-host rate.
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
	// LocalRatePerSecond applies to loopback hosts.
	LocalRatePerSecond float64 `yaml:"local_rate_per_second"`
	// Overrides maps hostname to a custom rate.
	Overrides map[string]float64 `yaml:"overrides,omitempty"`
}

// Bypass strategy constants.
const (
	BypassModeCookies = "cookies"
	BypassModeMirror  = "mirror"
)

// BypassConfig controls the Cloudflare bypass coordinator.
type BypassConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url,omitempty"`
	Mode    string `yaml:"mode,omitempty"`
	Proxy   string `yaml:"proxy,omitempty"`

	CallTimeout      types.Duration `yaml:"call_timeout,omitempty"`
	ReuseWindow      types.Duration `yaml:"reuse_window,omitempty"`
	ForceMinInterval types.Duration `yaml:"force_min_interval,omitempty"`
	FailureCooldown  types.Duration `yaml:"failure_cooldown,omitempty"`
	MinCallInterval  types.Duration `yaml:"min_call_interval,omitempty"`

	BindingTTL      types.Duration `yaml:"binding_ttl,omitempty"`
	PerHostBindings int            `yaml:"per_host_bindings,omitempty"`
	TotalBindings   int            `yaml:"total_bindings,omitempty"`
}

// SitesConfig selects which crawlers run and how fields merge.
type SitesConfig struct {
	Enabled  []string `yaml:"enabled"`
	Language string   `yaml:"language,omitempty"`
	// Timeout bounds one whole fanout round.
	Timeout types.Duration `yaml:"timeout,omitempty"`
	// FieldPriority maps an output field to an ordered site list; the
	// first site with a valid value wins.
	FieldPriority map[string][]string `yaml:"field_priority,omitempty"`
	DMM           DMMConfig           `yaml:"dmm,omitempty"`
}

// DMMConfig holds DMM-specific knobs.
type DMMConfig struct {
	// SODPosterRatio: when the label is SOD and the dedicated poster is
	// smaller than thumb_bytes*ratio, crop from the thumb instead.
	SODPosterRatio float64 `yaml:"sod_poster_ratio,omitempty"`
}

// BrowserConfig controls the shared headless Chromium pool.
type BrowserConfig struct {
	Enabled           bool           `yaml:"enabled"`
	PoolSize          string         `yaml:"pool_size,omitempty"` // "auto" or integer
	NavigateTimeout   types.Duration `yaml:"navigate_timeout,omitempty"`
	RestartAfterCount int            `yaml:"restart_after_count,omitempty"`
	RestartAfterTime  types.Duration `yaml:"restart_after_time,omitempty"`
	ShutdownTimeout   types.Duration `yaml:"shutdown_timeout,omitempty"`
}

// Cache backend constants.
const (
	CacheBackendNone   = "none"
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// CacheConfig controls the merged-record cache.
type CacheConfig struct {
	Backend     string         `yaml:"backend"`
	TTL         types.Duration `yaml:"ttl,omitempty"`
	MaxEntries  int            `yaml:"max_entries,omitempty"`
	Compression string         `yaml:"compression,omitempty"`
	Redis       RedisConfig    `yaml:"redis,omitempty"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// Default returns a fully populated default configuration.
func Default() *Config {
	return &Config{
		Log: configtypes.LogConfig{
			Level: configtypes.LogLevelInfo,
			Console: configtypes.ConsoleLogConfig{
				Enabled: true,
				Format:  configtypes.LogFormatConsole,
			},
		},
		HTTP: HTTPConfig{
			Timeout: types.Duration(30 * time.Second),
			Retry:   3,
		},
		Limiter: LimiterConfig{
			RatePerSecond:      5,
			Burst:              5,
			LocalRatePerSecond: 300,
		},
		Bypass: BypassConfig{
			Enabled:          false,
			Mode:             BypassModeCookies,
			CallTimeout:      types.Duration(45 * time.Second),
			ReuseWindow:      types.Duration(10 * time.Second),
			ForceMinInterval: types.Duration(10 * time.Second),
			FailureCooldown:  types.Duration(30 * time.Second),
			MinCallInterval:  types.Duration(2 * time.Second),
			BindingTTL:       types.Duration(time.Hour),
			PerHostBindings:  32,
			TotalBindings:    256,
		},
		Sites: SitesConfig{
			Enabled:  []string{"dmm", "avbase", "javbus", "mgstage", "missav"},
			Language: "jp",
			Timeout:  types.Duration(3 * time.Minute),
			DMM: DMMConfig{
				SODPosterRatio: 0.5,
			},
		},
		Browser: BrowserConfig{
			Enabled:           false,
			PoolSize:          "auto",
			NavigateTimeout:   types.Duration(30 * time.Second),
			RestartAfterCount: 100,
			RestartAfterTime:  types.Duration(time.Hour),
			ShutdownTimeout:   types.Duration(30 * time.Second),
		},
		Cache: CacheConfig{
			Backend:     CacheBackendMemory,
			TTL:         types.Duration(24 * time.Hour),
			MaxEntries:  4096,
			Compression: "snappy",
		},
		Metrics: configtypes.MetricsConfig{
			Enabled:   false,
			Listen:    ":9090",
			Path:      "/metrics",
			Namespace: "harvester",
		},
	}
}

// Load reads a YAML config file over the defaults with strict field checking.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes over the defaults with strict field checking.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yamlutil.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	if c.HTTP.Retry < 1 {
		return fmt.Errorf("http.retry must be at least 1, got %d", c.HTTP.Retry)
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be positive")
	}
	if c.Limiter.RatePerSecond <= 0 {
		return fmt.Errorf("limiter.rate_per_second must be positive")
	}
	if c.Limiter.Burst < 1 {
		return fmt.Errorf("limiter.burst must be at least 1")
	}
	if c.Bypass.Enabled {
		if c.Bypass.URL == "" {
			return fmt.Errorf("bypass.url is required when bypass is enabled")
		}
		switch c.Bypass.Mode {
		case BypassModeCookies, BypassModeMirror:
		default:
			return fmt.Errorf("bypass.mode must be %q or %q, got %q",
				BypassModeCookies, BypassModeMirror, c.Bypass.Mode)
		}
	}
	switch c.Cache.Backend {
	case CacheBackendNone, CacheBackendMemory, CacheBackendRedis:
	default:
		return fmt.Errorf("cache.backend must be none, memory or redis, got %q", c.Cache.Backend)
	}
	if c.Cache.Backend == CacheBackendRedis && c.Cache.Redis.Addr == "" {
		return fmt.Errorf("cache.redis.addr is required for the redis backend")
	}
	for _, s := range c.Sites.Enabled {
		if _, err := types.ParseWebsite(s); err != nil {
			return fmt.Errorf("sites.enabled: %w", err)
		}
	}
	for field, order := range c.Sites.FieldPriority {
		for _, s := range order {
			if _, err := types.ParseWebsite(s); err != nil {
				return fmt.Errorf("sites.field_priority.%s: %w", field, err)
			}
		}
	}
	if c.Sites.DMM.SODPosterRatio < 0 || c.Sites.DMM.SODPosterRatio > 1 {
		return fmt.Errorf("sites.dmm.sod_poster_ratio must be within [0, 1]")
	}
	return nil
}

// EnabledSites returns the parsed enabled site list.
func (c *Config) EnabledSites() []types.Website {
	out := make([]types.Website, 0, len(c.Sites.Enabled))
	for _, s := range c.Sites.Enabled {
		w, err := types.ParseWebsite(s)
		if err != nil {
			continue
		}
		out = append(out, w)
	}
	return out
}
