// Package config loads agentboard settings from a YAML or TOML file,
// a .env file and AGENTBOARD_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"agentboard/internal/capture"
	"agentboard/internal/clock"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "AGENTBOARD_"

// Store kinds.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSqlite   = "sqlite"
)

// Duration is a time.Duration read from strings such as "90s" or "10m".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// LiveConfig configures the live leaderboard cache.
type LiveConfig struct {
	TTL             Duration `yaml:"ttl" toml:"ttl"`
	MinInterval     Duration `yaml:"min_interval" toml:"min_interval"`
	RefreshInterval Duration `yaml:"refresh_interval" toml:"refresh_interval"`
	FetchTimeout    Duration `yaml:"fetch_timeout" toml:"fetch_timeout"`
}

// DetailConfig configures the agent detail cache.
type DetailConfig struct {
	TTL     Duration `yaml:"ttl" toml:"ttl"`
	Max     int      `yaml:"max" toml:"max"`
	Timeout Duration `yaml:"timeout" toml:"timeout"`
}

// CaptureConfig configures the daily capture scheduler.
type CaptureConfig struct {
	At             string   `yaml:"at" toml:"at"` // HH:MM in Timezone
	SafetyInterval Duration `yaml:"safety_interval" toml:"safety_interval"`
	Policy         string   `yaml:"policy" toml:"policy"` // keep | replace
	EnrichDelay    Duration `yaml:"enrich_delay" toml:"enrich_delay"`
}

// RankingConfig points at the upstream ranking service.
type RankingConfig struct {
	LeaderboardURL string   `yaml:"leaderboard_url" toml:"leaderboard_url"`
	DetailURL      string   `yaml:"detail_url" toml:"detail_url"`
	Timeout        Duration `yaml:"timeout" toml:"timeout"`
	MaxRetries     int      `yaml:"max_retries" toml:"max_retries"`
}

// SolanaConfig configures wallet balance lookups. Empty endpoint disables them.
type SolanaConfig struct {
	RPCEndpoint string   `yaml:"rpc_endpoint" toml:"rpc_endpoint"`
	Timeout     Duration `yaml:"timeout" toml:"timeout"`
}

// StoreConfig selects the capture store and the optional history mirror.
type StoreConfig struct {
	Kind          string `yaml:"kind" toml:"kind"`
	PostgresDSN   string `yaml:"postgres_dsn" toml:"postgres_dsn"`
	SqlitePath    string `yaml:"sqlite_path" toml:"sqlite_path"`
	ClickhouseDSN string `yaml:"clickhouse_dsn" toml:"clickhouse_dsn"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr string `yaml:"addr" toml:"addr"`
}

// LogConfig configures zap.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"` // json | console
}

// Config holds all agentboard configuration.
type Config struct {
	Timezone string `yaml:"timezone" toml:"timezone"`
	Baseline string `yaml:"baseline" toml:"baseline"` // YYYY-MM-DD, optional

	Live    LiveConfig    `yaml:"live" toml:"live"`
	Detail  DetailConfig  `yaml:"detail" toml:"detail"`
	Capture CaptureConfig `yaml:"capture" toml:"capture"`
	Ranking RankingConfig `yaml:"ranking" toml:"ranking"`
	Solana  SolanaConfig  `yaml:"solana" toml:"solana"`
	Store   StoreConfig   `yaml:"store" toml:"store"`
	HTTP    HTTPConfig    `yaml:"http" toml:"http"`
	Log     LogConfig     `yaml:"log" toml:"log"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Timezone: "UTC",
		Live: LiveConfig{
			TTL:             Duration(60 * time.Second),
			MinInterval:     Duration(10 * time.Second),
			RefreshInterval: Duration(60 * time.Second),
			FetchTimeout:    Duration(10 * time.Second),
		},
		Detail: DetailConfig{
			TTL:     Duration(10 * time.Minute),
			Max:     500,
			Timeout: Duration(10 * time.Second),
		},
		Capture: CaptureConfig{
			At:             "00:05",
			SafetyInterval: Duration(time.Hour),
			Policy:         string(capture.PolicyKeep),
			EnrichDelay:    Duration(250 * time.Millisecond),
		},
		Ranking: RankingConfig{
			Timeout: Duration(10 * time.Second),
		},
		Solana: SolanaConfig{
			Timeout: Duration(10 * time.Second),
		},
		Store: StoreConfig{
			Kind:       StoreMemory,
			SqlitePath: "agentboard.db",
		},
		HTTP: HTTPConfig{Addr: ":8080"},
		Log:  LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads .env (if present), then the file at path on top of defaults,
// then environment overrides. An empty path or a missing file yields defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
		default:
			if err := decode(path, data, cfg); err != nil {
				return nil, err
			}
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse TOML: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	return nil
}

type lookupFunc func(key string) (string, bool)

// applyEnv overlays AGENTBOARD_* variables.
func (c *Config) applyEnv(lookup lookupFunc) error {
	strs := map[string]*string{
		"TIMEZONE":            &c.Timezone,
		"BASELINE":            &c.Baseline,
		"CAPTURE_AT":          &c.Capture.At,
		"CAPTURE_POLICY":      &c.Capture.Policy,
		"RANKING_URL":         &c.Ranking.LeaderboardURL,
		"DETAIL_URL":          &c.Ranking.DetailURL,
		"SOLANA_RPC_ENDPOINT": &c.Solana.RPCEndpoint,
		"STORE":               &c.Store.Kind,
		"POSTGRES_DSN":        &c.Store.PostgresDSN,
		"SQLITE_PATH":         &c.Store.SqlitePath,
		"CLICKHOUSE_DSN":      &c.Store.ClickhouseDSN,
		"HTTP_ADDR":           &c.HTTP.Addr,
		"LOG_LEVEL":           &c.Log.Level,
		"LOG_FORMAT":          &c.Log.Format,
	}
	for name, dst := range strs {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}

	durations := map[string]*Duration{
		"LIVE_TTL":              &c.Live.TTL,
		"LIVE_MIN_INTERVAL":     &c.Live.MinInterval,
		"LIVE_REFRESH_INTERVAL": &c.Live.RefreshInterval,
		"FETCH_TIMEOUT":         &c.Live.FetchTimeout,
		"DETAIL_TTL":            &c.Detail.TTL,
		"SAFETY_INTERVAL":       &c.Capture.SafetyInterval,
		"ENRICH_DELAY":          &c.Capture.EnrichDelay,
	}
	for name, dst := range durations {
		if v, ok := lookup(EnvPrefix + name); ok {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
			}
		}
	}

	if v, ok := lookup(EnvPrefix + "DETAIL_MAX"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sDETAIL_MAX: %w", EnvPrefix, err)
		}
		c.Detail.Max = n
	}
	return nil
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := clock.ParseTimeOfDay(c.Capture.At); err != nil {
		return fmt.Errorf("capture.at: %w", err)
	}
	if _, err := capture.ParsePolicy(c.Capture.Policy); err != nil {
		return fmt.Errorf("capture.policy: %w", err)
	}
	if _, err := c.BaselineTime(); err != nil {
		return err
	}

	for name, d := range map[string]Duration{
		"live.ttl":                c.Live.TTL,
		"live.min_interval":       c.Live.MinInterval,
		"live.refresh_interval":   c.Live.RefreshInterval,
		"live.fetch_timeout":      c.Live.FetchTimeout,
		"detail.ttl":              c.Detail.TTL,
		"capture.safety_interval": c.Capture.SafetyInterval,
		"capture.enrich_delay":    c.Capture.EnrichDelay,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if c.Live.TTL == 0 {
		return errors.New("live.ttl must be positive")
	}
	if c.Detail.Max < 0 {
		return errors.New("detail.max must not be negative")
	}

	switch c.Store.Kind {
	case StoreMemory:
	case StorePostgres:
		if c.Store.PostgresDSN == "" {
			return errors.New("store.postgres_dsn is required for the postgres store")
		}
	case StoreSqlite:
		if c.Store.SqlitePath == "" {
			return errors.New("store.sqlite_path is required for the sqlite store")
		}
	default:
		return fmt.Errorf("unknown store kind %q", c.Store.Kind)
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// Location loads the display and scheduling timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// BaselineTime parses Baseline in the configured timezone. Nil when unset.
func (c *Config) BaselineTime() (*time.Time, error) {
	if c.Baseline == "" {
		return nil, nil
	}
	loc, err := c.Location()
	if err != nil {
		return nil, err
	}
	t, err := clock.ParseDay(c.Baseline, loc)
	if err != nil {
		return nil, fmt.Errorf("baseline: %w", err)
	}
	return &t, nil
}
