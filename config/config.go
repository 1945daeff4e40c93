// Package config loads and validates FrameVault configuration from a YAML
// file with environment variable overrides. Components never read the
// environment themselves; everything is resolved here and passed down
// explicitly at wiring time.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/framevault/errors"
)

// Duration wraps time.Duration with YAML string parsing ("3s", "10m").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// NATSConfig configures the NATS/JetStream connection.
type NATSConfig struct {
	URL            string   `yaml:"url"`
	Name           string   `yaml:"name"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
	DrainTimeout   Duration `yaml:"drain_timeout"`
}

// StoreConfig configures the frame object store.
type StoreConfig struct {
	Bucket      string `yaml:"bucket"`
	Description string `yaml:"description"`
}

// VideoConfig configures frame retrieval and assembly.
type VideoConfig struct {
	MaxDuration      Duration `yaml:"max_duration"`
	FetchConcurrency int      `yaml:"fetch_concurrency"`
	FetchTimeout     Duration `yaml:"fetch_timeout"`
}

// CacheConfig configures the assembled video cache and its pruner.
type CacheConfig struct {
	Dir            string   `yaml:"dir"`
	PruneThreshold Duration `yaml:"prune_threshold"`
	PruneInterval  Duration `yaml:"prune_interval"`
}

// IngestConfig configures the frame ingestion bridge.
type IngestConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Stream       string   `yaml:"stream"`
	Subject      string   `yaml:"subject"`
	Consumer     string   `yaml:"consumer"`
	BatchSize    int      `yaml:"batch_size"`
	PollTimeout  Duration `yaml:"poll_timeout"`
	ErrorBackoff Duration `yaml:"error_backoff"`
}

// HTTPConfig configures the HTTP gateway.
type HTTPConfig struct {
	Addr            string   `yaml:"addr"`
	RequestsPerSec  float64  `yaml:"requests_per_sec"`
	Burst           int      `yaml:"burst"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the root configuration document.
type Config struct {
	NATS   NATSConfig   `yaml:"nats"`
	Store  StoreConfig  `yaml:"store"`
	Video  VideoConfig  `yaml:"video"`
	Cache  CacheConfig  `yaml:"cache"`
	Ingest IngestConfig `yaml:"ingest"`
	HTTP   HTTPConfig   `yaml:"http"`
	Log    LogConfig    `yaml:"log"`
}

// Default returns the configuration used when no file is provided.
// Durations mirror the legacy deployment: 180s max video span, 6 concurrent
// fetches, 10 minute cache prune, 3s ingest poll.
func Default() *Config {
	return &Config{
		NATS: NATSConfig{
			URL:            "nats://localhost:4222",
			Name:           "framevault",
			ConnectTimeout: Duration(10 * time.Second),
			DrainTimeout:   Duration(30 * time.Second),
		},
		Store: StoreConfig{
			Bucket:      "FRAMES",
			Description: "camera frames and event descriptors",
		},
		Video: VideoConfig{
			MaxDuration:      Duration(180 * time.Second),
			FetchConcurrency: 6,
			FetchTimeout:     Duration(15 * time.Second),
		},
		Cache: CacheConfig{
			Dir:            os.TempDir() + "/framevault-videos",
			PruneThreshold: Duration(10 * time.Minute),
			PruneInterval:  Duration(10 * time.Minute),
		},
		Ingest: IngestConfig{
			Enabled:      true,
			Stream:       "FRAMES_INGEST",
			Subject:      "frames.ingest",
			Consumer:     "framevault-ingest",
			BatchSize:    16,
			PollTimeout:  Duration(3 * time.Second),
			ErrorBackoff: Duration(5 * time.Second),
		},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			RequestsPerSec:  10,
			Burst:           20,
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the configuration file at path (defaults apply when path is
// empty), applies environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapFatal(err, "config", "Load", "read "+path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapFatal(err, "config", "Load", "parse "+path)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides resolves FRAMEVAULT_* environment variables, which take
// precedence over file values. Credentials are only ever supplied this way in
// container deployments.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FRAMEVAULT_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("FRAMEVAULT_NATS_USERNAME"); v != "" {
		cfg.NATS.Username = v
	}
	if v := os.Getenv("FRAMEVAULT_NATS_PASSWORD"); v != "" {
		cfg.NATS.Password = v
	}
	if v := os.Getenv("FRAMEVAULT_NATS_TOKEN"); v != "" {
		cfg.NATS.Token = v
	}
	if v := os.Getenv("FRAMEVAULT_STORE_BUCKET"); v != "" {
		cfg.Store.Bucket = v
	}
	if v := os.Getenv("FRAMEVAULT_CACHE_DIR"); v != "" {
		cfg.Cache.Dir = v
	}
	if v := os.Getenv("FRAMEVAULT_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
}

// Validate checks the configuration for values that would misbehave at
// runtime. It returns the first problem found.
func (c *Config) Validate() error {
	if c.NATS.URL == "" {
		return errors.WrapFatal(errors.ErrMissingConfig, "config", "Validate", "nats.url")
	}
	if c.Store.Bucket == "" {
		return errors.WrapFatal(errors.ErrMissingConfig, "config", "Validate", "store.bucket")
	}
	if c.Video.MaxDuration.Std() <= 0 {
		return errors.WrapFatal(errors.ErrInvalidConfig, "config", "Validate", "video.max_duration must be positive")
	}
	if c.Video.FetchConcurrency <= 0 {
		return errors.WrapFatal(errors.ErrInvalidConfig, "config", "Validate", "video.fetch_concurrency must be positive")
	}
	if c.Video.FetchTimeout.Std() <= 0 {
		return errors.WrapFatal(errors.ErrInvalidConfig, "config", "Validate", "video.fetch_timeout must be positive")
	}
	if c.Cache.Dir == "" {
		return errors.WrapFatal(errors.ErrMissingConfig, "config", "Validate", "cache.dir")
	}
	if c.Cache.PruneThreshold.Std() <= 0 || c.Cache.PruneInterval.Std() <= 0 {
		return errors.WrapFatal(errors.ErrInvalidConfig, "config", "Validate", "cache prune settings must be positive")
	}
	if c.Ingest.Enabled {
		if c.Ingest.Stream == "" || c.Ingest.Subject == "" || c.Ingest.Consumer == "" {
			return errors.WrapFatal(errors.ErrMissingConfig, "config", "Validate", "ingest stream/subject/consumer")
		}
		if c.Ingest.BatchSize <= 0 {
			return errors.WrapFatal(errors.ErrInvalidConfig, "config", "Validate", "ingest.batch_size must be positive")
		}
		if c.Ingest.PollTimeout.Std() <= 0 {
			return errors.WrapFatal(errors.ErrInvalidConfig, "config", "Validate", "ingest.poll_timeout must be positive")
		}
	}
	if c.HTTP.Addr == "" {
		return errors.WrapFatal(errors.ErrMissingConfig, "config", "Validate", "http.addr")
	}
	return nil
}
