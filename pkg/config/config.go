// Package config loads the academy client configuration file.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/txn2/academy-client/pkg/retry"
	"github.com/txn2/academy-client/pkg/routeguard"
	"github.com/txn2/academy-client/pkg/storage"
)

// CurrentAPIVersion is the only configuration schema version.
const CurrentAPIVersion = "v1"

// Defaults applied by Load.
const (
	DefaultTimeout         = 30 * time.Second
	DefaultUserAgent       = "academy-client"
	DefaultCacheTTL        = 5 * time.Minute
	DefaultMaxEntries      = 100
	DefaultCleanupInterval = time.Minute
	DefaultCachePrefix     = "api_cache_"
	DefaultNamespace       = "default"
	DefaultMaxOpenConns    = 5
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
)

// Config is the root configuration.
type Config struct {
	APIVersion string        `yaml:"apiVersion"`
	API        APIConfig     `yaml:"api"`
	Retry      retry.Policy  `yaml:"retry"`
	Cache      CacheConfig   `yaml:"cache"`
	Storage    StorageConfig `yaml:"storage"`
	Logging    LoggingConfig `yaml:"logging"`

	// Routes replaces the built-in route table when set.
	Routes []routeguard.Rule `yaml:"routes"`
}

// APIConfig configures the academy API endpoint.
type APIConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
}

// CacheConfig configures the response cache.
type CacheConfig struct {
	Enabled         *bool         `yaml:"enabled"`
	TTL             time.Duration `yaml:"ttl"`
	MaxEntries      int           `yaml:"max_entries"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	Prefix          string        `yaml:"prefix"`
}

// IsEnabled reports whether caching is on. Caching defaults to on.
func (c CacheConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// StorageConfig selects and configures the persistent store.
type StorageConfig struct {
	Backend  string         `yaml:"backend"`
	File     FileConfig     `yaml:"file"`
	Postgres PostgresConfig `yaml:"postgres"`
	S3       S3Config       `yaml:"s3"`
}

// FileConfig configures the JSON file store.
type FileConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig configures the PostgreSQL store.
type PostgresConfig struct {
	DSN          string `yaml:"dsn"`
	Namespace    string `yaml:"namespace"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	Migrate      *bool  `yaml:"migrate"`
}

// ShouldMigrate reports whether migrations run on open. Defaults to true.
func (c PostgresConfig) ShouldMigrate() bool {
	return c.Migrate == nil || *c.Migrate
}

// S3Config configures the S3 store.
type S3Config struct {
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	AccessKeyID  string `yaml:"access_key_id"`
	SecretKey    string `yaml:"secret_access_key"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// LoggingConfig configures the slog handler installed by the CLI.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads, expands, defaults and validates the configuration at path.
// The path is expected to come from command line arguments.
func Load(path string) (*Config, error) {
	// #nosec G304 -- path is from CLI args, controlled by the user
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	data = []byte(expandEnvVars(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.APIVersion != "" && cfg.APIVersion != CurrentAPIVersion {
		return nil, fmt.Errorf("unsupported config apiVersion %q (supported: %s)", cfg.APIVersion, CurrentAPIVersion)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a validated-ready configuration for baseURL.
func Default(baseURL string) *Config {
	cfg := &Config{API: APIConfig{BaseURL: baseURL}}
	applyDefaults(cfg)
	return cfg
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}

// applyDefaults applies default values to the config.
func applyDefaults(cfg *Config) {
	if cfg.APIVersion == "" {
		cfg.APIVersion = CurrentAPIVersion
	}
	if cfg.API.Timeout == 0 {
		cfg.API.Timeout = DefaultTimeout
	}
	if cfg.API.UserAgent == "" {
		cfg.API.UserAgent = DefaultUserAgent
	}
	cfg.Retry = cfg.Retry.WithDefaults()
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = DefaultCacheTTL
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = DefaultMaxEntries
	}
	if cfg.Cache.CleanupInterval == 0 {
		cfg.Cache.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.Cache.Prefix == "" {
		cfg.Cache.Prefix = DefaultCachePrefix
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = storage.BackendMemory
	}
	if cfg.Storage.Backend == storage.BackendFile && cfg.Storage.File.Path == "" {
		cfg.Storage.File.Path = DefaultStatePath()
	}
	if cfg.Storage.Postgres.Namespace == "" {
		cfg.Storage.Postgres.Namespace = DefaultNamespace
	}
	if cfg.Storage.Postgres.MaxOpenConns == 0 {
		cfg.Storage.Postgres.MaxOpenConns = DefaultMaxOpenConns
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}
}

// DefaultStatePath is the file store location under the user config dir.
func DefaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "academy-client", "state.json")
}

var (
	backends   = []string{storage.BackendMemory, storage.BackendFile, storage.BackendPostgres, storage.BackendS3}
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"text", "json"}
)

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.API.BaseURL == "" {
		errs = append(errs, "api.base_url is required")
	} else if u, err := url.Parse(c.API.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, "api.base_url must be an http or https URL")
	}
	if c.API.Timeout < 0 {
		errs = append(errs, "api.timeout must not be negative")
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		errs = append(errs, "retry.max_delay must be at least retry.base_delay")
	}
	if c.Cache.TTL < 0 {
		errs = append(errs, "cache.ttl must not be negative")
	}
	if c.Cache.MaxEntries < 0 {
		errs = append(errs, "cache.max_entries must not be negative")
	}

	switch c.Storage.Backend {
	case storage.BackendPostgres:
		if c.Storage.Postgres.DSN == "" {
			errs = append(errs, "storage.postgres.dsn is required for the postgres backend")
		}
	case storage.BackendS3:
		if c.Storage.S3.Bucket == "" {
			errs = append(errs, "storage.s3.bucket is required for the s3 backend")
		}
	default:
		if !slices.Contains(backends, c.Storage.Backend) {
			errs = append(errs, fmt.Sprintf("storage.backend %q is not one of %s", c.Storage.Backend, strings.Join(backends, ", ")))
		}
	}

	if !slices.Contains(logLevels, strings.ToLower(c.Logging.Level)) {
		errs = append(errs, fmt.Sprintf("logging.level %q is not one of %s", c.Logging.Level, strings.Join(logLevels, ", ")))
	}
	if !slices.Contains(logFormats, strings.ToLower(c.Logging.Format)) {
		errs = append(errs, fmt.Sprintf("logging.format %q is not one of %s", c.Logging.Format, strings.Join(logFormats, ", ")))
	}

	for i, r := range c.Routes {
		if !strings.HasPrefix(r.Path, "/") {
			errs = append(errs, fmt.Sprintf("routes[%d].path must start with /", i))
		}
		for _, role := range r.AllowedRoles {
			if !role.Valid() {
				errs = append(errs, fmt.Sprintf("routes[%d] has unknown role %q", i, role))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
