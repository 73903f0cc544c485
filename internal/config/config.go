// Package config builds the single immutable configuration shared by every component.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultAPIURL        = "https://api.github.com/"
	defaultSprintStart   = "2025-01-06"
	defaultOutputFile    = "tmp/metrics.github.csv"
	defaultMappingFile   = "mappings.json"
	defaultCachePath     = "tmp/cache"
	defaultClosedWindow  = 30 * 24 * time.Hour
	defaultTimeout       = 30 * time.Second
	defaultCacheTTL      = time.Hour
	defaultRetryAttempts = 3
)

// Cache storage backends.
const (
	CacheBackendFile  = "file"
	CacheBackendRedis = "redis"
)

var validLogLevels = []string{"debug", "info", "warn", "error"}

// Config is the root application configuration.
type Config struct {
	GitHub       GitHubConfig  `yaml:"github"`
	Metrics      MetricsConfig `yaml:"metrics"`
	Sprint       SprintConfig  `yaml:"sprint"`
	HTTP         HTTPConfig    `yaml:"http"`
	Log          LogConfig     `yaml:"log"`
	GitHubOutput string        `yaml:"github_output"`

	// BaseDir anchors every relative path in the configuration.
	BaseDir string `yaml:"-"`
}

// GitHubConfig configures the hosting API and record filtering.
type GitHubConfig struct {
	Repository           string        `yaml:"repository"`
	Token                string        `yaml:"token"`
	APIURL               string        `yaml:"api_url"`
	GraphQLURL           string        `yaml:"graphql_url"`
	App                  AppConfig     `yaml:"app"`
	IgnoreUsers          []int64       `yaml:"ignore_users"`
	IgnoreLabels         []string      `yaml:"ignore_labels"`
	IgnoreCommitMessages []string      `yaml:"ignore_commit_messages"`
	MappingFile          string        `yaml:"mapping_file"`
	ClosedWindow         time.Duration `yaml:"closed_window"`
}

// AppConfig configures GitHub App installation authentication.
// When AppID is zero the token is used instead.
type AppConfig struct {
	AppID          int64  `yaml:"app_id"`
	InstallationID int64  `yaml:"installation_id"`
	PrivateKeyPath string `yaml:"private_key_path"`
}

// Enabled reports whether app authentication is configured.
func (a AppConfig) Enabled() bool {
	return a.AppID != 0
}

// MetricsConfig configures report output.
type MetricsConfig struct {
	Contributions bool   `yaml:"contributions"`
	OutputFile    string `yaml:"output_file"`
	// Textfile, when set, receives HTTP client counters in Prometheus text format.
	Textfile string `yaml:"textfile"`
}

// SprintConfig configures the sprint calendar.
type SprintConfig struct {
	StartDate string `yaml:"start_date"`
}

// Start parses StartDate.
func (s SprintConfig) Start() (time.Time, error) {
	return time.Parse(time.DateOnly, s.StartDate)
}

// HTTPConfig configures the API client.
type HTTPConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	Retry   RetryConfig   `yaml:"retry"`
	Cache   CacheConfig   `yaml:"cache"`
}

// RetryConfig configures retries.
type RetryConfig struct {
	Enabled bool `yaml:"enabled"`
	// MaxRetryAttempts is nil when unset; an explicit 0 disables retries.
	MaxRetryAttempts *int          `yaml:"max_retry_attempts"`
	RetryOnTimeout   bool          `yaml:"retry_on_timeout"`
	RetryOnStatus    []int         `yaml:"retry_on_status"`
	InitialBackoff   time.Duration `yaml:"initial_backoff"`
	MaxBackoff       time.Duration `yaml:"max_backoff"`
}

// Attempts returns the configured retry count, or zero when unset.
func (r RetryConfig) Attempts() int {
	if r.MaxRetryAttempts == nil {
		return 0
	}
	return *r.MaxRetryAttempts
}

// CacheConfig configures the response cache.
type CacheConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Backend     string        `yaml:"backend"`
	TTL         time.Duration `yaml:"ttl"`
	Path        string        `yaml:"path"`
	RedisAddr   string        `yaml:"redis_addr"`
	VaryHeaders []string      `yaml:"vary_headers"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads an optional .env file, the YAML file at path (skipped when path is empty),
// applies environment overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config file: %w", err)
		}
		defer func() {
			_ = file.Close()
		}()
		if err := decode(file, cfg); err != nil {
			return nil, err
		}
		abs, err := filepath.Abs(filepath.Dir(path))
		if err != nil {
			return nil, fmt.Errorf("resolve config dir: %w", err)
		}
		cfg.BaseDir = abs
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working dir: %w", err)
		}
		cfg.BaseDir = wd
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(reader io.Reader, cfg *Config) error {
	decoder := yaml.NewDecoder(reader)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("unmarshal yaml: %w", err)
	}
	return nil
}

type lookupFunc func(key string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	if v, ok := lookup("GITHUB_TOKEN"); ok && v != "" {
		cfg.GitHub.Token = v
	}
	if v, ok := lookup("GITHUB_REPOSITORY"); ok && v != "" {
		cfg.GitHub.Repository = v
	}
	if v, ok := lookup("GITHUB_OUTPUT"); ok && v != "" {
		cfg.GitHubOutput = v
	}
	if v, ok := lookup("METRICS_CONTRIBUTIONS"); ok && v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse METRICS_CONTRIBUTIONS: %w", err)
		}
		cfg.Metrics.Contributions = enabled
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.GitHub.APIURL == "" {
		cfg.GitHub.APIURL = defaultAPIURL
	}
	if !strings.HasSuffix(cfg.GitHub.APIURL, "/") {
		cfg.GitHub.APIURL += "/"
	}
	if cfg.GitHub.GraphQLURL == "" {
		cfg.GitHub.GraphQLURL = cfg.GitHub.APIURL + "graphql"
	}
	if cfg.GitHub.MappingFile == "" {
		cfg.GitHub.MappingFile = defaultMappingFile
	}
	if cfg.GitHub.ClosedWindow == 0 {
		cfg.GitHub.ClosedWindow = defaultClosedWindow
	}
	if cfg.Metrics.OutputFile == "" {
		cfg.Metrics.OutputFile = defaultOutputFile
	}
	if cfg.Sprint.StartDate == "" {
		cfg.Sprint.StartDate = defaultSprintStart
	}
	if cfg.HTTP.Timeout == 0 {
		cfg.HTTP.Timeout = defaultTimeout
	}
	if cfg.HTTP.Retry.Enabled {
		if cfg.HTTP.Retry.MaxRetryAttempts == nil {
			attempts := defaultRetryAttempts
			cfg.HTTP.Retry.MaxRetryAttempts = &attempts
		}
		if len(cfg.HTTP.Retry.RetryOnStatus) == 0 {
			cfg.HTTP.Retry.RetryOnStatus = []int{
				http.StatusTooManyRequests,
				http.StatusBadGateway,
				http.StatusServiceUnavailable,
				http.StatusGatewayTimeout,
			}
		}
		if cfg.HTTP.Retry.InitialBackoff == 0 {
			cfg.HTTP.Retry.InitialBackoff = time.Second
		}
	}
	if cfg.HTTP.Cache.Backend == "" {
		cfg.HTTP.Cache.Backend = CacheBackendFile
	}
	if cfg.HTTP.Cache.TTL == 0 {
		cfg.HTTP.Cache.TTL = defaultCacheTTL
	}
	if cfg.HTTP.Cache.Path == "" {
		cfg.HTTP.Cache.Path = defaultCachePath
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// Validate validates configuration values.
func (c *Config) Validate() error {
	var errs []string

	owner, name, found := strings.Cut(c.GitHub.Repository, "/")
	if !found || owner == "" || name == "" || strings.Contains(name, "/") {
		errs = append(errs, "github.repository must be in owner/name form")
	}
	if c.GitHub.App.Enabled() {
		if c.GitHub.App.InstallationID <= 0 {
			errs = append(errs, "github.app.installation_id must be > 0")
		}
		if strings.TrimSpace(c.GitHub.App.PrivateKeyPath) == "" {
			errs = append(errs, "github.app.private_key_path is required")
		}
	} else if c.GitHub.Token == "" {
		errs = append(errs, "github.token (or GITHUB_TOKEN) is required")
	}
	if c.GitHub.ClosedWindow < 0 {
		errs = append(errs, "github.closed_window must be >= 0")
	}
	if _, err := c.Sprint.Start(); err != nil {
		errs = append(errs, "sprint.start_date must be YYYY-MM-DD")
	}
	if c.HTTP.Timeout < 0 {
		errs = append(errs, "http.timeout must be >= 0")
	}
	if c.HTTP.Retry.Attempts() < 0 {
		errs = append(errs, "http.retry.max_retry_attempts must be >= 0")
	}
	switch c.HTTP.Cache.Backend {
	case CacheBackendFile:
	case CacheBackendRedis:
		if c.HTTP.Cache.Enabled && c.HTTP.Cache.RedisAddr == "" {
			errs = append(errs, "http.cache.redis_addr is required for the redis backend")
		}
	default:
		errs = append(errs, "http.cache.backend must be one of file|redis")
	}
	if c.HTTP.Cache.TTL < 0 {
		errs = append(errs, "http.cache.ttl must be >= 0")
	}
	if !slices.Contains(validLogLevels, c.Log.Level) {
		errs = append(errs, "log.level must be one of debug|info|warn|error")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Path resolves p against BaseDir unless it is already absolute.
func (c *Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.BaseDir, p)
}

// RepoParts splits the repository identifier into owner and name.
func (c *Config) RepoParts() (string, string) {
	owner, name, _ := strings.Cut(c.GitHub.Repository, "/")
	return owner, name
}
