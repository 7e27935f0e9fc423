package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// EnvPrefix is the prefix for environment variable overrides.
	EnvPrefix = "LAITEST"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultListen is the default API listen address.
	DefaultListen = "127.0.0.1:8080"

	// DefaultDatabaseDriver is the default database driver.
	DefaultDatabaseDriver = "sqlite"

	// DefaultSQLitePath keeps state next to the working directory.
	DefaultSQLitePath = ".laitest/laitest.db"

	// DefaultMaxBodyBytes caps how much of an http_get response body is read.
	DefaultMaxBodyBytes = 10 * 1024 * 1024

	// DefaultUserAgent is sent with http_get requests.
	DefaultUserAgent = "laitest"

	// DefaultMaxSuggestions caps the number of generated suggestions.
	DefaultMaxSuggestions = 50

	// DefaultMaxCreate caps the number of generated cases persisted per request.
	DefaultMaxCreate = 30

	// DefaultRequestsPerMinute is the default per-IP rate limit.
	DefaultRequestsPerMinute = 600
)

// Config is the root configuration for laitest.
type Config struct {
	Global    GlobalConfig    `yaml:"global" mapstructure:"global"`
	API       APIConfig       `yaml:"api" mapstructure:"api"`
	Database  DatabaseConfig  `yaml:"database" mapstructure:"database"`
	Runner    RunnerConfig    `yaml:"runner" mapstructure:"runner"`
	Reports   ReportsConfig   `yaml:"reports,omitempty" mapstructure:"reports"`
	Generator GeneratorConfig `yaml:"generator,omitempty" mapstructure:"generator"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// RunnerConfig contains settings for run execution.
type RunnerConfig struct {
	// RunTimeout bounds a single run. Empty means no limit.
	RunTimeout string           `yaml:"run_timeout,omitempty" mapstructure:"run_timeout"`
	HTTP       RunnerHTTPConfig `yaml:"http,omitempty" mapstructure:"http"`
}

// RunnerHTTPConfig configures the http_get step transport.
type RunnerHTTPConfig struct {
	MaxBodyBytes int64  `yaml:"max_body_bytes,omitempty" mapstructure:"max_body_bytes"`
	UserAgent    string `yaml:"user_agent,omitempty" mapstructure:"user_agent"`
}

// ReportsConfig configures run report output.
type ReportsConfig struct {
	Upload ReportsUploadConfig `yaml:"upload,omitempty" mapstructure:"upload"`
}

// ReportsUploadConfig configures remote storage for rendered reports.
type ReportsUploadConfig struct {
	S3 *S3UploadConfig `yaml:"s3,omitempty" mapstructure:"s3"`
}

// S3UploadConfig contains S3 settings for uploading reports.
type S3UploadConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	StorageClass    string `yaml:"storage_class,omitempty" mapstructure:"storage_class"`
	ACL             string `yaml:"acl,omitempty" mapstructure:"acl"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
}

// GeneratorConfig configures test case generation.
type GeneratorConfig struct {
	MaxSuggestions int `yaml:"max_suggestions,omitempty" mapstructure:"max_suggestions"`
	MaxCreate      int `yaml:"max_create,omitempty" mapstructure:"max_create"`
}

// Load reads and merges configuration files in order, then applies
// LAITEST_* environment overrides and defaults. With no paths only
// defaults and the environment are used.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// LAITEST_TOKEN is accepted as a short alias for the API token.
	if err := v.BindEnv(
		"api.auth.token", EnvPrefix+"_API_AUTH_TOKEN", EnvPrefix+"_TOKEN",
	); err != nil {
		return nil, fmt.Errorf("binding token env: %w", err)
	}

	for i, path := range paths {
		v.SetConfigFile(path)

		var err error
		if i == 0 {
			err = v.ReadInConfig()
		} else {
			err = v.MergeInConfig()
		}

		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// setDefaults registers every key with viper so that AutomaticEnv can
// resolve overrides for keys absent from the config files.
func setDefaults(v *viper.Viper) {
	v.SetDefault("global.log_level", DefaultLogLevel)

	v.SetDefault("api.server.listen", DefaultListen)
	v.SetDefault("api.server.cors_origins", []string{})
	v.SetDefault("api.server.rate_limit.enabled", false)
	v.SetDefault("api.server.rate_limit.requests_per_minute", DefaultRequestsPerMinute)
	v.SetDefault("api.auth.token", "")
	v.SetDefault("api.auth.token_hash", "")
	v.SetDefault("api.strict_specs", false)

	v.SetDefault("database.driver", DefaultDatabaseDriver)
	v.SetDefault("database.sqlite.path", DefaultSQLitePath)
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.database", "laitest")
	v.SetDefault("database.postgres.ssl_mode", "disable")

	v.SetDefault("runner.run_timeout", "")
	v.SetDefault("runner.http.max_body_bytes", DefaultMaxBodyBytes)
	v.SetDefault("runner.http.user_agent", DefaultUserAgent)

	v.SetDefault("generator.max_suggestions", DefaultMaxSuggestions)
	v.SetDefault("generator.max_create", DefaultMaxCreate)
}

// applyDefaults fills values that may have been zeroed explicitly.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.API.Server.Listen == "" {
		c.API.Server.Listen = DefaultListen
	}

	if c.API.Server.RateLimit.RequestsPerMinute <= 0 {
		c.API.Server.RateLimit.RequestsPerMinute = DefaultRequestsPerMinute
	}

	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDatabaseDriver
	}

	if c.Database.SQLite.Path == "" {
		c.Database.SQLite.Path = DefaultSQLitePath
	}

	if c.Runner.HTTP.MaxBodyBytes <= 0 {
		c.Runner.HTTP.MaxBodyBytes = DefaultMaxBodyBytes
	}

	if c.Runner.HTTP.UserAgent == "" {
		c.Runner.HTTP.UserAgent = DefaultUserAgent
	}

	if c.Generator.MaxSuggestions <= 0 {
		c.Generator.MaxSuggestions = DefaultMaxSuggestions
	}

	if c.Generator.MaxCreate <= 0 {
		c.Generator.MaxCreate = DefaultMaxCreate
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required")
		}
	case "postgres":
		if c.Database.Postgres.Host == "" {
			return fmt.Errorf("database.postgres.host is required")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if _, err := c.Runner.ParseRunTimeout(); err != nil {
		return err
	}

	if s3 := c.Reports.Upload.S3; s3 != nil && s3.Enabled && s3.Bucket == "" {
		return fmt.Errorf("reports.upload.s3.bucket is required when s3 upload is enabled")
	}

	return nil
}

// ParseRunTimeout returns the configured run timeout, or zero when unset.
func (r *RunnerConfig) ParseRunTimeout() (time.Duration, error) {
	if r.RunTimeout == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(r.RunTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid runner.run_timeout %q: %w", r.RunTimeout, err)
	}

	if d < 0 {
		return 0, fmt.Errorf("runner.run_timeout must not be negative")
	}

	return d, nil
}
