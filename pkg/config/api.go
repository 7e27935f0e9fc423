package config

// APIConfig contains all API server configuration.
type APIConfig struct {
	Server APIServerConfig `yaml:"server" mapstructure:"server"`
	Auth   APIAuthConfig   `yaml:"auth" mapstructure:"auth"`

	// StrictSpecs rejects case specs that fail lint on create and update.
	StrictSpecs bool `yaml:"strict_specs" mapstructure:"strict_specs"`
}

// APIServerConfig contains HTTP server settings.
type APIServerConfig struct {
	Listen      string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// APIAuthConfig contains bearer token settings. When both fields are
// empty the API is open.
type APIAuthConfig struct {
	Token string `yaml:"token,omitempty" mapstructure:"token"`
	// TokenHash is a bcrypt hash of the accepted token.
	TokenHash string `yaml:"token_hash,omitempty" mapstructure:"token_hash"`
}

// Enabled reports whether requests must carry a bearer token.
func (a *APIAuthConfig) Enabled() bool {
	return a.Token != "" || a.TokenHash != ""
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver   string               `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteDatabaseConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig       `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}
