package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// DefaultRounds is used when debate.rounds is unset or below one.
	DefaultRounds = 10
	// MaxRounds is the hard cap on debate rounds per path.
	MaxRounds = 10

	DefaultReasonerTimeoutMS  = 30000
	DefaultReasonerMaxTokens  = 1200
	DefaultResponderTimeoutMS = 60000

	// DefaultStreamTTL is how long a mirrored run stays replayable after its
	// last event.
	DefaultStreamTTL = 7 * 24 * time.Hour
)

// Config holds all configuration for the debate service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	Debate    DebateConfig    `mapstructure:"debate"`
	Agents    AgentsConfig    `mapstructure:"agents"`
	Reasoner  ReasonerConfig  `mapstructure:"reasoner"`
	Responder ResponderConfig `mapstructure:"responder"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug bool `mapstructure:"debug"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// DebateConfig controls the round loop.
type DebateConfig struct {
	Rounds int `mapstructure:"rounds"`
}

// Normalize clamps the round count into [1, MaxRounds]; values below one
// fall back to DefaultRounds.
func (d DebateConfig) Normalize() DebateConfig {
	if d.Rounds < 1 {
		d.Rounds = DefaultRounds
	}
	if d.Rounds > MaxRounds {
		d.Rounds = MaxRounds
	}
	return d
}

// AgentsConfig toggles the multi-path system agents.
type AgentsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ReasonerConfig configures the structured-output model used for coach,
// judge, report, synthesis and evaluation calls.
type ReasonerConfig struct {
	BaseURL     string  `mapstructure:"base_url"`
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	TimeoutMS   int     `mapstructure:"timeout_ms"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

// Timeout returns the per-call deadline.
func (r ReasonerConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutMS) * time.Millisecond
}

// Normalize applies defaults for unset reasoner values.
func (r ReasonerConfig) Normalize() ReasonerConfig {
	if r.TimeoutMS <= 0 {
		r.TimeoutMS = DefaultReasonerTimeoutMS
	}
	if r.MaxTokens <= 0 {
		r.MaxTokens = DefaultReasonerMaxTokens
	}
	if strings.TrimSpace(r.BaseURL) == "" {
		r.BaseURL = "https://api.openai.com/v1"
	}
	if strings.TrimSpace(r.Model) == "" {
		r.Model = "gpt-4o-mini"
	}
	if r.APIKey == "" {
		r.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	return r
}

// ResponderConfig configures the upstream conversational responder.
type ResponderConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	APIKey    string `mapstructure:"api_key"`
	TimeoutMS int    `mapstructure:"timeout_ms"`
}

// Timeout returns the per-call deadline.
func (r ResponderConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutMS) * time.Millisecond
}

func (r ResponderConfig) Validate() error {
	if strings.TrimSpace(r.BaseURL) == "" {
		return fmt.Errorf("responder.base_url required")
	}
	if r.TimeoutMS < 0 {
		return fmt.Errorf("responder.timeout_ms cannot be negative")
	}
	return nil
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Driver   string         `mapstructure:"driver"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

const (
	StorageDriverNone     = "none"
	StorageDriverPostgres = "postgres"
	StorageDriverSQLite   = "sqlite"
)

func (s StorageConfig) Validate() error {
	switch s.Driver {
	case StorageDriverNone:
		return nil
	case StorageDriverPostgres:
		return s.Postgres.Validate()
	case StorageDriverSQLite:
		if strings.TrimSpace(s.SQLite.Path) == "" {
			return fmt.Errorf("storage.sqlite.path required")
		}
		return nil
	default:
		return fmt.Errorf("unknown storage.driver %q", s.Driver)
	}
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a lib/pq connection string.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// SQLiteConfig contains the local database file location.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig contains Redis connection settings. An empty host disables the
// event mirror.
type RedisConfig struct {
	Host         string        `mapstructure:"host"`
	Port         string        `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	Timeout      time.Duration `mapstructure:"timeout"`
	StreamMaxLen int64         `mapstructure:"stream_max_len"`
	StreamTTL    time.Duration `mapstructure:"stream_ttl"`
}

// Enabled reports whether a Redis host is configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Host) != ""
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	port := r.Port
	if port == "" {
		port = "6379"
	}
	return fmt.Sprintf("%s:%s", r.Host, port)
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	Tracing        bool   `mapstructure:"tracing"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	ServiceName    string `mapstructure:"service_name"`
}

// Normalize applies defaults and clamps every section.
func (c *Config) Normalize() {
	c.Debate = c.Debate.Normalize()
	c.Reasoner = c.Reasoner.Normalize()
	if c.Responder.TimeoutMS == 0 {
		c.Responder.TimeoutMS = DefaultResponderTimeoutMS
	}
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if c.Storage.Driver == "" {
		c.Storage.Driver = StorageDriverNone
	}
	if c.Storage.Redis.StreamMaxLen <= 0 {
		c.Storage.Redis.StreamMaxLen = 1000
	}
	if c.Storage.Redis.StreamTTL <= 0 {
		c.Storage.Redis.StreamTTL = DefaultStreamTTL
	}
	if c.Storage.Redis.Timeout <= 0 {
		c.Storage.Redis.Timeout = 2 * time.Second
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "issuelab"
	}
}

// Validate checks the normalized configuration.
func (c *Config) Validate() error {
	if err := c.Responder.Validate(); err != nil {
		return err
	}
	return c.Storage.Validate()
}

// setDefaults declares every key so AutomaticEnv can bind it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("general.debug", false)
	v.SetDefault("server.address", ":10001")
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("debate.rounds", DefaultRounds)
	v.SetDefault("agents.enabled", true)
	v.SetDefault("reasoner.base_url", "https://api.openai.com/v1")
	v.SetDefault("reasoner.api_key", "")
	v.SetDefault("reasoner.model", "gpt-4o-mini")
	v.SetDefault("reasoner.timeout_ms", DefaultReasonerTimeoutMS)
	v.SetDefault("reasoner.max_tokens", DefaultReasonerMaxTokens)
	v.SetDefault("reasoner.temperature", 0.4)
	v.SetDefault("responder.base_url", "https://app.mindos.com/gate/lab")
	v.SetDefault("responder.api_key", "")
	v.SetDefault("responder.timeout_ms", DefaultResponderTimeoutMS)
	v.SetDefault("storage.driver", StorageDriverNone)
	for _, k := range []string{"url", "host", "user", "password", "dbname"} {
		v.SetDefault("storage.postgres."+k, "")
	}
	v.SetDefault("storage.postgres.port", "5432")
	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("storage.sqlite.path", "issuelab.db")
	v.SetDefault("storage.redis.host", "")
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.timeout", "2s")
	v.SetDefault("storage.redis.stream_max_len", 1000)
	v.SetDefault("storage.redis.stream_ttl", DefaultStreamTTL.String())
	v.SetDefault("telemetry.metrics_enabled", true)
	v.SetDefault("telemetry.tracing", false)
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4317")
	v.SetDefault("telemetry.service_name", "issuelab")
}

// Load reads configuration from the optional file at path (or the default
// search paths when empty) overlaid with ISSUELAB_* environment variables.
// A missing config file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		v.SetConfigName("config")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if exe, err := os.Executable(); err == nil {
			exeDir := filepath.Dir(exe)
			v.AddConfigPath(exeDir)
			v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("ISSUELAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
