package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// EnvPrefix prefixes every environment variable, e.g. JSB_SERVER_PORT.
// Multi-word fields are underscore separated: JSB_POOL_ACQUIRE_TIMEOUT.
const EnvPrefix = "JSB"

var ErrUnsupportedFormat = errors.New("unsupported config file format")

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Engine    EngineConfig    `yaml:"engine" toml:"engine"`
	Pool      PoolConfig      `yaml:"pool" toml:"pool"`
	Debug     DebugConfig     `yaml:"debug" toml:"debug"`
	Logging   LogConfig       `yaml:"logging" toml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit" split_words:"true"`
}

// ServerConfig holds inspector HTTP server configuration.
type ServerConfig struct {
	Port            string   `yaml:"port" toml:"port"`
	Host            string   `yaml:"host" toml:"host"`
	AllowedOrigins  []string `split_words:"true" yaml:"allowed_origins" toml:"allowed_origins"`
	ShutdownTimeout Duration `split_words:"true" yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// EngineConfig holds isolate limits and context defaults.
type EngineConfig struct {
	MaxYoungSpaceSize uint64   `split_words:"true" yaml:"max_young_space" toml:"max_young_space"`
	MaxOldSpaceSize   uint64   `split_words:"true" yaml:"max_old_space" toml:"max_old_space"`
	MaxCallStackSize  int      `split_words:"true" yaml:"max_call_stack" toml:"max_call_stack"`
	PollInterval      Duration `split_words:"true" yaml:"poll_interval" toml:"poll_interval"`
	Extensions        []string `yaml:"extensions" toml:"extensions"`
	Console           bool     `yaml:"console" toml:"console"`
}

// PoolConfig holds context pool settings for the inspector's eval endpoint.
type PoolConfig struct {
	Size           int      `yaml:"size" toml:"size"`
	AcquireTimeout Duration `split_words:"true" yaml:"acquire_timeout" toml:"acquire_timeout"`
	EvalTimeout    Duration `split_words:"true" yaml:"eval_timeout" toml:"eval_timeout"`
}

// DebugConfig controls the debugger endpoints.
type DebugConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `yaml:"level" toml:"level"`
	Development bool   `yaml:"development" toml:"development"`
}

// RateLimitConfig holds per-IP rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `split_words:"true" yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int  `yaml:"burst" toml:"burst"`
	Enabled           bool `yaml:"enabled" toml:"enabled"`
}

// Duration is a time.Duration written as a string such as "5s" in
// environment variables and config files.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Load builds the configuration from defaults, then the optional file at
// path, then JSB_* environment variables. Later sources win.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads configuration from the environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load("")
	if err != nil {
		return Default()
	}
	return cfg
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	case ".toml":
		err = toml.Unmarshal(data, c)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8000",
			Host:            "0.0.0.0",
			AllowedOrigins:  []string{"*"},
			ShutdownTimeout: Duration(5 * time.Second),
		},
		Engine: EngineConfig{
			MaxCallStackSize: 8192,
			PollInterval:     Duration(2 * time.Millisecond),
			Console:          true,
		},
		Pool: PoolConfig{
			Size:           4,
			AcquireTimeout: Duration(5 * time.Second),
			EvalTimeout:    Duration(30 * time.Second),
		},
		Debug: DebugConfig{
			Enabled: true,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
