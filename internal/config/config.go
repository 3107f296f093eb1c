// Package config loads process configuration from a YAML file, a .env file
// and INFOVORE_* environment variables, in increasing order of precedence.
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
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "INFOVORE_"

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
	Crawler  CrawlerConfig  `yaml:"crawler"`
	Poller   PollerConfig   `yaml:"poller"`
	Enrich   EnrichConfig   `yaml:"enrich"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver"`
	// DSN is a file path for sqlite or a connection string for postgres.
	DSN string `yaml:"dsn"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type CrawlerConfig struct {
	Concurrency      int           `yaml:"concurrency"`
	ExpectedCycles   int           `yaml:"expected_cycles"`
	FetchTimeout     time.Duration `yaml:"fetch_timeout"`
	FetchRetries     int           `yaml:"fetch_retries"`
	UserAgent        string        `yaml:"user_agent"`
	Proxy            string        `yaml:"proxy"`
	RetentionDays    int           `yaml:"retention_days"`
	Window           time.Duration `yaml:"window"`
	InitialFrequency float64       `yaml:"initial_frequency"`
}

type PollerConfig struct {
	MinSleep time.Duration `yaml:"min_sleep"`
	MaxSleep time.Duration `yaml:"max_sleep"`
}

type EnrichConfig struct {
	// Endpoint of the link-metadata service; empty disables enrichment.
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Driver: "sqlite", DSN: "infovore.db"},
		Server:   ServerConfig{Addr: ":8080"},
		Crawler: CrawlerConfig{
			ExpectedCycles:   3,
			FetchTimeout:     15 * time.Second,
			FetchRetries:     3,
			RetentionDays:    180,
			Window:           7 * 24 * time.Hour,
			InitialFrequency: 60,
		},
		Poller: PollerConfig{MinSleep: 10 * time.Minute, MaxSleep: 40 * time.Minute},
		Enrich: EnrichConfig{Timeout: 30 * time.Second},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the YAML file at path (skipped when path is empty), then a .env
// file in the working directory if present, then the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(expandPath(path))
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	// A missing .env is normal.
	_ = godotenv.Load()

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.Database.DSN = expandPath(cfg.Database.DSN)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	var errs []error
	integer := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}

	str("DB_DRIVER", &c.Database.Driver)
	str("DB_DSN", &c.Database.DSN)
	str("ADDR", &c.Server.Addr)
	integer("CONCURRENCY", &c.Crawler.Concurrency)
	integer("EXPECTED_CYCLES", &c.Crawler.ExpectedCycles)
	duration("FETCH_TIMEOUT", &c.Crawler.FetchTimeout)
	integer("FETCH_RETRIES", &c.Crawler.FetchRetries)
	str("USER_AGENT", &c.Crawler.UserAgent)
	str("PROXY", &c.Crawler.Proxy)
	integer("RETENTION_DAYS", &c.Crawler.RetentionDays)
	duration("MIN_SLEEP", &c.Poller.MinSleep)
	duration("MAX_SLEEP", &c.Poller.MaxSleep)
	str("ENRICH_ENDPOINT", &c.Enrich.Endpoint)
	duration("ENRICH_TIMEOUT", &c.Enrich.Timeout)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)
	return errors.Join(errs...)
}

// Validate checks the configuration for values the process cannot run with.
func (c *Config) Validate() error {
	var problems []string
	switch strings.ToLower(c.Database.Driver) {
	case "sqlite", "postgres", "postgresql":
	default:
		problems = append(problems, fmt.Sprintf("database.driver %q is not sqlite or postgres", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		problems = append(problems, "database.dsn is required")
	}
	if c.Crawler.Concurrency < 0 {
		problems = append(problems, "crawler.concurrency must not be negative")
	}
	if c.Crawler.FetchRetries < 0 {
		problems = append(problems, "crawler.fetch_retries must not be negative")
	}
	if c.Crawler.RetentionDays < 0 {
		problems = append(problems, "crawler.retention_days must not be negative")
	}
	if c.Poller.MinSleep < 0 || c.Poller.MaxSleep < c.Poller.MinSleep {
		problems = append(problems, "poller.max_sleep must be at least poller.min_sleep")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q is not text or json", c.Logging.Format))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// Retention is the article retention window.
func (c CrawlerConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
