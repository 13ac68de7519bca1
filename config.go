package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds runtime configuration. Environment first, command flags override.
type Config struct {
	APIBase        string        `envconfig:"API_BASE" default:"http://localhost:5000/api"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"15s"`
	Debounce       time.Duration `envconfig:"DEBOUNCE" default:"100ms"`

	LogFile   string `envconfig:"LOG_FILE"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	DBDSN string `envconfig:"DB_DSN"`
}

const envPrefix = "EMISSIONS"

// loadConfig reads .env (when present) and EMISSIONS_* variables.
func loadConfig(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	base := strings.TrimSpace(c.APIBase)
	if base == "" {
		return errors.New("api base url must be provided")
	}
	parsed, err := url.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid api base url %q", base)
	}
	c.APIBase = strings.TrimRight(base, "/")
	if c.RequestTimeout <= 0 {
		return errors.New("request timeout must be positive")
	}
	if c.Debounce < 0 {
		c.Debounce = 0
	}
	return nil
}

// databaseDSN resolves the Postgres DSN: explicit value, then config, then DATABASE_URL.
func (c *Config) databaseDSN(explicit string) (string, error) {
	dsn := strings.TrimSpace(explicit)
	if dsn == "" && c != nil {
		dsn = strings.TrimSpace(c.DBDSN)
	}
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	}
	if dsn == "" {
		return "", errors.New("EMISSIONS_DB_DSN, DATABASE_URL, or --db-url is required for snapshots")
	}
	return dsn, nil
}
