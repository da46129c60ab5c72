package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	pkgstrings "accountlink/pkg/platform/strings"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Server captures process configuration.
type Server struct {
	Addr            string        `env:"ACCOUNTLINK_ADDR"        envDefault:":8080"`
	LogLevel        string        `env:"LOG_LEVEL"               envDefault:"info"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT"        envDefault:"15s"`

	Database Database
	Redis    RedisConfig
	Link     Link
	Audit    Audit
}

// Database selects and sizes the profile store.
type Database struct {
	Driver          string        `env:"DATABASE_DRIVER"      envDefault:"postgres"`
	URL             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS"    envDefault:"10"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS"    envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`
}

// RedisConfig configures the optional Redis connection used for dedupe.
type RedisConfig struct {
	URL          string        `env:"REDIS_URL"`
	PoolSize     int           `env:"REDIS_POOL_SIZE"      envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT"   envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT"   envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT"  envDefault:"3s"`
}

// Link configures the intake and reconciliation.
type Link struct {
	ServiceTokenKey  string        `env:"LINK_SERVICE_TOKEN_KEY"`
	TokenIssuer      string        `env:"LINK_SERVICE_TOKEN_ISSUER"`
	ReconcileTimeout time.Duration `env:"LINK_RECONCILE_TIMEOUT" envDefault:"5s"`
	DedupeTTL        time.Duration `env:"LINK_DEDUPE_TTL"        envDefault:"24h"`
	RequestTimeout   time.Duration `env:"LINK_REQUEST_TIMEOUT"   envDefault:"30s"`
}

// Audit configures the outbox relay. An empty broker list disables it.
type Audit struct {
	KafkaBrokers []string      `env:"KAFKA_BROKERS"        envSeparator:","`
	Topic        string        `env:"LINK_AUDIT_TOPIC"     envDefault:"account-link-audit"`
	PollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"1s"`
	BatchSize    int           `env:"OUTBOX_BATCH_SIZE"    envDefault:"100"`
}

// RelayEnabled reports whether audit events should be produced to Kafka.
func (a Audit) RelayEnabled() bool {
	return len(a.KafkaBrokers) > 0
}

// FromEnv builds a Server config from environment variables so main stays lean.
// A .env file in the working directory is loaded first when present; real
// environment variables take precedence.
func FromEnv() (Server, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Server{}, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse reads configuration from the process environment only.
func Parse() (Server, error) {
	var cfg Server
	if err := env.Parse(&cfg); err != nil {
		return Server{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Audit.KafkaBrokers = pkgstrings.DedupeAndTrim(cfg.Audit.KafkaBrokers)
	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	return cfg, cfg.Validate()
}

// Validate checks settings the server cannot start without.
func (c Server) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.Database.Driver))
	}
	if c.Database.URL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.Link.ReconcileTimeout <= 0 {
		errs = append(errs, errors.New("LINK_RECONCILE_TIMEOUT must be positive"))
	}
	if c.Audit.BatchSize <= 0 {
		errs = append(errs, errors.New("OUTBOX_BATCH_SIZE must be positive"))
	}
	if c.Audit.RelayEnabled() && c.Database.Driver != DriverPostgres {
		errs = append(errs, errors.New("KAFKA_BROKERS requires the postgres driver (the outbox lives in postgres)"))
	}
	return errors.Join(errs...)
}

// ValidateServe adds the checks only the HTTP server needs.
func (c Server) ValidateServe() error {
	if c.Link.ServiceTokenKey == "" {
		return errors.New("LINK_SERVICE_TOKEN_KEY is required")
	}
	// chi answers 504 once the request deadline passes, even after a 202.
	if c.Link.RequestTimeout > 0 && c.Link.ReconcileTimeout >= c.Link.RequestTimeout {
		return fmt.Errorf("LINK_RECONCILE_TIMEOUT (%s) must be shorter than LINK_REQUEST_TIMEOUT (%s)",
			c.Link.ReconcileTimeout, c.Link.RequestTimeout)
	}
	return nil
}
