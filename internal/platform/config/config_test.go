package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/accountlink")

	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, 10, cfg.Database.MaxOpenConns)
	assert.Equal(t, 5*time.Second, cfg.Link.ReconcileTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Link.DedupeTTL)
	assert.Equal(t, "account-link-audit", cfg.Audit.Topic)
	assert.False(t, cfg.Audit.RelayEnabled())
}

func TestParse_Overrides(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", " SQLite ")
	t.Setenv("DATABASE_URL", "/tmp/link.db")
	t.Setenv("LINK_RECONCILE_TIMEOUT", "750ms")
	t.Setenv("LINK_DEDUPE_TTL", "1h")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, 750*time.Millisecond, cfg.Link.ReconcileTimeout)
	assert.Equal(t, time.Hour, cfg.Link.DedupeTTL)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestParse_KafkaBrokers(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/accountlink")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,,kafka-1:9092")

	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Audit.KafkaBrokers)
	assert.True(t, cfg.Audit.RelayEnabled())
}

func TestParse_Invalid(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing url", map[string]string{}, "DATABASE_URL is required"},
		{"unknown driver", map[string]string{"DATABASE_URL": "x", "DATABASE_DRIVER": "mysql"}, "DATABASE_DRIVER"},
		{"bad duration", map[string]string{"DATABASE_URL": "x", "LINK_RECONCILE_TIMEOUT": "soon"}, "parse env"},
		{"relay on sqlite", map[string]string{"DATABASE_URL": "x", "DATABASE_DRIVER": "sqlite", "KAFKA_BROKERS": "k:9092"}, "requires the postgres driver"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "")
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Parse()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestValidateServe(t *testing.T) {
	assert.Error(t, Server{}.ValidateServe())
	assert.NoError(t, Server{Link: Link{ServiceTokenKey: "k"}}.ValidateServe())
	assert.NoError(t, Server{Link: Link{
		ServiceTokenKey:  "k",
		ReconcileTimeout: 5 * time.Second,
		RequestTimeout:   30 * time.Second,
	}}.ValidateServe())

	err := Server{Link: Link{
		ServiceTokenKey:  "k",
		ReconcileTimeout: 30 * time.Second,
		RequestTimeout:   30 * time.Second,
	}}.ValidateServe()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be shorter than LINK_REQUEST_TIMEOUT")
}

func TestParse_TokenIssuer(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/accountlink")
	t.Setenv("LINK_SERVICE_TOKEN_ISSUER", "auth")

	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, "auth", cfg.Link.TokenIssuer)
}
