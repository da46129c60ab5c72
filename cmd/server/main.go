package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	"accountlink/internal/link/dedupe"
	"accountlink/internal/link/handler"
	linkmetrics "accountlink/internal/link/metrics"
	"accountlink/internal/link/service"
	"accountlink/internal/platform/config"
	"accountlink/internal/platform/database"
	"accountlink/internal/platform/httpserver"
	"accountlink/internal/platform/logger"
	"accountlink/internal/platform/metrics"
	platformredis "accountlink/internal/platform/redis"
	"accountlink/internal/servicetoken"
	audit "accountlink/pkg/platform/audit"
	"accountlink/pkg/platform/audit/outbox"
	"accountlink/pkg/platform/audit/publisher"
	"accountlink/pkg/platform/audit/store/memory"
	auditpostgres "accountlink/pkg/platform/audit/store/postgres"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Reconciliation lives in internal/link/service.
func main() {
	if err := run(); err != nil {
		slog.Error("accountlink server stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	if err := cfg.ValidateServe(); err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	reg := metrics.NewRegistry()
	linkMetrics := linkmetrics.New(reg)

	auditStore, outboxStore, err := openAuditStore(ctx, cfg, db)
	if err != nil {
		return err
	}
	auditPublisher := publisher.NewPublisher(auditStore, publisher.WithLogger(log))
	defer auditPublisher.Close()

	linker, err := service.New(store,
		service.WithLogger(log),
		service.WithMetrics(linkMetrics),
		service.WithAuditPublisher(auditPublisher),
		service.WithTimeout(cfg.Link.ReconcileTimeout),
	)
	if err != nil {
		return err
	}

	tokens, err := servicetoken.New(cfg.Link.ServiceTokenKey, cfg.Link.TokenIssuer, servicetoken.DefaultAudience)
	if err != nil {
		return err
	}

	checks := []handler.Check{{Name: "database", Run: store.Ping}}
	var deduper handler.Deduper = dedupe.NewMemory(cfg.Link.DedupeTTL)
	redisClient, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		deduper = dedupe.NewRedis(redisClient.Client, cfg.Link.DedupeTTL)
		checks = append(checks, handler.Check{Name: "redis", Run: redisClient.Health})
	}

	router := chi.NewRouter()
	handler.New(linker, tokens, log,
		handler.WithDeduper(deduper),
		handler.WithMetrics(linkMetrics),
		handler.WithTimeout(cfg.Link.RequestTimeout),
	).Register(router)
	handler.RegisterHealth(router, log, checks...)
	router.Handle("/metrics", metrics.Handler(reg))

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Addr, err)
	}
	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.Serve(gctx, srv, ln, cfg.ShutdownTimeout, log)
	})

	if cfg.Audit.RelayEnabled() {
		client, err := kgo.NewClient(
			kgo.SeedBrokers(cfg.Audit.KafkaBrokers...),
			kgo.ClientID("accountlink-outbox"),
			kgo.RequiredAcks(kgo.AllISRAcks()),
		)
		if err != nil {
			return fmt.Errorf("create kafka client: %w", err)
		}
		defer client.Close()

		// -1 lets the brokers pick partition count and replication.
		if err := outbox.EnsureTopic(ctx, kadm.NewClient(client), cfg.Audit.Topic, -1, -1); err != nil {
			return err
		}
		relay := outbox.NewRelay(outboxStore, client, cfg.Audit.Topic,
			outbox.WithInterval(cfg.Audit.PollInterval),
			outbox.WithBatchSize(cfg.Audit.BatchSize),
			outbox.WithLogger(log),
			outbox.WithMetrics(outbox.NewMetrics(reg)),
		)
		g.Go(func() error {
			return relay.Run(gctx)
		})
		log.Info("audit outbox relay enabled", "topic", cfg.Audit.Topic, "brokers", cfg.Audit.KafkaBrokers)
	}

	log.Info("starting accountlink", "addr", cfg.Addr, "driver", cfg.Database.Driver)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// openAuditStore keeps audit events next to profiles: the outbox table on
// postgres, process memory otherwise.
func openAuditStore(ctx context.Context, cfg config.Server, db *sql.DB) (audit.Store, *auditpostgres.Store, error) {
	if cfg.Database.Driver != config.DriverPostgres {
		return memory.NewInMemoryStore(), nil, nil
	}
	store := auditpostgres.New(db)
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, nil, err
	}
	return store, store, nil
}
