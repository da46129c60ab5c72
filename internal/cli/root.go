package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"accountlink/internal/link/service"
	"accountlink/internal/platform/config"
	"accountlink/internal/platform/database"
	"accountlink/internal/platform/logger"
	"accountlink/pkg/platform/audit/publisher"
	auditpostgres "accountlink/pkg/platform/audit/store/postgres"
)

// env is what every subcommand runs against. Tests build one directly.
type env struct {
	store  database.ProfileStore
	linker *service.Service
	out    io.Writer
	now    func() time.Time
	json   bool
	close  func() error
}

func (e *env) print(v any, text string, args ...any) error {
	if e.json {
		enc := json.NewEncoder(e.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintf(e.out, text+"\n", args...)
	return err
}

// opener builds the env once flags are parsed.
type opener func(ctx context.Context, out io.Writer, asJSON bool) (*env, error)

// NewRootCmd creates the root command backed by the configured database.
func NewRootCmd() *cobra.Command {
	return newRootCmd(openFromEnv)
}

func newRootCmd(open opener) *cobra.Command {
	var (
		asJSON bool
		e      *env
	)
	current := func() *env { return e }

	root := &cobra.Command{
		Use:   "linkctl",
		Short: "Operator tool for account link reconciliation",
		Long: `linkctl re-runs reconciliations that were logged as failed and inspects the
profiles they touch. It reads DATABASE_DRIVER and DATABASE_URL like the server.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			e, err = open(cmd.Context(), cmd.OutOrStdout(), asJSON)
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if e == nil || e.close == nil {
				return nil
			}
			return e.close()
		},
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVar(&asJSON, "json", false, "Print results as JSON")

	root.AddCommand(newReconcileCmd(current))
	root.AddCommand(newProfileCmd(current))
	root.AddCommand(newCheckInCmd(current))
	root.AddCommand(newOrphansCmd(current))
	return root
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := NewRootCmd().ExecuteContext(context.Background()); err != nil {
		return 1
	}
	return 0
}

func openFromEnv(ctx context.Context, out io.Writer, asJSON bool) (*env, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	log := logger.NewWithWriter(os.Stderr, cfg.LogLevel)

	store, db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	opts := []service.Option{
		service.WithLogger(log),
		service.WithTimeout(cfg.Link.ReconcileTimeout),
	}
	closers := []func() error{db.Close}
	if cfg.Database.Driver == config.DriverPostgres {
		auditStore := auditpostgres.New(db)
		if err := auditStore.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		pub := publisher.NewPublisher(auditStore, publisher.WithLogger(log))
		opts = append(opts, service.WithAuditPublisher(pub))
		closers = append([]func() error{func() error { pub.Close(); return nil }}, closers...)
	}

	linker, err := service.New(store, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &env{
		store:  store,
		linker: linker,
		out:    out,
		now:    time.Now,
		json:   asJSON,
		close: func() error {
			var firstErr error
			for _, c := range closers {
				if err := c(); err != nil && firstErr == nil {
					firstErr = err
				}
			}
			return firstErr
		},
	}, nil
}
