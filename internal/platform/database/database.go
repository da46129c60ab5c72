// Package database opens the profile store selected by configuration.
package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"accountlink/internal/link/models"
	"accountlink/internal/link/store/postgres"
	"accountlink/internal/link/store/sqlite"
	"accountlink/internal/platform/config"
	id "accountlink/pkg/domain"
)

// ProfileStore is the full store surface used by the server and the CLI.
type ProfileStore interface {
	Reassign(ctx context.Context, from, to id.IdentityID) (id.ProfileID, error)
	FindByOwner(ctx context.Context, owner id.IdentityID) (*models.Profile, error)
	Create(ctx context.Context, p *models.Profile) error
	Save(ctx context.Context, p *models.Profile) error
	Delete(ctx context.Context, profileID id.ProfileID) error
	AppendHistory(ctx context.Context, entry models.HistoryEntry) error
	ListHistory(ctx context.Context, profileID id.ProfileID) ([]models.HistoryEntry, error)
	DeleteHistory(ctx context.Context, profileID id.ProfileID) (int64, error)
	CountOrphanedHistory(ctx context.Context) (int64, error)
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
	Ping(ctx context.Context) error
}

// Open connects to the configured driver, applies the schema and returns the
// store with its handle. The caller closes the handle.
func Open(ctx context.Context, cfg config.Database) (ProfileStore, *sql.DB, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		return sqlite.Open(ctx, cfg.URL)
	case config.DriverPostgres:
		db, err := OpenPostgres(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		store := postgres.New(db)
		if err := store.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return store, db, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// OpenPostgres opens and pings a pooled lib/pq handle.
func OpenPostgres(ctx context.Context, cfg config.Database) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}
