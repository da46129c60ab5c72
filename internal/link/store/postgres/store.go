// Package postgres persists domain profiles and their streak history in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"accountlink/internal/link/models"
	id "accountlink/pkg/domain"
	"accountlink/pkg/platform/sentinel"
	txcontext "accountlink/pkg/platform/tx"
)

//go:embed schema.sql
var schema string

const ownerConstraint = "profiles_owner_identity_key"

// Store persists profiles in PostgreSQL.
// This store is pure I/O: reconciliation decisions belong to the link service.
type Store struct {
	db *sql.DB
}

// New constructs a PostgreSQL-backed profile store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the profile tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure profile schema: %w", err)
	}
	return nil
}

// RunInTx runs fn in a transaction bound to the context passed to fn.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return txcontext.Run(ctx, s.db, fn)
}

// Reassign moves the profile owned by from to to in a single statement.
// Returns sentinel.ErrNotFound when from owns no profile and sentinel.ErrConflict
// when to already owns one.
func (s *Store) Reassign(ctx context.Context, from, to id.IdentityID) (id.ProfileID, error) {
	query := `
		UPDATE profiles
		SET owner_identity = $1, updated_at = $3
		WHERE owner_identity = $2
		RETURNING id
	`
	var profileID uuid.UUID
	err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx, query, to.String(), from.String(), time.Now().UTC()).Scan(&profileID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return id.ProfileID{}, sentinel.ErrNotFound
		}
		return id.ProfileID{}, fmt.Errorf("reassign profile: %w", classify(err))
	}
	return id.ProfileID(profileID), nil
}

// FindByOwner returns the profile owned by owner.
func (s *Store) FindByOwner(ctx context.Context, owner id.IdentityID) (*models.Profile, error) {
	query := `
		SELECT id, owner_identity, current_streak, last_check_in, created_at, updated_at
		FROM profiles
		WHERE owner_identity = $1
	`
	profile, err := scanProfile(txcontext.Exec(ctx, s.db).QueryRowContext(ctx, query, owner.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find profile by owner: %w", classify(err))
	}
	return profile, nil
}

// Create inserts a new profile. Returns sentinel.ErrConflict if the owner already has one.
func (s *Store) Create(ctx context.Context, p *models.Profile) error {
	if p == nil {
		return fmt.Errorf("profile is required")
	}
	query := `
		INSERT INTO profiles (id, owner_identity, current_streak, last_check_in, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(p.ID),
		p.Owner.String(),
		p.CurrentStreak,
		p.LastCheckIn,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create profile: %w", classify(err))
	}
	return nil
}

// Save writes the mutable streak fields of an existing profile.
func (s *Store) Save(ctx context.Context, p *models.Profile) error {
	if p == nil {
		return fmt.Errorf("profile is required")
	}
	query := `
		UPDATE profiles
		SET current_streak = $2, last_check_in = $3, updated_at = $4
		WHERE id = $1
	`
	res, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, query, uuid.UUID(p.ID), p.CurrentStreak, p.LastCheckIn, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save profile: %w", classify(err))
	}
	return requireAffected(res, "save profile")
}

// Delete removes a profile row. History rows cascade, but callers delete them
// explicitly first so the count is observable.
func (s *Store) Delete(ctx context.Context, profileID id.ProfileID) error {
	res, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `DELETE FROM profiles WHERE id = $1`, uuid.UUID(profileID))
	if err != nil {
		return fmt.Errorf("delete profile: %w", classify(err))
	}
	return requireAffected(res, "delete profile")
}

// AppendHistory inserts one history row.
func (s *Store) AppendHistory(ctx context.Context, entry models.HistoryEntry) error {
	query := `
		INSERT INTO streak_history (id, profile_id, streak, recorded_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(entry.ID),
		uuid.UUID(entry.ProfileID),
		entry.Streak,
		entry.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("append history: %w", classify(err))
	}
	return nil
}

// ListHistory returns the history of a profile, oldest first.
func (s *Store) ListHistory(ctx context.Context, profileID id.ProfileID) ([]models.HistoryEntry, error) {
	query := `
		SELECT id, profile_id, streak, recorded_at
		FROM streak_history
		WHERE profile_id = $1
		ORDER BY recorded_at, id
	`
	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx, query, uuid.UUID(profileID))
	if err != nil {
		return nil, fmt.Errorf("list history: %w", classify(err))
	}
	defer rows.Close()

	var entries []models.HistoryEntry
	for rows.Next() {
		var entryID, pid uuid.UUID
		var entry models.HistoryEntry
		if err := rows.Scan(&entryID, &pid, &entry.Streak, &entry.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		entry.ID = id.HistoryEntryID(entryID)
		entry.ProfileID = id.ProfileID(pid)
		entry.RecordedAt = entry.RecordedAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return entries, nil
}

// DeleteHistory removes every history row of a profile and returns how many were removed.
func (s *Store) DeleteHistory(ctx context.Context, profileID id.ProfileID) (int64, error) {
	res, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `DELETE FROM streak_history WHERE profile_id = $1`, uuid.UUID(profileID))
	if err != nil {
		return 0, fmt.Errorf("delete history: %w", classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete history rows affected: %w", err)
	}
	return n, nil
}

// CountOrphanedHistory counts history rows whose profile no longer exists.
// Only tables created without the foreign key can accumulate these.
func (s *Store) CountOrphanedHistory(ctx context.Context) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM streak_history h
		LEFT JOIN profiles p ON p.id = h.profile_id
		WHERE p.id IS NULL
	`
	var n int64
	if err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count orphaned history: %w", classify(err))
	}
	return n, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// classify maps driver errors onto sentinel errors while keeping the cause.
func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" && pqErr.Constraint == ownerConstraint {
		return fmt.Errorf("%w: %s", sentinel.ErrConflict, pqErr.Message)
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %w", sentinel.ErrUnavailable, err)
	}
	return err
}

func requireAffected(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

type profileRow interface {
	Scan(dest ...any) error
}

func scanProfile(row profileRow) (*models.Profile, error) {
	var p models.Profile
	var profileID uuid.UUID
	var owner string
	var lastCheckIn sql.NullTime
	if err := row.Scan(&profileID, &owner, &p.CurrentStreak, &lastCheckIn, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.ID = id.ProfileID(profileID)
	p.Owner = id.IdentityID(owner)
	if lastCheckIn.Valid {
		t := lastCheckIn.Time.UTC()
		p.LastCheckIn = &t
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}
