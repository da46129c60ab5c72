// Package sqlite provides a SQLite-backed profile store for local development and tests.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"accountlink/internal/link/models"
	id "accountlink/pkg/domain"
	"accountlink/pkg/platform/sentinel"
	txcontext "accountlink/pkg/platform/tx"
)

//go:embed schema.sql
var schema string

// Store persists profiles in SQLite.
type Store struct {
	db *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite database at path with foreign keys enforced and creates
// the profile schema.
func Open(ctx context.Context, path string) (*Store, *sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite allows one writer; a single connection keeps transactions from
	// tripping over SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	store := New(db)
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return store, db, nil
}

// New wraps an open SQLite handle.
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
func (s *Store) Reassign(ctx context.Context, from, to id.IdentityID) (id.ProfileID, error) {
	var raw string
	err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx,
		`UPDATE profiles SET owner_identity = ?, updated_at = ? WHERE owner_identity = ? RETURNING id`,
		to.String(), toMillis(time.Now()), from.String(),
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return id.ProfileID{}, sentinel.ErrNotFound
		}
		return id.ProfileID{}, fmt.Errorf("reassign profile: %w", classify(err))
	}
	profileID, err := uuid.Parse(raw)
	if err != nil {
		return id.ProfileID{}, fmt.Errorf("reassign profile: parse id: %w", err)
	}
	return id.ProfileID(profileID), nil
}

// FindByOwner returns the profile owned by owner.
func (s *Store) FindByOwner(ctx context.Context, owner id.IdentityID) (*models.Profile, error) {
	row := txcontext.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT id, owner_identity, current_streak, last_check_in, created_at, updated_at
		 FROM profiles WHERE owner_identity = ?`,
		owner.String(),
	)
	profile, err := scanProfile(row)
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
	_, err := txcontext.Exec(ctx, s.db).ExecContext(ctx,
		`INSERT INTO profiles (id, owner_identity, current_streak, last_check_in, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID.String(),
		p.Owner.String(),
		p.CurrentStreak,
		nullableMillis(p.LastCheckIn),
		toMillis(p.CreatedAt),
		toMillis(p.UpdatedAt),
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
	res, err := txcontext.Exec(ctx, s.db).ExecContext(ctx,
		`UPDATE profiles SET current_streak = ?, last_check_in = ?, updated_at = ? WHERE id = ?`,
		p.CurrentStreak, nullableMillis(p.LastCheckIn), toMillis(p.UpdatedAt), p.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("save profile: %w", classify(err))
	}
	return requireAffected(res, "save profile")
}

// Delete removes a profile row.
func (s *Store) Delete(ctx context.Context, profileID id.ProfileID) error {
	res, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `DELETE FROM profiles WHERE id = ?`, profileID.String())
	if err != nil {
		return fmt.Errorf("delete profile: %w", classify(err))
	}
	return requireAffected(res, "delete profile")
}

// AppendHistory inserts one history row.
func (s *Store) AppendHistory(ctx context.Context, entry models.HistoryEntry) error {
	_, err := txcontext.Exec(ctx, s.db).ExecContext(ctx,
		`INSERT INTO streak_history (id, profile_id, streak, recorded_at) VALUES (?, ?, ?, ?)`,
		entry.ID.String(), entry.ProfileID.String(), entry.Streak, toMillis(entry.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("append history: %w", classify(err))
	}
	return nil
}

// ListHistory returns the history of a profile, oldest first.
func (s *Store) ListHistory(ctx context.Context, profileID id.ProfileID) ([]models.HistoryEntry, error) {
	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx,
		`SELECT id, profile_id, streak, recorded_at FROM streak_history
		 WHERE profile_id = ? ORDER BY recorded_at, id`,
		profileID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", classify(err))
	}
	defer rows.Close()

	var entries []models.HistoryEntry
	for rows.Next() {
		var rawID, rawProfile string
		var recordedAt int64
		var entry models.HistoryEntry
		if err := rows.Scan(&rawID, &rawProfile, &entry.Streak, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		entryID, err := id.ParseHistoryEntryID(rawID)
		if err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		pid, err := id.ParseProfileID(rawProfile)
		if err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		entry.ID = entryID
		entry.ProfileID = pid
		entry.RecordedAt = fromMillis(recordedAt)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return entries, nil
}

// DeleteHistory removes every history row of a profile and returns how many were removed.
func (s *Store) DeleteHistory(ctx context.Context, profileID id.ProfileID) (int64, error) {
	res, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `DELETE FROM streak_history WHERE profile_id = ?`, profileID.String())
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
func (s *Store) CountOrphanedHistory(ctx context.Context) (int64, error) {
	var n int64
	err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM streak_history h
		 LEFT JOIN profiles p ON p.id = h.profile_id
		 WHERE p.id IS NULL`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count orphaned history: %w", classify(err))
	}
	return n, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func classify(err error) error {
	if isOwnerUniqueViolation(err) {
		return fmt.Errorf("%w: %s", sentinel.ErrConflict, err.Error())
	}
	if errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %w", sentinel.ErrUnavailable, err)
	}
	return err
}

func isOwnerUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(err.Error())
	onOwner := strings.Contains(message, "profiles.owner_identity")
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		if sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE {
			return onOwner
		}
	}
	return strings.Contains(message, "unique constraint failed") && onOwner
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

func nullableMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

type profileRow interface {
	Scan(dest ...any) error
}

func scanProfile(row profileRow) (*models.Profile, error) {
	var rawID, owner string
	var lastCheckIn sql.NullInt64
	var createdAt, updatedAt int64
	var p models.Profile
	if err := row.Scan(&rawID, &owner, &p.CurrentStreak, &lastCheckIn, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	profileID, err := id.ParseProfileID(rawID)
	if err != nil {
		return nil, err
	}
	p.ID = profileID
	p.Owner = id.IdentityID(owner)
	if lastCheckIn.Valid {
		t := fromMillis(lastCheckIn.Int64)
		p.LastCheckIn = &t
	}
	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updatedAt)
	return &p, nil
}
