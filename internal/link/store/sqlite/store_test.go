package sqlite_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"accountlink/internal/link/models"
	"accountlink/internal/link/store/sqlite"
	id "accountlink/pkg/domain"
	"accountlink/pkg/platform/sentinel"
)

type SQLiteStoreSuite struct {
	suite.Suite
	db    *sql.DB
	store *sqlite.Store
	now   time.Time
}

func TestSQLiteStoreSuite(t *testing.T) {
	suite.Run(t, new(SQLiteStoreSuite))
}

func (s *SQLiteStoreSuite) SetupTest() {
	store, db, err := sqlite.Open(context.Background(), filepath.Join(s.T().TempDir(), "profiles.db"))
	s.Require().NoError(err)
	s.store = store
	s.db = db
	s.now = time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
}

func (s *SQLiteStoreSuite) TearDownTest() {
	_ = s.db.Close()
}

func (s *SQLiteStoreSuite) seedProfile(owner string, streak int, history int) *models.Profile {
	ctx := context.Background()
	p := models.NewProfile(id.IdentityID(owner), s.now)
	p.CurrentStreak = streak
	s.Require().NoError(s.store.Create(ctx, p))
	for i := 0; i < history; i++ {
		entry := models.NewHistoryEntry(p, s.now.Add(time.Duration(i)*time.Minute))
		s.Require().NoError(s.store.AppendHistory(ctx, entry))
	}
	return p
}

func (s *SQLiteStoreSuite) TestCreateAndFindByOwner() {
	ctx := context.Background()
	p := s.seedProfile("anon-1", 5, 0)

	found, err := s.store.FindByOwner(ctx, "anon-1")
	s.Require().NoError(err)
	s.Equal(p.ID, found.ID)
	s.Equal(5, found.CurrentStreak)
	s.Nil(found.LastCheckIn)
	s.Equal(s.now, found.CreatedAt)
}

func (s *SQLiteStoreSuite) TestFindByOwnerNotFound() {
	_, err := s.store.FindByOwner(context.Background(), "missing")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *SQLiteStoreSuite) TestCreateDuplicateOwnerConflicts() {
	s.seedProfile("anon-1", 0, 0)

	err := s.store.Create(context.Background(), models.NewProfile("anon-1", s.now))
	s.ErrorIs(err, sentinel.ErrConflict)
}

func (s *SQLiteStoreSuite) TestReassign() {
	ctx := context.Background()

	s.Run("moves profile to a free owner", func() {
		p := s.seedProfile("anon-a", 5, 2)

		got, err := s.store.Reassign(ctx, "anon-a", "perm-a")
		s.Require().NoError(err)
		s.Equal(p.ID, got)

		moved, err := s.store.FindByOwner(ctx, "perm-a")
		s.Require().NoError(err)
		s.Equal(p.ID, moved.ID)
		s.Equal(5, moved.CurrentStreak)

		history, err := s.store.ListHistory(ctx, p.ID)
		s.Require().NoError(err)
		s.Len(history, 2)

		_, err = s.store.FindByOwner(ctx, "anon-a")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("reports missing source", func() {
		_, err := s.store.Reassign(ctx, "nobody", "perm-b")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("reports owner conflict and leaves both rows", func() {
		anon := s.seedProfile("anon-c", 5, 0)
		perm := s.seedProfile("perm-c", 20, 0)

		_, err := s.store.Reassign(ctx, "anon-c", "perm-c")
		s.ErrorIs(err, sentinel.ErrConflict)

		stillAnon, err := s.store.FindByOwner(ctx, "anon-c")
		s.Require().NoError(err)
		s.Equal(anon.ID, stillAnon.ID)
		stillPerm, err := s.store.FindByOwner(ctx, "perm-c")
		s.Require().NoError(err)
		s.Equal(perm.ID, stillPerm.ID)
	})
}

func (s *SQLiteStoreSuite) TestDeleteInTransaction() {
	ctx := context.Background()
	p := s.seedProfile("anon-1", 5, 3)

	var deleted int64
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		n, err := s.store.DeleteHistory(ctx, p.ID)
		if err != nil {
			return err
		}
		deleted = n
		return s.store.Delete(ctx, p.ID)
	})
	s.Require().NoError(err)
	s.Equal(int64(3), deleted)

	_, err = s.store.FindByOwner(ctx, "anon-1")
	s.ErrorIs(err, sentinel.ErrNotFound)
	orphans, err := s.store.CountOrphanedHistory(ctx)
	s.Require().NoError(err)
	s.Zero(orphans)
}

func (s *SQLiteStoreSuite) TestTransactionRollsBackOnError() {
	ctx := context.Background()
	p := s.seedProfile("anon-1", 5, 3)

	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.store.DeleteHistory(ctx, p.ID); err != nil {
			return err
		}
		return s.store.Delete(ctx, id.NewProfileID())
	})
	s.ErrorIs(err, sentinel.ErrNotFound)

	history, err := s.store.ListHistory(ctx, p.ID)
	s.Require().NoError(err)
	s.Len(history, 3, "history delete must roll back with the failed profile delete")
}

func (s *SQLiteStoreSuite) TestDeleteCascadesHistory() {
	ctx := context.Background()
	p := s.seedProfile("anon-1", 5, 2)

	s.Require().NoError(s.store.Delete(ctx, p.ID))

	history, err := s.store.ListHistory(ctx, p.ID)
	s.Require().NoError(err)
	s.Empty(history)
}

func (s *SQLiteStoreSuite) TestSaveCheckIn() {
	ctx := context.Background()
	p := s.seedProfile("perm-1", 0, 0)
	p.CheckIn(s.now)
	s.Require().NoError(s.store.Save(ctx, p))

	found, err := s.store.FindByOwner(ctx, "perm-1")
	s.Require().NoError(err)
	s.Equal(1, found.CurrentStreak)
	s.Require().NotNil(found.LastCheckIn)
	s.Equal(s.now, *found.LastCheckIn)

	missing := models.NewProfile("ghost", s.now)
	s.ErrorIs(s.store.Save(ctx, missing), sentinel.ErrNotFound)
}

// TestConcurrentReassignToSameOwner verifies that the uniqueness constraint lets
// exactly one of many competing reassignments claim the permanent identity.
func (s *SQLiteStoreSuite) TestConcurrentReassignToSameOwner() {
	ctx := context.Background()
	const goroutines = 10
	for i := 0; i < goroutines; i++ {
		s.seedProfile("anon-"+string(rune('a'+i)), i, 0)
	}

	var wg sync.WaitGroup
	var successCount, conflictCount atomic.Int32
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(owner string) {
			defer wg.Done()
			_, err := s.store.Reassign(ctx, id.IdentityID(owner), "perm-shared")
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, sentinel.ErrConflict):
				conflictCount.Add(1)
			}
		}("anon-" + string(rune('a'+i)))
	}
	wg.Wait()

	s.Equal(int32(1), successCount.Load())
	s.Equal(int32(goroutines-1), conflictCount.Load())
}

func (s *SQLiteStoreSuite) TestClosedDatabaseIsNotAConflict() {
	s.seedProfile("anon-1", 5, 0)
	s.Require().NoError(s.db.Close())

	_, err := s.store.Reassign(context.Background(), "anon-1", "perm-1")
	s.Require().Error(err)
	s.NotErrorIs(err, sentinel.ErrConflict)
	s.NotErrorIs(err, sentinel.ErrNotFound)
}
