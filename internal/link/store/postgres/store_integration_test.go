//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"accountlink/internal/link/models"
	"accountlink/internal/link/store/postgres"
	id "accountlink/pkg/domain"
	"accountlink/pkg/platform/sentinel"
	"accountlink/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *postgres.Store
	now      time.Time
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = postgres.New(s.postgres.DB)
	s.Require().NoError(s.store.EnsureSchema(context.Background()))
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	// Truncate in dependency order
	err := s.postgres.TruncateTables(ctx, "streak_history", "profiles")
	s.Require().NoError(err)
	s.now = time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
}

func (s *PostgresStoreSuite) seedProfile(owner id.IdentityID, streak, history int) *models.Profile {
	ctx := context.Background()
	p := models.NewProfile(owner, s.now)
	p.CurrentStreak = streak
	s.Require().NoError(s.store.Create(ctx, p))
	for i := 0; i < history; i++ {
		s.Require().NoError(s.store.AppendHistory(ctx, models.NewHistoryEntry(p, s.now.Add(time.Duration(i)*time.Minute))))
	}
	return p
}

func newIdentity() id.IdentityID {
	return id.IdentityID(uuid.NewString())
}

func (s *PostgresStoreSuite) TestReassignMovesProfileAndHistory() {
	ctx := context.Background()
	anon, perm := newIdentity(), newIdentity()
	p := s.seedProfile(anon, 5, 2)

	got, err := s.store.Reassign(ctx, anon, perm)
	s.Require().NoError(err)
	s.Equal(p.ID, got)

	moved, err := s.store.FindByOwner(ctx, perm)
	s.Require().NoError(err)
	s.Equal(5, moved.CurrentStreak)
	history, err := s.store.ListHistory(ctx, p.ID)
	s.Require().NoError(err)
	s.Len(history, 2)

	_, err = s.store.FindByOwner(ctx, anon)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestReassignMissingSource() {
	_, err := s.store.Reassign(context.Background(), newIdentity(), newIdentity())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

// TestReassignConflictIsTyped verifies SQLSTATE 23505 on the owner constraint
// surfaces as sentinel.ErrConflict and changes nothing.
func (s *PostgresStoreSuite) TestReassignConflictIsTyped() {
	ctx := context.Background()
	anon, perm := newIdentity(), newIdentity()
	s.seedProfile(anon, 5, 1)
	s.seedProfile(perm, 20, 4)

	_, err := s.store.Reassign(ctx, anon, perm)
	s.ErrorIs(err, sentinel.ErrConflict)

	stillPerm, err := s.store.FindByOwner(ctx, perm)
	s.Require().NoError(err)
	s.Equal(20, stillPerm.CurrentStreak)
	_, err = s.store.FindByOwner(ctx, anon)
	s.NoError(err)
}

func (s *PostgresStoreSuite) TestDeleteInTransactionRollsBack() {
	ctx := context.Background()
	p := s.seedProfile(newIdentity(), 5, 3)
	boom := errors.New("boom")

	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.store.DeleteHistory(ctx, p.ID); err != nil {
			return err
		}
		if err := s.store.Delete(ctx, p.ID); err != nil {
			return err
		}
		return boom
	})
	s.ErrorIs(err, boom)

	history, err := s.store.ListHistory(ctx, p.ID)
	s.Require().NoError(err)
	s.Len(history, 3)
	_, err = s.store.FindByOwner(ctx, p.Owner)
	s.NoError(err)
}

func (s *PostgresStoreSuite) TestDeleteInTransactionCommits() {
	ctx := context.Background()
	p := s.seedProfile(newIdentity(), 5, 3)

	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		n, err := s.store.DeleteHistory(ctx, p.ID)
		if err != nil {
			return err
		}
		s.Equal(int64(3), n)
		return s.store.Delete(ctx, p.ID)
	})
	s.Require().NoError(err)

	_, err = s.store.FindByOwner(ctx, p.Owner)
	s.ErrorIs(err, sentinel.ErrNotFound)
	orphans, err := s.store.CountOrphanedHistory(ctx)
	s.Require().NoError(err)
	s.Zero(orphans)
}

// TestConcurrentReassignToSameOwner verifies that concurrent claims on one
// permanent identity result in exactly one success.
func (s *PostgresStoreSuite) TestConcurrentReassignToSameOwner() {
	ctx := context.Background()
	perm := newIdentity()
	const goroutines = 20

	anons := make([]id.IdentityID, goroutines)
	for i := range anons {
		anons[i] = newIdentity()
		s.seedProfile(anons[i], i, 0)
	}

	var wg sync.WaitGroup
	var successCount, conflictCount atomic.Int32
	for _, anon := range anons {
		wg.Add(1)
		go func(anon id.IdentityID) {
			defer wg.Done()
			_, err := s.store.Reassign(ctx, anon, perm)
			if err == nil {
				successCount.Add(1)
			} else if errors.Is(err, sentinel.ErrConflict) {
				conflictCount.Add(1)
			}
		}(anon)
	}
	wg.Wait()

	s.Equal(int32(1), successCount.Load(), "exactly one reassign should succeed")
	s.Equal(int32(goroutines-1), conflictCount.Load(), "all others should get conflict error")
}

func (s *PostgresStoreSuite) TestSaveCheckIn() {
	ctx := context.Background()
	p := s.seedProfile(newIdentity(), 0, 0)
	p.CheckIn(s.now)
	s.Require().NoError(s.store.Save(ctx, p))

	found, err := s.store.FindByOwner(ctx, p.Owner)
	s.Require().NoError(err)
	s.Equal(1, found.CurrentStreak)
	s.Require().NotNil(found.LastCheckIn)
	s.True(s.now.Equal(*found.LastCheckIn))
}
