package handler_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"accountlink/internal/link/dedupe"
	"accountlink/internal/link/handler"
	"accountlink/internal/link/models"
	"accountlink/internal/link/service"
	"accountlink/internal/link/store/sqlite"
	"accountlink/internal/servicetoken"
	id "accountlink/pkg/domain"
	"accountlink/pkg/platform/sentinel"
	"accountlink/pkg/testutil"
)

// flakyStore fails the next Reassign as an unreachable database would.
type flakyStore struct {
	*sqlite.Store
	failNext atomic.Bool
}

func (s *flakyStore) Reassign(ctx context.Context, from, to id.IdentityID) (id.ProfileID, error) {
	if s.failNext.CompareAndSwap(true, false) {
		return id.ProfileID{}, errors.New("sql: database is closed")
	}
	return s.Store.Reassign(ctx, from, to)
}

func TestIntake_RetryAfterFailedReconciliation(t *testing.T) {
	ctx := context.Background()
	base, db, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "intake.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := &flakyStore{Store: base}

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	linker, err := service.New(store, service.WithLogger(logger))
	require.NoError(t, err)
	tokens, err := servicetoken.New("intake-test-key", "auth", "")
	require.NoError(t, err)
	token, err := tokens.Issue("auth-service", time.Hour)
	require.NoError(t, err)

	router := chi.NewRouter()
	handler.New(linker, tokens, logger, handler.WithDeduper(dedupe.NewMemory(time.Hour))).Register(router)

	post := func() {
		body := `{"event_id":"evt-retry","anonymous_identity":"anon","permanent_identity":"perm"}`
		req := testutil.WithBearer(testutil.NewRequestWithBody(t, http.MethodPost, "/internal/link-events", body), token)
		rr := testutil.DoRequest(router, req)
		testutil.AssertStatus(t, rr, http.StatusAccepted)
		assert.JSONEq(t, `{"accepted":true}`, rr.Body.String())
	}

	testutil.Given(t, "an anonymous profile and a database that fails once", func(t *testing.T) {
		p := models.NewProfile("anon", time.Now())
		require.NoError(t, base.Create(ctx, p))
		store.failNext.Store(true)

		testutil.When(t, "the first delivery fails and the auth service retries it", func(t *testing.T) {
			post()
			_, err := base.FindByOwner(ctx, "perm")
			require.ErrorIs(t, err, sentinel.ErrNotFound)

			post()

			testutil.Then(t, "the retry repoints the profile", func(t *testing.T) {
				moved, err := base.FindByOwner(ctx, "perm")
				require.NoError(t, err)
				assert.Equal(t, p.ID, moved.ID)
			})
		})
	})
}
