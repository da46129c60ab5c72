package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"accountlink/internal/link/metrics"
	"accountlink/internal/link/models"
	id "accountlink/pkg/domain"
	audit "accountlink/pkg/platform/audit"
	"accountlink/pkg/platform/sentinel"
)

const (
	// DefaultTimeout bounds every reconciliation.
	DefaultTimeout = 5 * time.Second

	auditTimeout = 2 * time.Second
	tracerName   = "accountlink/internal/link/service"
)

// ErrInvalidLink is reported when a link names an empty identity or the same
// identity twice.
var ErrInvalidLink = errors.New("invalid account link")

// ProfileStore is the persistence the linker needs. Reassign must be a single
// atomic conditional update that reports sentinel.ErrNotFound when the source
// identity owns no profile and sentinel.ErrConflict when the target already owns one.
type ProfileStore interface {
	Reassign(ctx context.Context, from, to id.IdentityID) (id.ProfileID, error)
	FindByOwner(ctx context.Context, owner id.IdentityID) (*models.Profile, error)
	DeleteHistory(ctx context.Context, profileID id.ProfileID) (int64, error)
	Delete(ctx context.Context, profileID id.ProfileID) error
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service reconciles an anonymous identity's profile into a permanent identity
// after an account link. It never reports failure to the caller of
// OnAccountLink; failures are logged, audited, and counted.
type Service struct {
	store          ProfileStore
	auditPublisher AuditPublisher
	logger         *slog.Logger
	metrics        *metrics.Metrics
	tracer         trace.Tracer
	timeout        time.Duration
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// WithTimeout overrides DefaultTimeout. Zero leaves only the caller's deadline.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.timeout = d
	}
}

func New(store ProfileStore, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("profile store is required")
	}
	svc := &Service{
		store:   store,
		logger:  slog.Default(),
		tracer:  otel.Tracer(tracerName),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// OnAccountLink is the hook the authentication subsystem invokes after a link
// is durably recorded. It returns nothing: the link has already succeeded.
func (s *Service) OnAccountLink(ctx context.Context, event models.LinkEvent) {
	s.ReconcileEvent(ctx, event)
}

// ReconcileEvent is OnAccountLink for callers that act on the outcome, such as
// an intake that must let a failed delivery be retried.
func (s *Service) ReconcileEvent(ctx context.Context, event models.LinkEvent) models.Result {
	return s.reconcile(ctx, event.EventID, event.Anonymous, event.Permanent)
}

// Reconcile moves the anonymous identity's profile to the permanent identity,
// or discards it if the permanent identity already owns one.
func (s *Service) Reconcile(ctx context.Context, anonymous, permanent id.IdentityID) models.Result {
	return s.reconcile(ctx, "", anonymous, permanent)
}

func (s *Service) reconcile(ctx context.Context, eventID string, anonymous, permanent id.IdentityID) models.Result {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "link.Reconcile", trace.WithAttributes(
		attribute.String("anonymous_identity", anonymous.String()),
		attribute.String("permanent_identity", permanent.String()),
	))
	defer span.End()

	// A tighter caller deadline still wins.
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	result := s.apply(ctx, anonymous, permanent)
	s.report(ctx, span, eventID, anonymous, permanent, result, time.Since(start))
	return result
}

func (s *Service) apply(ctx context.Context, anonymous, permanent id.IdentityID) models.Result {
	if anonymous.IsZero() || permanent.IsZero() || anonymous == permanent {
		return models.Result{
			Outcome: models.OutcomeReconciliationFailed,
			Err:     fmt.Errorf("%w: anonymous %q, permanent %q", ErrInvalidLink, anonymous, permanent),
		}
	}

	profileID, err := s.store.Reassign(ctx, anonymous, permanent)
	switch {
	case err == nil:
		return models.Result{Outcome: models.OutcomeRepointed, ProfileID: profileID}
	case errors.Is(err, sentinel.ErrNotFound):
		return models.Result{Outcome: models.OutcomeNoOp}
	case errors.Is(err, sentinel.ErrConflict):
		return s.discard(ctx, anonymous)
	default:
		return models.Result{
			Outcome: models.OutcomeReconciliationFailed,
			Err:     fmt.Errorf("reassign profile: %w", err),
		}
	}
}

// discard removes the anonymous profile and its history in one transaction.
// A profile that has already disappeared means another reconciliation won.
func (s *Service) discard(ctx context.Context, anonymous id.IdentityID) models.Result {
	var (
		profileID id.ProfileID
		deleted   int64
		gone      bool
	)
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		profile, err := s.store.FindByOwner(ctx, anonymous)
		if errors.Is(err, sentinel.ErrNotFound) {
			gone = true
			return nil
		}
		if err != nil {
			return fmt.Errorf("find anonymous profile: %w", err)
		}
		profileID = profile.ID

		deleted, err = s.store.DeleteHistory(ctx, profile.ID)
		if err != nil {
			return fmt.Errorf("delete profile history: %w", err)
		}
		if err := s.store.Delete(ctx, profile.ID); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				gone = true
				return nil
			}
			return fmt.Errorf("delete profile: %w", err)
		}
		return nil
	})
	switch {
	case err != nil:
		return models.Result{
			Outcome:   models.OutcomeConflictCleanupFailed,
			ProfileID: profileID,
			Err:       err,
		}
	case gone:
		return models.Result{Outcome: models.OutcomeNoOp}
	default:
		return models.Result{
			Outcome:        models.OutcomeConflictResolved,
			ProfileID:      profileID,
			HistoryDeleted: deleted,
		}
	}
}
