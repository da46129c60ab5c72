package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"accountlink/internal/link/metrics"
	"accountlink/internal/link/models"
	id "accountlink/pkg/domain"
	"accountlink/pkg/platform/httputil"
	"accountlink/pkg/platform/middleware/auth"
	request "accountlink/pkg/platform/middleware/request"
	"accountlink/pkg/platform/middleware/requesttime"
)

const (
	maxBodyBytes   = 64 << 10
	maxEventIDLen  = 255
	defaultTimeout = 30 * time.Second
	releaseTimeout = 2 * time.Second
)

// Linker reconciles one link event. The outcome never reaches the auth
// subsystem; the intake only uses it to decide whether a retry is allowed.
type Linker interface {
	ReconcileEvent(ctx context.Context, event models.LinkEvent) models.Result
}

// Deduper claims an event id; false means it was already seen. Release undoes
// a claim whose reconciliation failed.
type Deduper interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

// Handler accepts link events from the authentication subsystem.
type Handler struct {
	logger    *slog.Logger
	linker    Linker
	dedupe    Deduper
	metrics   *metrics.Metrics
	validator auth.TokenValidator
	timeout   time.Duration
}

type Option func(*Handler)

func WithDeduper(d Deduper) Option {
	return func(h *Handler) {
		h.dedupe = d
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

func WithTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// New creates a link-event Handler.
func New(linker Linker, validator auth.TokenValidator, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		logger:    logger,
		linker:    linker,
		validator: validator,
		timeout:   defaultTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register registers the link-event routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	linkRouter := chi.NewRouter()
	linkRouter.Use(request.Recovery(h.logger))
	linkRouter.Use(request.RequestID)
	linkRouter.Use(request.Logger(h.logger))
	linkRouter.Use(requesttime.Middleware)
	linkRouter.Use(chimw.Timeout(h.timeout))
	linkRouter.Use(auth.RequireServiceToken(h.validator, h.logger))
	linkRouter.Post("/link-events", h.handleLinkEvent)

	r.Mount("/internal", linkRouter)
}

type linkEventRequest struct {
	EventID   string `json:"event_id"`
	Anonymous string `json:"anonymous_identity"`
	Permanent string `json:"permanent_identity"`
}

type linkEventResponse struct {
	Accepted  bool `json:"accepted"`
	Duplicate bool `json:"duplicate,omitempty"`
}

// handleLinkEvent reconciles one account link. It answers 202 whatever the
// reconciliation outcome; the link itself has already happened. A failed
// outcome releases the event id so a redelivery is reconciled again.
func (h *Handler) handleLinkEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	event, err := decodeLinkEvent(w, r)
	if err != nil {
		h.logger.WarnContext(ctx, "invalid link event",
			"request_id", requestID,
			"error", err.Error(),
		)
		httputil.WriteError(w, httputil.CodeBadRequest, err.Error())
		return
	}

	claimed := false
	if event.EventID != "" && h.dedupe != nil {
		first, err := h.dedupe.Claim(ctx, event.EventID)
		switch {
		case err == nil && first:
			claimed = true
		case err != nil:
			// Fail open; reconciling twice is a no-op.
			h.logger.WarnContext(ctx, "link event dedupe unavailable",
				"request_id", requestID,
				"event_id", event.EventID,
				"error", err.Error(),
			)
		case !first:
			if h.metrics != nil {
				h.metrics.IncrementDuplicateEvents()
			}
			h.logger.InfoContext(ctx, "duplicate link event ignored",
				"request_id", requestID,
				"event_id", event.EventID,
			)
			httputil.WriteJSON(w, http.StatusAccepted, linkEventResponse{Accepted: true, Duplicate: true})
			return
		}
	}

	result := h.linker.ReconcileEvent(ctx, event)
	if claimed && result.Outcome.Failed() {
		h.release(ctx, event.EventID)
	}
	httputil.WriteJSON(w, http.StatusAccepted, linkEventResponse{Accepted: true})
}

// release lets the auth subsystem's retry of a failed reconciliation through.
func (h *Handler) release(ctx context.Context, eventID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := h.dedupe.Release(ctx, eventID); err != nil {
		h.logger.WarnContext(ctx, "failed to release link event for retry",
			"request_id", request.GetRequestID(ctx),
			"event_id", eventID,
			"error", err.Error(),
		)
	}
}

var (
	errInvalidBody     = errors.New("invalid request body")
	errSameIdentity    = errors.New("anonymous_identity and permanent_identity must differ")
	errEventIDTooLong  = errors.New("event_id is too long")
	errInvalidIdentity = errors.New("anonymous_identity and permanent_identity are required")
)

func decodeLinkEvent(w http.ResponseWriter, r *http.Request) (models.LinkEvent, error) {
	var req linkEventRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		return models.LinkEvent{}, errInvalidBody
	}
	anonymous, err := id.ParseIdentityID(req.Anonymous)
	if err != nil {
		return models.LinkEvent{}, errInvalidIdentity
	}
	permanent, err := id.ParseIdentityID(req.Permanent)
	if err != nil {
		return models.LinkEvent{}, errInvalidIdentity
	}
	if anonymous == permanent {
		return models.LinkEvent{}, errSameIdentity
	}
	if len(req.EventID) > maxEventIDLen {
		return models.LinkEvent{}, errEventIDTooLong
	}
	return models.LinkEvent{
		EventID:   req.EventID,
		Anonymous: anonymous,
		Permanent: permanent,
	}, nil
}
