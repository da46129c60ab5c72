package service

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"accountlink/internal/link/models"
	id "accountlink/pkg/domain"
	audit "accountlink/pkg/platform/audit"
	"accountlink/pkg/requestcontext"
)

var outcomeMessages = map[models.Outcome]string{
	models.OutcomeNoOp:                  "account link: no anonymous profile to reconcile",
	models.OutcomeRepointed:             "account link: profile repointed",
	models.OutcomeConflictResolved:      "account link: anonymous profile discarded",
	models.OutcomeConflictCleanupFailed: "account link: conflict cleanup failed, anonymous profile needs manual removal",
	models.OutcomeReconciliationFailed:  "account link: reconciliation failed",
}

var outcomeEvents = map[models.Outcome]audit.AuditEvent{
	models.OutcomeNoOp:                  audit.EventAccountLinkNoOp,
	models.OutcomeRepointed:             audit.EventAccountLinkRepointed,
	models.OutcomeConflictResolved:      audit.EventAccountLinkConflictResolved,
	models.OutcomeConflictCleanupFailed: audit.EventAccountLinkCleanupFailed,
	models.OutcomeReconciliationFailed:  audit.EventAccountLinkFailed,
}

// report emits the log record, audit event, metric and span status for one
// reconciliation.
func (s *Service) report(ctx context.Context, span trace.Span, eventID string, anonymous, permanent id.IdentityID, result models.Result, took time.Duration) {
	requestID := requestcontext.RequestID(ctx)

	attrs := []any{
		"anonymous_identity", anonymous.String(),
		"permanent_identity", permanent.String(),
		"outcome", result.Outcome.String(),
		"duration_ms", took.Milliseconds(),
	}
	if !result.ProfileID.IsNil() {
		attrs = append(attrs, "profile_id", result.ProfileID.String())
	}
	if result.Outcome == models.OutcomeConflictResolved {
		attrs = append(attrs, "history_deleted", result.HistoryDeleted)
	}
	if eventID != "" {
		attrs = append(attrs, "event_id", eventID)
	}
	if requestID != "" {
		attrs = append(attrs, "request_id", requestID)
	}

	level := slog.LevelInfo
	if result.Err != nil {
		attrs = append(attrs, "error", result.Err.Error())
		level = slog.LevelError
	}
	s.logger.Log(ctx, level, outcomeMessages[result.Outcome], attrs...)

	span.SetAttributes(attribute.String("outcome", result.Outcome.String()))
	if !result.ProfileID.IsNil() {
		span.SetAttributes(attribute.String("profile_id", result.ProfileID.String()))
	}
	if result.Err != nil {
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, result.Outcome.String())
	}

	if s.metrics != nil {
		s.metrics.ObserveReconcile(result.Outcome, took)
	}

	s.emitAudit(ctx, audit.Event{
		Timestamp:  requestcontext.Now(ctx),
		Subject:    anonymous.String(),
		Target:     permanent.String(),
		Action:     string(outcomeEvents[result.Outcome]),
		ProfileID:  profileIDString(result.ProfileID),
		Decision:   result.Outcome.String(),
		Reason:     reason(result),
		RequestID:  requestID,
		DeliveryID: eventID,
	})
}

// emitAudit is best-effort. It detaches from the reconcile deadline so an
// audit record is still attempted after a timeout.
func (s *Service) emitAudit(ctx context.Context, event audit.Event) {
	if s.auditPublisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()
	if err := s.auditPublisher.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event",
			"event", event.Action,
			"anonymous_identity", event.Subject,
			"error", err,
		)
	}
}

func reason(result models.Result) string {
	if result.Err != nil {
		return result.Err.Error()
	}
	switch result.Outcome {
	case models.OutcomeConflictResolved:
		return "permanent identity already owns a profile"
	case models.OutcomeNoOp:
		return "anonymous identity owns no profile"
	}
	return ""
}

func profileIDString(pid id.ProfileID) string {
	if pid.IsNil() {
		return ""
	}
	return pid.String()
}
