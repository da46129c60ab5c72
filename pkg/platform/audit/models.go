package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies and routing downstream.
type EventCategory string

const (
	// CategoryCompliance covers events with data-retention significance,
	// e.g. user data discarded during an account link.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events an operator must act on: reconciliation
	// failures that leave data in an unexpected state.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine outcomes useful for debugging.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	// Subject is the identity the action was taken for (the anonymous identity
	// for account links).
	Subject string
	// Target is the second identity involved, if any (the permanent identity).
	Target    string
	Action    string
	ProfileID string
	Decision  string
	Reason    string
	RequestID string
	// DeliveryID correlates the event with the inbound link event.
	DeliveryID string
}

type AuditEvent string

const (
	EventAccountLinkRepointed        AuditEvent = "account_link_repointed"
	EventAccountLinkNoOp             AuditEvent = "account_link_noop"
	EventAccountLinkConflictResolved AuditEvent = "account_link_conflict_resolved"
	EventAccountLinkCleanupFailed    AuditEvent = "account_link_cleanup_failed"
	EventAccountLinkFailed           AuditEvent = "account_link_failed"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventAccountLinkConflictResolved: CategoryCompliance,

	EventAccountLinkCleanupFailed: CategorySecurity,
	EventAccountLinkFailed:        CategorySecurity,

	EventAccountLinkRepointed: CategoryOperations,
	EventAccountLinkNoOp:      CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListBySubject(ctx context.Context, subject string) ([]Event, error)
}
