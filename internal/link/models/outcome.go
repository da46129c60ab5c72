package models

import (
	id "accountlink/pkg/domain"
)

// Outcome is the branch a reconciliation took. Exactly one applies per call.
type Outcome string

const (
	// OutcomeNoOp: the anonymous identity owned no profile.
	OutcomeNoOp Outcome = "noop"
	// OutcomeRepointed: the anonymous profile now belongs to the permanent identity.
	OutcomeRepointed Outcome = "repointed"
	// OutcomeConflictResolved: the permanent identity already had a profile and the
	// anonymous profile was discarded with its history.
	OutcomeConflictResolved Outcome = "conflict_resolved"
	// OutcomeConflictCleanupFailed: a conflict was detected but the discard did not
	// commit. The anonymous profile still exists and needs manual cleanup.
	OutcomeConflictCleanupFailed Outcome = "conflict_cleanup_failed"
	// OutcomeReconciliationFailed: an infrastructure failure unrelated to the
	// uniqueness check. Nothing was applied.
	OutcomeReconciliationFailed Outcome = "reconciliation_failed"
)

// Outcomes lists every outcome, in the order they are reported by metrics.
var Outcomes = []Outcome{
	OutcomeNoOp,
	OutcomeRepointed,
	OutcomeConflictResolved,
	OutcomeConflictCleanupFailed,
	OutcomeReconciliationFailed,
}

func (o Outcome) String() string { return string(o) }

// Failed reports whether the outcome leaves work for an operator.
func (o Outcome) Failed() bool {
	return o == OutcomeConflictCleanupFailed || o == OutcomeReconciliationFailed
}

// Result is what a reconciliation did.
type Result struct {
	Outcome Outcome
	// ProfileID is the repointed or discarded profile, when one was found.
	ProfileID id.ProfileID
	// HistoryDeleted counts history rows removed on the conflict path.
	HistoryDeleted int64
	// Err is set for failed outcomes.
	Err error
}
