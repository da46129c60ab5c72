package models

import (
	"time"

	id "accountlink/pkg/domain"
)

// Profile is the single row of application data owned by an identity.
//
// Invariants:
//   - Owner is non-empty and owns no other profile (unique owner_identity)
//   - CurrentStreak is zero until the first check-in, then at least 1
//   - CreatedAt is immutable after construction
type Profile struct {
	ID            id.ProfileID  `json:"id"`
	Owner         id.IdentityID `json:"owner_identity"`
	CurrentStreak int           `json:"current_streak"`
	LastCheckIn   *time.Time    `json:"last_check_in,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// NewProfile creates an empty profile for owner, as done lazily on first app use.
func NewProfile(owner id.IdentityID, now time.Time) *Profile {
	now = now.UTC()
	return &Profile{
		ID:        id.NewProfileID(),
		Owner:     owner,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CheckInResult describes how a check-in changed the streak.
type CheckInResult string

const (
	CheckInStarted   CheckInResult = "started"
	CheckInRepeated  CheckInResult = "already_checked_in"
	CheckInIncreased CheckInResult = "increased"
	CheckInReset     CheckInResult = "reset"
)

// CheckIn applies a daily check-in at now. Days are compared as UTC calendar dates:
// a second check-in on the same day is ignored, a check-in on the following day
// extends the streak, and any longer gap restarts it at 1.
func (p *Profile) CheckIn(now time.Time) CheckInResult {
	now = now.UTC()
	if p.LastCheckIn == nil {
		p.apply(1, now)
		return CheckInStarted
	}

	last := p.LastCheckIn.UTC()
	switch {
	case sameDay(last, now):
		return CheckInRepeated
	case sameDay(last, now.AddDate(0, 0, -1)):
		p.apply(p.CurrentStreak+1, now)
		return CheckInIncreased
	default:
		p.apply(1, now)
		return CheckInReset
	}
}

// Changed reports whether the check-in result mutated the profile.
func (r CheckInResult) Changed() bool {
	return r != CheckInRepeated
}

func (p *Profile) apply(streak int, now time.Time) {
	p.CurrentStreak = streak
	p.LastCheckIn = &now
	p.UpdatedAt = now
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
