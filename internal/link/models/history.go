package models

import (
	"time"

	id "accountlink/pkg/domain"
)

// HistoryEntry is a dependent record of a profile: one row per streak change.
// Rows are deleted together with their profile.
type HistoryEntry struct {
	ID         id.HistoryEntryID `json:"id"`
	ProfileID  id.ProfileID      `json:"profile_id"`
	Streak     int               `json:"streak"`
	RecordedAt time.Time         `json:"recorded_at"`
}

// NewHistoryEntry snapshots the profile's current streak.
func NewHistoryEntry(p *Profile, now time.Time) HistoryEntry {
	return HistoryEntry{
		ID:         id.NewHistoryEntryID(),
		ProfileID:  p.ID,
		Streak:     p.CurrentStreak,
		RecordedAt: now.UTC(),
	}
}
