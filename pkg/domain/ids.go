package domain

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ErrInvalidInput is returned by the Parse functions for malformed identifiers.
var ErrInvalidInput = errors.New("invalid input")

// maxIdentityLength bounds identity identifiers accepted at trust boundaries.
const maxIdentityLength = 255

// IdentityID is the opaque identifier the authentication subsystem issues for an
// anonymous or permanent identity. Its format is owned by that subsystem.
type IdentityID string

// ProfileID is the primary key of a domain profile.
type ProfileID uuid.UUID

// HistoryEntryID is the primary key of a streak history row.
type HistoryEntryID uuid.UUID

// ParseIdentityID validates an identity identifier received from outside the process.
// Empty, oversized, non-UTF8 and control-character inputs are rejected.
func ParseIdentityID(s string) (IdentityID, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("identity id is required: %w", ErrInvalidInput)
	}
	if len(s) > maxIdentityLength {
		return "", fmt.Errorf("identity id exceeds %d bytes: %w", maxIdentityLength, ErrInvalidInput)
	}
	if !utf8.ValidString(s) {
		return "", fmt.Errorf("identity id is not valid UTF-8: %w", ErrInvalidInput)
	}
	for _, r := range s {
		if unicode.IsControl(r) || unicode.IsSpace(r) || unicode.Is(unicode.Cf, r) {
			return "", fmt.Errorf("identity id contains illegal characters: %w", ErrInvalidInput)
		}
	}
	return IdentityID(s), nil
}

func (id IdentityID) String() string { return string(id) }

func (id IdentityID) IsZero() bool { return id == "" }

// NewProfileID returns a random profile ID.
func NewProfileID() ProfileID { return ProfileID(uuid.New()) }

// ParseProfileID parses a non-nil UUID profile ID.
func ParseProfileID(s string) (ProfileID, error) {
	u, err := parseUUID(s, "profile id")
	return ProfileID(u), err
}

func (id ProfileID) String() string { return uuid.UUID(id).String() }

func (id ProfileID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

func (id ProfileID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *ProfileID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

// NewHistoryEntryID returns a random history entry ID.
func NewHistoryEntryID() HistoryEntryID { return HistoryEntryID(uuid.New()) }

// ParseHistoryEntryID parses a non-nil UUID history entry ID.
func ParseHistoryEntryID(s string) (HistoryEntryID, error) {
	u, err := parseUUID(s, "history entry id")
	return HistoryEntryID(u), err
}

func (id HistoryEntryID) String() string { return uuid.UUID(id).String() }

func (id HistoryEntryID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

func (id HistoryEntryID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *HistoryEntryID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func parseUUID(s, field string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, fmt.Errorf("%s is required: %w", field, ErrInvalidInput)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s: %w", field, ErrInvalidInput)
	}
	if u == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%s must not be nil: %w", field, ErrInvalidInput)
	}
	return u, nil
}
