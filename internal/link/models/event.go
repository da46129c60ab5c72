package models

import (
	id "accountlink/pkg/domain"
)

// LinkEvent is delivered by the authentication subsystem once per successful
// anonymous-to-permanent link, after the permanent identity is durably stored.
type LinkEvent struct {
	// EventID identifies the delivery so redeliveries can be recognised. Optional.
	EventID   string
	Anonymous id.IdentityID
	Permanent id.IdentityID
}
