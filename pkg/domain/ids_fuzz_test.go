//go:build go1.18

package domain

import (
	"testing"
	"unicode/utf8"
)

// FuzzParseIdentityID tests that parsing never panics on arbitrary input
// and always returns either a valid ID or an error.
func FuzzParseIdentityID(f *testing.F) {
	f.Add("")
	f.Add("Xy7KqZ2mP4sVn9Rb1LcW8hTd3FgJ6aE0")
	f.Add("'; DROP TABLE profiles;--")
	f.Add(string([]byte{0x00, 0x01, 0x02}))
	f.Add("anon\x00suffix")

	f.Fuzz(func(t *testing.T, input string) {
		id, err := ParseIdentityID(input)
		if err == nil {
			roundTrip, err2 := ParseIdentityID(id.String())
			if err2 != nil {
				t.Errorf("Valid ID failed round-trip: %v", err2)
			}
			if roundTrip != id {
				t.Error("Round-trip changed ID value")
			}
		}

		if !utf8.ValidString(input) && err == nil {
			t.Error("Non-UTF8 input was accepted")
		}
	})
}

// FuzzParseProfileID checks the UUID-backed parser for panics and round-trips.
func FuzzParseProfileID(f *testing.F) {
	f.Add("550e8400-e29b-41d4-a716-446655440000")
	f.Add("")
	f.Add("invalid")

	f.Fuzz(func(t *testing.T, input string) {
		id, err := ParseProfileID(input)
		if err != nil {
			return
		}
		if id.IsNil() {
			t.Error("nil profile ID accepted")
		}
		if _, err := ParseProfileID(id.String()); err != nil {
			t.Errorf("Valid ID failed round-trip: %v", err)
		}
	})
}
