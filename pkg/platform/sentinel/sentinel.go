package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally wrapped)
// so services can branch on them with errors.Is instead of inspecting driver errors.
//
// - ErrNotFound: no row matched the lookup or mutation
// - ErrConflict: a uniqueness constraint rejected the write
// - ErrUnavailable: the backing store could not be reached
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")
)
