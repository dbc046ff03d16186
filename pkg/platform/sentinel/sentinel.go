package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and transports return these
// (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in store
// - ErrLockTimeout: exclusive access to a row/key was not granted within the wait bound
// - ErrIntegrity: a computed mutation would break a stored invariant
// - ErrConflict: a uniqueness or state precondition failed
// - ErrUnavailable: backing service temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound    = errors.New("not found")
	ErrLockTimeout = errors.New("lock wait timeout")
	ErrIntegrity   = errors.New("integrity violation")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")
)
