// Package repository defines error types that are reused across multiple
// repositories.  The three broad kinds (ErrNotFound, ErrForbidden,
// ErrConflict) map directly onto HTTP 404/403/409.  The specific conflict
// errors wrap ErrConflict so callers can either test for the precise
// outcome (errors.Is(err, ErrSeatUnavailable)) or for the kind
// (errors.Is(err, ErrConflict)).
package repository

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a session, reservation or sale does not exist.
var ErrNotFound = errors.New("not found")

// ErrForbidden is returned when the caller attempts an operation
// on a resource they do not own.  Handlers should translate this
// into an HTTP 403 response.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when an operation cannot proceed because of the
// current state of the affected rows.  Handlers should translate this into
// an HTTP 409 response.
var ErrConflict = errors.New("conflict")

// ErrSeatNotInSession means at least one requested seat id does not exist
// in the requested session.  It is a request error, not contention.
var ErrSeatNotInSession = errors.New("one or more seats not found in this session")

var (
	// ErrSeatUnavailable is the steady-state contention outcome: a locked
	// seat row was already RESERVED or SOLD.
	ErrSeatUnavailable = fmt.Errorf("%w: one or more seats already reserved or sold", ErrConflict)

	// ErrNotCancellable is returned when cancelling a reservation that is
	// no longer PENDING.
	ErrNotCancellable = fmt.Errorf("%w: only pending reservations can be cancelled", ErrConflict)

	// ErrNotPending is returned when confirming payment for a reservation
	// that is no longer PENDING.
	ErrNotPending = fmt.Errorf("%w: reservation is not pending payment", ErrConflict)

	// ErrReservationExpired is returned when confirming a reservation whose
	// expires_at has passed but which the sweeper has not processed yet.
	ErrReservationExpired = fmt.Errorf("%w: reservation expired", ErrConflict)
)
