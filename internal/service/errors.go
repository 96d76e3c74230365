// Package service holds the reservation engine: seat acquisition under the
// session mutex, cancellation, payment confirmation, expiry sweeping and
// the event emission that follows each committed transition.
package service

import (
	"errors"
	"fmt"

	"github.com/iliyamo/seat-reservation-engine/internal/repository"
)

var (
	// ErrValidation marks malformed input rejected before any locking.
	ErrValidation = errors.New("validation failed")

	// ErrSessionBusy means the session mutex could not be acquired in time.
	// Unlike ErrSeatUnavailable, retrying later may succeed.
	ErrSessionBusy = fmt.Errorf("%w: session is busy, retry shortly", repository.ErrConflict)

	// ErrIdempotencyKeyReused means the key belongs to another buyer's request.
	ErrIdempotencyKeyReused = fmt.Errorf("%w: idempotency key already used", repository.ErrConflict)
)

func validationErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
