// Package lock provides the cross-process mutex that serializes seat
// acquisition per session.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrBusy is returned when the lock could not be acquired within the
// configured retries, or when the backing store could not be reached.
// The underlying cause is wrapped.
var ErrBusy = errors.New("lock busy")

// UnlockFunc releases a lock obtained from Locker.Lock.  It is safe to call
// after the lease has expired; the release then reports an error that
// callers normally only log.
type UnlockFunc func(ctx context.Context) error

// Locker acquires advisory locks keyed by an arbitrary string.
type Locker interface {
	// Lock blocks until the lock on key is held, retries are exhausted or
	// ctx is done.  The lock is released automatically after ttl even if
	// the returned UnlockFunc is never called.
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}

// SessionKey is the lock key guarding seat acquisition of one session.
func SessionKey(sessionID string) string {
	return "lock:session:" + sessionID
}
