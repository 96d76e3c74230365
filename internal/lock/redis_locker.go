package lock

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/go-redsync/redsync/v4"
	redsyncredis "github.com/go-redsync/redsync/v4/redis"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// RedisLockerOptions tunes acquisition.  Retries counts attempts after the
// first; the wait before retry k (1-based) is RetryDelay*2^(k-1) plus a
// random jitter below RetryJitter.
type RedisLockerOptions struct {
	Retries     int
	RetryDelay  time.Duration
	RetryJitter time.Duration
}

// RedisLocker implements Locker with the Redlock algorithm over one or more
// independent Redis nodes.  A lock is a SET NX PX with a random value; the
// release is a compare-and-delete so a holder whose lease expired cannot
// free someone else's lock.
type RedisLocker struct {
	rs   *redsync.Redsync
	opts RedisLockerOptions
}

// NewRedisLocker builds a locker over the given clients.  Passing several
// clients that point at independent nodes enables quorum locking.
func NewRedisLocker(opts RedisLockerOptions, clients ...redis.UniversalClient) *RedisLocker {
	pools := make([]redsyncredis.Pool, 0, len(clients))
	for _, c := range clients {
		pools = append(pools, goredis.NewPool(c))
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	return &RedisLocker{rs: redsync.New(pools...), opts: opts}
}

var _ Locker = (*RedisLocker)(nil)

// Lock acquires key for ttl.  Every failure (contention, exhausted retries,
// unreachable Redis, cancelled ctx) is reported as ErrBusy wrapping the cause.
func (l *RedisLocker) Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error) {
	m := l.rs.NewMutex(key,
		redsync.WithExpiry(ttl),
		redsync.WithTries(l.opts.Retries+1),
		redsync.WithRetryDelayFunc(l.delay),
	)
	if err := m.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBusy, key, err)
	}
	return func(ctx context.Context) error {
		ok, err := m.UnlockContext(ctx)
		if err != nil {
			return fmt.Errorf("unlock %s: %w", key, err)
		}
		if !ok {
			return fmt.Errorf("unlock %s: lease lost", key)
		}
		return nil
	}, nil
}

// delay is redsync's retry delay hook; tries starts at 1 for the first retry.
func (l *RedisLocker) delay(tries int) time.Duration {
	d := l.opts.RetryDelay << (tries - 1)
	if l.opts.RetryJitter > 0 {
		d += rand.N(l.opts.RetryJitter)
	}
	return d
}
