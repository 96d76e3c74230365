package service

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/labstack/gommon/log"

	"github.com/iliyamo/seat-reservation-engine/internal/repository"
)

// Sweeper expires PENDING reservations whose deadline has passed.  It keeps
// no state between runs, so several instances sweeping at once only cost
// redundant scans.  It does not take the session mutex.
type Sweeper struct {
	store  repository.ReservationStore
	events *EventProducer
	now    func() time.Time
}

// NewSweeper returns a sweeper over store.
func NewSweeper(store repository.ReservationStore, events *EventProducer) *Sweeper {
	return &Sweeper{store: store, events: events, now: time.Now}
}

// Sweep runs one expiry transaction and emits the batched events.  It
// returns how many reservations were expired; nothing due emits nothing.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	expired, err := s.store.ExpirePending(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}
	s.events.ReservationsExpired(ctx, expired)
	return len(expired), nil
}

// StartSweeper schedules Sweep every interval on sched.  Singleton mode
// skips a tick while the previous sweep is still running.  The caller owns
// sched and must Start and Shutdown it.
func StartSweeper(sched gocron.Scheduler, sw *Sweeper, interval time.Duration) (gocron.Job, error) {
	return sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			defer cancel()
			n, err := sw.Sweep(ctx)
			if err != nil {
				log.Errorf("sweeper: %v", err)
				return
			}
			if n > 0 {
				log.Infof("sweeper: expired %d reservations", n)
			}
		}),
		gocron.WithName("reservation-expiry-sweeper"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
}
