package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/gommon/log"

	"github.com/iliyamo/seat-reservation-engine/internal/lock"
	"github.com/iliyamo/seat-reservation-engine/internal/model"
	"github.com/iliyamo/seat-reservation-engine/internal/repository"
)

// CreateReservationInput is what a buyer asks for.  IdempotencyKey is
// optional; an empty string means none.
type CreateReservationInput struct {
	UserID         string
	SessionID      string
	SeatIDs        []string
	IdempotencyKey string
}

// ReservationService creates and cancels reservations.  Seat acquisition
// for a session is serialized across processes by the session mutex; the
// row locks taken inside the store transaction make the check-and-claim
// atomic even if the mutex lease is lost.
type ReservationService struct {
	store  repository.ReservationStore
	locker lock.Locker
	events *EventProducer
	ttl    time.Duration
	lease  time.Duration
	now    func() time.Time
}

// NewReservationService wires the engine.  ttl is the hold duration of a
// PENDING reservation and lease the session mutex lease.
func NewReservationService(store repository.ReservationStore, locker lock.Locker, events *EventProducer, ttl, lease time.Duration) *ReservationService {
	return &ReservationService{
		store:  store,
		locker: locker,
		events: events,
		ttl:    ttl,
		lease:  lease,
		now:    time.Now,
	}
}

// Create claims the requested seats for one buyer.
//
// A known idempotency key short-circuits to the stored reservation without
// locking.  Otherwise the session mutex is taken, the store transaction
// validates and claims the seats, the mutex is released and
// reservation.created is emitted.  Any error leaves state untouched.
func (s *ReservationService) Create(ctx context.Context, in CreateReservationInput) (*model.Reservation, error) {
	seatIDs, err := normalizeCreate(in)
	if err != nil {
		return nil, err
	}

	var key *string
	if in.IdempotencyKey != "" {
		k := in.IdempotencyKey
		key = &k
		existing, err := s.store.FindByIdempotencyKey(ctx, k)
		switch {
		case err == nil:
			return s.replay(existing, in.UserID)
		case !errors.Is(err, repository.ErrNotFound):
			return nil, err
		}
	}

	res, created, err := s.claim(ctx, repository.CreateReservationParams{
		UserID:         in.UserID,
		SessionID:      in.SessionID,
		SeatIDs:        seatIDs,
		ExpiresAt:      s.now().UTC().Add(s.ttl),
		IdempotencyKey: key,
	})
	if err != nil {
		return nil, err
	}
	if !created {
		return s.replay(res, in.UserID)
	}
	s.events.ReservationCreated(ctx, res)
	return res, nil
}

// claim runs the store transaction while holding the session mutex.  The
// mutex is released before any event is emitted.
func (s *ReservationService) claim(ctx context.Context, p repository.CreateReservationParams) (*model.Reservation, bool, error) {
	key := lock.SessionKey(p.SessionID)
	unlock, err := s.locker.Lock(ctx, key, s.lease)
	if err != nil {
		log.Warnf("reservation: %v", err)
		return nil, false, fmt.Errorf("%w: %v", ErrSessionBusy, err)
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			log.Warnf("reservation: release %s: %v", key, err)
		}
	}()
	return s.store.CreateWithLock(ctx, p)
}

func (s *ReservationService) replay(res *model.Reservation, userID string) (*model.Reservation, error) {
	if res.UserID != userID {
		return nil, ErrIdempotencyKeyReused
	}
	return res, nil
}

// Cancel releases a PENDING reservation owned by userID and emits
// reservation.cancelled plus seat.released.
func (s *ReservationService) Cancel(ctx context.Context, reservationID, userID string) (*model.Reservation, error) {
	if _, err := uuid.Parse(reservationID); err != nil {
		return nil, repository.ErrNotFound
	}
	res, err := s.store.Cancel(ctx, reservationID, userID)
	if err != nil {
		return nil, err
	}
	s.events.ReservationCancelled(ctx, res)
	return res, nil
}

// FindByID returns a reservation of userID.  Reservations of other buyers
// are reported as not found.
func (s *ReservationService) FindByID(ctx context.Context, reservationID, userID string) (*model.Reservation, error) {
	if _, err := uuid.Parse(reservationID); err != nil {
		return nil, repository.ErrNotFound
	}
	res, err := s.store.FindByID(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if res.UserID != userID {
		return nil, repository.ErrNotFound
	}
	return res, nil
}

// FindByUser lists a buyer's reservations, newest first.
func (s *ReservationService) FindByUser(ctx context.Context, userID string) ([]model.Reservation, error) {
	return s.store.FindByUserID(ctx, userID)
}

// maxUserIDLen matches reservations.user_id.  Subjects are opaque strings
// issued by the identity provider, not necessarily UUIDs.
const maxUserIDLen = 128

// normalizeCreate validates ids and drops duplicate seats, keeping the
// first occurrence.
func normalizeCreate(in CreateReservationInput) ([]string, error) {
	if in.UserID == "" {
		return nil, validationErr("user id is required")
	}
	if len(in.UserID) > maxUserIDLen {
		return nil, validationErr("user id longer than %d characters", maxUserIDLen)
	}
	if _, err := uuid.Parse(in.SessionID); err != nil {
		return nil, validationErr("session_id must be a UUID")
	}
	if len(in.SeatIDs) == 0 {
		return nil, validationErr("seat_ids must contain at least one seat")
	}
	if len(in.IdempotencyKey) > 255 {
		return nil, validationErr("idempotency key longer than 255 characters")
	}
	seen := make(map[string]struct{}, len(in.SeatIDs))
	out := make([]string, 0, len(in.SeatIDs))
	for _, id := range in.SeatIDs {
		if _, err := uuid.Parse(id); err != nil {
			return nil, validationErr("seat id %q is not a UUID", id)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}
