package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/gommon/log"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/seat-reservation-engine/internal/model"
	"github.com/iliyamo/seat-reservation-engine/internal/queue"
	"github.com/iliyamo/seat-reservation-engine/internal/repository"
)

// SessionReader is the read side of the session catalog.
type SessionReader interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
	List(ctx context.Context, limit, offset int) ([]model.Session, error)
	Seats(ctx context.Context, sessionID string) ([]model.Seat, error)
	AvailableSeats(ctx context.Context, sessionID string) ([]model.Seat, error)
}

// SessionService serves the session catalog and seat maps.  Available seats
// are read through Redis; the key is invalidated by the event consumers and
// recomputed from MySQL on a miss or any Redis error.
type SessionService struct {
	repo     SessionReader
	rdb      redis.Cmdable
	cacheTTL time.Duration
}

func NewSessionService(repo SessionReader, rdb redis.Cmdable, cacheTTL time.Duration) *SessionService {
	return &SessionService{repo: repo, rdb: rdb, cacheTTL: cacheTTL}
}

// Get returns one session.
func (s *SessionService) Get(ctx context.Context, id string) (*model.Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, repository.ErrNotFound
	}
	return s.repo.FindByID(ctx, id)
}

// List returns sessions ordered by start time.
func (s *SessionService) List(ctx context.Context, limit, offset int) ([]model.Session, error) {
	return s.repo.List(ctx, limit, offset)
}

// Seats returns every seat of a session with its current status.
func (s *SessionService) Seats(ctx context.Context, sessionID string) ([]model.Seat, error) {
	if _, err := s.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.repo.Seats(ctx, sessionID)
}

// AvailableSeats returns the AVAILABLE seats of a session.
func (s *SessionService) AvailableSeats(ctx context.Context, sessionID string) ([]model.Seat, error) {
	key := queue.AvailabilityKey(sessionID)
	raw, err := s.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var seats []model.Seat
		if jerr := json.Unmarshal(raw, &seats); jerr == nil {
			return seats, nil
		}
		log.Warnf("availability cache %s: corrupt entry, rebuilding", key)
	case !errors.Is(err, redis.Nil):
		log.Warnf("availability cache %s: %v", key, err)
	}

	if _, err := s.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	seats, err := s.repo.AvailableSeats(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(seats); err == nil {
		if err := s.rdb.Set(ctx, key, string(data), s.cacheTTL).Err(); err != nil {
			log.Warnf("availability cache %s: store failed: %v", key, err)
		}
	}
	return seats, nil
}
