package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Ticket is the record cached under TicketKey once a sale is confirmed.
type Ticket struct {
	SaleID        string    `json:"saleId"`
	ReservationID string    `json:"reservationId"`
	UserID        string    `json:"userId"`
	SessionID     string    `json:"sessionId"`
	SeatLabels    []string  `json:"seatLabels"`
	TotalInCents  uint32    `json:"totalInCents"`
	IssuedAt      time.Time `json:"issuedAt"`
}

// CacheSync reconciles the Redis cache with committed state changes.  Every
// handler is a delete or a TTL'd overwrite, so redelivery and reordering
// leave the cache consistent: at worst a key is missing and rebuilt from
// MySQL on the next read.
type CacheSync struct {
	rdb         redis.Cmdable
	trackingTTL time.Duration
	now         func() time.Time
}

// NewCacheSync returns handlers writing to rdb.  trackingTTL should equal the
// reservation TTL so tracking keys disappear when the hold lapses.
func NewCacheSync(rdb redis.Cmdable, trackingTTL time.Duration) *CacheSync {
	return &CacheSync{rdb: rdb, trackingTTL: trackingTTL, now: time.Now}
}

// Handlers maps each event queue to its handler.
func (s *CacheSync) Handlers() map[string]HandlerFunc {
	return map[string]HandlerFunc{
		QueueReservationCreated:   s.OnReservationCreated,
		QueueReservationExpired:   s.OnReservationExpired,
		QueueReservationCancelled: s.OnReservationCancelled,
		QueuePaymentConfirmed:     s.OnPaymentConfirmed,
		QueueSeatReleased:         s.OnSeatReleased,
	}
}

// OnReservationCreated stores the tracking record and invalidates the
// session's availability.
func (s *CacheSync) OnReservationCreated(ctx context.Context, body []byte) error {
	var ev ReservationCreated
	if err := decode(body, &ev); err != nil {
		return err
	}
	record, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, TrackingKey(ev.ReservationID), string(record), s.trackingTTL).Err(); err != nil {
		return fmt.Errorf("set tracking %s: %w", ev.ReservationID, err)
	}
	if err := s.rdb.Del(ctx, AvailabilityKey(ev.SessionID)).Err(); err != nil {
		return fmt.Errorf("invalidate availability %s: %w", ev.SessionID, err)
	}
	return nil
}

// OnReservationExpired drops every tracking key of the batch in one command.
// Availability is handled by the accompanying seat.released batch.
func (s *CacheSync) OnReservationExpired(ctx context.Context, body []byte) error {
	var ev ReservationExpired
	if err := decode(body, &ev); err != nil {
		return err
	}
	if len(ev.ReservationIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(ev.ReservationIDs))
	for _, id := range ev.ReservationIDs {
		keys = append(keys, TrackingKey(id))
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete tracking keys: %w", err)
	}
	return nil
}

// OnReservationCancelled drops the tracking key and the session availability.
func (s *CacheSync) OnReservationCancelled(ctx context.Context, body []byte) error {
	var ev ReservationCancelled
	if err := decode(body, &ev); err != nil {
		return err
	}
	if err := s.rdb.Del(ctx, TrackingKey(ev.ReservationID), AvailabilityKey(ev.SessionID)).Err(); err != nil {
		return fmt.Errorf("cancel cleanup %s: %w", ev.ReservationID, err)
	}
	return nil
}

// OnPaymentConfirmed issues the ticket record, then drops the tracking key
// and the session availability.
func (s *CacheSync) OnPaymentConfirmed(ctx context.Context, body []byte) error {
	var ev PaymentConfirmed
	if err := decode(body, &ev); err != nil {
		return err
	}
	ticket, err := json.Marshal(Ticket{
		SaleID:        ev.SaleID,
		ReservationID: ev.ReservationID,
		UserID:        ev.UserID,
		SessionID:     ev.SessionID,
		SeatLabels:    ev.SeatLabels,
		TotalInCents:  ev.TotalInCents,
		IssuedAt:      s.now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, TicketKey(ev.SaleID), string(ticket), 0).Err(); err != nil {
		return fmt.Errorf("set ticket %s: %w", ev.SaleID, err)
	}
	if err := s.rdb.Del(ctx, TrackingKey(ev.ReservationID), AvailabilityKey(ev.SessionID)).Err(); err != nil {
		return fmt.Errorf("payment cleanup %s: %w", ev.ReservationID, err)
	}
	return nil
}

// OnSeatReleased invalidates availability of every affected session once,
// in the order sessions first appear.
func (s *CacheSync) OnSeatReleased(ctx context.Context, body []byte) error {
	var ev SeatReleased
	if err := decode(body, &ev); err != nil {
		return err
	}
	seen := make(map[string]struct{})
	var keys []string
	for _, e := range ev.Entries() {
		if _, ok := seen[e.SessionID]; ok || e.SessionID == "" {
			continue
		}
		seen[e.SessionID] = struct{}{}
		keys = append(keys, AvailabilityKey(e.SessionID))
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidate availability: %w", err)
	}
	return nil
}

func decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("malformed payload: %w", err)
	}
	return nil
}
