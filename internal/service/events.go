package service

import (
	"context"
	"time"

	"github.com/labstack/gommon/log"

	"github.com/iliyamo/seat-reservation-engine/internal/model"
	"github.com/iliyamo/seat-reservation-engine/internal/queue"
)

// Publisher sends one event to a queue.  *queue.Publisher implements it.
type Publisher interface {
	Publish(ctx context.Context, queue string, event any) error
}

// EventProducer turns committed transitions into domain events.  Publishing
// happens after the commit and its failures are only logged: the store is
// the source of truth and the cache heals on the next read.
type EventProducer struct {
	pub     Publisher
	timeout time.Duration
}

// NewEventProducer returns a producer publishing through pub.
func NewEventProducer(pub Publisher) *EventProducer {
	return &EventProducer{pub: pub, timeout: 5 * time.Second}
}

func (p *EventProducer) emit(ctx context.Context, q string, ev any) {
	// the request may already be finished; the event must still go out
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()
	if err := p.pub.Publish(ctx, q, ev); err != nil {
		log.Errorf("event %s not published: %v", q, err)
	}
}

// ReservationCreated emits reservation.created.
func (p *EventProducer) ReservationCreated(ctx context.Context, res *model.Reservation) {
	p.emit(ctx, queue.QueueReservationCreated, queue.ReservationCreated{
		ReservationID: res.ID,
		UserID:        res.UserID,
		SessionID:     res.SessionID,
		SeatIDs:       res.SeatIDs(),
	})
}

// ReservationCancelled emits reservation.cancelled and the matching
// seat.released.
func (p *EventProducer) ReservationCancelled(ctx context.Context, res *model.Reservation) {
	p.emit(ctx, queue.QueueReservationCancelled, queue.ReservationCancelled{
		ReservationID: res.ID,
		UserID:        res.UserID,
		SessionID:     res.SessionID,
		SeatIDs:       res.SeatIDs(),
	})
	p.emit(ctx, queue.QueueSeatReleased, queue.SeatReleased{
		SessionID: res.SessionID,
		SeatIDs:   res.SeatIDs(),
		Reason:    queue.ReasonCancelled,
	})
}

// ReservationsExpired emits one batched reservation.expired and one batched
// seat.released for a sweep.  Batch entries keep one element per
// reservation, with reservations of the same session adjacent.
func (p *EventProducer) ReservationsExpired(ctx context.Context, expired []model.ExpiredReservation) {
	if len(expired) == 0 {
		return
	}
	ids := make([]string, 0, len(expired))
	var order []string
	bySession := make(map[string][]queue.SeatReleaseEntry)
	for _, e := range expired {
		ids = append(ids, e.ReservationID)
		if _, ok := bySession[e.SessionID]; !ok {
			order = append(order, e.SessionID)
		}
		bySession[e.SessionID] = append(bySession[e.SessionID], queue.SeatReleaseEntry{
			SessionID: e.SessionID,
			SeatIDs:   e.SeatIDs,
			Reason:    queue.ReasonExpired,
		})
	}
	batch := make([]queue.SeatReleaseEntry, 0, len(expired))
	for _, sid := range order {
		batch = append(batch, bySession[sid]...)
	}
	p.emit(ctx, queue.QueueReservationExpired, queue.ReservationExpired{ReservationIDs: ids})
	p.emit(ctx, queue.QueueSeatReleased, queue.SeatReleased{Batch: batch})
}

// PaymentConfirmed emits payment.confirmed.
func (p *EventProducer) PaymentConfirmed(ctx context.Context, sale *model.Sale) {
	p.emit(ctx, queue.QueuePaymentConfirmed, queue.PaymentConfirmed{
		SaleID:        sale.ID,
		ReservationID: sale.ReservationID,
		UserID:        sale.UserID,
		SessionID:     sale.SessionID,
		TotalInCents:  sale.TotalInCents,
		SeatLabels:    sale.SeatLabels,
	})
}
