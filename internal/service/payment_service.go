package service

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/seat-reservation-engine/internal/model"
	"github.com/iliyamo/seat-reservation-engine/internal/repository"
)

// ReservationReader loads a reservation with its seats.
type ReservationReader interface {
	FindByID(ctx context.Context, id string) (*model.Reservation, error)
}

// SessionFinder loads a session from the catalog.
type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// PaymentStore persists confirmed sales.  *repository.PaymentRepo implements it.
type PaymentStore interface {
	Confirm(ctx context.Context, p repository.ConfirmParams) (*model.Sale, error)
	FindSalesByUser(ctx context.Context, userID string) ([]model.Sale, error)
	FindSaleByID(ctx context.Context, id string) (*model.Sale, error)
}

// PaymentService confirms PENDING reservations as sales.  The total is the
// number of seats times the session ticket price.
type PaymentService struct {
	reservations ReservationReader
	sessions     SessionFinder
	payments     PaymentStore
	events       *EventProducer
	now          func() time.Time
}

func NewPaymentService(reservations ReservationReader, sessions SessionFinder, payments PaymentStore, events *EventProducer) *PaymentService {
	return &PaymentService{
		reservations: reservations,
		sessions:     sessions,
		payments:     payments,
		events:       events,
		now:          time.Now,
	}
}

// Confirm sells the seats of a reservation to its owner and emits
// payment.confirmed.  Status, ownership and the deadline are checked again
// under the reservation row lock, so a concurrent cancel or sweep wins or
// loses cleanly.
func (s *PaymentService) Confirm(ctx context.Context, reservationID, userID string) (*model.Sale, error) {
	if _, err := uuid.Parse(reservationID); err != nil {
		return nil, validationErr("reservation_id must be a UUID")
	}
	res, err := s.reservations.FindByID(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if res.UserID != userID {
		return nil, repository.ErrForbidden
	}
	if res.Status != model.ReservationPending {
		return nil, repository.ErrNotPending
	}
	session, err := s.sessions.FindByID(ctx, res.SessionID)
	if err != nil {
		return nil, err
	}
	total := uint64(len(res.Seats)) * uint64(session.TicketPriceInCents)
	if total > math.MaxUint32 {
		return nil, validationErr("order total of %d cents exceeds the payable maximum", total)
	}

	sale, err := s.payments.Confirm(ctx, repository.ConfirmParams{
		ReservationID: reservationID,
		UserID:        userID,
		TotalInCents:  uint32(total),
		Now:           s.now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	s.events.PaymentConfirmed(ctx, sale)
	return sale, nil
}

// FindSalesByUser lists a buyer's sales.
func (s *PaymentService) FindSalesByUser(ctx context.Context, userID string) ([]model.Sale, error) {
	return s.payments.FindSalesByUser(ctx, userID)
}

// FindSaleByID returns a sale of userID; other buyers' sales are not found.
func (s *PaymentService) FindSaleByID(ctx context.Context, saleID, userID string) (*model.Sale, error) {
	if _, err := uuid.Parse(saleID); err != nil {
		return nil, repository.ErrNotFound
	}
	sale, err := s.payments.FindSaleByID(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if sale.UserID != userID {
		return nil, repository.ErrNotFound
	}
	return sale, nil
}
