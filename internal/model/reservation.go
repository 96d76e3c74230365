package model

import "time"

// Reservation statuses.  PENDING is the only non-terminal state.
const (
	ReservationPending   = "PENDING"
	ReservationConfirmed = "CONFIRMED"
	ReservationCancelled = "CANCELLED"
	ReservationExpired   = "EXPIRED"
)

// Reservation records a buyer's hold on one or more seats of a session.
// It is created PENDING with ExpiresAt = now + TTL and moves exactly once
// to CONFIRMED, CANCELLED or EXPIRED.
//
// Fields:
//
//	ID             – primary key (UUID).
//	UserID         – buyer who owns the hold.
//	SessionID      – session being reserved.
//	Status         – PENDING, CONFIRMED, CANCELLED or EXPIRED.
//	ExpiresAt      – when an unconfirmed hold lapses.
//	IdempotencyKey – client supplied key, globally unique when present.
//	Seats          – seats claimed; fixed at creation.
//	CreatedAt      – creation timestamp.
//	UpdatedAt      – last update timestamp.
type Reservation struct {
	ID             string            `json:"id"`                        // reservations.id
	UserID         string            `json:"user_id"`                   // reservations.user_id
	SessionID      string            `json:"session_id"`                // reservations.session_id
	Status         string            `json:"status"`                    // reservations.status
	ExpiresAt      time.Time         `json:"expires_at"`                // reservations.expires_at
	IdempotencyKey *string           `json:"idempotency_key,omitempty"` // reservations.idempotency_key (nullable)
	Seats          []ReservationSeat `json:"seats,omitempty"`
	CreatedAt      time.Time         `json:"created_at"` // reservations.created_at
	UpdatedAt      time.Time         `json:"updated_at"` // reservations.updated_at
}

// SeatIDs returns the ids of the claimed seats in their stored order.
func (r *Reservation) SeatIDs() []string {
	ids := make([]string, 0, len(r.Seats))
	for _, s := range r.Seats {
		ids = append(ids, s.SeatID)
	}
	return ids
}

// SeatLabels returns the labels of the claimed seats.
func (r *Reservation) SeatLabels() []string {
	labels := make([]string, 0, len(r.Seats))
	for _, s := range r.Seats {
		labels = append(labels, s.Label)
	}
	return labels
}

// ReservationSeat links a reservation to one claimed seat.  Label and
// Status are joined from the seats table for display.
type ReservationSeat struct {
	SeatID string `json:"seat_id"` // reservation_seats.seat_id
	Label  string `json:"label"`   // seats.label
	Status string `json:"status"`  // seats.status
}

// ExpiredReservation is what the sweeper reports for each hold it expired.
type ExpiredReservation struct {
	ReservationID string
	SessionID     string
	SeatIDs       []string
}
