package model

import "time"

// Sale is the bookkeeping record written when a PENDING reservation is
// paid for.  One sale per reservation.
type Sale struct {
	ID            string    `json:"id"`             // sales.id
	ReservationID string    `json:"reservation_id"` // sales.reservation_id
	UserID        string    `json:"user_id"`        // sales.user_id
	TotalInCents  uint32    `json:"total_in_cents"` // sales.total_in_cents
	ConfirmedAt   time.Time `json:"confirmed_at"`   // sales.confirmed_at
	SessionID     string    `json:"session_id,omitempty"`
	SeatLabels    []string  `json:"seat_labels,omitempty"`
}
