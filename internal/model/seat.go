package model

import "time"

// Seat statuses.  A seat only ever moves between these values inside a
// store transaction that holds its row lock.
const (
	SeatAvailable = "AVAILABLE"
	SeatReserved  = "RESERVED"
	SeatSold      = "SOLD"
)

// Seat is a single sellable place in a session.  Seats are created with
// their session and never deleted; the row id (not the label) is the unit
// of locking.
//
// Fields:
//
//	ID        – primary key (UUID).
//	SessionID – session the seat belongs to.
//	Label     – human readable label such as "A1".
//	Status    – AVAILABLE, RESERVED or SOLD.
//	CreatedAt – creation timestamp.
//	UpdatedAt – last update timestamp.
type Seat struct {
	ID        string    `json:"id"`         // seats.id
	SessionID string    `json:"session_id"` // seats.session_id
	Label     string    `json:"label"`      // seats.label
	Status    string    `json:"status"`     // seats.status
	CreatedAt time.Time `json:"-"`          // seats.created_at
	UpdatedAt time.Time `json:"-"`          // seats.updated_at
}
