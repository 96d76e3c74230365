// Package queue defines the domain events exchanged over RabbitMQ, the
// broker topology, a confirm-mode publisher, the consumer loop with its
// retry/dead-letter policy and the cache reconciliation handlers.
package queue

// Queue names.  Events are published to the default exchange with the queue
// name as routing key; each queue dead-letters into "<name>.dlq".
const (
	QueueReservationCreated   = "reservation.created"
	QueueReservationExpired   = "reservation.expired"
	QueueReservationCancelled = "reservation.cancelled"
	QueuePaymentConfirmed     = "payment.confirmed"
	QueueSeatReleased         = "seat.released"
)

// EventQueues lists every event queue in declaration order.
var EventQueues = []string{
	QueueReservationCreated,
	QueueReservationExpired,
	QueueReservationCancelled,
	QueuePaymentConfirmed,
	QueueSeatReleased,
}

// DeadLetterQueue returns the dead-letter queue of an event queue.
func DeadLetterQueue(queue string) string { return queue + ".dlq" }

// Release reasons carried by SeatReleased.
const (
	ReasonCancelled = "cancelled"
	ReasonExpired   = "expired"
)

// ReservationCreated is published after a new PENDING reservation commits.
type ReservationCreated struct {
	ReservationID string   `json:"reservationId"`
	UserID        string   `json:"userId"`
	SessionID     string   `json:"sessionId"`
	SeatIDs       []string `json:"seatIds"`
}

// ReservationCancelled is published after a buyer cancels a PENDING reservation.
type ReservationCancelled struct {
	ReservationID string   `json:"reservationId"`
	UserID        string   `json:"userId"`
	SessionID     string   `json:"sessionId"`
	SeatIDs       []string `json:"seatIds"`
}

// ReservationExpired is published once per sweep that expired anything.
type ReservationExpired struct {
	ReservationIDs []string `json:"reservationIds"`
}

// SeatReleased announces seats going back to AVAILABLE.  It is either a
// single release (SessionID/SeatIDs/Reason) or a batch.
type SeatReleased struct {
	SessionID string             `json:"sessionId,omitempty"`
	SeatIDs   []string           `json:"seatIds,omitempty"`
	Reason    string             `json:"reason,omitempty"`
	Batch     []SeatReleaseEntry `json:"batch,omitempty"`
}

// SeatReleaseEntry is one element of a batched SeatReleased.
type SeatReleaseEntry struct {
	SessionID string   `json:"sessionId"`
	SeatIDs   []string `json:"seatIds"`
	Reason    string   `json:"reason"`
}

// Entries flattens single and batched releases into one list.
func (e SeatReleased) Entries() []SeatReleaseEntry {
	if len(e.Batch) > 0 {
		return e.Batch
	}
	if e.SessionID == "" {
		return nil
	}
	return []SeatReleaseEntry{{SessionID: e.SessionID, SeatIDs: e.SeatIDs, Reason: e.Reason}}
}

// PaymentConfirmed is published after a reservation is paid for.
type PaymentConfirmed struct {
	SaleID        string   `json:"saleId"`
	ReservationID string   `json:"reservationId"`
	UserID        string   `json:"userId"`
	SessionID     string   `json:"sessionId"`
	TotalInCents  uint32   `json:"totalInCents"`
	SeatLabels    []string `json:"seatLabels"`
}
