package queue

// Redis keys of the derived cache.  The cache is never authoritative: every
// key can be deleted at any time and is rebuilt from MySQL on demand.

// TrackingKey holds the JSON record of a PENDING reservation.
func TrackingKey(reservationID string) string { return "reservation:tracking:" + reservationID }

// AvailabilityKey holds the cached list of AVAILABLE seats of a session.
func AvailabilityKey(sessionID string) string { return "session:" + sessionID + ":available_seats" }

// TicketKey holds the ticket record issued for a sale.
func TicketKey(saleID string) string { return "ticket:" + saleID }
