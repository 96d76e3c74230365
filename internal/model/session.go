package model

import "time"

// Session is a scheduled screening owned by the catalog.  The reservation
// engine only reads it: TicketPriceInCents prices a confirmed sale.
type Session struct {
	ID                 string    `json:"id"`                    // sessions.id
	MovieTitle         string    `json:"movie_title"`           // sessions.movie_title
	Room               string    `json:"room"`                  // sessions.room
	StartsAt           time.Time `json:"starts_at"`             // sessions.starts_at
	TicketPriceInCents uint32    `json:"ticket_price_in_cents"` // sessions.ticket_price_in_cents
}
