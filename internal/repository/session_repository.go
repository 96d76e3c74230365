package repository // repository defines read access for sessions and their seats

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/seat-reservation-engine/internal/model"
)

// SessionRepo reads the session catalog and the seat map of a session.
// Sessions and seats are owned by the catalog; the reservation engine never
// writes them here.  Seat status changes go through ReservationStore.
type SessionRepo struct {
	db *sql.DB
}

// NewSessionRepo constructs a SessionRepo with the given DB handle.
func NewSessionRepo(db *sql.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

// FindByID returns the session with the given id or ErrNotFound.
func (r *SessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	const q = `SELECT id, movie_title, room, starts_at, ticket_price_in_cents
	           FROM sessions WHERE id = ?`
	var s model.Session
	err := r.db.QueryRowContext(ctx, q, id).Scan(&s.ID, &s.MovieTitle, &s.Room, &s.StartsAt, &s.TicketPriceInCents)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// List returns sessions ordered by start time.  limit <= 0 means no limit.
func (r *SessionRepo) List(ctx context.Context, limit, offset int) ([]model.Session, error) {
	q := `SELECT id, movie_title, room, starts_at, ticket_price_in_cents
	      FROM sessions
	      ORDER BY starts_at, id`
	var args []any
	if limit > 0 {
		q += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := make([]model.Session, 0)
	for rows.Next() {
		var s model.Session
		if err := rows.Scan(&s.ID, &s.MovieTitle, &s.Room, &s.StartsAt, &s.TicketPriceInCents); err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

// Seats returns every seat of a session ordered by label.
func (r *SessionRepo) Seats(ctx context.Context, sessionID string) ([]model.Seat, error) {
	const q = `SELECT id, session_id, label, status, created_at, updated_at
	           FROM seats
	           WHERE session_id = ?
	           ORDER BY label`
	return r.querySeats(ctx, q, sessionID)
}

// AvailableSeats returns only the AVAILABLE seats of a session ordered by
// label.  It is the source of truth behind the availability cache.
func (r *SessionRepo) AvailableSeats(ctx context.Context, sessionID string) ([]model.Seat, error) {
	const q = `SELECT id, session_id, label, status, created_at, updated_at
	           FROM seats
	           WHERE session_id = ? AND status = ?
	           ORDER BY label`
	return r.querySeats(ctx, q, sessionID, model.SeatAvailable)
}

func (r *SessionRepo) querySeats(ctx context.Context, q string, args ...any) ([]model.Seat, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	seats := make([]model.Seat, 0)
	for rows.Next() {
		var s model.Seat
		if err := rows.Scan(&s.ID, &s.SessionID, &s.Label, &s.Status, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		seats = append(seats, s)
	}
	return seats, rows.Err()
}
