package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/seat-reservation-engine/internal/model"
)

// ConfirmParams carries the input of PaymentRepo.Confirm.  The total is
// priced by the caller; the repository only persists it.
type ConfirmParams struct {
	ReservationID string
	UserID        string
	TotalInCents  uint32
	Now           time.Time
}

// PaymentRepo persists the CONFIRMED transition of a reservation together
// with its sale record.
type PaymentRepo struct {
	db *sql.DB
}

// NewPaymentRepo constructs a PaymentRepo with the given DB handle.
func NewPaymentRepo(db *sql.DB) *PaymentRepo { return &PaymentRepo{db: db} }

// Confirm locks the reservation row, checks ownership, status and deadline,
// then moves the reservation to CONFIRMED, its seats to SOLD and inserts the
// sale, all in one transaction.  The returned sale carries the session id
// and seat labels for the payment.confirmed event.
//
// A reservation still PENDING past expires_at is rejected with
// ErrReservationExpired even if the sweeper has not processed it yet.
func (r *PaymentRepo) Confirm(ctx context.Context, p ConfirmParams) (*model.Sale, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var owner, sessionID, status string
	var expiresAt time.Time
	const lockQ = `SELECT user_id, session_id, status, expires_at FROM reservations WHERE id = ? FOR UPDATE`
	if err := tx.QueryRowContext(ctx, lockQ, p.ReservationID).Scan(&owner, &sessionID, &status, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if owner != p.UserID {
		return nil, ErrForbidden
	}
	if status != model.ReservationPending {
		return nil, ErrNotPending
	}
	if !expiresAt.After(p.Now) {
		return nil, ErrReservationExpired
	}

	const seatQ = `SELECT rs.seat_id, s.label
	               FROM reservation_seats rs
	               JOIN seats s ON s.id = rs.seat_id
	               WHERE rs.reservation_id = ?
	               ORDER BY rs.seat_id`
	rows, err := tx.QueryContext(ctx, seatQ, p.ReservationID)
	if err != nil {
		return nil, err
	}
	var seatIDs, labels []string
	for rows.Next() {
		var id, label string
		if err := rows.Scan(&id, &label); err != nil {
			rows.Close()
			return nil, err
		}
		seatIDs = append(seatIDs, id)
		labels = append(labels, label)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE reservations SET status = ? WHERE id = ?`, model.ReservationConfirmed, p.ReservationID); err != nil {
		return nil, err
	}
	if len(seatIDs) > 0 {
		q := `UPDATE seats SET status = ? WHERE id IN (` + placeholders(len(seatIDs)) + `)`
		if _, err := tx.ExecContext(ctx, q, append([]any{model.SeatSold}, stringArgs(seatIDs)...)...); err != nil {
			return nil, err
		}
	}

	sale := &model.Sale{
		ID:            uuid.NewString(),
		ReservationID: p.ReservationID,
		UserID:        p.UserID,
		TotalInCents:  p.TotalInCents,
		ConfirmedAt:   p.Now.UTC(),
		SessionID:     sessionID,
		SeatLabels:    labels,
	}
	const ins = `INSERT INTO sales (id, reservation_id, user_id, total_in_cents, confirmed_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, ins, sale.ID, sale.ReservationID, sale.UserID, sale.TotalInCents, sale.ConfirmedAt); err != nil {
		if isDuplicateEntry(err) {
			return nil, ErrNotPending
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	return sale, nil
}

const saleSelect = `SELECT sa.id, sa.reservation_id, sa.user_id, sa.total_in_cents, sa.confirmed_at, r.session_id
                    FROM sales sa
                    JOIN reservations r ON r.id = sa.reservation_id`

// FindSalesByUser lists a buyer's sales, newest first.
func (r *PaymentRepo) FindSalesByUser(ctx context.Context, userID string) ([]model.Sale, error) {
	rows, err := r.db.QueryContext(ctx, saleSelect+` WHERE sa.user_id = ? ORDER BY sa.confirmed_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	sales := make([]model.Sale, 0)
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.attachLabels(ctx, sales); err != nil {
		return nil, err
	}
	return sales, nil
}

// FindSaleByID returns a sale or ErrNotFound.
func (r *PaymentRepo) FindSaleByID(ctx context.Context, id string) (*model.Sale, error) {
	s, err := scanSale(r.db.QueryRowContext(ctx, saleSelect+` WHERE sa.id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	sales := []model.Sale{*s}
	if err := r.attachLabels(ctx, sales); err != nil {
		return nil, err
	}
	return &sales[0], nil
}

// attachLabels loads the seat labels of every sale in one query.
func (r *PaymentRepo) attachLabels(ctx context.Context, sales []model.Sale) error {
	if len(sales) == 0 {
		return nil
	}
	byReservation := make(map[string]int, len(sales))
	ids := make([]string, 0, len(sales))
	for i := range sales {
		byReservation[sales[i].ReservationID] = i
		ids = append(ids, sales[i].ReservationID)
	}
	q := `SELECT rs.reservation_id, s.label
          FROM reservation_seats rs
          JOIN seats s ON s.id = rs.seat_id
          WHERE rs.reservation_id IN (` + placeholders(len(ids)) + `)
          ORDER BY rs.reservation_id, s.label`
	rows, err := r.db.QueryContext(ctx, q, stringArgs(ids)...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var resID, label string
		if err := rows.Scan(&resID, &label); err != nil {
			return err
		}
		if i, ok := byReservation[resID]; ok {
			sales[i].SeatLabels = append(sales[i].SeatLabels, label)
		}
	}
	return rows.Err()
}

func scanSale(sc rowScanner) (*model.Sale, error) {
	var s model.Sale
	if err := sc.Scan(&s.ID, &s.ReservationID, &s.UserID, &s.TotalInCents, &s.ConfirmedAt, &s.SessionID); err != nil {
		return nil, err
	}
	return &s, nil
}
