package repository

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/iliyamo/seat-reservation-engine/internal/model"
)

// mysqlErrDuplicateEntry is ER_DUP_ENTRY, raised by the unique index on
// reservations.idempotency_key.
const mysqlErrDuplicateEntry = 1062

// ReservationStore is the transactional seat/reservation store used by the
// reservation engine and the expiry sweeper.  Every method that changes a
// seat's status does so inside a single transaction holding the seat (or
// reservation) row locks, so seat and reservation status never disagree.
type ReservationStore interface {
	// CreateWithLock claims all seats for a new PENDING reservation.  When
	// the idempotency key already exists the stored reservation is returned
	// with created == false and nothing is changed.
	CreateWithLock(ctx context.Context, p CreateReservationParams) (res *model.Reservation, created bool, err error)
	FindByID(ctx context.Context, id string) (*model.Reservation, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*model.Reservation, error)
	FindByUserID(ctx context.Context, userID string) ([]model.Reservation, error)
	// Cancel releases a PENDING reservation owned by userID.
	Cancel(ctx context.Context, id, userID string) (*model.Reservation, error)
	// ExpirePending expires every PENDING reservation whose expires_at is
	// before now and returns what was released.
	ExpirePending(ctx context.Context, now time.Time) ([]model.ExpiredReservation, error)
}

// CreateReservationParams carries the input of CreateWithLock.  SeatIDs must
// be unique; the repository sorts a copy before locking.
type CreateReservationParams struct {
	UserID         string
	SessionID      string
	SeatIDs        []string
	ExpiresAt      time.Time
	IdempotencyKey *string
}

// queryer is satisfied by both *sql.DB and *sql.Tx so read helpers can run
// inside or outside a transaction.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ReservationRepo is the MySQL implementation of ReservationStore.
// Reservations group one or more seats of a single session for a single
// buyer; the seats are linked through reservation_seats.  All timestamps
// are stored in UTC.
type ReservationRepo struct {
	db *sql.DB
}

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

var _ ReservationStore = (*ReservationRepo)(nil)

const reservationColumns = `id, user_id, session_id, status, expires_at, idempotency_key, created_at, updated_at`

// CreateWithLock runs the seat-claiming transaction:
//
//  1. re-check the idempotency key (a concurrent request may have committed
//     it while this caller waited for the session mutex);
//  2. lock the requested seat rows in ascending id order with FOR UPDATE;
//  3. reject unknown seats (ErrSeatNotInSession) and seats that are not
//     AVAILABLE (ErrSeatUnavailable);
//  4. flip the seats to RESERVED and insert the reservation and its links.
//
// A duplicate-key error on the idempotency index means another session's
// request won the race for the same key; the transaction is rolled back and
// the winner is returned.
func (r *ReservationRepo) CreateWithLock(ctx context.Context, p CreateReservationParams) (*model.Reservation, bool, error) {
	seatIDs := append([]string(nil), p.SeatIDs...)
	sort.Strings(seatIDs)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if p.IdempotencyKey != nil {
		existing, err := r.findByIdempotencyKey(ctx, tx, *p.IdempotencyKey)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, false, err
		}
	}

	q := `SELECT id, label, status FROM seats WHERE id IN (` + placeholders(len(seatIDs)) + `) AND session_id = ? ORDER BY id FOR UPDATE`
	args := append(stringArgs(seatIDs), p.SessionID)
	rows, err := tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, false, err
	}
	locked := make([]model.ReservationSeat, 0, len(seatIDs))
	for rows.Next() {
		var s model.ReservationSeat
		if err := rows.Scan(&s.SeatID, &s.Label, &s.Status); err != nil {
			rows.Close()
			return nil, false, err
		}
		locked = append(locked, s)
	}
	if err := rows.Close(); err != nil {
		return nil, false, err
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	if len(locked) != len(seatIDs) {
		return nil, false, ErrSeatNotInSession
	}
	for _, s := range locked {
		if s.Status != model.SeatAvailable {
			return nil, false, ErrSeatUnavailable
		}
	}

	upd := `UPDATE seats SET status = ? WHERE id IN (` + placeholders(len(seatIDs)) + `)`
	if _, err := tx.ExecContext(ctx, upd, append([]any{model.SeatReserved}, stringArgs(seatIDs)...)...); err != nil {
		return nil, false, err
	}

	now := time.Now().UTC()
	res := &model.Reservation{
		ID:             uuid.NewString(),
		UserID:         p.UserID,
		SessionID:      p.SessionID,
		Status:         model.ReservationPending,
		ExpiresAt:      p.ExpiresAt.UTC(),
		IdempotencyKey: p.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	const ins = `INSERT INTO reservations (id, user_id, session_id, status, expires_at, idempotency_key) VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, ins, res.ID, res.UserID, res.SessionID, res.Status, res.ExpiresAt, nullString(res.IdempotencyKey)); err != nil {
		if isDuplicateEntry(err) && p.IdempotencyKey != nil {
			_ = tx.Rollback()
			committed = true // nothing left to roll back
			existing, ferr := r.FindByIdempotencyKey(ctx, *p.IdempotencyKey)
			if ferr != nil {
				return nil, false, ferr
			}
			return existing, false, nil
		}
		return nil, false, err
	}

	link := `INSERT INTO reservation_seats (reservation_id, seat_id) VALUES `
	linkArgs := make([]any, 0, len(seatIDs)*2)
	for i, id := range seatIDs {
		if i > 0 {
			link += ","
		}
		link += "(?, ?)"
		linkArgs = append(linkArgs, res.ID, id)
	}
	if _, err := tx.ExecContext(ctx, link, linkArgs...); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	committed = true

	for i := range locked {
		locked[i].Status = model.SeatReserved
	}
	res.Seats = locked
	return res, true, nil
}

// FindByID returns a reservation with its seats, or ErrNotFound.
func (r *ReservationRepo) FindByID(ctx context.Context, id string) (*model.Reservation, error) {
	return r.findOne(ctx, r.db, `SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id)
}

// FindByIdempotencyKey returns the reservation created with key, or ErrNotFound.
func (r *ReservationRepo) FindByIdempotencyKey(ctx context.Context, key string) (*model.Reservation, error) {
	return r.findByIdempotencyKey(ctx, r.db, key)
}

func (r *ReservationRepo) findByIdempotencyKey(ctx context.Context, q queryer, key string) (*model.Reservation, error) {
	return r.findOne(ctx, q, `SELECT `+reservationColumns+` FROM reservations WHERE idempotency_key = ?`, key)
}

func (r *ReservationRepo) findOne(ctx context.Context, q queryer, query string, arg any) (*model.Reservation, error) {
	res, err := scanReservation(q.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	const seatQ = `SELECT rs.seat_id, s.label, s.status
                   FROM reservation_seats rs
                   JOIN seats s ON s.id = rs.seat_id
                   WHERE rs.reservation_id = ?
                   ORDER BY rs.seat_id`
	rows, err := q.QueryContext(ctx, seatQ, res.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res.Seats = []model.ReservationSeat{}
	for rows.Next() {
		var s model.ReservationSeat
		if err := rows.Scan(&s.SeatID, &s.Label, &s.Status); err != nil {
			return nil, err
		}
		res.Seats = append(res.Seats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// FindByUserID returns all reservations of a buyer, newest first, each with
// its seats.  Seats for all reservations are fetched in a single query.
// When the buyer has no reservations an empty slice is returned.
func (r *ReservationRepo) FindByUserID(ctx context.Context, userID string) ([]model.Reservation, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := make([]model.Reservation, 0)
	index := make(map[string]int)
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		res.Seats = []model.ReservationSeat{}
		index[res.ID] = len(list)
		list = append(list, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return list, nil
	}

	ids := make([]string, 0, len(list))
	for _, res := range list {
		ids = append(ids, res.ID)
	}
	seatQ := `SELECT rs.reservation_id, rs.seat_id, s.label, s.status
              FROM reservation_seats rs
              JOIN seats s ON s.id = rs.seat_id
              WHERE rs.reservation_id IN (` + placeholders(len(ids)) + `)
              ORDER BY rs.reservation_id, rs.seat_id`
	srows, err := r.db.QueryContext(ctx, seatQ, stringArgs(ids)...)
	if err != nil {
		return nil, err
	}
	defer srows.Close()
	for srows.Next() {
		var resID string
		var s model.ReservationSeat
		if err := srows.Scan(&resID, &s.SeatID, &s.Label, &s.Status); err != nil {
			return nil, err
		}
		if idx, ok := index[resID]; ok {
			list[idx].Seats = append(list[idx].Seats, s)
		}
	}
	if err := srows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

// Cancel moves a PENDING reservation owned by userID to CANCELLED and its
// seats back to AVAILABLE in one transaction.  The reservation row is locked
// first so a concurrent sweep or payment cannot interleave.  It returns
// ErrNotFound, ErrForbidden or ErrNotCancellable without changing anything
// when the preconditions do not hold.
func (r *ReservationRepo) Cancel(ctx context.Context, id, userID string) (*model.Reservation, error) {
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

	res, err := r.findOne(ctx, tx, `SELECT `+reservationColumns+` FROM reservations WHERE id = ? FOR UPDATE`, id)
	if err != nil {
		return nil, err
	}
	if res.UserID != userID {
		return nil, ErrForbidden
	}
	if res.Status != model.ReservationPending {
		return nil, ErrNotCancellable
	}

	if err := releaseSeatsTx(ctx, tx, res.SeatIDs()); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE reservations SET status = ? WHERE id = ?`, model.ReservationCancelled, id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true

	// the committed state, built from what was read under the row lock
	res.Status = model.ReservationCancelled
	res.UpdatedAt = time.Now().UTC()
	for i := range res.Seats {
		res.Seats[i].Status = model.SeatAvailable
	}
	return res, nil
}

// ExpirePending is the sweeper's transaction.  It locks every due PENDING
// reservation (skipping rows another transaction is currently cancelling
// or confirming; the next sweep picks them up if still due), marks them
// EXPIRED and releases all their seats in bulk.  It does not need the
// session mutex: it only moves seats out of RESERVED, which no create path
// competes for.  Nothing due yields a nil slice.
func (r *ReservationRepo) ExpirePending(ctx context.Context, now time.Time) ([]model.ExpiredReservation, error) {
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

	const due = `SELECT id, session_id FROM reservations
                 WHERE status = ? AND expires_at < ?
                 ORDER BY id
                 FOR UPDATE SKIP LOCKED`
	rows, err := tx.QueryContext(ctx, due, model.ReservationPending, now.UTC())
	if err != nil {
		return nil, err
	}
	var expired []model.ExpiredReservation
	index := make(map[string]int)
	for rows.Next() {
		var e model.ExpiredReservation
		if err := rows.Scan(&e.ReservationID, &e.SessionID); err != nil {
			rows.Close()
			return nil, err
		}
		index[e.ReservationID] = len(expired)
		expired = append(expired, e)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(expired) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(expired))
	for _, e := range expired {
		ids = append(ids, e.ReservationID)
	}
	seatQ := `SELECT reservation_id, seat_id FROM reservation_seats
              WHERE reservation_id IN (` + placeholders(len(ids)) + `)
              ORDER BY reservation_id, seat_id`
	srows, err := tx.QueryContext(ctx, seatQ, stringArgs(ids)...)
	if err != nil {
		return nil, err
	}
	var allSeats []string
	for srows.Next() {
		var resID, seatID string
		if err := srows.Scan(&resID, &seatID); err != nil {
			srows.Close()
			return nil, err
		}
		if idx, ok := index[resID]; ok {
			expired[idx].SeatIDs = append(expired[idx].SeatIDs, seatID)
			allSeats = append(allSeats, seatID)
		}
	}
	if err := srows.Close(); err != nil {
		return nil, err
	}
	if err := srows.Err(); err != nil {
		return nil, err
	}

	upd := `UPDATE reservations SET status = ? WHERE id IN (` + placeholders(len(ids)) + `) AND status = ?`
	updArgs := append([]any{model.ReservationExpired}, stringArgs(ids)...)
	updArgs = append(updArgs, model.ReservationPending)
	if _, err := tx.ExecContext(ctx, upd, updArgs...); err != nil {
		return nil, err
	}
	sort.Strings(allSeats)
	if err := releaseSeatsTx(ctx, tx, allSeats); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	return expired, nil
}

// releaseSeatsTx returns RESERVED seats to AVAILABLE.  SOLD seats are never
// touched.  An empty slice is a no-op.
func releaseSeatsTx(ctx context.Context, tx *sql.Tx, seatIDs []string) error {
	if len(seatIDs) == 0 {
		return nil
	}
	q := `UPDATE seats SET status = ? WHERE id IN (` + placeholders(len(seatIDs)) + `) AND status = ?`
	args := append([]any{model.SeatAvailable}, stringArgs(seatIDs)...)
	args = append(args, model.SeatReserved)
	_, err := tx.ExecContext(ctx, q, args...)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(s rowScanner) (*model.Reservation, error) {
	var res model.Reservation
	var key sql.NullString
	if err := s.Scan(&res.ID, &res.UserID, &res.SessionID, &res.Status, &res.ExpiresAt, &key, &res.CreatedAt, &res.UpdatedAt); err != nil {
		return nil, err
	}
	if key.Valid {
		k := key.String
		res.IdempotencyKey = &k
	}
	return &res, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(ss []string) []any {
	args := make([]any, len(ss))
	for i, s := range ss {
		args[i] = s
	}
	return args
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func isDuplicateEntry(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlErrDuplicateEntry
}
