package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/seat-reservation-engine/internal/model"
)

var reservationCols = []string{"id", "user_id", "session_id", "status", "expires_at", "idempotency_key", "created_at", "updated_at"}

func newMock(t *testing.T) (*ReservationRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewReservationRepo(db), mock
}

func TestCreateWithLock_ClaimsSeatsInAscendingOrder(t *testing.T) {
	repo, mock := newMock(t)
	expires := time.Now().Add(30 * time.Second)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, label, status FROM seats WHERE id IN .+ AND session_id = \? ORDER BY id FOR UPDATE`).
		WithArgs("seat-1", "seat-2", "sess-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "label", "status"}).
			AddRow("seat-1", "A1", model.SeatAvailable).
			AddRow("seat-2", "A2", model.SeatAvailable))
	mock.ExpectExec(`UPDATE seats SET status = \?`).
		WithArgs(model.SeatReserved, "seat-1", "seat-2").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`INSERT INTO reservations`).
		WithArgs(sqlmock.AnyArg(), "user-1", "sess-1", model.ReservationPending, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO reservation_seats`).
		WithArgs(sqlmock.AnyArg(), "seat-1", sqlmock.AnyArg(), "seat-2").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	res, created, err := repo.CreateWithLock(context.Background(), CreateReservationParams{
		UserID:    "user-1",
		SessionID: "sess-1",
		SeatIDs:   []string{"seat-2", "seat-1"},
		ExpiresAt: expires,
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, model.ReservationPending, res.Status)
	assert.Equal(t, []string{"seat-1", "seat-2"}, res.SeatIDs())
	assert.Equal(t, []string{"A1", "A2"}, res.SeatLabels())
	assert.Equal(t, model.SeatReserved, res.Seats[0].Status)
	assert.WithinDuration(t, expires, res.ExpiresAt, time.Millisecond)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateWithLock_SeatTaken(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM seats WHERE id IN`).
		WithArgs("seat-1", "sess-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "label", "status"}).
			AddRow("seat-1", "A1", model.SeatReserved))
	mock.ExpectRollback()

	res, created, err := repo.CreateWithLock(context.Background(), CreateReservationParams{
		UserID: "user-2", SessionID: "sess-1", SeatIDs: []string{"seat-1"}, ExpiresAt: time.Now(),
	})
	require.ErrorIs(t, err, ErrSeatUnavailable)
	assert.ErrorIs(t, err, ErrConflict)
	assert.False(t, created)
	assert.Nil(t, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateWithLock_SeatNotInSession(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM seats WHERE id IN`).
		WithArgs("seat-1", "seat-9", "sess-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "label", "status"}).
			AddRow("seat-1", "A1", model.SeatAvailable))
	mock.ExpectRollback()

	_, _, err := repo.CreateWithLock(context.Background(), CreateReservationParams{
		UserID: "user-1", SessionID: "sess-1", SeatIDs: []string{"seat-1", "seat-9"}, ExpiresAt: time.Now(),
	})
	require.ErrorIs(t, err, ErrSeatNotInSession)
	assert.NotErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateWithLock_IdempotencyKeyFoundInsideTransaction(t *testing.T) {
	repo, mock := newMock(t)
	key := "key-1"
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM reservations WHERE idempotency_key = \?`).
		WithArgs(key).
		WillReturnRows(sqlmock.NewRows(reservationCols).
			AddRow("res-1", "user-1", "sess-1", model.ReservationPending, now.Add(30*time.Second), key, now, now))
	mock.ExpectQuery(`FROM reservation_seats rs`).
		WithArgs("res-1").
		WillReturnRows(sqlmock.NewRows([]string{"seat_id", "label", "status"}).
			AddRow("seat-1", "A1", model.SeatReserved))
	mock.ExpectRollback()

	res, created, err := repo.CreateWithLock(context.Background(), CreateReservationParams{
		UserID: "user-1", SessionID: "sess-1", SeatIDs: []string{"seat-1"}, ExpiresAt: now, IdempotencyKey: &key,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "res-1", res.ID)
	require.NotNil(t, res.IdempotencyKey)
	assert.Equal(t, key, *res.IdempotencyKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateWithLock_DuplicateKeyReturnsWinner(t *testing.T) {
	repo, mock := newMock(t)
	key := "key-1"
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM reservations WHERE idempotency_key = \?`).
		WithArgs(key).
		WillReturnRows(sqlmock.NewRows(reservationCols))
	mock.ExpectQuery(`FROM seats WHERE id IN`).
		WithArgs("seat-1", "sess-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "label", "status"}).
			AddRow("seat-1", "A1", model.SeatAvailable))
	mock.ExpectExec(`UPDATE seats SET status`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO reservations`).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'key-1'"})
	mock.ExpectRollback()
	mock.ExpectQuery(`FROM reservations WHERE idempotency_key = \?`).
		WithArgs(key).
		WillReturnRows(sqlmock.NewRows(reservationCols).
			AddRow("res-winner", "user-1", "sess-2", model.ReservationPending, now.Add(30*time.Second), key, now, now))
	mock.ExpectQuery(`FROM reservation_seats rs`).
		WithArgs("res-winner").
		WillReturnRows(sqlmock.NewRows([]string{"seat_id", "label", "status"}).
			AddRow("seat-7", "B3", model.SeatReserved))

	res, created, err := repo.CreateWithLock(context.Background(), CreateReservationParams{
		UserID: "user-1", SessionID: "sess-1", SeatIDs: []string{"seat-1"}, ExpiresAt: now, IdempotencyKey: &key,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "res-winner", res.ID)
	assert.Equal(t, []string{"seat-7"}, res.SeatIDs())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByID_NotFound(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectQuery(`FROM reservations WHERE id = \?`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(reservationCols))

	_, err := repo.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByUserID_GroupsSeats(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM reservations WHERE user_id = \? ORDER BY created_at DESC`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows(reservationCols).
			AddRow("res-2", "user-1", "sess-1", model.ReservationPending, now, nil, now, now).
			AddRow("res-1", "user-1", "sess-1", model.ReservationExpired, now, "k", now, now))
	mock.ExpectQuery(`FROM reservation_seats rs`).
		WithArgs("res-2", "res-1").
		WillReturnRows(sqlmock.NewRows([]string{"reservation_id", "seat_id", "label", "status"}).
			AddRow("res-1", "seat-1", "A1", model.SeatAvailable).
			AddRow("res-2", "seat-2", "A2", model.SeatReserved).
			AddRow("res-2", "seat-3", "A3", model.SeatReserved))

	list, err := repo.FindByUserID(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "res-2", list[0].ID)
	assert.Nil(t, list[0].IdempotencyKey)
	assert.Equal(t, []string{"seat-2", "seat-3"}, list[0].SeatIDs())
	assert.Equal(t, []string{"seat-1"}, list[1].SeatIDs())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByUserID_Empty(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectQuery(`FROM reservations WHERE user_id`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows(reservationCols))

	list, err := repo.FindByUserID(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.NotNil(t, list)
}

func expectLockedReservation(mock sqlmock.Sqlmock, id, owner, status string, now time.Time, seats ...string) {
	mock.ExpectQuery(`SELECT .+ FROM reservations WHERE id = \? FOR UPDATE`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(reservationCols).
			AddRow(id, owner, "sess-1", status, now.Add(20*time.Second), nil, now, now))
	rows := sqlmock.NewRows([]string{"seat_id", "label", "status"})
	for i, seat := range seats {
		rows.AddRow(seat, fmt.Sprintf("A%d", i+1), model.SeatReserved)
	}
	mock.ExpectQuery(`FROM reservation_seats rs`).WithArgs(id).WillReturnRows(rows)
}

func TestCancel(t *testing.T) {
	now := time.Now().UTC()

	t.Run("releases seats of a pending reservation", func(t *testing.T) {
		repo, mock := newMock(t)
		mock.ExpectBegin()
		expectLockedReservation(mock, "res-1", "user-1", model.ReservationPending, now, "seat-1", "seat-2")
		mock.ExpectExec(`UPDATE seats SET status = \? WHERE id IN .+ AND status = \?`).
			WithArgs(model.SeatAvailable, "seat-1", "seat-2", model.SeatReserved).
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectExec(`UPDATE reservations SET status = \? WHERE id = \?`).
			WithArgs(model.ReservationCancelled, "res-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		res, err := repo.Cancel(context.Background(), "res-1", "user-1")
		require.NoError(t, err)
		assert.Equal(t, model.ReservationCancelled, res.Status)
		assert.Equal(t, "sess-1", res.SessionID)
		assert.Equal(t, []string{"seat-1", "seat-2"}, res.SeatIDs())
		assert.Equal(t, []string{"A1", "A2"}, res.SeatLabels())
		for _, seat := range res.Seats {
			assert.Equal(t, model.SeatAvailable, seat.Status)
		}
		// nothing is read after COMMIT, so a committed cancel cannot be reported as failed
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("seat read failure rolls back", func(t *testing.T) {
		repo, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`FROM reservations WHERE id = \? FOR UPDATE`).
			WithArgs("res-1").
			WillReturnRows(sqlmock.NewRows(reservationCols).
				AddRow("res-1", "user-1", "sess-1", model.ReservationPending, now, nil, now, now))
		mock.ExpectQuery(`FROM reservation_seats rs`).WithArgs("res-1").WillReturnError(errors.New("connection reset"))
		mock.ExpectRollback()

		res, err := repo.Cancel(context.Background(), "res-1", "user-1")
		assert.Error(t, err)
		assert.Nil(t, res)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects another buyer", func(t *testing.T) {
		repo, mock := newMock(t)
		mock.ExpectBegin()
		expectLockedReservation(mock, "res-1", "user-1", model.ReservationPending, now, "seat-1")
		mock.ExpectRollback()

		_, err := repo.Cancel(context.Background(), "res-1", "user-2")
		assert.ErrorIs(t, err, ErrForbidden)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects terminal reservation", func(t *testing.T) {
		repo, mock := newMock(t)
		mock.ExpectBegin()
		expectLockedReservation(mock, "res-1", "user-1", model.ReservationExpired, now, "seat-1")
		mock.ExpectRollback()

		_, err := repo.Cancel(context.Background(), "res-1", "user-1")
		assert.ErrorIs(t, err, ErrNotCancellable)
		assert.ErrorIs(t, err, ErrConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing reservation", func(t *testing.T) {
		repo, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`FROM reservations WHERE id = \? FOR UPDATE`).
			WithArgs("nope").
			WillReturnRows(sqlmock.NewRows(reservationCols))
		mock.ExpectRollback()

		_, err := repo.Cancel(context.Background(), "nope", "user-1")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestExpirePending_NothingDue(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM reservations\s+WHERE status = \? AND expires_at < \?\s+ORDER BY id\s+FOR UPDATE SKIP LOCKED`).
		WithArgs(model.ReservationPending, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "session_id"}))
	mock.ExpectRollback()

	expired, err := repo.ExpirePending(context.Background(), now)
	require.NoError(t, err)
	assert.Nil(t, expired)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExpirePending_ReleasesAcrossSessions(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
		WithArgs(model.ReservationPending, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "session_id"}).
			AddRow("res-1", "sess-a").
			AddRow("res-2", "sess-b"))
	mock.ExpectQuery(`SELECT reservation_id, seat_id FROM reservation_seats`).
		WithArgs("res-1", "res-2").
		WillReturnRows(sqlmock.NewRows([]string{"reservation_id", "seat_id"}).
			AddRow("res-1", "seat-3").
			AddRow("res-2", "seat-1").
			AddRow("res-2", "seat-2"))
	mock.ExpectExec(`UPDATE reservations SET status = \? WHERE id IN .+ AND status = \?`).
		WithArgs(model.ReservationExpired, "res-1", "res-2", model.ReservationPending).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`UPDATE seats SET status = \? WHERE id IN`).
		WithArgs(model.SeatAvailable, "seat-1", "seat-2", "seat-3", model.SeatReserved).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	expired, err := repo.ExpirePending(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, expired, 2)
	assert.Equal(t, model.ExpiredReservation{ReservationID: "res-1", SessionID: "sess-a", SeatIDs: []string{"seat-3"}}, expired[0])
	assert.Equal(t, model.ExpiredReservation{ReservationID: "res-2", SessionID: "sess-b", SeatIDs: []string{"seat-1", "seat-2"}}, expired[1])
	assert.NoError(t, mock.ExpectationsWereMet())
}
