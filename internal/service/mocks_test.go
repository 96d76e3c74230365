package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/iliyamo/seat-reservation-engine/internal/lock"
	"github.com/iliyamo/seat-reservation-engine/internal/model"
	"github.com/iliyamo/seat-reservation-engine/internal/repository"
)

// memStore is an in-memory ReservationStore with the same transition rules
// as the MySQL store.  One mutex stands in for the row locks.
type memStore struct {
	mu    sync.Mutex
	seats map[string]*model.Seat
	res   map[string]*model.Reservation
	keys  map[string]string
}

func newMemStore() *memStore {
	return &memStore{
		seats: map[string]*model.Seat{},
		res:   map[string]*model.Reservation{},
		keys:  map[string]string{},
	}
}

// addSession creates n AVAILABLE seats labelled A1..An and returns their ids.
func (m *memStore) addSession(sessionID string, n int) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		id := uuid.NewString()
		m.seats[id] = &model.Seat{ID: id, SessionID: sessionID, Label: fmt.Sprintf("A%d", i), Status: model.SeatAvailable}
		ids = append(ids, id)
	}
	return ids
}

func (m *memStore) seatStatus(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seats[id].Status
}

// reservationOf returns the id of the reservation holding seatID.
func (m *memStore) reservationOf(seatID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.res {
		for _, s := range r.Seats {
			if s.SeatID == seatID {
				return id
			}
		}
	}
	return ""
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.res)
}

func (m *memStore) copyOf(r *model.Reservation) *model.Reservation {
	cp := *r
	cp.Seats = make([]model.ReservationSeat, 0, len(r.Seats))
	for _, s := range r.Seats {
		cp.Seats = append(cp.Seats, model.ReservationSeat{SeatID: s.SeatID, Label: m.seats[s.SeatID].Label, Status: m.seats[s.SeatID].Status})
	}
	return &cp
}

func (m *memStore) CreateWithLock(_ context.Context, p repository.CreateReservationParams) (*model.Reservation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.IdempotencyKey != nil {
		if id, ok := m.keys[*p.IdempotencyKey]; ok {
			return m.copyOf(m.res[id]), false, nil
		}
	}
	ids := append([]string(nil), p.SeatIDs...)
	sort.Strings(ids)
	for _, id := range ids {
		s, ok := m.seats[id]
		if !ok || s.SessionID != p.SessionID {
			return nil, false, repository.ErrSeatNotInSession
		}
	}
	for _, id := range ids {
		if m.seats[id].Status != model.SeatAvailable {
			return nil, false, repository.ErrSeatUnavailable
		}
	}
	r := &model.Reservation{
		ID:             uuid.NewString(),
		UserID:         p.UserID,
		SessionID:      p.SessionID,
		Status:         model.ReservationPending,
		ExpiresAt:      p.ExpiresAt,
		IdempotencyKey: p.IdempotencyKey,
	}
	for _, id := range ids {
		m.seats[id].Status = model.SeatReserved
		r.Seats = append(r.Seats, model.ReservationSeat{SeatID: id})
	}
	m.res[r.ID] = r
	if p.IdempotencyKey != nil {
		m.keys[*p.IdempotencyKey] = r.ID
	}
	return m.copyOf(r), true, nil
}

func (m *memStore) FindByID(_ context.Context, id string) (*model.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.res[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return m.copyOf(r), nil
}

func (m *memStore) FindByIdempotencyKey(_ context.Context, key string) (*model.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.keys[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return m.copyOf(m.res[id]), nil
}

func (m *memStore) FindByUserID(_ context.Context, userID string) ([]model.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Reservation, 0)
	for _, r := range m.res {
		if r.UserID == userID {
			out = append(out, *m.copyOf(r))
		}
	}
	return out, nil
}

func (m *memStore) Cancel(_ context.Context, id, userID string) (*model.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.res[id]
	switch {
	case !ok:
		return nil, repository.ErrNotFound
	case r.UserID != userID:
		return nil, repository.ErrForbidden
	case r.Status != model.ReservationPending:
		return nil, repository.ErrNotCancellable
	}
	for _, s := range r.Seats {
		m.seats[s.SeatID].Status = model.SeatAvailable
	}
	r.Status = model.ReservationCancelled
	return m.copyOf(r), nil
}

func (m *memStore) ExpirePending(_ context.Context, now time.Time) ([]model.ExpiredReservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ExpiredReservation
	for _, r := range m.res {
		if r.Status != model.ReservationPending || !r.ExpiresAt.Before(now) {
			continue
		}
		r.Status = model.ReservationExpired
		e := model.ExpiredReservation{ReservationID: r.ID, SessionID: r.SessionID}
		for _, s := range r.Seats {
			m.seats[s.SeatID].Status = model.SeatAvailable
			e.SeatIDs = append(e.SeatIDs, s.SeatID)
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReservationID < out[j].ReservationID })
	return out, nil
}

var _ repository.ReservationStore = (*memStore)(nil)

type published struct {
	queue string
	event any
}

// recordingPublisher keeps every published event in order.
type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(_ context.Context, q string, ev any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{queue: q, event: ev})
	return nil
}

func (p *recordingPublisher) queues() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.queue)
	}
	return out
}

func (p *recordingPublisher) last() published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

type mockPublisher struct{ mock.Mock }

func (m *mockPublisher) Publish(ctx context.Context, q string, ev any) error {
	return m.Called(ctx, q, ev).Error(0)
}

// stubLocker grants or refuses every lock.
type stubLocker struct {
	mu       sync.Mutex
	err      error
	keys     []string
	released int
}

func (l *stubLocker) Lock(_ context.Context, key string, _ time.Duration) (lock.UnlockFunc, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.keys = append(l.keys, key)
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.released++
		return nil
	}, nil
}

type mockReservations struct{ mock.Mock }

func (m *mockReservations) FindByID(ctx context.Context, id string) (*model.Reservation, error) {
	args := m.Called(ctx, id)
	r, _ := args.Get(0).(*model.Reservation)
	return r, args.Error(1)
}

type mockSessions struct{ mock.Mock }

func (m *mockSessions) FindByID(ctx context.Context, id string) (*model.Session, error) {
	args := m.Called(ctx, id)
	s, _ := args.Get(0).(*model.Session)
	return s, args.Error(1)
}

func (m *mockSessions) List(ctx context.Context, limit, offset int) ([]model.Session, error) {
	args := m.Called(ctx, limit, offset)
	s, _ := args.Get(0).([]model.Session)
	return s, args.Error(1)
}

func (m *mockSessions) Seats(ctx context.Context, sessionID string) ([]model.Seat, error) {
	args := m.Called(ctx, sessionID)
	s, _ := args.Get(0).([]model.Seat)
	return s, args.Error(1)
}

func (m *mockSessions) AvailableSeats(ctx context.Context, sessionID string) ([]model.Seat, error) {
	args := m.Called(ctx, sessionID)
	s, _ := args.Get(0).([]model.Seat)
	return s, args.Error(1)
}

type mockPayments struct{ mock.Mock }

func (m *mockPayments) Confirm(ctx context.Context, p repository.ConfirmParams) (*model.Sale, error) {
	args := m.Called(ctx, p)
	s, _ := args.Get(0).(*model.Sale)
	return s, args.Error(1)
}

func (m *mockPayments) FindSalesByUser(ctx context.Context, userID string) ([]model.Sale, error) {
	args := m.Called(ctx, userID)
	s, _ := args.Get(0).([]model.Sale)
	return s, args.Error(1)
}

func (m *mockPayments) FindSaleByID(ctx context.Context, id string) (*model.Sale, error) {
	args := m.Called(ctx, id)
	s, _ := args.Get(0).(*model.Sale)
	return s, args.Error(1)
}
