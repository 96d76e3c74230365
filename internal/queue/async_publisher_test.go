package queue

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedSender blocks every Publish until release is closed and records what
// it sent.
type gatedSender struct {
	started chan string
	release chan struct{}

	mu   sync.Mutex
	sent []string
}

func newGatedSender() *gatedSender {
	return &gatedSender{started: make(chan string, 16), release: make(chan struct{})}
}

func (g *gatedSender) Publish(ctx context.Context, queue string, _ any) error {
	g.started <- queue
	select {
	case <-g.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	g.mu.Lock()
	g.sent = append(g.sent, queue)
	g.mu.Unlock()
	return nil
}

func (g *gatedSender) queues() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.sent...)
}

func TestAsyncPublisher_DoesNotWaitForBroker(t *testing.T) {
	g := newGatedSender()
	a := NewAsyncPublisher(g, 2, time.Minute)

	begin := time.Now()
	require.NoError(t, a.Publish(context.Background(), QueueReservationCreated, ReservationCreated{ReservationID: "r1"}))
	assert.Equal(t, QueueReservationCreated, <-g.started)

	// the drain goroutine is stuck on r1; two more fit the buffer
	require.NoError(t, a.Publish(context.Background(), QueueReservationCancelled, nil))
	require.NoError(t, a.Publish(context.Background(), QueueSeatReleased, nil))
	err := a.Publish(context.Background(), QueuePaymentConfirmed, nil)
	assert.ErrorIs(t, err, ErrBufferFull)
	assert.Less(t, time.Since(begin), time.Second)

	close(g.release)
	require.NoError(t, a.Close())
	assert.Equal(t, []string{QueueReservationCreated, QueueReservationCancelled, QueueSeatReleased}, g.queues())

	assert.ErrorIs(t, a.Publish(context.Background(), QueueReservationCreated, nil), ErrPublisherClosed)
}

func TestAsyncPublisher_CallerContextNotRetained(t *testing.T) {
	g := newGatedSender()
	close(g.release)
	a := NewAsyncPublisher(g, 4, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, a.Publish(ctx, QueueReservationCreated, nil))
	cancel()
	require.NoError(t, a.Close())
	assert.Equal(t, []string{QueueReservationCreated}, g.queues())
}

// silentBroker accepts TCP connections and never answers the AMQP handshake.
func silentBroker(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	var mu sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			_ = c.Close()
		}
	})
	return "amqp://guest:guest@" + ln.Addr().String() + "/"
}

func TestPublisher_DialIsBoundedByTimeout(t *testing.T) {
	p := NewPublisher(silentBroker(t), 200*time.Millisecond)
	t.Cleanup(func() { _ = p.Close() })

	begin := time.Now()
	err := p.Publish(context.Background(), QueueReservationCreated, ReservationCreated{ReservationID: "r1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rabbitmq dial")
	assert.Less(t, time.Since(begin), 3*time.Second)
}

func TestPublisher_StalledDialDoesNotHoldOtherPublishers(t *testing.T) {
	p := NewPublisher(silentBroker(t), 500*time.Millisecond)
	t.Cleanup(func() { _ = p.Close() })

	const callers = 4
	var wg sync.WaitGroup
	begin := time.Now()
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Publish(context.Background(), QueueReservationCreated, nil)
		}()
	}
	wg.Wait()
	// serialized dials would take callers * 500ms
	assert.Less(t, time.Since(begin), time.Duration(callers)*500*time.Millisecond)
}
