package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/labstack/gommon/log"
)

// ErrBufferFull is returned by AsyncPublisher.Publish when the outgoing
// buffer has no room; the event is dropped.
var ErrBufferFull = errors.New("publish buffer full")

// ErrPublisherClosed is returned by AsyncPublisher.Publish after Close.
var ErrPublisherClosed = errors.New("publisher closed")

// Sender publishes one event synchronously.  *Publisher implements it.
type Sender interface {
	Publish(ctx context.Context, queue string, event any) error
}

type outgoing struct {
	queue string
	event any
}

// AsyncPublisher decouples callers from the broker: Publish only enqueues,
// and one goroutine drains the buffer through the wrapped Sender, each send
// bounded by timeout.  Send failures are logged.  Events keep their enqueue
// order.
type AsyncPublisher struct {
	next    Sender
	timeout time.Duration
	buf     chan outgoing

	mu     sync.RWMutex
	closed bool
	stop   chan struct{}
	done   chan struct{}
}

// NewAsyncPublisher starts the drain goroutine.  Call Close to flush and
// stop it.
func NewAsyncPublisher(next Sender, size int, timeout time.Duration) *AsyncPublisher {
	if size < 1 {
		size = 1
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	a := &AsyncPublisher{
		next:    next,
		timeout: timeout,
		buf:     make(chan outgoing, size),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

// Publish enqueues event without waiting on the broker.  ctx is not
// retained.
func (a *AsyncPublisher) Publish(_ context.Context, queue string, event any) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return fmt.Errorf("%s: %w", queue, ErrPublisherClosed)
	}
	select {
	case a.buf <- outgoing{queue: queue, event: event}:
		return nil
	default:
		return fmt.Errorf("%s: %w", queue, ErrBufferFull)
	}
}

func (a *AsyncPublisher) run() {
	defer close(a.done)
	for {
		select {
		case m := <-a.buf:
			a.send(m)
		case <-a.stop:
			// flush what was accepted before Close
			for {
				select {
				case m := <-a.buf:
					a.send(m)
				default:
					return
				}
			}
		}
	}
}

func (a *AsyncPublisher) send(m outgoing) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	if err := a.next.Publish(ctx, m.queue, m.event); err != nil {
		log.Errorf("event %s dropped: %v", m.queue, err)
	}
}

// Close rejects further events, sends the buffered ones and waits for the
// drain goroutine to exit.
func (a *AsyncPublisher) Close() error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.stop)
	}
	a.mu.Unlock()
	<-a.done
	return nil
}
