package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/gommon/log"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrNacked is returned when the broker negatively confirms a publish.
var ErrNacked = errors.New("publish nacked by broker")

// Publisher publishes persistent JSON events on a confirm-mode channel and
// waits for the broker's confirmation.  The connection is opened lazily and
// re-dialled after any failure, so a broker outage only fails the publishes
// attempted while it lasts.  Dialling happens outside the mutex and is
// bounded by dialTimeout, handshake included.
type Publisher struct {
	url            string
	dialTimeout    time.Duration
	confirmTimeout time.Duration

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewPublisher returns a publisher for the broker at url.  No connection is
// made until the first Publish.
func NewPublisher(url string, dialTimeout time.Duration) *Publisher {
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	return &Publisher{url: url, dialTimeout: dialTimeout, confirmTimeout: 5 * time.Second}
}

// channel returns the open confirm-mode channel, dialling a new one when
// there is none.  Two callers racing to dial keep the first channel stored.
func (p *Publisher) channel() (*amqp.Channel, error) {
	p.mu.Lock()
	if p.usableLocked() {
		ch := p.ch
		p.mu.Unlock()
		return ch, nil
	}
	p.mu.Unlock()

	conn, ch, err := p.dial()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.usableLocked() {
		_ = ch.Close()
		_ = conn.Close()
		return p.ch, nil
	}
	p.closeLocked()
	p.conn, p.ch = conn, ch
	return ch, nil
}

func (p *Publisher) usableLocked() bool {
	return p.conn != nil && !p.conn.IsClosed() && p.ch != nil && !p.ch.IsClosed()
}

// dial opens a connection and a confirm-mode channel and declares the
// topology.
func (p *Publisher) dial() (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.DialConfig(p.url, amqp.Config{
		Dial:      amqp.DefaultDial(p.dialTimeout),
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("rabbitmq confirm mode: %w", err)
	}
	if err := DeclareTopology(ch); err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

// Publish marshals event and sends it to queue through the default
// exchange, then blocks until the broker confirms it or ctx (bounded by the
// confirm timeout) is done.
func (p *Publisher) Publish(ctx context.Context, queue string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", queue, err)
	}

	ch, err := p.channel()
	if err != nil {
		return err
	}
	dc, err := ch.PublishWithDeferredConfirmWithContext(ctx,
		"",    // default exchange
		queue, // routing key = queue name
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.NewString(),
			Type:         queue,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
	if err != nil {
		p.mu.Lock()
		if p.ch == ch {
			p.closeLocked()
		}
		p.mu.Unlock()
		return fmt.Errorf("publish %s: %w", queue, err)
	}

	wctx, cancel := context.WithTimeout(ctx, p.confirmTimeout)
	defer cancel()
	ok, err := dc.WaitContext(wctx)
	if err != nil {
		return fmt.Errorf("confirm %s: %w", queue, err)
	}
	if !ok {
		return fmt.Errorf("%s: %w", queue, ErrNacked)
	}
	log.Debugf("published %s delivery_tag=%d", queue, dc.DeliveryTag)
	return nil
}

// Close closes the channel and connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
	return nil
}

func (p *Publisher) closeLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}
