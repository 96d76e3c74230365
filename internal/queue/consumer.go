package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/labstack/gommon/log"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Consumer dispatches deliveries of the registered queues to their
// handlers.  It runs a reconnect loop: when the connection drops it dials
// again with exponential backoff (1s doubling up to 30s) until ctx is done.
// Deliveries of one queue are handled sequentially; queues run in parallel.
type Consumer struct {
	url      string
	prefetch int
	handlers map[string]DeliveryHandler
}

// NewConsumer returns a consumer for the broker at url.  prefetch bounds the
// unacked deliveries the broker pushes per channel.
func NewConsumer(url string, prefetch int) *Consumer {
	if prefetch < 1 {
		prefetch = 1
	}
	return &Consumer{url: url, prefetch: prefetch, handlers: make(map[string]DeliveryHandler)}
}

// Handle registers h for queue.  Must be called before Run.
func (c *Consumer) Handle(queue string, h DeliveryHandler) {
	c.handlers[queue] = h
}

// Run consumes until ctx is cancelled.  It only returns ctx's error.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			log.Warnf("consumer: dial broker failed: %v; retrying in %s", err, backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warnf("consumer: consume loop ended: %v; reconnecting", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	if err := DeclareTopology(ch); err != nil {
		return err
	}

	// loopCtx stops every queue goroutine as soon as one of them ends
	loopCtx, stop := context.WithCancel(ctx)
	defer stop()

	var wg sync.WaitGroup
	done := make(chan string, len(c.handlers))
	for queue, h := range c.handlers {
		msgs, err := ch.Consume(queue, "", false, false, false, false, nil)
		if err != nil {
			stop()
			wg.Wait()
			return fmt.Errorf("consume %s: %w", queue, err)
		}
		wg.Add(1)
		go func(queue string, h DeliveryHandler, msgs <-chan amqp.Delivery) {
			defer wg.Done()
			for {
				select {
				case <-loopCtx.Done():
					return
				case d, ok := <-msgs:
					if !ok {
						done <- queue
						return
					}
					h(loopCtx, d)
				}
			}
		}(queue, h, msgs)
	}
	log.Infof("consumer: consuming %d queues", len(c.handlers))

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	var reason error
	select {
	case <-ctx.Done():
		reason = ctx.Err()
	case amqpErr := <-closed:
		reason = fmt.Errorf("connection closed: %v", amqpErr)
	case q := <-done:
		reason = fmt.Errorf("deliveries channel of %s closed", q)
	}
	stop()
	wg.Wait()
	if reason == nil {
		reason = errors.New("consumer stopped")
	}
	return reason
}
