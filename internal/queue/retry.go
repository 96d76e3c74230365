package queue

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/labstack/gommon/log"
	amqp "github.com/rabbitmq/amqp091-go"
)

// HandlerFunc processes one message body.  A non-nil error means the
// attempt failed and may be retried.
type HandlerFunc func(ctx context.Context, body []byte) error

// DeliveryHandler owns a delivery: it must ack or nack it exactly once.
type DeliveryHandler func(ctx context.Context, d amqp.Delivery)

// RetryPolicy configures WithRetry.  The wait after failed attempt k
// (0-based) is BaseDelay*2^k plus a random jitter below Jitter.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Jitter      time.Duration
	Logger      *log.Logger
}

// DefaultRetryPolicy is three attempts, 200ms base delay, 100ms jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond, Jitter: 100 * time.Millisecond}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay << attempt
	if p.Jitter > 0 {
		d += rand.N(p.Jitter)
	}
	return d
}

// WithRetry wraps h with in-process retries.  The delivery is acked only
// after a successful attempt.  Every failed attempt is logged as a warning;
// when the last attempt fails the delivery is nacked without requeue so the
// broker dead-letters it.  If ctx ends while waiting between attempts the
// delivery is nacked with requeue so another consumer can take it.
func WithRetry(name string, p RetryPolicy, h HandlerFunc) DeliveryHandler {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	logger := p.Logger
	if logger == nil {
		logger = log.New("retry")
	}
	return func(ctx context.Context, d amqp.Delivery) {
		var err error
		for attempt := 0; attempt < p.MaxAttempts; attempt++ {
			if err = h(ctx, d.Body); err == nil {
				if aerr := d.Ack(false); aerr != nil {
					logger.Errorf("%s: ack failed: %v", name, aerr)
				}
				return
			}
			logger.Warnf("%s: attempt %d/%d failed: %v", name, attempt+1, p.MaxAttempts, err)
			if attempt == p.MaxAttempts-1 {
				break
			}
			select {
			case <-ctx.Done():
				if nerr := d.Nack(false, true); nerr != nil {
					logger.Errorf("%s: requeue on shutdown failed: %v", name, nerr)
				}
				return
			case <-time.After(p.delay(attempt)):
			}
		}
		logger.Errorf("%s: giving up after %d attempts, dead-lettering: %v", name, p.MaxAttempts, err)
		if nerr := d.Nack(false, false); nerr != nil {
			logger.Errorf("%s: nack failed: %v", name, nerr)
		}
	}
}
