package queue

import (
	"context"
	"strings"

	"github.com/labstack/gommon/log"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DeadLetterHandler logs every dead-lettered message with its origin queue,
// the death reason and the raw payload, then acks it.  It never fails.
func DeadLetterHandler(logger *log.Logger) DeliveryHandler {
	if logger == nil {
		logger = log.New("dlq")
	}
	return func(_ context.Context, d amqp.Delivery) {
		origin, _ := d.Headers["x-first-death-queue"].(string)
		if origin == "" {
			origin = strings.TrimSuffix(d.RoutingKey, ".dlq")
		}
		reason, _ := d.Headers["x-first-death-reason"].(string)
		if reason == "" {
			reason = "unknown"
		}
		logger.Errorj(log.JSON{
			"message": "dead letter",
			"queue":   origin,
			"reason":  reason,
			"payload": string(d.Body),
		})
		if err := d.Ack(false); err != nil {
			logger.Errorf("dlq %s: ack failed: %v", origin, err)
		}
	}
}
