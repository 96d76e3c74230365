package queue

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// QueueDeclarer is the part of *amqp.Channel needed to declare the topology.
type QueueDeclarer interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
}

// DeclareTopology declares every event queue and its dead-letter queue.
// Rejected messages (Nack without requeue) are routed through the default
// exchange into "<queue>.dlq".  Declarations are idempotent as long as the
// arguments never change.
func DeclareTopology(ch QueueDeclarer) error {
	for _, q := range EventQueues {
		dlq := DeadLetterQueue(q)
		if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare %s: %w", dlq, err)
		}
		args := amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": dlq,
		}
		if _, err := ch.QueueDeclare(q, true, false, false, false, args); err != nil {
			return fmt.Errorf("declare %s: %w", q, err)
		}
	}
	return nil
}
