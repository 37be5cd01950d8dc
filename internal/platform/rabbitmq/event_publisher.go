package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/sakif/user-manager/internal/events"
)

// EventPublisher implements events.Publisher on a durable queue. Each
// Publish opens its own channel, since amqp channels are not safe for
// concurrent use.
type EventPublisher struct {
	conn      *amqp.Connection
	queueName string
}

var _ events.Publisher = (*EventPublisher)(nil)

// NewEventPublisher declares the queue and returns a publisher for it.
func NewEventPublisher(conn *amqp.Connection, queueName string) (*EventPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare queue %s failed: %w", queueName, err)
	}

	return &EventPublisher{conn: conn, queueName: queueName}, nil
}

func (p *EventPublisher) Publish(ctx context.Context, e events.Event) error {
	msg, err := publishing(e)
	if err != nil {
		return err
	}

	return withContext(ctx, func() error {
		ch, err := p.conn.Channel()
		if err != nil {
			return fmt.Errorf("open rabbitmq channel failed: %w", err)
		}
		defer ch.Close()

		if err := ch.PublishWithContext(ctx, "", p.queueName, false, false, msg); err != nil {
			return fmt.Errorf("publish %s failed: %w", e.Kind, err)
		}
		return nil
	})
}

// publishing encodes e as a persistent JSON message. The event id doubles
// as the AMQP message id so consumers can drop redeliveries.
func publishing(e events.Event) (amqp.Publishing, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal event payload failed: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.ID,
		Type:         string(e.Kind),
		Timestamp:    e.OccurredAt,
		Body:         body,
	}, nil
}
