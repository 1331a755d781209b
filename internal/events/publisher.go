// Package events publishes relay usage events to a RabbitMQ topic exchange.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Producer identifies this service in event metadata.
const Producer = "chat-relay"

// Meta describes an event.
type Meta struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Producer      string    `json:"producer,omitempty"`
	Time          time.Time `json:"time"`
	// Type is the event name and version, e.g. chat.completion.finished.v1.
	Type string `json:"type"`
}

// Envelope is the message body published to the exchange.
type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// NewEnvelope wraps data with fresh metadata.
func NewEnvelope(eventType, correlationID string, data any) Envelope {
	return Envelope{
		Meta: Meta{
			ID:            uuid.NewString(),
			CorrelationID: correlationID,
			Producer:      Producer,
			Time:          time.Now().UTC(),
			Type:          eventType,
		},
		Data: data,
	}
}

// Publisher sends envelopes. The event type doubles as the routing key.
type Publisher interface {
	Publish(ctx context.Context, msg Envelope) error
	Close() error
}

// AMQPPublisher publishes persistent JSON messages to a durable topic exchange.
type AMQPPublisher struct {
	conn     *amqp.Connection
	exchange string
	logger   *logrus.Logger
}

// NewAMQPPublisher dials url and declares exchange.
func NewAMQPPublisher(url, exchange string, logger *logrus.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	return &AMQPPublisher{conn: conn, exchange: exchange, logger: logger}, nil
}

// Publish sends msg with its type as the routing key.
func (p *AMQPPublisher) Publish(ctx context.Context, msg Envelope) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	err = ch.PublishWithContext(ctx, p.exchange, msg.Meta.Type, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     msg.Meta.ID,
		CorrelationId: msg.Meta.CorrelationID,
		Type:          msg.Meta.Type,
		Timestamp:     msg.Meta.Time,
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", msg.Meta.Type, err)
	}

	p.logger.WithFields(logrus.Fields{
		"exchange": p.exchange,
		"type":     msg.Meta.Type,
		"event_id": msg.Meta.ID,
	}).Debug("event published")
	return nil
}

// Close closes the connection.
func (p *AMQPPublisher) Close() error {
	return p.conn.Close()
}

// Nop discards every event. It is used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Envelope) error { return nil }
func (Nop) Close() error                            { return nil }
