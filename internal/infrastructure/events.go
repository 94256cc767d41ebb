package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

// Routing keys for the gateway event stream. The dashboard, analytics and
// AI-learning services consume these; the gateway only publishes.
const (
	EventMessageReceived    = "gateway.message.received"
	EventMessageQueued      = "gateway.message.queued"
	EventMessageStatus      = "gateway.message.status"
	EventBroadcastCompleted = "gateway.broadcast.completed"
)

// AMQPPublisher publishes gateway events as persistent JSON messages on a
// topic exchange.
type AMQPPublisher struct {
	conn     *amqp091.Connection
	exchange string
}

// NewAMQPPublisher dials RabbitMQ with bounded exponential backoff and
// declares the topic exchange.
func NewAMQPPublisher(ctx context.Context, url, exchange string) (*AMQPPublisher, error) {
	var conn *amqp091.Connection
	var lastErr error

	delay := time.Second
	for attempt := 1; attempt <= 5; attempt++ {
		conn, lastErr = amqp091.Dial(url)
		if lastErr == nil {
			break
		}
		log.Printf("[EVENTS] rabbit dial failed (attempt %d): %v", attempt, lastErr)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	if lastErr != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", lastErr)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, err
	}

	return &AMQPPublisher{conn: conn, exchange: exchange}, nil
}

// Publish marshals the event and publishes it under the routing key.
func (p *AMQPPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return ch.PublishWithContext(ctx, p.exchange, routingKey, false, false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
}

func (p *AMQPPublisher) Close() error {
	return p.conn.Close()
}
