package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"github.com/unclebandit/newsletter-service/internal/config"
	"github.com/unclebandit/newsletter-service/internal/logger"
)

// AMQPQueue publishes and consumes triggers on one durable queue.
type AMQPQueue struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	name string
	mu   sync.Mutex
}

var _ Publisher = (*AMQPQueue)(nil)

// Dial connects to the broker and declares the dispatch queue.
func Dial(cfg config.AMQPConfig) (*AMQPQueue, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	q, err := ch.QueueDeclare(
		cfg.Queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", cfg.Queue, err)
	}

	return &AMQPQueue{conn: conn, ch: ch, name: q.Name}, nil
}

// Publish sends a persistent trigger message.
func (q *AMQPQueue) Publish(ctx context.Context, t Trigger) error {
	if t.RequestedAt.IsZero() {
		t.RequestedAt = time.Now().UTC()
	}
	body, err := json.Marshal(t)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ch.Publish(
		"",
		q.name,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    t.RequestedAt,
			Body:         body,
		},
	)
}

// Enqueue publishes a trigger for newsletterID tagged with source.
func (q *AMQPQueue) Enqueue(ctx context.Context, newsletterID int, source string) error {
	return q.Publish(ctx, Trigger{NewsletterID: newsletterID, Source: source})
}

// Consume handles deliveries one at a time until ctx is done or the broker
// closes the channel.
func (q *AMQPQueue) Consume(ctx context.Context, handle Handler) error {
	if err := q.ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	msgs, err := q.ch.Consume(
		q.name,
		"",
		false, // autoAck = false, settled after the dispatch returns
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	logger.L().Info("waiting for dispatch triggers", zap.String("queue", q.name))
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("amqp delivery channel closed")
			}
			action := Process(ctx, d.Body, d.Redelivered, handle)
			if err := settle(d, action); err != nil {
				logger.L().Error("failed to settle delivery", zap.Error(err))
			}
		}
	}
}

// Close closes the channel and the connection.
func (q *AMQPQueue) Close() error {
	chErr := q.ch.Close()
	connErr := q.conn.Close()
	if chErr != nil {
		return chErr
	}
	return connErr
}

type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func settle(d acknowledger, action Action) error {
	switch action {
	case Ack:
		return d.Ack(false)
	case Requeue:
		return d.Nack(false, true)
	default:
		return d.Nack(false, false)
	}
}
