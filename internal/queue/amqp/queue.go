// Package amqp implements the job queue on RabbitMQ.
package amqp

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/missatjuhvdk1/snapbot/internal/autopost"
)

// Config controls the RabbitMQ connection and consumer.
type Config struct {
	URL      string
	Name     string
	Prefetch int
}

// Queue is a RabbitMQ-backed job queue. One durable queue carries all
// post-video jobs; deliveries are acked on dequeue because a failed job is
// terminal and must not be redelivered by the broker.
type Queue struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	name       string
	deliveries <-chan amqp.Delivery
	logger     *zap.Logger
}

// New dials RabbitMQ, declares the durable job queue and starts consuming.
func New(cfg Config, logger *zap.Logger) (*Queue, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("queue url is required")
	}
	if cfg.Name == "" {
		cfg.Name = "post-video"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := channel.QueueDeclare(cfg.Name, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue %q: %w", cfg.Name, err)
	}
	if cfg.Prefetch > 0 {
		if err := channel.Qos(cfg.Prefetch, 0, false); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("set qos: %w", err)
		}
	}
	deliveries, err := channel.Consume(cfg.Name, "", false, false, false, false, nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("start consuming: %w", err)
	}

	logger.Info("rabbitmq queue ready",
		zap.String("queue", cfg.Name),
		zap.Int("prefetch", cfg.Prefetch),
	)
	return &Queue{
		conn:       conn,
		channel:    channel,
		name:       cfg.Name,
		deliveries: deliveries,
		logger:     logger,
	}, nil
}

// Enqueue publishes a job payload as a persistent JSON message.
func (q *Queue) Enqueue(ctx context.Context, payload autopost.JobPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	err = q.channel.PublishWithContext(ctx, "", q.name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Dequeue blocks for the next delivery, acks it, and returns the payload.
// Malformed messages are dropped with a nack so they land in a DLQ when one
// is bound instead of wedging the consumer.
func (q *Queue) Dequeue(ctx context.Context) (autopost.JobPayload, error) {
	for {
		select {
		case <-ctx.Done():
			return autopost.JobPayload{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case delivery, ok := <-q.deliveries:
			if !ok {
				return autopost.JobPayload{}, fmt.Errorf("rabbitmq delivery channel closed")
			}
			var payload autopost.JobPayload
			if err := json.Unmarshal(delivery.Body, &payload); err != nil {
				q.logger.Error("malformed job message",
					zap.Error(err),
					zap.ByteString("body", delivery.Body),
				)
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					q.logger.Error("nack malformed message failed", zap.Error(nackErr))
				}
				continue
			}
			if err := delivery.Ack(false); err != nil {
				return autopost.JobPayload{}, fmt.Errorf("ack delivery: %w", err)
			}
			return payload, nil
		}
	}
}

// Close tears down the channel and connection.
func (q *Queue) Close() error {
	if err := q.channel.Close(); err != nil {
		_ = q.conn.Close()
		return fmt.Errorf("close channel: %w", err)
	}
	if err := q.conn.Close(); err != nil {
		return fmt.Errorf("close connection: %w", err)
	}
	return nil
}
