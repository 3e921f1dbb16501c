package pubsub

import (
	"context"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// FallbackPublisher drops every message with a warning. It stands in where
// a message kind is deliberately not delivered.
type FallbackPublisher struct {
	log *slog.Logger
}

func (p *FallbackPublisher) Publish(ctx context.Context, queue string, msg amqp.Publishing) error {
	p.log.Warn("FallbackPublisher: skipped publish",
		slog.String("queue", queue),
		slog.String("type", msg.Type),
		slog.String("message_id", msg.MessageId),
	)
	return nil
}

func NewFallback(logger *slog.Logger) Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackPublisher{
		log: logger,
	}
}
