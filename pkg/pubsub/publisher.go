package pubsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrNacked is returned when the broker refuses a published message.
var ErrNacked = errors.New("publish nacked by broker")

// Publisher sends one message to a queue via the default exchange.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg amqp.Publishing) error
}

// Publish sends msg to queue and waits for the broker confirm. Missing
// MessageId, AppId and Timestamp are filled in.
func (c *Client) Publish(ctx context.Context, queue string, msg amqp.Publishing) error {
	if queue == "" {
		return fmt.Errorf("publish: queue is required")
	}
	if msg.MessageId == "" {
		msg.MessageId = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	msg.AppId = FirstNonEmpty(msg.AppId, c.config.AppID)
	if msg.DeliveryMode == 0 && c.config.DurableQueues {
		msg.DeliveryMode = amqp.Persistent
	}

	pool := c.channelPool()
	ch, err := pool.Borrow(ctx, c.config.PoolRetryDelayMs)
	if err != nil {
		return fmt.Errorf("borrow channel: %w", err)
	}
	defer pool.Return(ch)

	dc, err := ch.PublishWithDeferredConfirmWithContext(ctx, "", queue, false, false, msg)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", queue, err)
	}
	if dc == nil {
		return nil
	}
	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm from %s: %w", queue, err)
	}
	if !acked {
		return fmt.Errorf("publish to %s: %w", queue, ErrNacked)
	}
	c.logger.Debug("published", slog.String("queue", queue), slog.String("message_id", msg.MessageId))
	return nil
}
