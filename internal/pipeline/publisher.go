package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/roboricindustries/pandoc-worker/pkg/pubsub"
	conversion "github.com/roboricindustries/pandoc-worker/pkg/schemas/conversion/v1"
)

// ErrPublish matches a transport failure while sending an outcome.
var ErrPublish = errors.New("publish outcome")

// ResultPublisher encodes outcomes and sends them to the result queue.
// Failures may go through a different publisher than successes so they can
// be switched off without touching the success path.
type ResultPublisher struct {
	queue    string
	success  pubsub.Publisher
	failures pubsub.Publisher
}

// NewResultPublisher publishes to queue via pub. A nil failures publisher
// means failures use pub too.
func NewResultPublisher(queue string, pub, failures pubsub.Publisher) *ResultPublisher {
	if failures == nil {
		failures = pub
	}
	return &ResultPublisher{queue: queue, success: pub, failures: failures}
}

func (p *ResultPublisher) Queue() string { return p.queue }

// Publish sends o for the job identified by fileID. The file id doubles as
// message id so consumers can drop redelivered duplicates.
func (p *ResultPublisher) Publish(ctx context.Context, o conversion.Outcome, fileID string) error {
	body, err := o.Marshal()
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:   conversion.ContentType,
		MessageId:     fileID,
		CorrelationId: strconv.FormatInt(o.ChatID(), 10),
		Type:          o.Type(),
		Body:          body,
	}

	pub := p.success
	if o.Kind() == conversion.OutcomeFailure {
		pub = p.failures
	}
	if err := pub.Publish(ctx, p.queue, msg); err != nil {
		return fmt.Errorf("%w to %s: %w", ErrPublish, p.queue, err)
	}
	return nil
}
