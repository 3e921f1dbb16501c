package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// -----------------------------------------------------------------------------
// Consumer model (manual ack, supervised)
// -----------------------------------------------------------------------------

// ConsumerSpec defines a single consumer.
type ConsumerSpec struct {
	Name     string
	Queue    string
	Prefetch int // 0 => global default, then Workers
	Workers  int // goroutines reading this queue; 0 => 1

	// Consume owns settlement: it must Ack or Nack every delivery exactly
	// once. A returned error is only logged.
	Consume func(ctx context.Context, d amqp.Delivery) error
}

// Run starts the consumers and keeps them alive across channel and
// connection loss until ctx is done. Handlers run on a context that is not
// canceled with ctx, so in-flight jobs finish during shutdown.
func (c *Client) Run(ctx context.Context, specs ...ConsumerSpec) error {
	c.consumerClosed = make(chan string, len(specs)*2)
	c.consumerSpecs = make(map[string]ConsumerSpec, len(specs))

	for _, s := range specs {
		if s.Consume == nil {
			return fmt.Errorf("consumer %s: Consume is required", s.Name)
		}
		c.consumerSpecs[s.Name] = s
		if err := c.startConsumer(ctx, s); err != nil {
			return fmt.Errorf("start %s: %w", s.Name, err)
		}
	}

	errCh := c.connection().NotifyClose(make(chan *amqp.Error, 1))
	base := Dsec(c.config.ReconnectBackoffBaseSeconds, 1)
	capd := Dsec(c.config.ReconnectBackoffCapSeconds, 30)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case name := <-c.consumerClosed:
			s, ok := c.consumerSpecs[name]
			if !ok {
				continue
			}
			if err := c.startConsumer(ctx, s); err != nil {
				wait := JitteredDelay(base, capd, c.config.ReconnectJitterPercent)
				c.logger.Error("restart consumer failed",
					slog.String("name", name),
					slog.Any("error", err),
					slog.Duration("retry_in", wait),
				)
				c.scheduleRestart(ctx, name, wait)
			}

		case err, ok := <-errCh:
			if !ok {
				err = &amqp.Error{Reason: "connection closed"}
			}
			c.logger.Error("amqp connection closed, reconnecting", slog.Any("error", err))

			backoff := base
			for {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if rerr := c.reconnect(ctx); rerr != nil {
					wait := JitteredDelay(backoff, capd, c.config.ReconnectJitterPercent)
					c.logger.Error("reconnect failed", slog.Any("error", rerr), slog.Duration("retry_in", wait))
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-time.After(wait):
					}
					if backoff*2 < capd {
						backoff *= 2
					}
					continue
				}

				// success → restart all consumers on new conn
				for _, s := range c.consumerSpecs {
					if err := c.startConsumer(ctx, s); err != nil {
						c.logger.Error("restart consumer after reconnect failed", slog.String("name", s.Name), slog.Any("error", err))
					}
				}
				errCh = c.connection().NotifyClose(make(chan *amqp.Error, 1))
				break
			}
		}
	}
}

// scheduleRestart queues name for another start attempt after wait, so a
// consumer whose restart failed is not left stopped on a live connection.
func (c *Client) scheduleRestart(ctx context.Context, name string, wait time.Duration) {
	go func() {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
			select {
			case c.consumerClosed <- name:
			case <-ctx.Done():
			}
		}
	}()
}

// startConsumer declares the queue, opens a manual-ack consumer and runs
// the worker goroutines for it.
func (c *Client) startConsumer(ctx context.Context, spec ConsumerSpec) error {
	conn := c.connection()
	ch, err := conn.Channel()
	if err != nil {
		return err
	}

	workers := spec.Workers
	if workers <= 0 {
		workers = 1
	}
	pf := spec.Prefetch
	if pf <= 0 {
		pf = c.config.ConsumerPrefetch
		if pf <= 0 {
			pf = workers
		}
	}
	if err := ch.Qos(pf, 0, false); err != nil {
		_ = ch.Close()
		return err
	}
	if err := c.declareQueue(ch, spec.Queue); err != nil {
		_ = ch.Close()
		return err
	}

	tag := FirstNonEmpty(spec.Name, "consumer") + "-" + uuid.NewString()
	msgs, err := ch.Consume(spec.Queue, tag, false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return err
	}

	closeCh := ch.NotifyClose(make(chan *amqp.Error, 1))
	handlerCtx := context.WithoutCancel(ctx)

	var workerWG sync.WaitGroup
	for i := 0; i < workers; i++ {
		workerWG.Add(1)
		go func() {
			defer workerWG.Done()
			for d := range msgs {
				c.dispatch(handlerCtx, spec, d)
			}
		}()
	}

	c.consumerWG.Add(1)
	go func() {
		defer c.consumerWG.Done()
		select {
		case <-ctx.Done():
			// stop new deliveries; unacked prefetched ones return to the queue
			_ = ch.Cancel(tag, false)
			workerWG.Wait()
			_ = ch.Close()

		case <-closeCh:
			// deliveries closes with the channel; let running jobs finish
			// before a replacement consumer can pick up the same file ids
			workerWG.Wait()
			if conn.IsClosed() {
				// connection-level loss; Run restarts every consumer
				return
			}
			select {
			case c.consumerClosed <- spec.Name:
			default:
			}
		}
	}()

	c.logger.Info("consumer started",
		slog.String("name", spec.Name),
		slog.String("queue", spec.Queue),
		slog.Int("prefetch", pf),
		slog.Int("workers", workers),
	)
	return nil
}

func (c *Client) dispatch(ctx context.Context, spec ConsumerSpec, d amqp.Delivery) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("consumer handler panic",
				slog.String("name", spec.Name),
				slog.Uint64("delivery_tag", d.DeliveryTag),
				slog.Any("panic", r),
			)
		}
	}()
	if err := spec.Consume(ctx, d); err != nil {
		c.logger.Warn("consumer handler error",
			slog.String("name", spec.Name),
			slog.Uint64("delivery_tag", d.DeliveryTag),
			slog.Any("error", err),
		)
	}
}
