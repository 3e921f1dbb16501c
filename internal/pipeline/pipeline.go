// Package pipeline runs one conversion job per broker delivery:
// decode, stage, convert, publish, with acknowledgment at a configurable
// point.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/roboricindustries/pandoc-worker/internal/config"
	"github.com/roboricindustries/pandoc-worker/internal/converter"
	"github.com/roboricindustries/pandoc-worker/internal/staging"
	"github.com/roboricindustries/pandoc-worker/pkg/pubsub"
	conversion "github.com/roboricindustries/pandoc-worker/pkg/schemas/conversion/v1"
)

type State string

const (
	StateReceived   State = "received"
	StateStaged     State = "staged"
	StateConverting State = "converting"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

type Stager interface {
	Stage(ctx context.Context, fileID string, data []byte) (*staging.File, error)
}

type Runner interface {
	Run(ctx context.Context, inputPath, from, to string) (converter.Result, error)
}

type Config struct {
	Stager  Stager
	Runner  Runner
	Results *ResultPublisher

	// Poison receives undecodable deliveries when PoisonQueue is set.
	Poison      pubsub.Publisher
	PoisonQueue string

	AckMode     config.AckMode
	KeepScratch bool
}

type Pipeline struct {
	stager      Stager
	runner      Runner
	results     *ResultPublisher
	poison      pubsub.Publisher
	poisonQueue string
	ackMode     config.AckMode
	keepScratch bool
	log         *slog.Logger
}

// Job is what one delivery turned into.
type Job struct {
	State   State
	Request conversion.ConvertRequest
	Outcome conversion.Outcome
	// RunErr is the converter failure behind a Failure outcome.
	RunErr error
}

func New(cfg Config, logger *slog.Logger) (*Pipeline, error) {
	if cfg.Stager == nil || cfg.Runner == nil || cfg.Results == nil {
		return nil, errors.New("pipeline: stager, runner and results are required")
	}
	if cfg.PoisonQueue != "" && cfg.Poison == nil {
		return nil, errors.New("pipeline: poison queue set without a publisher")
	}
	if logger == nil {
		logger = slog.Default()
	}
	mode := cfg.AckMode
	if mode == "" {
		mode = config.AckAfterStage
	}
	return &Pipeline{
		stager:      cfg.Stager,
		runner:      cfg.Runner,
		results:     cfg.Results,
		poison:      cfg.Poison,
		poisonQueue: cfg.PoisonQueue,
		ackMode:     mode,
		keepScratch: cfg.KeepScratch,
		log:         logger,
	}, nil
}

// Handle is the consumer callback. It settles d exactly once.
func (p *Pipeline) Handle(ctx context.Context, d amqp.Delivery) error {
	_, err := p.Process(ctx, d)
	return err
}

// Process runs one delivery through the pipeline. A converter failure is
// not an error here: it becomes a Failure outcome. Errors report what kept
// the pipeline itself from finishing (decode, staging, publish, ack).
func (p *Pipeline) Process(ctx context.Context, d amqp.Delivery) (Job, error) {
	job := Job{State: StateReceived}
	s := &settlement{d: d}

	req, err := conversion.DecodeRequest(d.Body)
	if err != nil {
		job.State = StateFailed
		p.log.Warn("rejecting malformed job",
			slog.Uint64("delivery_tag", d.DeliveryTag),
			slog.Int("bytes", len(d.Body)),
			slog.Any("error", err),
		)
		p.forwardPoison(ctx, d)
		return job, errors.Join(err, s.ack())
	}
	job.Request = req
	log := p.log.With(
		slog.String("file_id", req.FileID),
		slog.Int64("chat_id", req.ChatID),
		slog.String("from", req.FromFiletype),
		slog.String("to", req.ToFiletype),
	)
	log.Info("consumed request", slog.Int("bytes", len(req.File)))

	file, err := p.stager.Stage(ctx, req.FileID, req.File)
	if err != nil {
		job.State = StateFailed
		// retry once in case the disk recovers, then drop
		requeue := !d.Redelivered
		log.Error("staging failed", slog.Bool("requeue", requeue), slog.Any("error", err))
		return job, errors.Join(fmt.Errorf("stage %s: %w", req.FileID, err), s.nack(requeue))
	}
	if !p.keepScratch {
		defer func() {
			if err := file.Remove(); err != nil {
				log.Warn("scratch cleanup failed", slog.Any("error", err))
			}
		}()
	}
	job.State = StateStaged

	if p.ackMode == config.AckAfterStage {
		if err := s.ack(); err != nil {
			// unacked means the broker redelivers it; do not run it twice
			log.Error("ack failed", slog.Any("error", err))
			return job, err
		}
	}

	job.State = StateConverting
	log.Info("running converter")
	res, runErr := p.runner.Run(ctx, file.Path, req.FromFiletype, req.ToFiletype)
	if runErr != nil {
		job.State = StateFailed
		job.RunErr = runErr
		job.Outcome = conversion.NewFailure(req.ChatID, failureMessage(runErr))
		log.Warn("converter failed",
			slog.Int("exit_code", res.ExitCode),
			slog.String("diagnostic", res.Diagnostic()),
			slog.Any("error", runErr),
		)
	} else {
		job.State = StateCompleted
		job.Outcome = conversion.NewSuccess(req.ChatID, req.ToFiletype, res.Output)
		log.Info("converter succeeded", slog.Int("output_bytes", len(res.Output)))
	}

	if err := p.results.Publish(ctx, job.Outcome, req.FileID); err != nil {
		log.Error("publish failed", slog.String("outcome", string(job.Outcome.Kind())), slog.Any("error", err))
		if p.ackMode == config.AckAfterPublish {
			return job, errors.Join(err, s.nack(true))
		}
		return job, err
	}
	log.Info("replied", slog.String("outcome", string(job.Outcome.Kind())), slog.String("queue", p.results.Queue()))

	if p.ackMode == config.AckAfterPublish {
		if err := s.ack(); err != nil {
			log.Error("ack failed after publish", slog.Any("error", err))
			return job, err
		}
	}
	return job, nil
}

// forwardPoison keeps a copy of an undecodable delivery. Errors are only
// logged: the delivery is acked either way, since requeueing it would loop.
func (p *Pipeline) forwardPoison(ctx context.Context, d amqp.Delivery) {
	if p.poisonQueue == "" {
		return
	}
	err := p.poison.Publish(ctx, p.poisonQueue, amqp.Publishing{
		ContentType:   pubsub.FirstNonEmpty(d.ContentType, conversion.ContentType),
		Body:          d.Body,
		Headers:       d.Headers,
		MessageId:     d.MessageId,
		CorrelationId: d.CorrelationId,
		Type:          d.Type,
		AppId:         d.AppId,
	})
	if err != nil {
		p.log.Error("poison forward failed", slog.String("queue", p.poisonQueue), slog.Any("error", err))
	}
}

// failureMessage prefers what the converter printed over our own wrapping.
func failureMessage(err error) string {
	var ce *converter.ConversionError
	if errors.As(err, &ce) && ce.Diagnostic != "" {
		return ce.Diagnostic
	}
	return err.Error()
}

// settlement guards against acking or nacking a delivery twice.
type settlement struct {
	d    amqp.Delivery
	done bool
}

func (s *settlement) ack() error {
	if s.done {
		return nil
	}
	s.done = true
	if err := s.d.Ack(false); err != nil {
		return fmt.Errorf("ack delivery %d: %w", s.d.DeliveryTag, err)
	}
	return nil
}

func (s *settlement) nack(requeue bool) error {
	if s.done {
		return nil
	}
	s.done = true
	if err := s.d.Nack(false, requeue); err != nil {
		return fmt.Errorf("nack delivery %d: %w", s.d.DeliveryTag, err)
	}
	return nil
}
