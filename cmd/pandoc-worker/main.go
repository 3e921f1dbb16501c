package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/roboricindustries/pandoc-worker/internal/config"
	"github.com/roboricindustries/pandoc-worker/internal/converter"
	"github.com/roboricindustries/pandoc-worker/internal/pipeline"
	"github.com/roboricindustries/pandoc-worker/internal/staging"
	"github.com/roboricindustries/pandoc-worker/pkg/pubsub"
)

const appID = "pandoc-worker"

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		return 1
	}
	logger := config.NewLogger(cfg, os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Parallel workers must not share a scratch path for a repeated file id.
	stager, err := staging.New(cfg.WorkDir, cfg.Workers > 1)
	if err != nil {
		logger.Error("scratch dir unusable", slog.String("dir", cfg.WorkDir), slog.Any("error", err))
		return 1
	}
	runner := converter.New(converter.Config{
		Bin:        cfg.ConverterBin,
		Timeout:    cfg.ConvertTimeout,
		KeepOutput: cfg.KeepScratch,
	})
	if _, err := exec.LookPath(runner.Bin()); err != nil {
		logger.Warn("converter not found on PATH; jobs will fail", slog.String("bin", runner.Bin()))
	}

	client, err := pubsub.NewClient(ctx, pubsub.RabbitMQConfig{
		URL:                cfg.AMQPURL,
		Queues:             []string{cfg.InputQueue, cfg.OutputQueue, cfg.PoisonQueue},
		DurableQueues:      cfg.QueueDurable,
		AppID:              appID,
		PublishPoolSize:    cfg.Workers * 2,
		ConsumerPrefetch:   cfg.Prefetch,
		ConnTimeoutSeconds: int(cfg.ConnTimeout.Seconds()),
		DialRetryAttempts:  cfg.DialAttempts,
		DialRetryDelay:     cfg.DialDelay,
		ShutdownTimeout:    cfg.ShutdownGrace,
	}, logger)
	if err != nil {
		logger.Error("broker unavailable", slog.Any("error", err))
		return 1
	}

	var failures pubsub.Publisher
	if !cfg.PublishFailures {
		failures = pubsub.NewFallback(logger)
	}
	p, err := pipeline.New(pipeline.Config{
		Stager:      stager,
		Runner:      runner,
		Results:     pipeline.NewResultPublisher(cfg.OutputQueue, client, failures),
		Poison:      client,
		PoisonQueue: cfg.PoisonQueue,
		AckMode:     cfg.AckMode,
		KeepScratch: cfg.KeepScratch,
	}, logger)
	if err != nil {
		client.Close()
		logger.Error("pipeline setup failed", slog.Any("error", err))
		return 1
	}

	logger.Info("worker starting",
		slog.String("input_queue", cfg.InputQueue),
		slog.String("output_queue", cfg.OutputQueue),
		slog.String("ack_mode", string(cfg.AckMode)),
		slog.Int("workers", cfg.Workers),
		slog.Bool("publish_failures", cfg.PublishFailures),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return client.Run(gctx, pubsub.ConsumerSpec{
			Name:     "pandoc-jobs",
			Queue:    cfg.InputQueue,
			Prefetch: cfg.Prefetch,
			Workers:  cfg.Workers,
			Consume:  p.Handle,
		})
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down, waiting for running jobs", slog.Duration("grace", cfg.ShutdownGrace))
		client.Close()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", slog.Any("error", err))
		return 1
	}
	logger.Info("worker stopped")
	return 0
}
