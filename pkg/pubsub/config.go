package pubsub

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQConfig defines client config and topology defaults
type RabbitMQConfig struct {
	URL string
	// Queues are declared on the default exchange at connect and reconnect.
	Queues        []string
	DurableQueues bool
	AppID         string

	PublishPoolSize             int
	ConsumerPrefetch            int
	ConnTimeoutSeconds          int
	PoolRetryDelayMs            int
	DialRetryAttempts           int
	DialRetryDelay              time.Duration
	ReconnectBackoffBaseSeconds int
	ReconnectBackoffCapSeconds  int
	ReconnectJitterPercent      int
	// ShutdownTimeout bounds how long Close waits for in-flight handlers.
	ShutdownTimeout time.Duration

	Dialer func(ctx context.Context, url string) (*amqp.Connection, error)
}
