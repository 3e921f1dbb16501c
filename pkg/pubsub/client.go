package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// -----------------------------------------------------------------------------
// Client
// -----------------------------------------------------------------------------

// Client owns one AMQP connection, a publisher channel pool and the
// consumers started by Run. Create it with NewClient and release it with
// Close.
type Client struct {
	mu     sync.RWMutex
	conn   *amqp.Connection
	pool   *ChannelPool
	config RabbitMQConfig
	logger *slog.Logger

	consumerWG     sync.WaitGroup
	consumerClosed chan string
	consumerSpecs  map[string]ConsumerSpec
}

func (c *Client) Config() RabbitMQConfig { return c.config }

func NewClient(ctx context.Context, config RabbitMQConfig, logger *slog.Logger) (*Client, error) {
	const op = "rabbitmq.NewClient"

	if config.URL == "" {
		return nil, fmt.Errorf("rabbitmq URL is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	u, _ := url.Parse(config.URL)
	host := ""
	if u != nil {
		host = u.Host
	}
	logger.With("op", op).Info("connecting to rabbitmq", slog.String("host", host))

	client := &Client{
		config: config,
		logger: logger,
	}
	conn, err := client.dial(ctx)
	if err != nil {
		logger.With("op", op).Error("dial failed", slog.Any("error", err))
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	pool, err := client.setup(conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	client.conn = conn
	client.pool = pool

	logger.With("op", op).Info("client ready", slog.Any("queues", config.Queues))
	return client, nil
}

func (c *Client) dial(ctx context.Context) (*amqp.Connection, error) {
	if c.config.Dialer != nil {
		return c.config.Dialer(ctx, c.config.URL)
	}
	return DialWithRetry(ctx, ConnectionOptions{
		URL:           c.config.URL,
		RetryAttempts: c.config.DialRetryAttempts,
		Delay:         c.config.DialRetryDelay,
		Timeout:       Dsec(c.config.ConnTimeoutSeconds, 30),
		Logger:        c.logger,
	})
}

// setup declares the queues on a throwaway channel and builds the
// publisher pool for conn.
func (c *Client) setup(conn *amqp.Connection) (*ChannelPool, error) {
	tempCh, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := c.declareQueues(tempCh); err != nil {
		_ = tempCh.Close()
		return nil, err
	}
	_ = tempCh.Close()

	pool, err := NewChannelPool(conn, c.config.PublishPoolSize)
	if err != nil {
		return nil, fmt.Errorf("create channel pool: %w", err)
	}
	return pool, nil
}

// declareQueues declares every configured queue on the default exchange,
// so publishing with the queue name as routing key reaches it.
func (c *Client) declareQueues(ch *amqp.Channel) error {
	for _, q := range c.config.Queues {
		if err := c.declareQueue(ch, q); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) declareQueue(ch *amqp.Channel, name string) error {
	if name == "" {
		return nil
	}
	if _, err := ch.QueueDeclare(name, c.config.DurableQueues, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %q: %w", name, err)
	}
	return nil
}

func (c *Client) connection() *amqp.Connection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

func (c *Client) channelPool() *ChannelPool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pool
}

// Reconnect the whole stack and re-declare queues.
func (c *Client) reconnect(ctx context.Context) error {
	const op = "rabbitmq.reconnect"

	c.mu.Lock()
	if c.pool != nil {
		c.pool.Close()
	}
	if c.conn != nil && !c.conn.IsClosed() {
		_ = c.conn.Close()
	}
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	pool, err := c.setup(conn)
	if err != nil {
		_ = conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.pool = pool
	c.mu.Unlock()

	c.logger.With("op", op).Info("reconnected")
	return nil
}

// Close waits for running handlers (bounded by ShutdownTimeout), then
// closes the pool and the connection.
func (c *Client) Close() {
	timeout := c.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	done := make(chan struct{})
	go func() {
		c.consumerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		c.logger.Warn("closing with handlers still running", slog.Duration("waited", timeout))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pool != nil {
		c.pool.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}
