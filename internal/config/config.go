// Package config loads worker settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrMissing matches a required variable that is unset or empty.
var ErrMissing = errors.New("required configuration missing")

type AckMode string

const (
	// AckAfterStage acks as soon as the input is on disk (at-most-once tail).
	AckAfterStage AckMode = "staged"
	// AckAfterPublish acks after the outcome is confirmed by the broker.
	AckAfterPublish AckMode = "published"
)

type Config struct {
	AMQPURL       string
	InputQueue    string
	OutputQueue   string
	PoisonQueue   string
	QueueDurable  bool
	DialAttempts  int
	DialDelay     time.Duration
	ConnTimeout   time.Duration
	ShutdownGrace time.Duration

	ConverterBin   string
	ConvertTimeout time.Duration
	WorkDir        string
	KeepScratch    bool

	Workers         int
	Prefetch        int
	AckMode         AckMode
	PublishFailures bool

	LogLevel  string
	LogFormat string
}

// Load reads an optional .env file, then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from lookup, applying defaults.
func FromEnv(lookup func(string) (string, bool)) (*Config, error) {
	e := env{lookup: lookup}
	cfg := &Config{
		AMQPURL:       e.getStr("AMQP_URL", ""),
		InputQueue:    e.getStr("INPUT_QUEUE", "pandoc-bot-jobs"),
		OutputQueue:   e.getStr("OUTPUT_QUEUE", "pandoc-outputs"),
		PoisonQueue:   e.getStr("POISON_QUEUE", ""),
		QueueDurable:  e.getBool("QUEUE_DURABLE", false),
		DialAttempts:  e.getInt("DIAL_RETRY_ATTEMPTS", 5),
		DialDelay:     e.getDuration("DIAL_RETRY_DELAY", time.Second),
		ConnTimeout:   e.getDuration("CONN_TIMEOUT", 30*time.Second),
		ShutdownGrace: e.getDuration("SHUTDOWN_GRACE", 2*time.Minute),

		ConverterBin:   e.getStr("CONVERTER_BIN", "pandoc"),
		ConvertTimeout: e.getDuration("CONVERT_TIMEOUT", 0),
		WorkDir:        e.getStr("WORK_DIR", "."),
		KeepScratch:    e.getBool("KEEP_SCRATCH", false),

		Workers:         e.getInt("WORKERS", 1),
		Prefetch:        e.getInt("PREFETCH", 0),
		AckMode:         AckMode(strings.ToLower(e.getStr("ACK_MODE", string(AckAfterStage)))),
		PublishFailures: e.getBool("PUBLISH_FAILURES", true),

		LogLevel:  e.getStr("LOG_LEVEL", "info"),
		LogFormat: e.getStr("LOG_FORMAT", "text"),
	}
	if len(e.errs) > 0 {
		return nil, errors.Join(e.errs...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.AMQPURL == "" {
		errs = append(errs, fmt.Errorf("%w: AMQP_URL", ErrMissing))
	}
	if c.InputQueue == "" || c.OutputQueue == "" {
		errs = append(errs, fmt.Errorf("%w: INPUT_QUEUE and OUTPUT_QUEUE", ErrMissing))
	}
	if c.InputQueue != "" && c.InputQueue == c.OutputQueue {
		errs = append(errs, fmt.Errorf("INPUT_QUEUE and OUTPUT_QUEUE must differ"))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("WORKERS must be at least 1, got %d", c.Workers))
	}
	switch c.AckMode {
	case AckAfterStage, AckAfterPublish:
	default:
		errs = append(errs, fmt.Errorf("ACK_MODE %q: want %q or %q", c.AckMode, AckAfterStage, AckAfterPublish))
	}
	if c.ConvertTimeout < 0 {
		errs = append(errs, fmt.Errorf("CONVERT_TIMEOUT must not be negative"))
	}
	return errors.Join(errs...)
}

type env struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *env) getStr(key, fallback string) string {
	if v, ok := e.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func (e *env) getInt(key string, fallback int) int {
	v := e.getStr(key, "")
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return i
}

func (e *env) getBool(key string, fallback bool) bool {
	v := e.getStr(key, "")
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return b
}

// getDuration accepts Go durations ("90s") or bare seconds ("90").
func (e *env) getDuration(key string, fallback time.Duration) time.Duration {
	v := e.getStr(key, "")
	if v == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return d
}
