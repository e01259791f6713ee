// Package kafka wraps segmentio/kafka-go for crawl events. The producer
// writes JSON values tagged with an event-type header; the consumer filters
// on that header and hands matching values to a callback.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/enzosv/mediumcrawler/pkg/config"
	"github.com/enzosv/mediumcrawler/pkg/resilience"
)

// MessageHandler processes one message value. Returning an error leaves the
// message uncommitted.
type MessageHandler func(ctx context.Context, key, value []byte) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ConsumerStats counts what the consume loop did with each message.
type ConsumerStats struct {
	Handled  int64
	Filtered int64
	Failed   int64
}

type ConsumerOption func(*Consumer)

// WithHandlerRetry retries a failing handler up to attempts times in total,
// backing off from delay, before the message is left uncommitted.
func WithHandlerRetry(attempts int, delay time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.retry = resilience.RetryConfig{MaxAttempts: attempts, InitialDelay: delay}
	}
}

type Consumer struct {
	reader    messageReader
	handler   MessageHandler
	eventType string
	retry     resilience.RetryConfig
	logger    *slog.Logger

	handled, filtered, failed atomic.Int64

	closeOnce sync.Once
	closeErr  error
}

// NewConsumer joins cfg.ConsumerGroup on topic, starting from the newest
// offset for a new group. A non-empty eventType skips messages whose
// event-type header names a different type; untagged messages are handled.
func NewConsumer(cfg config.KafkaConfig, topic, eventType string, handler MessageHandler, opts ...ConsumerOption) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1,
		MaxBytes:    1 << 20,
		MaxWait:     time.Second,
		StartOffset: kafka.LastOffset,
	})
	return newConsumer(r, topic, eventType, handler, opts...)
}

func newConsumer(r messageReader, topic, eventType string, handler MessageHandler, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		reader:    r,
		handler:   handler,
		eventType: eventType,
		retry:     resilience.RetryConfig{MaxAttempts: 1},
		logger:    slog.Default().With("component", "kafka-consumer", "topic", topic, "event_type", eventType),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start consumes until ctx is cancelled or the reader's group closes, then
// closes the reader. Fetch errors back off exponentially up to 10s.
func (c *Consumer) Start(ctx context.Context) error {
	defer c.Close()
	c.logger.Info("consuming")

	backoff := resilience.RetryConfig{InitialDelay: 200 * time.Millisecond, MaxDelay: 10 * time.Second}
	fetchFailures := 0
	for {
		msg, err := c.reader.FetchMessage(ctx)
		switch {
		case err == nil:
			fetchFailures = 0
			c.process(ctx, msg)
			continue
		case ctx.Err() != nil:
			c.logger.Info("consumer stopped", "reason", context.Cause(ctx), "stats", c.Stats())
			return nil
		case errors.Is(err, kafka.ErrGroupClosed):
			return nil
		}

		fetchFailures++
		wait := backoff.Backoff(fetchFailures, 0)
		c.logger.Warn("fetch failed", "error", err, "consecutive", fetchFailures, "retry_in", wait)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) {
	log := c.logger.With("partition", msg.Partition, "offset", msg.Offset)

	if t := EventType(msg); c.eventType != "" && t != "" && t != c.eventType {
		c.filtered.Add(1)
	} else {
		err := resilience.Retry(ctx, "handle message", c.retry, func(ctx context.Context) error {
			return c.handler(ctx, msg.Key, msg.Value)
		})
		if err != nil {
			c.failed.Add(1)
			log.Error("handler failed, leaving message uncommitted", "error", err)
			return
		}
		c.handled.Add(1)
	}

	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		log.Error("commit failed", "error", err)
	}
}

// Stats returns the running message counts.
func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{
		Handled:  c.handled.Load(),
		Filtered: c.filtered.Load(),
		Failed:   c.failed.Load(),
	}
}

// Close closes the reader once; later calls return the first result.
func (c *Consumer) Close() error {
	c.closeOnce.Do(func() { c.closeErr = c.reader.Close() })
	return c.closeErr
}

// DecodeJSON unmarshals a message value into a T.
func DecodeJSON[T any](value []byte) (T, error) {
	var v T
	if err := json.Unmarshal(value, &v); err != nil {
		return v, fmt.Errorf("kafka: decoding %T: %w", v, err)
	}
	return v, nil
}
