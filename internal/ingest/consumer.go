package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/mvailla/chatsight/internal/observability"
	"github.com/mvailla/chatsight/internal/policy"
	"github.com/mvailla/chatsight/internal/reliability"
	"github.com/mvailla/chatsight/internal/store"
)

// Appender is the slice of the store the consumer needs.
type Appender interface {
	Append(ctx context.Context, msg store.StoredMessage) (store.StoredMessage, error)
}

// Consumer reads message envelopes from kafka and appends them to the store.
// Malformed payloads are committed and dropped; storage failures leave the
// offset uncommitted so the broker redelivers.
type Consumer struct {
	reader  *kafka.Reader
	store   Appender
	privacy policy.Privacy
	metrics *observability.Metrics
	logger  *zap.Logger
}

// ReaderConfig returns the reader settings for the given brokers and topic.
func ReaderConfig(brokers []string, topic, groupID string) kafka.ReaderConfig {
	return kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	}
}

func NewConsumer(cfg kafka.ReaderConfig, st Appender, privacy policy.Privacy, metrics *observability.Metrics, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		reader:  kafka.NewReader(cfg),
		store:   st,
		privacy: privacy,
		metrics: metrics,
		logger:  logger,
	}
}

// Run consumes until ctx is done. Fetch errors back off and retry so a broker
// restart does not kill the loop.
func (c *Consumer) Run(ctx context.Context) error {
	attempt := 0
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			attempt++
			delay := reliability.ExponentialBackoff(attempt, 200*time.Millisecond, 10*time.Second)
			c.logger.Warn("fetch failed, backing off",
				zap.Error(err), zap.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}
		attempt = 0

		if err := c.handle(ctx, m); err != nil {
			// Retryable append failure; leave the offset for redelivery.
			c.logger.Warn("append failed, leaving offset uncommitted", zap.Error(err))
			continue
		}
		if err := c.reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("commit failed", zap.Error(err))
		}
	}
}

func (c *Consumer) handle(ctx context.Context, m kafka.Message) error {
	msg, err := Decode(m.Value)
	if err != nil {
		c.logger.Warn("dropping malformed envelope",
			zap.Error(err), zap.Int64("offset", m.Offset))
		c.count("malformed")
		return nil
	}

	msg = c.privacy.Apply(msg)
	if _, err := c.store.Append(ctx, msg); err != nil {
		if errors.Is(err, store.ErrValidation) {
			c.logger.Warn("dropping invalid message",
				zap.Error(err), zap.String("chat_id", msg.ChatID))
			c.count("invalid")
			return nil
		}
		if reliability.IsRetryableStoreError(err) {
			c.count("retried")
			return err
		}
		c.logger.Error("dropping message on unretryable append failure", zap.Error(err))
		c.count("dropped")
		return nil
	}
	c.count("stored")
	return nil
}

func (c *Consumer) count(result string) {
	if c.metrics != nil {
		c.metrics.IngestMessages.WithLabelValues(result).Inc()
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
