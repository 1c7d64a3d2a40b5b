package kafka_middleware

import (
	"context"
	"sync/atomic"
	"time"

	"rsvp/pkg/kafka"
)

// Metrics counts Kafka traffic for one process. Safe for concurrent use.
type Metrics struct {
	messagesPublished       atomic.Int64
	messagesPublishedFailed atomic.Int64
	publishDurationTotal    atomic.Int64

	messagesConsumed       atomic.Int64
	messagesConsumedFailed atomic.Int64
	consumeDurationTotal   atomic.Int64
}

// MetricsSnapshot is the JSON view served by the health endpoint.
type MetricsSnapshot struct {
	MessagesPublished       int64  `json:"messages_published"`
	MessagesPublishedFailed int64  `json:"messages_published_failed"`
	AvgPublishDuration      string `json:"avg_publish_duration"`
	MessagesConsumed        int64  `json:"messages_consumed"`
	MessagesConsumedFailed  int64  `json:"messages_consumed_failed"`
	AvgConsumeDuration      string `json:"avg_consume_duration"`
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		MessagesPublished:       m.messagesPublished.Load(),
		MessagesPublishedFailed: m.messagesPublishedFailed.Load(),
		AvgPublishDuration:      average(m.publishDurationTotal.Load(), m.messagesPublished.Load()).String(),
		MessagesConsumed:        m.messagesConsumed.Load(),
		MessagesConsumedFailed:  m.messagesConsumedFailed.Load(),
		AvgConsumeDuration:      average(m.consumeDurationTotal.Load(), m.messagesConsumed.Load()).String(),
	}
}

func average(total, count int64) time.Duration {
	if count == 0 {
		return 0
	}
	return time.Duration(total / count)
}

func (m *Metrics) ProducerMiddleware() kafka.ProducerMiddleware {
	return func(ctx context.Context, batch []kafka.Message, next func(ctx context.Context, batch []kafka.Message) error) error {
		start := time.Now()
		err := next(ctx, batch)
		m.publishDurationTotal.Add(int64(time.Since(start)))

		if err != nil {
			m.messagesPublishedFailed.Add(int64(len(batch)))
		} else {
			m.messagesPublished.Add(int64(len(batch)))
		}
		return err
	}
}

func (m *Metrics) ConsumerMiddleware() kafka.ConsumerMiddleware {
	return func(ctx context.Context, msg kafka.Message, next kafka.MessageHandler) error {
		start := time.Now()
		err := next(ctx, msg)
		m.consumeDurationTotal.Add(int64(time.Since(start)))

		if err != nil {
			m.messagesConsumedFailed.Add(1)
		} else {
			m.messagesConsumed.Add(1)
		}
		return err
	}
}
