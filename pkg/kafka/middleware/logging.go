package kafka_middleware

import (
	"context"
	"time"

	"rsvp/pkg/kafka"
	"rsvp/pkg/logger"
)

func LoggingProducerMiddleware(log *logger.Logger) kafka.ProducerMiddleware {
	return func(ctx context.Context, batch []kafka.Message, next func(ctx context.Context, batch []kafka.Message) error) error {
		start := time.Now()
		err := next(ctx, batch)

		attrs := []any{
			"topic", batch[0].Topic,
			"messages", len(batch),
			"first_key", batch[0].Key,
			"duration", time.Since(start),
		}
		if err != nil {
			log.Error("kafka publish failed", append(attrs, "error", err)...)
		} else {
			log.Debug("kafka publish succeeded", attrs...)
		}
		return err
	}
}

func LoggingConsumerMiddleware(log *logger.Logger) kafka.ConsumerMiddleware {
	return func(ctx context.Context, msg kafka.Message, next kafka.MessageHandler) error {
		start := time.Now()
		err := next(ctx, msg)

		attrs := []any{
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"key", msg.Key,
			"message_id", msg.GetMessageID(),
			"duration", time.Since(start),
		}
		if err != nil {
			log.Warn("kafka message handling failed", append(attrs, "error", err)...)
		} else {
			log.Debug("kafka message handled", attrs...)
		}
		return err
	}
}
