// Package lifecycle feeds upstream event status changes from Kafka into the
// capacity store.
package lifecycle

import (
	"context"
	"fmt"

	"rsvp/internal/reservations/service"
	"rsvp/pkg/config"
	apperrors "rsvp/pkg/errors"
	"rsvp/pkg/kafka"
	kafka_middleware "rsvp/pkg/kafka/middleware"
	"rsvp/pkg/logger"
	"rsvp/pkg/model"
)

const MessageType = "event.lifecycle"

// Handler applies one lifecycle message. Retiring an event this node has
// never seen is not an error. Rejected changes are permanent so they go
// straight to the dead-letter topic; store outages are retried.
func Handler(svc service.LifecycleService, log *logger.Logger) kafka.MessageHandler {
	return func(ctx context.Context, msg kafka.Message) error {
		var req model.LifecycleRequest
		if err := msg.DecodeValue(&req); err != nil {
			return err
		}

		_, err := svc.Apply(ctx, &req)
		if err == nil {
			return nil
		}

		appErr := apperrors.AsAppError(err)
		switch {
		case appErr.Code == apperrors.CodeNotFound:
			log.Warn("Lifecycle change for unknown event ignored",
				"event_id", req.EventID,
				"status", req.Status,
				"message_id", msg.GetMessageID(),
			)
			return nil
		case appErr.Retryable:
			return kafka.NewTransientError("lifecycle change not applied", err)
		default:
			return kafka.NewPermanentError("lifecycle change rejected", err)
		}
	}
}

// NewConsumer builds the lifecycle consumer. All nodes share one group: each
// change needs to be applied once, against the shared store.
func NewConsumer(cfg *config.Config, svc service.LifecycleService, metrics *kafka_middleware.Metrics) (*kafka.Consumer, error) {
	if cfg.Kafka == nil {
		return nil, fmt.Errorf("kafka is not configured")
	}

	consumer, err := kafka.NewConsumer(cfg.Kafka, kafka.ConsumerOptions{
		Topic:    cfg.KafkaLifecycleTopic,
		GroupID:  cfg.KafkaLifecycleGroup,
		DLQTopic: cfg.KafkaDLQTopic,
	}, Handler(svc, cfg.Log), cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to create lifecycle consumer: %w", err)
	}

	if cfg.Kafka.EnableMiddleware {
		consumer.Use(kafka_middleware.LoggingConsumerMiddleware(cfg.Log))
		if metrics != nil {
			consumer.Use(metrics.ConsumerMiddleware())
		}
	}
	return consumer, nil
}
