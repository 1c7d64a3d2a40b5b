package kafka_middleware

import (
	"context"
	"errors"
	"testing"

	"rsvp/pkg/kafka"
	"rsvp/pkg/logger"
)

func TestMetrics_ProducerCountsBatches(t *testing.T) {
	m := NewMetrics()
	mw := m.ProducerMiddleware()
	batch := []kafka.Message{{Key: "a"}, {Key: "b"}}

	_ = mw(context.Background(), batch, func(context.Context, []kafka.Message) error { return nil })
	_ = mw(context.Background(), batch[:1], func(context.Context, []kafka.Message) error { return errors.New("down") })

	s := m.Snapshot()
	if s.MessagesPublished != 2 || s.MessagesPublishedFailed != 1 {
		t.Errorf("unexpected producer metrics: %+v", s)
	}
}

func TestMetrics_ConsumerCounts(t *testing.T) {
	m := NewMetrics()
	mw := m.ConsumerMiddleware()
	ok := func(context.Context, kafka.Message) error { return nil }
	fail := func(context.Context, kafka.Message) error { return errors.New("bad") }

	_ = mw(context.Background(), kafka.Message{}, ok)
	_ = mw(context.Background(), kafka.Message{}, ok)
	_ = mw(context.Background(), kafka.Message{}, fail)

	s := m.Snapshot()
	if s.MessagesConsumed != 2 || s.MessagesConsumedFailed != 1 {
		t.Errorf("unexpected consumer metrics: %+v", s)
	}
}

func TestLoggingMiddleware_PassesErrorThrough(t *testing.T) {
	log := logger.Nop()
	want := errors.New("boom")

	err := LoggingConsumerMiddleware(log)(context.Background(), kafka.Message{}, func(context.Context, kafka.Message) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Errorf("expected %v, got %v", want, err)
	}

	err = LoggingProducerMiddleware(log)(context.Background(), []kafka.Message{{Topic: "t", Key: "k"}}, func(context.Context, []kafka.Message) error {
		return nil
	})
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
