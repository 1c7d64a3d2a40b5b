package kafka

import (
	"errors"
	"testing"
)

type capacityPayload struct {
	EventID string `json:"event_id"`
	Version int64  `json:"version"`
}

func TestMessageBuilder_Build(t *testing.T) {
	msg, err := NewMessage().
		WithKey("evt-1").
		WithValue(capacityPayload{EventID: "evt-1", Version: 7}).
		WithMessageType("capacity.changed").
		WithSource("node-a").
		WithCorrelationID("req-1").
		Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.Key != "evt-1" {
		t.Errorf("expected key evt-1, got %s", msg.Key)
	}
	if msg.GetMessageID() == "" {
		t.Error("expected a generated message id")
	}
	if msg.GetSource() != "node-a" || msg.GetCorrelationID() != "req-1" {
		t.Errorf("unexpected headers: %v", msg.Headers)
	}
	if _, ok := msg.GetHeader(HeaderTimestamp); !ok {
		t.Error("expected timestamp header")
	}

	var decoded capacityPayload
	if err := msg.DecodeValue(&decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Version != 7 {
		t.Errorf("expected version 7, got %d", decoded.Version)
	}
}

func TestMessageBuilder_UnencodableValue(t *testing.T) {
	_, err := NewMessage().WithKey("k").WithValue(make(chan int)).Build()
	if !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("expected ErrInvalidMessage, got %v", err)
	}
}

func TestMessage_DecodeGarbageIsPermanent(t *testing.T) {
	msg := Message{Value: []byte("{not json")}
	var v capacityPayload
	err := msg.DecodeValue(&v)
	if ClassifyError(err) != ErrorTypePermanent {
		t.Errorf("expected permanent error, got %v", err)
	}
}

func TestMessage_RetryCount(t *testing.T) {
	msg := Message{}
	if msg.GetRetryCount() != 0 {
		t.Fatalf("expected 0 retries")
	}
	for i := 0; i < 12; i++ {
		msg.IncrementRetryCount()
	}
	if got := msg.GetRetryCount(); got != 12 {
		t.Errorf("expected 12 retries, got %d", got)
	}
}
