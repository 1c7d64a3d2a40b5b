package validator

import (
	"errors"
	"strings"
	"testing"

	"rsvp/pkg/logger"
	"rsvp/pkg/model"
)

func newTestValidator() *ReservationValidator {
	return NewReservationValidator(logger.New(logger.Config{
		Level:     "info",
		Format:    logger.JSON,
		AddSource: false,
		Service:   "test",
	}))
}

func TestValidateRequest(t *testing.T) {
	v := newTestValidator()

	tests := []struct {
		name      string
		req       *model.ReservationRequest
		wantError bool
		wantField string
	}{
		{
			name: "valid uuid and email",
			req: &model.ReservationRequest{
				EventID:     "4f1c2a9e-6d0b-4b7e-9a57-1c9b5e0f2d11",
				RequesterID: "alice@example.com",
			},
		},
		{
			name:      "missing event",
			req:       &model.ReservationRequest{RequesterID: "u1"},
			wantError: true,
			wantField: "EventID",
		},
		{
			name:      "missing requester",
			req:       &model.ReservationRequest{EventID: "evt"},
			wantError: true,
			wantField: "RequesterID",
		},
		{
			name:      "whitespace inside id",
			req:       &model.ReservationRequest{EventID: "evt 1", RequesterID: "u1"},
			wantError: true,
			wantField: "EventID",
		},
		{
			name:      "path separator",
			req:       &model.ReservationRequest{EventID: "evt/../x", RequesterID: "u1"},
			wantError: true,
			wantField: "EventID",
		},
		{
			name:      "too long",
			req:       &model.ReservationRequest{EventID: "evt", RequesterID: strings.Repeat("u", 129)},
			wantError: true,
			wantField: "RequesterID",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateRequest(tt.req)
			if (err != nil) != tt.wantError {
				t.Fatalf("ValidateRequest() error = %v, wantError %v", err, tt.wantError)
			}
			if !tt.wantError {
				return
			}
			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("expected ValidationErrors, got %T", err)
			}
			if verrs[0].Field != tt.wantField {
				t.Errorf("expected field %s, got %s (%s)", tt.wantField, verrs[0].Field, verrs[0].Message)
			}
		})
	}
}

func TestValidateLifecycle(t *testing.T) {
	v := newTestValidator()

	tests := []struct {
		name      string
		req       *model.LifecycleRequest
		wantError bool
	}{
		{"publish", &model.LifecycleRequest{EventID: "evt", Status: model.EventPublished, Capacity: 50}, false},
		{"cancel without capacity", &model.LifecycleRequest{EventID: "evt", Status: model.EventCancelled}, false},
		{"publish with zero capacity", &model.LifecycleRequest{EventID: "evt", Status: model.EventPublished}, true},
		{"negative capacity", &model.LifecycleRequest{EventID: "evt", Status: model.EventPublished, Capacity: -1}, true},
		{"unknown status", &model.LifecycleRequest{EventID: "evt", Status: "archived", Capacity: 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateLifecycle(tt.req)
			if (err != nil) != tt.wantError {
				t.Errorf("ValidateLifecycle() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}

func TestValidateID(t *testing.T) {
	v := newTestValidator()

	if err := v.ValidateID("event_id", "evt-1"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	err := v.ValidateID("event_id", "")
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %v", err)
	}
	if verrs[0].Field != "event_id" || verrs[0].Message != "event_id is required" {
		t.Errorf("unexpected error: %+v", verrs[0])
	}
}
