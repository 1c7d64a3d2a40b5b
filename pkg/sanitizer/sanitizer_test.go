package sanitizer

import (
	"testing"

	"rsvp/pkg/model"
)

func TestSanitizeIdentifier(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "trim spaces", input: "  evt-42  ", want: "evt-42"},
		{name: "keep case", input: "User-ABC", want: "User-ABC"},
		{name: "zero width space", input: "evt\u200b-42", want: "evt-42"},
		{name: "byte order mark", input: "\ufeffu1", want: "u1"},
		{name: "newline and tab", input: "\tu1\n", want: "u1"},
		{name: "empty", input: "", want: ""},
		{name: "hebrew", input: " משתמש ", want: "משתמש"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeIdentifier(tt.input)
			if got != tt.want {
				t.Errorf("SanitizeIdentifier(%q) = %q, want %q", tt.input, got, tt.want)
			}
			if again := SanitizeIdentifier(got); again != got {
				t.Errorf("not idempotent: %q -> %q", got, again)
			}
		})
	}
}

func TestSanitizeStatus(t *testing.T) {
	if got := SanitizeStatus(" Published "); got != model.EventPublished {
		t.Errorf("expected published, got %q", got)
	}
}

func TestSanitizeRequests(t *testing.T) {
	req := &model.ReservationRequest{EventID: " evt ", RequesterID: "u1\u200d"}
	SanitizeReservationRequest(req)
	if req.EventID != "evt" || req.RequesterID != "u1" {
		t.Errorf("unexpected request: %+v", req)
	}

	lr := &model.LifecycleRequest{EventID: "evt ", Status: "CANCELLED"}
	SanitizeLifecycleRequest(lr)
	if lr.EventID != "evt" || lr.Status != model.EventCancelled {
		t.Errorf("unexpected lifecycle request: %+v", lr)
	}
}

func TestTrimAndNormalize(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"  John's    Salon  ", "John's Salon"},
		{"a\t\nb", "a b"},
		{"   ", ""},
	}
	for _, tt := range tests {
		if got := TrimAndNormalize(tt.input); got != tt.want {
			t.Errorf("TrimAndNormalize(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
