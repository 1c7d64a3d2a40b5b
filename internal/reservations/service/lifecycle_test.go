package service

import (
	"context"
	"testing"
	"time"

	apperrors "rsvp/pkg/errors"
	"rsvp/pkg/model"
)

func TestLifecycle_PublishThenRetire(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	s, err := f.lifecycle.Apply(ctx, &model.LifecycleRequest{EventID: "e1", Status: "Published", Capacity: 3})
	if err != nil {
		t.Fatalf("publish: unexpected error: %v", err)
	}
	if s.Status != model.EventPublished || s.Capacity != 3 || s.Version != 1 {
		t.Fatalf("unexpected snapshot after publish: %+v", s)
	}

	f.reserve(t, "e1", "a")

	s, err = f.lifecycle.Apply(ctx, &model.LifecycleRequest{EventID: "e1", Status: model.EventCancelled})
	if err != nil {
		t.Fatalf("retire: unexpected error: %v", err)
	}
	if s.Status != model.EventCancelled || s.Occupied != 1 {
		t.Errorf("expected cancelled snapshot keeping occupancy, got %+v", s)
	}

	d := f.reserve(t, "e1", "b")
	if d.Reason != model.ReasonEventUnavailable {
		t.Errorf("expected event-unavailable after retire, got %s(%s)", d.Outcome, d.Reason)
	}

	facts := f.broadcaster.published()
	if len(facts) != 3 {
		t.Fatalf("expected 3 facts (publish, reserve, retire), got %d", len(facts))
	}
	if last := facts[len(facts)-1]; last.Status != model.EventCancelled || last.Version != s.Version {
		t.Errorf("expected the retire fact last, got %+v", last)
	}
}

func TestLifecycle_RepublishResizes(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()
	f.open(t, "e1", 2)
	f.reserve(t, "e1", "a")
	f.reserve(t, "e1", "b")

	s, err := f.lifecycle.Apply(ctx, &model.LifecycleRequest{EventID: "e1", Status: model.EventPublished, Capacity: 5})
	if err != nil {
		t.Fatalf("grow: unexpected error: %v", err)
	}
	if s.Capacity != 5 || s.Occupied != 2 {
		t.Errorf("unexpected snapshot after growing: %+v", s)
	}

	_, err = f.lifecycle.Apply(ctx, &model.LifecycleRequest{EventID: "e1", Status: model.EventPublished, Capacity: 1})
	if !apperrors.HasCode(err, apperrors.CodeConflict) {
		t.Fatalf("expected %s when shrinking below occupancy, got %v", apperrors.CodeConflict, err)
	}
	if got := f.occupied(t, "e1"); got != 2 {
		t.Errorf("expected occupancy untouched, got %d", got)
	}
}

func TestLifecycle_Errors(t *testing.T) {
	f := newFixture(t, testConfig())

	tests := []struct {
		name string
		req  *model.LifecycleRequest
		code string
	}{
		{"publish without capacity", &model.LifecycleRequest{EventID: "e1", Status: model.EventPublished}, apperrors.CodeValidation},
		{"unknown status", &model.LifecycleRequest{EventID: "e1", Status: "archived"}, apperrors.CodeValidation},
		{"missing event id", &model.LifecycleRequest{Status: model.EventDraft}, apperrors.CodeValidation},
		{"retire unknown event", &model.LifecycleRequest{EventID: "ghost", Status: model.EventDeleted}, apperrors.CodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.lifecycle.Apply(context.Background(), tt.req)
			if !apperrors.HasCode(err, tt.code) {
				t.Errorf("expected %s, got %v", tt.code, err)
			}
		})
	}

	if got := len(f.broadcaster.published()); got != 0 {
		t.Errorf("failed changes must not publish, got %d facts", got)
	}
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := retryPolicy{attempts: 8, baseDelay: 2 * time.Millisecond}

	for attempt := 1; attempt <= 20; attempt++ {
		d := p.delay(attempt)
		if d < time.Millisecond {
			t.Errorf("attempt %d: delay %s below half the base", attempt, d)
		}
		if d >= maxRetryDelay*3/2 {
			t.Errorf("attempt %d: delay %s above the cap", attempt, d)
		}
	}

	if d := (retryPolicy{attempts: 3}).delay(2); d != 0 {
		t.Errorf("expected no delay without a base, got %s", d)
	}
}
