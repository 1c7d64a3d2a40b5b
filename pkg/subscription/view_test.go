package subscription

import (
	"testing"
	"time"

	"rsvp/pkg/model"
)

func capacityFact(version int64, occupied int) model.CapacityChangeFact {
	return model.CapacityChangeFact{EventID: "evt", Occupied: occupied, Capacity: 10, Version: version}
}

func TestView_DiscardsStaleAndDuplicateFacts(t *testing.T) {
	inOrder := []model.CapacityChangeFact{capacityFact(1, 1), capacityFact(2, 2), capacityFact(3, 1), capacityFact(4, 2)}
	shuffled := []model.CapacityChangeFact{capacityFact(2, 2), capacityFact(1, 1), capacityFact(4, 2), capacityFact(4, 2), capacityFact(3, 1), capacityFact(2, 2)}

	a := NewView(nil)
	for _, f := range inOrder {
		a.Apply(f)
	}
	b := NewView(nil)
	for _, f := range shuffled {
		b.Apply(f)
	}

	sa, _ := a.Snapshot()
	sb, _ := b.Snapshot()
	if sa != sb {
		t.Errorf("views diverged: in order %+v, shuffled %+v", sa, sb)
	}
	if sb.Version != 4 || sb.Occupied != 2 {
		t.Errorf("unexpected final state: %+v", sb)
	}
}

func TestView_ApplyReportsAndNotifies(t *testing.T) {
	var updates []int64
	v := NewView(func(f model.CapacityChangeFact) { updates = append(updates, f.Version) })

	if _, ok := v.Snapshot(); ok {
		t.Fatal("expected empty view")
	}
	if !v.Apply(capacityFact(5, 5)) {
		t.Error("first fact should apply")
	}
	if v.Apply(capacityFact(5, 5)) {
		t.Error("duplicate should be discarded")
	}
	if v.Apply(capacityFact(3, 3)) {
		t.Error("stale fact should be discarded")
	}
	if !v.Apply(capacityFact(6, 4)) {
		t.Error("newer fact should apply")
	}
	if len(updates) != 2 || updates[1] != 6 {
		t.Errorf("unexpected updates: %v", updates)
	}
	if v.Version() != 6 {
		t.Errorf("expected version 6, got %d", v.Version())
	}
}

func TestBackoff_GrowsAndCaps(t *testing.T) {
	b := Backoff{Initial: 100 * time.Millisecond, Max: time.Second, Multiplier: 2}

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, time.Second, time.Second}
	for i, w := range want {
		if got := b.Next(i); got != w {
			t.Errorf("attempt %d: expected %s, got %s", i, w, got)
		}
	}
}

func TestBackoff_JitterStaysInBounds(t *testing.T) {
	b := Backoff{Initial: 100 * time.Millisecond, Max: 150 * time.Millisecond, Multiplier: 2, Jitter: 0.5}

	for i := 0; i < 200; i++ {
		d := b.Next(i % 4)
		if d < 50*time.Millisecond || d > 150*time.Millisecond {
			t.Fatalf("delay %s out of bounds", d)
		}
	}
}

func TestBackoff_ZeroValue(t *testing.T) {
	if d := (Backoff{}).Next(3); d != 0 {
		t.Errorf("expected zero delay, got %s", d)
	}
}
