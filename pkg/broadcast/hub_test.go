package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"rsvp/pkg/logger"
	"rsvp/pkg/model"
)

func fact(eventID string, version int64) model.CapacityChangeFact {
	return model.CapacityChangeFact{EventID: eventID, Occupied: int(version), Capacity: 100, Version: version}
}

func receive(t *testing.T, sub *Subscription) model.CapacityChangeFact {
	t.Helper()
	select {
	case f, ok := <-sub.C():
		if !ok {
			t.Fatalf("subscription closed: %v", sub.Err())
		}
		return f
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for fact")
	}
	return model.CapacityChangeFact{}
}

func TestHub_NoHistoryForLateSubscribers(t *testing.T) {
	hub := NewHub(8, logger.Nop())
	ctx := context.Background()

	for v := int64(1); v <= 5; v++ {
		hub.Publish(ctx, fact("evt", v))
	}

	sub, err := hub.Subscribe("evt")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	select {
	case f := <-sub.C():
		t.Fatalf("late subscriber received history: %+v", f)
	default:
	}

	hub.Publish(ctx, fact("evt", 6))
	if got := receive(t, sub); got.Version != 6 {
		t.Errorf("expected version 6, got %d", got.Version)
	}
}

func TestHub_TopicsAreIsolated(t *testing.T) {
	hub := NewHub(8, logger.Nop())
	a, _ := hub.Subscribe("a")
	b, _ := hub.Subscribe("b")

	hub.Publish(context.Background(), fact("a", 1))

	if got := receive(t, a); got.EventID != "a" {
		t.Errorf("unexpected fact: %+v", got)
	}
	select {
	case f := <-b.C():
		t.Errorf("subscriber of b received %+v", f)
	default:
	}
}

func TestHub_PublishWithoutSubscribers(t *testing.T) {
	hub := NewHub(8, logger.Nop())
	hub.Publish(context.Background(), fact("nobody", 1))

	stats := hub.Stats()
	if stats.Published != 1 || stats.Delivered != 0 || stats.Topics != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestHub_SlowSubscriberIsEvicted(t *testing.T) {
	hub := NewHub(2, logger.Nop())
	slow, _ := hub.Subscribe("evt")
	fast, _ := hub.Subscribe("evt")

	done := make(chan struct{})
	var got []int64
	go func() {
		defer close(done)
		for f := range fast.C() {
			got = append(got, f.Version)
			if f.Version == 5 {
				return
			}
		}
	}()

	for v := int64(1); v <= 5; v++ {
		hub.Publish(context.Background(), fact("evt", v))
		time.Sleep(5 * time.Millisecond)
	}
	<-done

	// slow never read: two buffered facts, then eviction.
	count := 0
	for range slow.C() {
		count++
	}
	if count != 2 {
		t.Errorf("expected 2 buffered facts before eviction, got %d", count)
	}
	if !errors.Is(slow.Err(), ErrSlowSubscriber) {
		t.Errorf("expected ErrSlowSubscriber, got %v", slow.Err())
	}
	if len(got) != 5 {
		t.Errorf("fast subscriber expected 5 facts, got %v", got)
	}
	if hub.Stats().Evicted != 1 {
		t.Errorf("expected one eviction, got %+v", hub.Stats())
	}
}

func TestHub_UnsubscribeIsIdempotent(t *testing.T) {
	hub := NewHub(2, logger.Nop())
	sub, _ := hub.Subscribe("evt")

	sub.Unsubscribe()
	sub.Unsubscribe()

	if _, ok := <-sub.C(); ok {
		t.Error("expected closed channel")
	}
	if !errors.Is(sub.Err(), ErrUnsubscribed) {
		t.Errorf("expected ErrUnsubscribed, got %v", sub.Err())
	}
	if s := hub.Stats(); s.Subscribers != 0 || s.Topics != 0 {
		t.Errorf("expected empty hub, got %+v", s)
	}
}

func TestHub_Close(t *testing.T) {
	hub := NewHub(2, logger.Nop())
	sub, _ := hub.Subscribe("evt")

	hub.Close()
	hub.Close()

	if _, ok := <-sub.C(); ok {
		t.Error("expected closed channel")
	}
	if !errors.Is(sub.Err(), ErrHubClosed) {
		t.Errorf("expected ErrHubClosed, got %v", sub.Err())
	}
	if _, err := hub.Subscribe("evt"); !errors.Is(err, ErrHubClosed) {
		t.Errorf("expected ErrHubClosed, got %v", err)
	}
	sub.Unsubscribe()
}

func TestHub_ConcurrentPublishAndUnsubscribe(t *testing.T) {
	hub := NewHub(4, logger.Nop())
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub, err := hub.Subscribe("evt")
			if err != nil {
				t.Errorf("subscribe: %v", err)
				return
			}
			time.Sleep(time.Millisecond)
			sub.Unsubscribe()
		}()
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(base int64) {
			defer wg.Done()
			for v := int64(0); v < 50; v++ {
				hub.Publish(context.Background(), fact("evt", base*100+v))
			}
		}(int64(i))
	}
	wg.Wait()

	if s := hub.Stats(); s.Subscribers != 0 {
		t.Errorf("expected all subscribers gone, got %+v", s)
	}
}

func TestFanout_PublishesToEveryMember(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	record := func(name string) Broadcaster {
		return BroadcasterFunc(func(_ context.Context, f model.CapacityChangeFact) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, name)
		})
	}

	Fanout{record("hub"), nil, record("relay")}.Publish(context.Background(), fact("evt", 1))

	if len(seen) != 2 || seen[0] != "hub" || seen[1] != "relay" {
		t.Errorf("unexpected fan-out order: %v", seen)
	}
}
