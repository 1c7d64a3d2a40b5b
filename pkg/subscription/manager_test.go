package subscription

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"rsvp/pkg/broadcast"
	"rsvp/pkg/logger"
	"rsvp/pkg/model"
)

type fakeStream struct {
	facts  chan model.CapacityChangeFact
	fail   chan error
	closed chan struct{}
	once   sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		facts:  make(chan model.CapacityChangeFact, 16),
		fail:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (s *fakeStream) Recv(ctx context.Context) (model.CapacityChangeFact, error) {
	select {
	case <-ctx.Done():
		return model.CapacityChangeFact{}, ctx.Err()
	case err := <-s.fail:
		return model.CapacityChangeFact{}, err
	case f := <-s.facts:
		return f, nil
	}
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type fakeTransport struct {
	failures atomic.Int32
	streams  chan *fakeStream
}

func newFakeTransport(failures int32) *fakeTransport {
	t := &fakeTransport{streams: make(chan *fakeStream, 8)}
	t.failures.Store(failures)
	return t
}

func (t *fakeTransport) Subscribe(ctx context.Context, eventID string) (Stream, error) {
	if t.failures.Add(-1) >= 0 {
		return nil, errors.New("connection refused")
	}
	s := newFakeStream()
	t.streams <- s
	return s, nil
}

type fakeReader struct {
	calls    atomic.Int32
	readFunc func(call int32) (*model.CapacitySnapshot, error)
}

func (r *fakeReader) ReadCapacity(ctx context.Context, eventID string) (*model.CapacitySnapshot, error) {
	call := r.calls.Add(1)
	return r.readFunc(call)
}

type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) record(_, to State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, to)
}

func (r *stateRecorder) snapshot() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

var fastBackoff = Backoff{Initial: time.Millisecond, Max: 5 * time.Millisecond, Multiplier: 2}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func nextStream(t *testing.T, tr *fakeTransport) *fakeStream {
	t.Helper()
	select {
	case s := <-tr.streams:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for attach")
	}
	return nil
}

func TestManager_ResyncsOnEveryAttach(t *testing.T) {
	tr := newFakeTransport(0)
	reader := &fakeReader{readFunc: func(call int32) (*model.CapacitySnapshot, error) {
		if call == 1 {
			return &model.CapacitySnapshot{EventID: "evt", Capacity: 10, Occupied: 5, Version: 5, Status: model.EventPublished}, nil
		}
		return &model.CapacitySnapshot{EventID: "evt", Capacity: 10, Occupied: 8, Version: 9, Status: model.EventPublished}, nil
	}}
	rec := &stateRecorder{}
	m := NewManager("evt", tr, reader, WithBackoff(fastBackoff), OnStateChange(rec.record), WithLogger(logger.Nop()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	first := nextStream(t, tr)
	waitFor(t, "subscribed", func() bool { return m.State() == Subscribed })
	if m.View().Version() != 5 {
		t.Fatalf("expected resync to version 5, got %d", m.View().Version())
	}

	first.facts <- capacityFact(6, 6)
	waitFor(t, "fact 6", func() bool { return m.View().Version() == 6 })

	// Facts 7 and 8 are missed while detached; the resync read covers them.
	first.fail <- errors.New("connection reset")
	second := nextStream(t, tr)
	waitFor(t, "resync after reconnect", func() bool { return m.View().Version() == 9 })
	waitFor(t, "subscribed again", func() bool { return m.State() == Subscribed })

	second.facts <- capacityFact(8, 7) // late, discarded
	second.facts <- capacityFact(10, 9)
	waitFor(t, "fact 10", func() bool { return m.View().Version() == 10 })

	snap, _ := m.View().Snapshot()
	if snap.Occupied != 9 {
		t.Errorf("expected occupied 9, got %d", snap.Occupied)
	}

	attaches, resyncs := m.Stats()
	if attaches != 2 || resyncs != 2 {
		t.Errorf("expected one resync per attach, got attaches=%d resyncs=%d", attaches, resyncs)
	}

	select {
	case <-first.closed:
	default:
		t.Error("failed stream was not closed")
	}

	m.Close()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if m.State() != Disconnected {
		t.Errorf("expected Disconnected after close, got %s", m.State())
	}

	want := []State{Connecting, Subscribed, Disconnected, Connecting, Subscribed, Disconnected}
	got := rec.snapshot()
	if len(got) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestManager_RetriesSubscribeWithBackoff(t *testing.T) {
	tr := newFakeTransport(3)
	reader := &fakeReader{readFunc: func(int32) (*model.CapacitySnapshot, error) {
		return &model.CapacitySnapshot{EventID: "evt", Capacity: 1, Version: 1}, nil
	}}
	m := NewManager("evt", tr, reader, WithBackoff(fastBackoff))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	nextStream(t, tr)
	waitFor(t, "subscribed", func() bool { return m.State() == Subscribed })

	if reader.calls.Load() != 1 {
		t.Errorf("failed attaches must not read, got %d reads", reader.calls.Load())
	}

	cancel()
	<-done
}

func TestManager_FailedResyncReconnects(t *testing.T) {
	tr := newFakeTransport(0)
	reader := &fakeReader{readFunc: func(call int32) (*model.CapacitySnapshot, error) {
		if call == 1 {
			return nil, errors.New("store unavailable")
		}
		return &model.CapacitySnapshot{EventID: "evt", Capacity: 3, Occupied: 1, Version: 2}, nil
	}}
	m := NewManager("evt", tr, reader, WithBackoff(fastBackoff))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx) }()

	first := nextStream(t, tr)
	second := nextStream(t, tr)
	waitFor(t, "subscribed", func() bool { return m.State() == Subscribed })

	select {
	case <-first.closed:
	default:
		t.Error("stream without a successful resync must be closed")
	}
	if m.View().Version() != 2 {
		t.Errorf("expected version 2, got %d", m.View().Version())
	}
	_ = second
}

// droppingTransport attaches fine but every stream fails on the first receive.
type droppingTransport struct {
	attaches atomic.Int32
}

func (t *droppingTransport) Subscribe(ctx context.Context, eventID string) (Stream, error) {
	t.attaches.Add(1)
	s := newFakeStream()
	s.fail <- errors.New("stream closed by peer")
	return s, nil
}

func TestManager_BackoffGrowsWhenStreamDropsRightAway(t *testing.T) {
	tr := &droppingTransport{}
	reader := &fakeReader{readFunc: func(int32) (*model.CapacitySnapshot, error) {
		return &model.CapacitySnapshot{EventID: "evt", Capacity: 1, Version: 1}, nil
	}}
	backoff := Backoff{Initial: 20 * time.Millisecond, Max: 5 * time.Second, Multiplier: 2}
	m := NewManager("evt", tr, reader, WithBackoff(backoff))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}

	// 20+40+80+160+320 ms fits six attaches in a second; a backoff stuck at
	// Initial would attach close to fifty times.
	got := tr.attaches.Load()
	if got < 2 || got > 8 {
		t.Errorf("expected between 2 and 8 attaches, got %d", got)
	}
	if attaches, resyncs := m.Stats(); attaches != resyncs {
		t.Errorf("expected one resync per attach, got attaches=%d resyncs=%d", attaches, resyncs)
	}
}

func TestManager_StableSessionResetsBackoff(t *testing.T) {
	tr := newFakeTransport(0)
	reader := &fakeReader{readFunc: func(int32) (*model.CapacitySnapshot, error) {
		return &model.CapacitySnapshot{EventID: "evt", Capacity: 1, Version: 1}, nil
	}}
	// Without a reset the third attach would wait Initial*Multiplier, 600ms.
	backoff := Backoff{Initial: 30 * time.Millisecond, Max: 5 * time.Second, Multiplier: 20}
	m := NewManager("evt", tr, reader, WithBackoff(backoff), WithStableAfter(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx) }()

	for i := 0; i < 2; i++ {
		s := nextStream(t, tr)
		waitFor(t, "subscribed", func() bool { return m.State() == Subscribed })
		time.Sleep(20 * time.Millisecond)
		s.fail <- errors.New("connection reset")
	}

	start := time.Now()
	nextStream(t, tr)
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("expected the backoff to start over after a stable session, waited %s", elapsed)
	}
}

func TestManager_RunTwice(t *testing.T) {
	tr := newFakeTransport(0)
	reader := &fakeReader{readFunc: func(int32) (*model.CapacitySnapshot, error) {
		return &model.CapacitySnapshot{EventID: "evt", Version: 1}, nil
	}}
	m := NewManager("evt", tr, reader, WithBackoff(fastBackoff))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx) }()
	nextStream(t, tr)

	if err := m.Run(ctx); !errors.Is(err, ErrManagerRunning) {
		t.Errorf("expected ErrManagerRunning, got %v", err)
	}
}

func TestManager_LateAttachSeesStateThroughResync(t *testing.T) {
	hub := broadcast.NewHub(8, logger.Nop())
	occupied := 0
	var version int64
	var mu sync.Mutex

	commit := func() {
		mu.Lock()
		occupied++
		version++
		f := model.CapacityChangeFact{EventID: "evt", Occupied: occupied, Capacity: 10, Version: version}
		mu.Unlock()
		hub.Publish(context.Background(), f)
	}
	for i := 0; i < 5; i++ {
		commit()
	}

	reader := &fakeReader{readFunc: func(int32) (*model.CapacitySnapshot, error) {
		mu.Lock()
		defer mu.Unlock()
		return &model.CapacitySnapshot{EventID: "evt", Capacity: 10, Occupied: occupied, Version: version}, nil
	}}
	m := NewManager("evt", HubTransport{Hub: hub}, reader, WithBackoff(fastBackoff))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx) }()

	waitFor(t, "subscribed", func() bool { return m.State() == Subscribed })
	snap, _ := m.View().Snapshot()
	if snap.Occupied != 5 {
		t.Errorf("expected occupied 5 from resync, got %d", snap.Occupied)
	}

	commit()
	waitFor(t, "live fact", func() bool { return m.View().Version() == 6 })
}
