// Package subscription keeps a viewer's capacity view live across transport
// failures.
//
// A Manager moves Disconnected -> Connecting -> Subscribed. Every attach,
// first or not, is followed by exactly one read of the public capacity path
// before the manager reports Subscribed, which covers anything published
// while it was detached.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"rsvp/pkg/logger"
	"rsvp/pkg/model"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Subscribed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Subscribed:
		return "subscribed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Transport attaches to an event's fact stream.
type Transport interface {
	Subscribe(ctx context.Context, eventID string) (Stream, error)
}

// Stream yields facts until it fails or is closed.
type Stream interface {
	Recv(ctx context.Context) (model.CapacityChangeFact, error)
	Close() error
}

// Reader is the public capacity read path used to resynchronize.
type Reader interface {
	ReadCapacity(ctx context.Context, eventID string) (*model.CapacitySnapshot, error)
}

var ErrManagerRunning = errors.New("subscription manager already running")

// DefaultStableAfter is how long a session must stay subscribed before the
// reconnect backoff starts over.
const DefaultStableAfter = 5 * time.Second

type Option func(*Manager)

func WithBackoff(b Backoff) Option {
	return func(m *Manager) { m.backoff = b }
}

// WithStableAfter sets how long a session must last to reset the backoff.
func WithStableAfter(d time.Duration) Option {
	return func(m *Manager) { m.stableAfter = d }
}

func WithLogger(log *logger.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// OnStateChange is called synchronously on every transition.
func OnStateChange(fn func(from, to State)) Option {
	return func(m *Manager) { m.onStateChange = fn }
}

// OnUpdate is called for every fact the view accepts.
func OnUpdate(fn func(model.CapacityChangeFact)) Option {
	return func(m *Manager) { m.onUpdate = fn }
}

type Manager struct {
	eventID   string
	transport Transport
	reader    Reader
	backoff   Backoff
	log       *logger.Logger
	view      *View

	stableAfter time.Duration

	onStateChange func(from, to State)
	onUpdate      func(model.CapacityChangeFact)

	mu       sync.Mutex
	state    State
	cancel   context.CancelFunc
	running  bool
	attaches int
	resyncs  int
}

func NewManager(eventID string, transport Transport, reader Reader, opts ...Option) *Manager {
	m := &Manager{
		eventID:   eventID,
		transport: transport,
		reader:    reader,
		backoff:   DefaultBackoff,
		log:       logger.Nop(),

		stableAfter: DefaultStableAfter,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With("event_id", eventID)
	m.view = NewView(m.onUpdate)
	return m
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) View() *View {
	return m.view
}

// Stats returns how many times the manager attached and resynchronized.
func (m *Manager) Stats() (attaches, resyncs int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attaches, m.resyncs
}

func (m *Manager) setState(to State) {
	m.mu.Lock()
	from := m.state
	m.state = to
	m.mu.Unlock()

	if from == to {
		return
	}
	m.log.Debug("subscription state changed", "from", from.String(), "to", to.String())
	if m.onStateChange != nil {
		m.onStateChange(from, to)
	}
}

// Run keeps the subscription attached until ctx is cancelled or Close is
// called. It returns the cancellation cause.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrManagerRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.mu.Unlock()

	defer func() {
		cancel()
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		m.setState(Disconnected)
	}()

	attempt := 0
	for {
		subscribedAt, err := m.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !subscribedAt.IsZero() && time.Since(subscribedAt) >= m.stableAfter {
			attempt = 0
		}

		m.setState(Disconnected)
		delay := m.backoff.Next(attempt)
		m.log.Warn("subscription lost, reconnecting",
			"error", err,
			"attempt", attempt+1,
			"delay", delay,
		)
		attempt++

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// session attaches, resynchronizes and consumes until the stream fails.
// It returns when the session reached Subscribed, or the zero time if it
// never did.
func (m *Manager) session(ctx context.Context) (time.Time, error) {
	m.setState(Connecting)

	stream, err := m.transport.Subscribe(ctx, m.eventID)
	if err != nil {
		return time.Time{}, fmt.Errorf("subscribe: %w", err)
	}
	defer func() { _ = stream.Close() }()

	m.mu.Lock()
	m.attaches++
	m.mu.Unlock()

	// Attach before reading so nothing committed in between is missed.
	snapshot, err := m.reader.ReadCapacity(ctx, m.eventID)
	if err != nil {
		return time.Time{}, fmt.Errorf("resync read: %w", err)
	}
	m.mu.Lock()
	m.resyncs++
	m.mu.Unlock()
	m.view.Apply(snapshot.Fact())

	m.setState(Subscribed)
	subscribedAt := time.Now()

	for {
		fact, err := stream.Recv(ctx)
		if err != nil {
			return subscribedAt, fmt.Errorf("receive: %w", err)
		}
		if fact.EventID != "" && fact.EventID != m.eventID {
			continue
		}
		m.view.Apply(fact)
	}
}

// Close detaches and stops Run. Safe to call at any time.
func (m *Manager) Close() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
