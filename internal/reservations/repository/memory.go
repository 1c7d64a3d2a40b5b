package repository

import (
	"context"
	"errors"
	"sort"
	"sync"

	reservationserrors "rsvp/internal/reservations/errors"
	"rsvp/pkg/model"
)

type ledgerKey struct {
	eventID     string
	requesterID string
}

// memoryTx stages writes until commit. Each staged snapshot remembers the
// version it was derived from; commit fails if any of them moved.
type memoryTx struct {
	snapshots    map[string]stagedSnapshot
	reservations map[ledgerKey]model.Reservation
}

type stagedSnapshot struct {
	expected int64
	snapshot model.CapacitySnapshot
}

type memoryTxKey struct{}

// MemoryStore implements every store interface in process memory with the
// same optimistic semantics as the database backends.
type MemoryStore struct {
	mu           sync.RWMutex
	snapshots    map[string]model.CapacitySnapshot
	reservations map[ledgerKey]model.Reservation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots:    make(map[string]model.CapacitySnapshot),
		reservations: make(map[ledgerKey]model.Reservation),
	}
}

func txFrom(ctx context.Context) *memoryTx {
	tx, _ := ctx.Value(memoryTxKey{}).(*memoryTx)
	return tx
}

func (m *MemoryStore) ExecuteTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}

	tx := &memoryTx{
		snapshots:    make(map[string]stagedSnapshot),
		reservations: make(map[ledgerKey]model.Reservation),
	}
	if err := fn(context.WithValue(ctx, memoryTxKey{}, tx)); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, staged := range tx.snapshots {
		if current, ok := m.snapshots[id]; ok && current.Version != staged.expected {
			return reservationserrors.ErrVersionConflict
		}
	}
	for id, staged := range tx.snapshots {
		m.snapshots[id] = staged.snapshot
	}
	for key, r := range tx.reservations {
		m.reservations[key] = r
	}
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// current returns the snapshot visible to ctx: staged first, then committed.
func (m *MemoryStore) current(ctx context.Context, eventID string) (model.CapacitySnapshot, bool) {
	if tx := txFrom(ctx); tx != nil {
		if staged, ok := tx.snapshots[eventID]; ok {
			return staged.snapshot, true
		}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snapshots[eventID]
	return s, ok
}

func (m *MemoryStore) Read(ctx context.Context, eventID string) (*model.CapacitySnapshot, error) {
	s, ok := m.current(ctx, eventID)
	if !ok {
		return nil, reservationserrors.ErrNotFound
	}
	return &s, nil
}

func (m *MemoryStore) CompareAndSwap(ctx context.Context, eventID string, expectedVersion int64, newOccupied int) (*model.CapacitySnapshot, error) {
	return m.mutate(ctx, eventID, func(s *model.CapacitySnapshot) error {
		if s.Version != expectedVersion {
			return reservationserrors.ErrVersionConflict
		}
		if newOccupied < 0 || newOccupied > s.Capacity {
			return reservationserrors.ErrInvariantViolation
		}
		s.Occupied = newOccupied
		return nil
	})
}

func (m *MemoryStore) Open(ctx context.Context, eventID string, capacity int) (*model.CapacitySnapshot, error) {
	s, err := m.mutate(ctx, eventID, func(s *model.CapacitySnapshot) error {
		if capacity < s.Occupied {
			return reservationserrors.ErrInvariantViolation
		}
		s.Capacity = capacity
		s.Status = model.EventPublished
		return nil
	})
	if !errors.Is(err, reservationserrors.ErrNotFound) {
		return s, err
	}

	created := model.CapacitySnapshot{
		EventID:   eventID,
		Capacity:  capacity,
		Version:   1,
		Status:    model.EventPublished,
		UpdatedAt: now(),
	}
	if tx := txFrom(ctx); tx != nil {
		tx.snapshots[eventID] = stagedSnapshot{snapshot: created}
		return &created, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.snapshots[eventID]; exists {
		return nil, reservationserrors.ErrVersionConflict
	}
	m.snapshots[eventID] = created
	return &created, nil
}

func (m *MemoryStore) Retire(ctx context.Context, eventID string, status model.EventStatus) (*model.CapacitySnapshot, error) {
	if status == model.EventPublished || !status.Valid() {
		return nil, reservationserrors.ErrInvalidTransition
	}
	return m.mutate(ctx, eventID, func(s *model.CapacitySnapshot) error {
		s.Status = status
		return nil
	})
}

// mutate applies fn to a copy of the visible snapshot and bumps its version.
// Inside a transaction the result is staged; outside it is committed under
// the write lock.
func (m *MemoryStore) mutate(ctx context.Context, eventID string, fn func(s *model.CapacitySnapshot) error) (*model.CapacitySnapshot, error) {
	if tx := txFrom(ctx); tx != nil {
		s, ok := m.current(ctx, eventID)
		if !ok {
			return nil, reservationserrors.ErrNotFound
		}
		expected := s.Version
		if staged, ok := tx.snapshots[eventID]; ok {
			expected = staged.expected
		}
		if err := fn(&s); err != nil {
			return nil, err
		}
		s.Version++
		s.UpdatedAt = now()
		tx.snapshots[eventID] = stagedSnapshot{expected: expected, snapshot: s}
		return &s, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snapshots[eventID]
	if !ok {
		return nil, reservationserrors.ErrNotFound
	}
	if err := fn(&s); err != nil {
		return nil, err
	}
	s.Version++
	s.UpdatedAt = now()
	m.snapshots[eventID] = s
	return &s, nil
}

func (m *MemoryStore) Find(ctx context.Context, eventID, requesterID string) (*model.Reservation, error) {
	key := ledgerKey{eventID: eventID, requesterID: requesterID}
	if tx := txFrom(ctx); tx != nil {
		if r, ok := tx.reservations[key]; ok {
			return &r, nil
		}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reservations[key]
	if !ok {
		return nil, reservationserrors.ErrNotFound
	}
	return &r, nil
}

func (m *MemoryStore) Upsert(ctx context.Context, reservation *model.Reservation) error {
	key := ledgerKey{eventID: reservation.EventID, requesterID: reservation.RequesterID}
	r := *reservation
	r.UpdatedAt = now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = r.UpdatedAt
	}

	if tx := txFrom(ctx); tx != nil {
		tx.reservations[key] = r
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.reservations[key]; ok {
		r.CreatedAt = existing.CreatedAt
	}
	m.reservations[key] = r
	return nil
}

func (m *MemoryStore) CountActive(ctx context.Context, eventID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for key, r := range m.reservations {
		if key.eventID == eventID && r.Active() {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) ListByEvent(ctx context.Context, eventID string, limit int, offset int64) ([]*model.Reservation, error) {
	m.mu.RLock()
	rows := make([]*model.Reservation, 0)
	for key, r := range m.reservations {
		if key.eventID == eventID {
			rows = append(rows, &r)
		}
	}
	m.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].RequesterID < rows[j].RequesterID
		}
		return rows[i].CreatedAt.Before(rows[j].CreatedAt)
	})

	if offset >= int64(len(rows)) {
		return []*model.Reservation{}, nil
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows, nil
}
