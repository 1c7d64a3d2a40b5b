package repository

import (
	"context"
	"fmt"
	"time"

	"rsvp/pkg/config"
	"rsvp/pkg/model"
)

// CapacityStore owns every mutation of capacity snapshots.
type CapacityStore interface {
	Read(ctx context.Context, eventID string) (*model.CapacitySnapshot, error)
	// CompareAndSwap sets occupied and bumps the version by one, provided the
	// stored version still equals expectedVersion.
	CompareAndSwap(ctx context.Context, eventID string, expectedVersion int64, newOccupied int) (*model.CapacitySnapshot, error)
	Open(ctx context.Context, eventID string, capacity int) (*model.CapacitySnapshot, error)
	Retire(ctx context.Context, eventID string, status model.EventStatus) (*model.CapacitySnapshot, error)
}

// ReservationLedger holds one row per (event, requester) pair.
type ReservationLedger interface {
	Find(ctx context.Context, eventID, requesterID string) (*model.Reservation, error)
	Upsert(ctx context.Context, reservation *model.Reservation) error
	CountActive(ctx context.Context, eventID string) (int64, error)
	ListByEvent(ctx context.Context, eventID string, limit int, offset int64) ([]*model.Reservation, error)
}

// TransactionManager runs fn so that every store call made with the context
// it receives commits together or not at all.
type TransactionManager interface {
	ExecuteTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Store groups the backends selected by STORE_DRIVER.
type Store struct {
	Capacity CapacityStore
	Ledger   ReservationLedger
	Tx       TransactionManager
	Health   HealthChecker
}

func NewStore(cfg *config.Config) (*Store, error) {
	switch cfg.StoreDriver {
	case config.StoreMongo:
		return NewMongoStore(cfg), nil
	case config.StorePostgres:
		return NewPostgresStore(cfg), nil
	case config.StoreMemory:
		mem := NewMemoryStore()
		return &Store{Capacity: mem, Ledger: mem, Tx: mem, Health: mem}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// withTimeout bounds ctx by timeout unless it already expires sooner.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	deadline, hasDeadline := ctx.Deadline()
	if hasDeadline && time.Until(deadline) < timeout {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
