package repository

import (
	"context"
	"errors"
	"fmt"

	reservationserrors "rsvp/internal/reservations/errors"
	"rsvp/pkg/config"
	pgtx "rsvp/pkg/db/postgres"
	"rsvp/pkg/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const snapshotColumns = `event_id, capacity, occupied, version, status, updated_at`

const reservationColumns = `reservation_id, event_id, requester_id, state, version, created_at, updated_at`

func NewPostgresStore(cfg *config.Config) *Store {
	pool := cfg.Client.Postgres
	return &Store{
		Capacity: &postgresCapacityStore{cfg: cfg, pool: pool},
		Ledger:   &postgresReservationLedger{cfg: cfg, pool: pool},
		Tx:       postgresTransactions{manager: pgtx.NewTransactionManager(pool)},
		Health:   pool,
	}
}

type postgresTransactions struct {
	manager pgtx.TransactionManager
}

func (t postgresTransactions) ExecuteTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return t.manager.ExecuteTransaction(ctx, fn)
}

func scanSnapshot(row pgx.Row) (*model.CapacitySnapshot, error) {
	var s model.CapacitySnapshot
	if err := row.Scan(&s.EventID, &s.Capacity, &s.Occupied, &s.Version, &s.Status, &s.UpdatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

func scanReservation(row pgx.Row) (*model.Reservation, error) {
	var r model.Reservation
	if err := row.Scan(&r.ID, &r.EventID, &r.RequesterID, &r.State, &r.Version, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// storeError keeps the driver error in the chain. Serialization failures
// become version conflicts so the decision is re-run.
func storeError(op string, err error) error {
	if pgtx.IsSerializationFailure(err) {
		return fmt.Errorf("%w: failed to %s: %w", reservationserrors.ErrVersionConflict, op, err)
	}
	return fmt.Errorf("%w: failed to %s: %w", reservationserrors.ErrStoreUnavailable, op, err)
}

type postgresCapacityStore struct {
	cfg  *config.Config
	pool *pgxpool.Pool
}

func (r *postgresCapacityStore) Read(ctx context.Context, eventID string) (*model.CapacitySnapshot, error) {
	ctx, cancel := withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	s, err := scanSnapshot(pgtx.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+snapshotColumns+` FROM capacity_snapshots WHERE event_id = $1`, eventID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, reservationserrors.ErrNotFound
		}
		return nil, storeError("read capacity", err)
	}
	return s, nil
}

// CompareAndSwap is a single guarded UPDATE. The table's CHECK constraint
// backs the capacity bound as well.
func (r *postgresCapacityStore) CompareAndSwap(ctx context.Context, eventID string, expectedVersion int64, newOccupied int) (*model.CapacitySnapshot, error) {
	if newOccupied < 0 {
		return nil, reservationserrors.ErrInvariantViolation
	}

	ctx, cancel := withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	s, err := scanSnapshot(pgtx.Conn(ctx, r.pool).QueryRow(ctx,
		`UPDATE capacity_snapshots
		    SET occupied = $3, version = version + 1, updated_at = now()
		  WHERE event_id = $1 AND version = $2 AND capacity >= $3
		RETURNING `+snapshotColumns, eventID, expectedVersion, newOccupied))
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, storeError("update capacity", err)
	}

	current, err := r.Read(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if current.Version != expectedVersion {
		return nil, reservationserrors.ErrVersionConflict
	}
	return nil, reservationserrors.ErrInvariantViolation
}

func (r *postgresCapacityStore) Open(ctx context.Context, eventID string, capacity int) (*model.CapacitySnapshot, error) {
	ctx, cancel := withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	s, err := scanSnapshot(pgtx.Conn(ctx, r.pool).QueryRow(ctx,
		`INSERT INTO capacity_snapshots (event_id, capacity, occupied, version, status, updated_at)
		 VALUES ($1, $2, 0, 1, $3, now())
		 ON CONFLICT (event_id) DO UPDATE
		    SET capacity = EXCLUDED.capacity,
		        status = EXCLUDED.status,
		        version = capacity_snapshots.version + 1,
		        updated_at = now()
		  WHERE capacity_snapshots.occupied <= EXCLUDED.capacity
		RETURNING `+snapshotColumns, eventID, capacity, model.EventPublished))
	if err == nil {
		return s, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		// The conflict branch's WHERE rejected a shrink below occupancy.
		return nil, reservationserrors.ErrInvariantViolation
	}
	return nil, storeError("open capacity", err)
}

func (r *postgresCapacityStore) Retire(ctx context.Context, eventID string, status model.EventStatus) (*model.CapacitySnapshot, error) {
	if status == model.EventPublished || !status.Valid() {
		return nil, reservationserrors.ErrInvalidTransition
	}

	ctx, cancel := withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	s, err := scanSnapshot(pgtx.Conn(ctx, r.pool).QueryRow(ctx,
		`UPDATE capacity_snapshots
		    SET status = $2, version = version + 1, updated_at = now()
		  WHERE event_id = $1
		RETURNING `+snapshotColumns, eventID, status))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, reservationserrors.ErrNotFound
		}
		return nil, storeError("retire capacity", err)
	}
	return s, nil
}

type postgresReservationLedger struct {
	cfg  *config.Config
	pool *pgxpool.Pool
}

func (r *postgresReservationLedger) Find(ctx context.Context, eventID, requesterID string) (*model.Reservation, error) {
	ctx, cancel := withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	res, err := scanReservation(pgtx.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE event_id = $1 AND requester_id = $2`,
		eventID, requesterID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, reservationserrors.ErrNotFound
		}
		return nil, storeError("find reservation", err)
	}
	return res, nil
}

func (r *postgresReservationLedger) Upsert(ctx context.Context, reservation *model.Reservation) error {
	ctx, cancel := withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	ts := now()
	reservation.UpdatedAt = ts
	if reservation.CreatedAt.IsZero() {
		reservation.CreatedAt = ts
	}

	_, err := pgtx.Conn(ctx, r.pool).Exec(ctx,
		`INSERT INTO reservations (`+reservationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (event_id, requester_id) DO UPDATE
		    SET reservation_id = EXCLUDED.reservation_id,
		        state = EXCLUDED.state,
		        version = EXCLUDED.version,
		        updated_at = EXCLUDED.updated_at`,
		reservation.ID, reservation.EventID, reservation.RequesterID, reservation.State,
		reservation.Version, reservation.CreatedAt, reservation.UpdatedAt)
	if err != nil {
		if pgtx.IsUniqueViolation(err) {
			return reservationserrors.ErrVersionConflict
		}
		return storeError("upsert reservation", err)
	}
	return nil
}

func (r *postgresReservationLedger) CountActive(ctx context.Context, eventID string) (int64, error) {
	ctx, cancel := withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	var count int64
	err := pgtx.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT count(*) FROM reservations WHERE event_id = $1 AND state IN ($2, $3)`,
		eventID, model.ReservationPending, model.ReservationConfirmed).Scan(&count)
	if err != nil {
		return 0, storeError("count reservations", err)
	}
	return count, nil
}

func (r *postgresReservationLedger) ListByEvent(ctx context.Context, eventID string, limit int, offset int64) ([]*model.Reservation, error) {
	ctx, cancel := withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	rows, err := pgtx.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+reservationColumns+` FROM reservations
		  WHERE event_id = $1
		  ORDER BY created_at, requester_id
		  LIMIT $2 OFFSET $3`, eventID, limit, offset)
	if err != nil {
		return nil, storeError("list reservations", err)
	}
	defer rows.Close()

	reservations := make([]*model.Reservation, 0)
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		reservations = append(reservations, res)
	}
	return reservations, rows.Err()
}
