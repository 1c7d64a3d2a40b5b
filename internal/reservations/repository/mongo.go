package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	reservationserrors "rsvp/internal/reservations/errors"
	"rsvp/pkg/config"
	mongotx "rsvp/pkg/db/mongo"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	CapacityCollectionName    = "capacity_snapshots"
	ReservationCollectionName = "reservations"
)

const (
	mongoWriteConflictCode    = 112
	transientTransactionLabel = "TransientTransactionError"
)

func NewMongoStore(cfg *config.Config) *Store {
	client := cfg.Client.Mongo
	db := client.Database(cfg.MongoDatabaseName)
	return &Store{
		Capacity: &mongoCapacityStore{cfg: cfg, collection: db.Collection(CapacityCollectionName)},
		Ledger:   &mongoReservationLedger{cfg: cfg, collection: db.Collection(ReservationCollectionName)},
		Tx:       mongoTransactions{manager: mongotx.NewTransactionManager(client)},
		Health:   mongoHealth{client: client},
	}
}

type mongoTransactions struct {
	manager mongotx.TransactionManager
}

func (t mongoTransactions) ExecuteTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return t.manager.ExecuteTransaction(ctx, fn)
}

type mongoHealth struct {
	client *mongo.Client
}

func (h mongoHealth) Ping(ctx context.Context) error {
	return h.client.Ping(ctx, readpref.Primary())
}

// mongoTimeout wraps ctx with a timeout unless it is a session context.
// Wrapping a SessionContext would hide it from the driver's transaction lookup.
func mongoTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if mongotx.InTransaction(ctx) {
		return ctx, func() {}
	}
	return withTimeout(ctx, timeout)
}

// WrapMongoError classifies a driver failure. Write conflicts and transient
// transaction errors become version conflicts so the admission loop re-runs
// the decision; everything else is ErrStoreUnavailable. The driver error stays
// in the chain so WithTransaction still sees its labels.
func WrapMongoError(op string, err error) error {
	var serverErr mongo.ServerError
	if errors.As(err, &serverErr) &&
		(serverErr.HasErrorCode(mongoWriteConflictCode) || serverErr.HasErrorLabel(transientTransactionLabel)) {
		return fmt.Errorf("%w: failed to %s: %w", reservationserrors.ErrVersionConflict, op, err)
	}
	return fmt.Errorf("%w: failed to %s: %w", reservationserrors.ErrStoreUnavailable, op, err)
}
