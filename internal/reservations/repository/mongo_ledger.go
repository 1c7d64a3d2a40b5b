package repository

import (
	"context"
	"errors"
	"fmt"

	reservationserrors "rsvp/internal/reservations/errors"
	"rsvp/pkg/config"
	"rsvp/pkg/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoReservationLedger struct {
	cfg        *config.Config
	collection *mongo.Collection
}

func (r *mongoReservationLedger) Find(ctx context.Context, eventID, requesterID string) (*model.Reservation, error) {
	ctx, cancel := mongoTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	filter := bson.M{"event_id": eventID, "requester_id": requesterID}

	var reservation model.Reservation
	err := r.collection.FindOne(ctx, filter).Decode(&reservation)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, reservationserrors.ErrNotFound
		}
		return nil, WrapMongoError("find reservation", err)
	}
	return &reservation, nil
}

func (r *mongoReservationLedger) Upsert(ctx context.Context, reservation *model.Reservation) error {
	ctx, cancel := mongoTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	ts := now()
	reservation.UpdatedAt = ts
	if reservation.CreatedAt.IsZero() {
		reservation.CreatedAt = ts
	}

	filter := bson.M{"event_id": reservation.EventID, "requester_id": reservation.RequesterID}
	update := bson.M{
		"$set": bson.M{
			"reservation_id": reservation.ID,
			"state":          reservation.State,
			"version":        reservation.Version,
			"updated_at":     reservation.UpdatedAt,
		},
		"$setOnInsert": bson.M{"created_at": reservation.CreatedAt},
	}

	_, err := r.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return reservationserrors.ErrVersionConflict
		}
		return WrapMongoError("upsert reservation", err)
	}
	return nil
}

func (r *mongoReservationLedger) CountActive(ctx context.Context, eventID string) (int64, error) {
	ctx, cancel := mongoTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	filter := bson.M{
		"event_id": eventID,
		"state":    bson.M{"$in": []model.ReservationState{model.ReservationPending, model.ReservationConfirmed}},
	}
	count, err := r.collection.CountDocuments(ctx, filter)
	if err != nil {
		return 0, WrapMongoError("count reservations", err)
	}
	return count, nil
}

func (r *mongoReservationLedger) ListByEvent(ctx context.Context, eventID string, limit int, offset int64) ([]*model.Reservation, error) {
	ctx, cancel := mongoTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "requester_id", Value: 1}}).
		SetLimit(int64(limit)).
		SetSkip(offset)

	cursor, err := r.collection.Find(ctx, bson.M{"event_id": eventID}, opts)
	if err != nil {
		return nil, WrapMongoError("list reservations", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	reservations := make([]*model.Reservation, 0)
	if err := cursor.All(ctx, &reservations); err != nil {
		return nil, fmt.Errorf("failed to decode reservations: %w", err)
	}
	return reservations, nil
}
