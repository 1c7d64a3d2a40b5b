package repository

import (
	"context"
	"errors"

	reservationserrors "rsvp/internal/reservations/errors"
	"rsvp/pkg/config"
	"rsvp/pkg/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoCapacityStore struct {
	cfg        *config.Config
	collection *mongo.Collection
}

func (r *mongoCapacityStore) Read(ctx context.Context, eventID string) (*model.CapacitySnapshot, error) {
	ctx, cancel := mongoTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	var snapshot model.CapacitySnapshot
	err := r.collection.FindOne(ctx, bson.M{"_id": eventID}).Decode(&snapshot)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, reservationserrors.ErrNotFound
		}
		return nil, WrapMongoError("read capacity", err)
	}
	return &snapshot, nil
}

// CompareAndSwap matches on both version and the capacity bound so a single
// round trip decides the swap. A miss is classified with a follow-up read.
func (r *mongoCapacityStore) CompareAndSwap(ctx context.Context, eventID string, expectedVersion int64, newOccupied int) (*model.CapacitySnapshot, error) {
	if newOccupied < 0 {
		return nil, reservationserrors.ErrInvariantViolation
	}

	ctx, cancel := mongoTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	filter := bson.M{
		"_id":      eventID,
		"version":  expectedVersion,
		"capacity": bson.M{"$gte": newOccupied},
	}
	update := bson.M{
		"$set": bson.M{"occupied": newOccupied, "updated_at": now()},
		"$inc": bson.M{"version": 1},
	}
	return r.findOneAndUpdate(ctx, eventID, filter, update, func(current *model.CapacitySnapshot) error {
		if current.Version != expectedVersion {
			return reservationserrors.ErrVersionConflict
		}
		return reservationserrors.ErrInvariantViolation
	})
}

func (r *mongoCapacityStore) Open(ctx context.Context, eventID string, capacity int) (*model.CapacitySnapshot, error) {
	ctx, cancel := mongoTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	filter := bson.M{
		"_id":      eventID,
		"occupied": bson.M{"$lte": capacity},
	}
	update := bson.M{
		"$set": bson.M{"capacity": capacity, "status": model.EventPublished, "updated_at": now()},
		"$inc": bson.M{"version": 1},
	}
	snapshot, err := r.findOneAndUpdate(ctx, eventID, filter, update, func(*model.CapacitySnapshot) error {
		return reservationserrors.ErrInvariantViolation
	})
	if !errors.Is(err, reservationserrors.ErrNotFound) {
		return snapshot, err
	}

	created := &model.CapacitySnapshot{
		EventID:   eventID,
		Capacity:  capacity,
		Version:   1,
		Status:    model.EventPublished,
		UpdatedAt: now(),
	}
	if _, err := r.collection.InsertOne(ctx, created); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, reservationserrors.ErrVersionConflict
		}
		return nil, WrapMongoError("open capacity", err)
	}
	return created, nil
}

func (r *mongoCapacityStore) Retire(ctx context.Context, eventID string, status model.EventStatus) (*model.CapacitySnapshot, error) {
	if status == model.EventPublished || !status.Valid() {
		return nil, reservationserrors.ErrInvalidTransition
	}

	ctx, cancel := mongoTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	update := bson.M{
		"$set": bson.M{"status": status, "updated_at": now()},
		"$inc": bson.M{"version": 1},
	}
	return r.findOneAndUpdate(ctx, eventID, bson.M{"_id": eventID}, update, nil)
}

// findOneAndUpdate returns the post-image. When the filter misses, classify
// decides the error for an existing document; a missing one is ErrNotFound.
func (r *mongoCapacityStore) findOneAndUpdate(ctx context.Context, eventID string, filter, update bson.M, classify func(current *model.CapacitySnapshot) error) (*model.CapacitySnapshot, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var snapshot model.CapacitySnapshot
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&snapshot)
	if err == nil {
		return &snapshot, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, WrapMongoError("update capacity", err)
	}

	current, err := r.Read(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if classify == nil {
		return nil, reservationserrors.ErrVersionConflict
	}
	return nil, classify(current)
}
