package service

import (
	"context"

	"rsvp/internal/reservations/repository"
	"rsvp/internal/reservations/validator"
	"rsvp/pkg/broadcast"
	"rsvp/pkg/config"
	apperrors "rsvp/pkg/errors"
	"rsvp/pkg/model"
	"rsvp/pkg/sanitizer"
)

// LifecycleService applies upstream event status changes to capacity
// snapshots. Every applied change is broadcast like an admission.
type LifecycleService interface {
	Apply(ctx context.Context, req *model.LifecycleRequest) (*model.CapacitySnapshot, error)
}

type lifecycleService struct {
	*committer
	store     *repository.Store
	validator *validator.ReservationValidator
	cfg       *config.Config
	retry     retryPolicy
}

func NewLifecycleService(
	store *repository.Store,
	cache repository.SnapshotCache,
	broadcaster broadcast.Broadcaster,
	validator *validator.ReservationValidator,
	cfg *config.Config,
) LifecycleService {
	return &lifecycleService{
		committer: newCommitter(cache, broadcaster, cfg.Log),
		store:     store,
		validator: validator,
		cfg:       cfg,
		retry:     newRetryPolicy(cfg),
	}
}

func (s *lifecycleService) Apply(ctx context.Context, req *model.LifecycleRequest) (*model.CapacitySnapshot, error) {
	sanitizer.SanitizeLifecycleRequest(req)
	if err := s.validator.ValidateLifecycle(req); err != nil {
		s.cfg.Log.Warn("Lifecycle request validation failed",
			"event_id", req.EventID,
			"status", req.Status,
			"error", err,
		)
		return nil, apperrors.Validation("Lifecycle request validation failed", map[string]any{
			"error": err.Error(),
		})
	}

	snapshot, err := retry(ctx, s.retry, func(ctx context.Context) (*model.CapacitySnapshot, error) {
		if req.Status == model.EventPublished {
			return s.store.Capacity.Open(ctx, req.EventID, req.Capacity)
		}
		return s.store.Capacity.Retire(ctx, req.EventID, req.Status)
	})
	if err != nil {
		s.cfg.Log.Warn("Lifecycle change rejected",
			"event_id", req.EventID,
			"status", req.Status,
			"capacity", req.Capacity,
			"error", err,
		)
		return nil, mapStoreError(err, req.EventID)
	}

	s.afterCommit(ctx, snapshot)

	s.cfg.Log.Info("Lifecycle change applied",
		"event_id", snapshot.EventID,
		"status", snapshot.Status,
		"capacity", snapshot.Capacity,
		"occupied", snapshot.Occupied,
		"version", snapshot.Version,
	)
	return snapshot, nil
}
