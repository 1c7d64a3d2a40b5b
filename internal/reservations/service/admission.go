package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	reservationserrors "rsvp/internal/reservations/errors"
	"rsvp/internal/reservations/repository"
	"rsvp/internal/reservations/validator"
	"rsvp/pkg/broadcast"
	"rsvp/pkg/config"
	apperrors "rsvp/pkg/errors"
	"rsvp/pkg/model"
	"rsvp/pkg/sanitizer"

	"github.com/google/uuid"
)

type AdmissionService interface {
	RequestReservation(ctx context.Context, eventID, requesterID string) (*Decision, error)
	CancelReservation(ctx context.Context, eventID, requesterID string) (*Decision, error)
	ReadCapacity(ctx context.Context, eventID string) (*model.CapacitySnapshot, error)
	// ReadCapacityFresh skips the cache. Subscribers resynchronize through it
	// so a cache entry left behind by a failed write cannot hide a commit.
	ReadCapacityFresh(ctx context.Context, eventID string) (*model.CapacitySnapshot, error)
	ListReservations(ctx context.Context, eventID string, limit int, offset int64) ([]*model.Reservation, int64, error)
}

// Decision is a final admission answer. Rejections are decisions, not errors.
type Decision struct {
	Outcome     model.Outcome
	Reason      model.Reason
	Snapshot    *model.CapacitySnapshot
	Reservation *model.Reservation
}

func (d *Decision) Response() model.ReservationResponse {
	resp := model.ReservationResponse{
		Status: d.Outcome,
		Reason: d.Reason,
	}
	if d.Snapshot != nil {
		resp.Occupied = d.Snapshot.Occupied
		resp.Capacity = d.Snapshot.Capacity
		resp.Version = d.Snapshot.Version
	}
	return resp
}

type admissionService struct {
	*committer
	store     *repository.Store
	validator *validator.ReservationValidator
	cfg       *config.Config
	retry     retryPolicy
}

// NewAdmissionService wires the admission path. cache may be nil.
func NewAdmissionService(
	store *repository.Store,
	cache repository.SnapshotCache,
	broadcaster broadcast.Broadcaster,
	validator *validator.ReservationValidator,
	cfg *config.Config,
) AdmissionService {
	return &admissionService{
		committer: newCommitter(cache, broadcaster, cfg.Log),
		store:     store,
		validator: validator,
		cfg:       cfg,
		retry:     newRetryPolicy(cfg),
	}
}

func (s *admissionService) RequestReservation(ctx context.Context, eventID, requesterID string) (*Decision, error) {
	req := &model.ReservationRequest{EventID: eventID, RequesterID: requesterID}
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	decision, err := retry(ctx, s.retry, func(ctx context.Context) (*Decision, error) {
		return s.admit(ctx, req.EventID, req.RequesterID)
	})
	if err != nil {
		s.cfg.Log.Warn("Reservation request failed",
			"event_id", req.EventID,
			"requester_id", req.RequesterID,
			"error", err,
		)
		return nil, mapStoreError(err, req.EventID)
	}

	s.cfg.Log.Info("Reservation decided",
		"event_id", req.EventID,
		"requester_id", req.RequesterID,
		"outcome", decision.Outcome,
		"reason", decision.Reason,
	)
	return decision, nil
}

// admit runs one optimistic attempt.
func (s *admissionService) admit(ctx context.Context, eventID, requesterID string) (*Decision, error) {
	snapshot, err := s.store.Capacity.Read(ctx, eventID)
	if err != nil {
		if errors.Is(err, reservationserrors.ErrNotFound) {
			return &Decision{Outcome: model.OutcomeRejected, Reason: model.ReasonEventUnavailable}, nil
		}
		return nil, err
	}
	if !snapshot.Accepting() {
		return &Decision{Outcome: model.OutcomeRejected, Reason: model.ReasonEventUnavailable, Snapshot: snapshot}, nil
	}

	existing, err := s.store.Ledger.Find(ctx, eventID, requesterID)
	if err != nil && !errors.Is(err, reservationserrors.ErrNotFound) {
		return nil, err
	}
	if existing != nil && existing.Active() {
		return &Decision{Outcome: model.OutcomeAlreadyReserved, Snapshot: snapshot, Reservation: existing}, nil
	}
	if snapshot.IsFull() {
		return &Decision{Outcome: model.OutcomeRejected, Reason: model.ReasonSoldOut, Snapshot: snapshot}, nil
	}

	reservation := &model.Reservation{
		ID:          uuid.NewString(),
		EventID:     eventID,
		RequesterID: requesterID,
		State:       model.ReservationConfirmed,
	}
	if existing != nil {
		reservation.ID = existing.ID
		reservation.CreatedAt = existing.CreatedAt
	}

	var committed *model.CapacitySnapshot
	err = s.store.Tx.ExecuteTransaction(ctx, func(ctx context.Context) error {
		next, err := s.store.Capacity.CompareAndSwap(ctx, eventID, snapshot.Version, snapshot.Occupied+1)
		if err != nil {
			return err
		}
		reservation.Version = next.Version
		if err := s.store.Ledger.Upsert(ctx, reservation); err != nil {
			return fmt.Errorf("failed to record reservation: %w", err)
		}
		committed = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, committed)
	return &Decision{Outcome: model.OutcomeConfirmed, Snapshot: committed, Reservation: reservation}, nil
}

func (s *admissionService) CancelReservation(ctx context.Context, eventID, requesterID string) (*Decision, error) {
	req := &model.ReservationRequest{EventID: eventID, RequesterID: requesterID}
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	decision, err := retry(ctx, s.retry, func(ctx context.Context) (*Decision, error) {
		return s.cancel(ctx, req.EventID, req.RequesterID)
	})
	if err != nil {
		s.cfg.Log.Warn("Cancellation failed",
			"event_id", req.EventID,
			"requester_id", req.RequesterID,
			"error", err,
		)
		return nil, mapStoreError(err, req.EventID)
	}

	s.cfg.Log.Info("Cancellation decided",
		"event_id", req.EventID,
		"requester_id", req.RequesterID,
		"outcome", decision.Outcome,
	)
	return decision, nil
}

// cancel releases a held slot. Retired events still accept cancellations.
// The snapshot is read before the ledger so that any ledger write racing
// with this attempt moves the version past the one it will swap from.
func (s *admissionService) cancel(ctx context.Context, eventID, requesterID string) (*Decision, error) {
	snapshot, err := s.store.Capacity.Read(ctx, eventID)
	if err != nil {
		if errors.Is(err, reservationserrors.ErrNotFound) {
			return &Decision{Outcome: model.OutcomeNotFound}, nil
		}
		return nil, err
	}

	existing, err := s.store.Ledger.Find(ctx, eventID, requesterID)
	if err != nil {
		if errors.Is(err, reservationserrors.ErrNotFound) {
			return &Decision{Outcome: model.OutcomeNotFound, Snapshot: snapshot}, nil
		}
		return nil, err
	}
	if !existing.Active() {
		return &Decision{Outcome: model.OutcomeNotFound, Snapshot: snapshot, Reservation: existing}, nil
	}

	cancelled := *existing
	cancelled.State = model.ReservationCancelled

	var committed *model.CapacitySnapshot
	err = s.store.Tx.ExecuteTransaction(ctx, func(ctx context.Context) error {
		next, err := s.store.Capacity.CompareAndSwap(ctx, eventID, snapshot.Version, max(snapshot.Occupied-1, 0))
		if err != nil {
			return err
		}
		cancelled.Version = next.Version
		if err := s.store.Ledger.Upsert(ctx, &cancelled); err != nil {
			return fmt.Errorf("failed to record cancellation: %w", err)
		}
		committed = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, committed)
	return &Decision{Outcome: model.OutcomeCancelled, Snapshot: committed, Reservation: &cancelled}, nil
}

func (s *admissionService) ReadCapacity(ctx context.Context, eventID string) (*model.CapacitySnapshot, error) {
	return s.readCapacity(ctx, eventID, true)
}

func (s *admissionService) ReadCapacityFresh(ctx context.Context, eventID string) (*model.CapacitySnapshot, error) {
	return s.readCapacity(ctx, eventID, false)
}

// readCapacity serves from the cache when allowed. A store read always
// refills the cache; Put keeps it monotone, so this also repairs a stale entry.
func (s *admissionService) readCapacity(ctx context.Context, eventID string, useCache bool) (*model.CapacitySnapshot, error) {
	eventID = sanitizer.SanitizeIdentifier(eventID)
	if err := s.validator.ValidateID("event_id", eventID); err != nil {
		return nil, apperrors.Validation("Invalid event id", map[string]any{"error": err.Error()})
	}

	if useCache && s.cache != nil {
		cached, err := s.cache.Get(ctx, eventID)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, reservationserrors.ErrNotFound) {
			s.cfg.Log.Warn("Capacity cache read failed, falling back to store",
				"event_id", eventID,
				"error", err,
			)
		}
	}

	snapshot, err := s.store.Capacity.Read(ctx, eventID)
	if err != nil {
		if errors.Is(err, reservationserrors.ErrNotFound) {
			return nil, apperrors.NotFoundWithID("Event", eventID)
		}
		s.cfg.Log.Error("Failed to read capacity",
			"event_id", eventID,
			"error", err,
		)
		return nil, mapStoreError(err, eventID)
	}

	s.fillCache(ctx, snapshot)
	return snapshot, nil
}

func (s *admissionService) ListReservations(ctx context.Context, eventID string, limit int, offset int64) ([]*model.Reservation, int64, error) {
	eventID = sanitizer.SanitizeIdentifier(eventID)
	if err := s.validator.ValidateID("event_id", eventID); err != nil {
		return nil, 0, apperrors.Validation("Invalid event id", map[string]any{"error": err.Error()})
	}
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	var count int64
	var rows []*model.Reservation
	var errCount, errList error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		var err error
		ctx, cancel := context.WithTimeout(ctx, s.cfg.ReadTimeout)
		defer cancel()
		count, err = s.store.Ledger.CountActive(ctx, eventID)
		if err != nil {
			s.cfg.Log.Error("Failed to count reservations", "event_id", eventID, "error", err)
			errCount = mapStoreError(err, eventID)
		}
	}()

	go func() {
		defer wg.Done()
		var err error
		ctx, cancel := context.WithTimeout(ctx, s.cfg.ReadTimeout)
		defer cancel()
		rows, err = s.store.Ledger.ListByEvent(ctx, eventID, limit, offset)
		if err != nil {
			s.cfg.Log.Error("Failed to list reservations",
				"event_id", eventID,
				"limit", limit,
				"offset", offset,
				"error", err,
			)
			errList = mapStoreError(err, eventID)
		}
	}()
	wg.Wait()

	if errCount != nil {
		return nil, 0, errCount
	}
	if errList != nil {
		return nil, 0, errList
	}

	return rows, count, nil
}

func (s *admissionService) validateRequest(req *model.ReservationRequest) error {
	sanitizer.SanitizeReservationRequest(req)
	if err := s.validator.ValidateRequest(req); err != nil {
		s.cfg.Log.Warn("Reservation request validation failed",
			"event_id", req.EventID,
			"requester_id", req.RequesterID,
			"error", err,
		)
		return apperrors.Validation("Reservation request validation failed", map[string]any{
			"error": err.Error(),
		})
	}
	return nil
}
