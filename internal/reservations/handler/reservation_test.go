package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"rsvp/internal/reservations/service"
	"rsvp/pkg/broadcast"
	apperrors "rsvp/pkg/errors"
	"rsvp/pkg/logger"
	"rsvp/pkg/model"
	"rsvp/pkg/subscription"

	"github.com/julienschmidt/httprouter"
)

type mockAdmissionService struct {
	reserveFunc func(ctx context.Context, eventID, requesterID string) (*service.Decision, error)
	cancelFunc  func(ctx context.Context, eventID, requesterID string) (*service.Decision, error)
	readFunc    func(ctx context.Context, eventID string) (*model.CapacitySnapshot, error)
	freshFunc   func(ctx context.Context, eventID string) (*model.CapacitySnapshot, error)
	listFunc    func(ctx context.Context, eventID string, limit int, offset int64) ([]*model.Reservation, int64, error)
}

func (m *mockAdmissionService) RequestReservation(ctx context.Context, eventID, requesterID string) (*service.Decision, error) {
	return m.reserveFunc(ctx, eventID, requesterID)
}

func (m *mockAdmissionService) CancelReservation(ctx context.Context, eventID, requesterID string) (*service.Decision, error) {
	return m.cancelFunc(ctx, eventID, requesterID)
}

func (m *mockAdmissionService) ReadCapacity(ctx context.Context, eventID string) (*model.CapacitySnapshot, error) {
	return m.readFunc(ctx, eventID)
}

func (m *mockAdmissionService) ReadCapacityFresh(ctx context.Context, eventID string) (*model.CapacitySnapshot, error) {
	if m.freshFunc != nil {
		return m.freshFunc(ctx, eventID)
	}
	return m.readFunc(ctx, eventID)
}

func (m *mockAdmissionService) ListReservations(ctx context.Context, eventID string, limit int, offset int64) ([]*model.Reservation, int64, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, eventID, limit, offset)
	}
	return []*model.Reservation{}, 0, nil
}

type mockLifecycleService struct {
	applyFunc func(ctx context.Context, req *model.LifecycleRequest) (*model.CapacitySnapshot, error)
}

func (m *mockLifecycleService) Apply(ctx context.Context, req *model.LifecycleRequest) (*model.CapacitySnapshot, error) {
	return m.applyFunc(ctx, req)
}

func testLogger() *logger.Logger {
	return logger.New(logger.Config{
		Level:     "info",
		Format:    logger.JSON,
		AddSource: false,
		Service:   "test",
	})
}

func newTestRouter(h interface{ RegisterRoutes(*httprouter.Router) }) *httprouter.Router {
	router := httprouter.New()
	h.RegisterRoutes(router)
	return router
}

func snapshot(occupied, capacity int, version int64) *model.CapacitySnapshot {
	return &model.CapacitySnapshot{
		EventID:  "e1",
		Occupied: occupied,
		Capacity: capacity,
		Version:  version,
		Status:   model.EventPublished,
	}
}

func TestReserve_StatusCodes(t *testing.T) {
	tests := []struct {
		name       string
		decision   *service.Decision
		err        error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "confirmed",
			decision:   &service.Decision{Outcome: model.OutcomeConfirmed, Snapshot: snapshot(1, 2, 2)},
			wantStatus: http.StatusCreated,
			wantBody:   `"status":"confirmed"`,
		},
		{
			name:       "already reserved",
			decision:   &service.Decision{Outcome: model.OutcomeAlreadyReserved, Snapshot: snapshot(1, 2, 2)},
			wantStatus: http.StatusOK,
			wantBody:   `"status":"already_reserved"`,
		},
		{
			name:       "sold out",
			decision:   &service.Decision{Outcome: model.OutcomeRejected, Reason: model.ReasonSoldOut, Snapshot: snapshot(2, 2, 3)},
			wantStatus: http.StatusConflict,
			wantBody:   `"reason":"sold-out"`,
		},
		{
			name:       "event unavailable",
			decision:   &service.Decision{Outcome: model.OutcomeRejected, Reason: model.ReasonEventUnavailable},
			wantStatus: http.StatusGone,
			wantBody:   `"reason":"event-unavailable"`,
		},
		{
			name:       "transient conflict",
			err:        apperrors.TransientConflict("e1", 8, nil),
			wantStatus: http.StatusConflict,
			wantBody:   `"code":"TRANSIENT_CONFLICT"`,
		},
		{
			name:       "store unavailable",
			err:        apperrors.StoreUnavailable("Capacity store unavailable", nil),
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   `"retryable":true`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewReservationHandler(&mockAdmissionService{
				reserveFunc: func(ctx context.Context, eventID, requesterID string) (*service.Decision, error) {
					if eventID != "e1" || requesterID != "a" {
						t.Errorf("unexpected arguments %q %q", eventID, requesterID)
					}
					return tt.decision, tt.err
				},
			}, nil, testLogger())

			req := httptest.NewRequest(http.MethodPost, "/api/v1/reservations", strings.NewReader(`{"event_id":"e1","requester_id":"a"}`))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			newTestRouter(h).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("expected body to contain %s, got %s", tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestReserve_InvalidBody(t *testing.T) {
	h := NewReservationHandler(&mockAdmissionService{}, nil, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reservations", strings.NewReader(`{"event_id":`))
	rec := httptest.NewRecorder()
	newTestRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestCancel_BothRoutes(t *testing.T) {
	h := NewReservationHandler(&mockAdmissionService{
		cancelFunc: func(ctx context.Context, eventID, requesterID string) (*service.Decision, error) {
			if requesterID == "ghost" {
				return &service.Decision{Outcome: model.OutcomeNotFound}, nil
			}
			return &service.Decision{Outcome: model.OutcomeCancelled, Snapshot: snapshot(0, 2, 4)}, nil
		},
	}, nil, testLogger())
	router := newTestRouter(h)

	tests := []struct {
		method, path, requester string
		wantStatus              int
		wantOutcome             model.Outcome
	}{
		{http.MethodDelete, "/api/v1/reservations", "a", http.StatusOK, model.OutcomeCancelled},
		{http.MethodPost, "/api/v1/reservations/cancel", "a", http.StatusOK, model.OutcomeCancelled},
		{http.MethodDelete, "/api/v1/reservations", "ghost", http.StatusNotFound, model.OutcomeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.requester, func(t *testing.T) {
			body := `{"event_id":"e1","requester_id":"` + tt.requester + `"}`
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, strings.NewReader(body)))

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			var resp model.CancellationResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if resp.Status != tt.wantOutcome {
				t.Errorf("expected %s, got %s", tt.wantOutcome, resp.Status)
			}
		})
	}
}

func TestCapacity(t *testing.T) {
	h := NewReservationHandler(&mockAdmissionService{
		readFunc: func(ctx context.Context, eventID string) (*model.CapacitySnapshot, error) {
			if eventID != "e1" {
				return nil, apperrors.NotFoundWithID("Event", eventID)
			}
			return snapshot(3, 10, 7), nil
		},
	}, nil, testLogger())
	router := newTestRouter(h)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/events/e1/capacity", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp model.CapacityResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if resp.Occupied != 3 || resp.Capacity != 10 || resp.Version != 7 || resp.Status != model.EventPublished {
		t.Errorf("unexpected body %+v", resp)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/events/nope/capacity", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestCapacity_FreshBypassesCache(t *testing.T) {
	h := NewReservationHandler(&mockAdmissionService{
		readFunc: func(ctx context.Context, eventID string) (*model.CapacitySnapshot, error) {
			return snapshot(0, 1, 4), nil
		},
		freshFunc: func(ctx context.Context, eventID string) (*model.CapacitySnapshot, error) {
			return snapshot(1, 1, 5), nil
		},
	}, nil, testLogger())
	router := newTestRouter(h)

	tests := []struct {
		path    string
		version int64
	}{
		{"/api/v1/events/e1/capacity", 4},
		{"/api/v1/events/e1/capacity?fresh=1", 5},
		{"/api/v1/events/e1/capacity?fresh=true", 5},
		{"/api/v1/events/e1/capacity?fresh=0", 4},
		{"/api/v1/events/e1/capacity?fresh=yes", 4},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
			var resp model.CapacityResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if resp.Version != tt.version {
				t.Errorf("expected version %d, got %d", tt.version, resp.Version)
			}
		})
	}
}

func TestReservations_Pagination(t *testing.T) {
	var gotLimit int
	var gotOffset int64
	h := NewReservationHandler(&mockAdmissionService{
		listFunc: func(ctx context.Context, eventID string, limit int, offset int64) ([]*model.Reservation, int64, error) {
			gotLimit, gotOffset = limit, offset
			return []*model.Reservation{{ID: "r1", EventID: eventID, RequesterID: "a", State: model.ReservationConfirmed}}, 1, nil
		},
	}, nil, testLogger())
	router := newTestRouter(h)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/events/e1/reservations?limit=5&offset=10", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotLimit != 5 || gotOffset != 10 {
		t.Errorf("expected limit 5 offset 10, got %d %d", gotLimit, gotOffset)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/events/e1/reservations?limit=abc", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad limit, got %d", rec.Code)
	}
}

func TestLifecycle_UsesPathID(t *testing.T) {
	var got model.LifecycleRequest
	h := NewReservationHandler(nil, &mockLifecycleService{
		applyFunc: func(ctx context.Context, req *model.LifecycleRequest) (*model.CapacitySnapshot, error) {
			got = *req
			return snapshot(0, req.Capacity, 1), nil
		},
	}, testLogger())

	rec := httptest.NewRecorder()
	body := `{"event_id":"ignored","status":"published","capacity":50}`
	newTestRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/v1/events/e1/lifecycle", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got.EventID != "e1" || got.Status != model.EventPublished || got.Capacity != 50 {
		t.Errorf("unexpected request %+v", got)
	}
}

func TestStream_DeliversFactsAfterAttach(t *testing.T) {
	log := testLogger()
	hub := broadcast.NewHub(8, log)
	defer hub.Close()

	admission := &mockAdmissionService{
		readFunc: func(ctx context.Context, eventID string) (*model.CapacitySnapshot, error) {
			if eventID != "e1" {
				return nil, apperrors.NotFoundWithID("Event", eventID)
			}
			return snapshot(0, 5, 1), nil
		},
	}
	server := httptest.NewServer(newTestRouter(NewStreamHandler(hub, admission, 20*time.Millisecond, log)))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	transport := &subscription.SSETransport{BaseURL: server.URL}
	stream, err := transport.Subscribe(ctx, "e1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer func() { _ = stream.Close() }()

	if got := hub.Stats().Subscribers; got != 1 {
		t.Fatalf("expected the subscription to be attached before headers, got %d subscribers", got)
	}

	hub.Publish(ctx, model.CapacityChangeFact{EventID: "e1", Occupied: 1, Capacity: 5, Version: 2, Remaining: 4})

	fact, err := stream.Recv(ctx)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if fact.Version != 2 || fact.Occupied != 1 {
		t.Errorf("unexpected fact %+v", fact)
	}

	if _, err := transport.Subscribe(ctx, "nope"); err == nil {
		t.Error("expected an unknown event to be refused")
	}
}
