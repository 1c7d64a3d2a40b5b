package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	apperrors "rsvp/pkg/errors"
	"rsvp/pkg/logger"
	"rsvp/pkg/model"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{
		Level:     "info",
		Format:    logger.JSON,
		AddSource: false,
		Service:   "test",
	})
}

// fakeService admits the first capacity requesters and answers the first
// call of every requester with a retryable conflict.
func fakeService(t *testing.T, capacity int) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	seen := make(map[string]bool)
	occupied := 0

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/reservations", func(w http.ResponseWriter, r *http.Request) {
		var req model.ReservationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
			return
		}

		mu.Lock()
		defer mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if !seen[req.RequesterID] {
			seen[req.RequesterID] = true
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(apperrors.TransientConflict(req.EventID, 3, nil).Response())
			return
		}
		if occupied >= capacity {
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(model.ReservationResponse{Status: model.OutcomeRejected, Reason: model.ReasonSoldOut, Occupied: occupied, Capacity: capacity})
			return
		}
		occupied++
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(model.ReservationResponse{Status: model.OutcomeConfirmed, Occupied: occupied, Capacity: capacity})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFire_RetriesTransientConflicts(t *testing.T) {
	srv := fakeService(t, 3)
	f := &loadFlags{
		commonFlags: commonFlags{baseURL: srv.URL, eventID: "evt-1", timeout: time.Second},
		requesters:  8,
		concurrency: 4,
		retries:     2,
		prefix:      "t",
	}
	client := &apiClient{baseURL: srv.URL, http: srv.Client()}

	results := fire(context.Background(), client, f, testLogger())

	counts := make(map[string]int)
	for _, r := range results {
		counts[r.label]++
		if r.attempts != 2 {
			t.Errorf("expected every requester to need exactly one retry, got %d", r.attempts)
		}
	}
	if counts["confirmed"] != 3 || counts["rejected/sold-out"] != 5 {
		t.Errorf("unexpected outcome counts %v", counts)
	}
	if confirmed := report(results, time.Second); confirmed != 3 {
		t.Errorf("expected report to count 3 confirmations, got %d", confirmed)
	}
}

func TestReserveWithRetry_GivesUpAfterBudget(t *testing.T) {
	srv := fakeService(t, 1)
	f := &loadFlags{
		commonFlags: commonFlags{baseURL: srv.URL, eventID: "evt-1", timeout: time.Second},
		retries:     0,
	}
	client := &apiClient{baseURL: srv.URL, http: srv.Client()}

	r := reserveWithRetry(context.Background(), client, f, "only-once", testLogger())
	if r.label != apperrors.CodeTransientConflict || r.attempts != 1 {
		t.Errorf("expected a single transient conflict, got %+v", r)
	}
}

func TestParse_RejectsStrayArguments(t *testing.T) {
	if err := run([]string{"load", "--event", "e1", "extra"}); err == nil {
		t.Error("expected an error for an unexpected argument")
	}
	if err := run([]string{"watch"}); err == nil {
		t.Error("expected an error without --event")
	}
	if err := run([]string{"bogus"}); err == nil {
		t.Error("expected an error for an unknown command")
	}
}
