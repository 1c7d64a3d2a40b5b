//go:build integration

package integration

import (
	"fmt"
	"net/http"
	"sync"
	"testing"

	"rsvp/pkg/model"
	"rsvp/test/integration/testutil"

	"github.com/google/uuid"
)

func publish(t *testing.T, client *testutil.Client, eventID string, capacity int) {
	t.Helper()
	resp := client.PUT(t, "/api/v1/events/"+eventID+"/lifecycle", map[string]any{
		"status":   model.EventPublished,
		"capacity": capacity,
	})
	testutil.AssertStatusCode(t, resp, http.StatusOK)
}

func readCapacity(t *testing.T, client *testutil.Client, eventID string) model.CapacityResponse {
	t.Helper()
	resp := client.GET(t, "/api/v1/events/"+eventID+"/capacity")
	testutil.AssertStatusCode(t, resp, http.StatusOK)

	var snap model.CapacityResponse
	if err := resp.UnmarshalJSON(&snap); err != nil {
		t.Fatalf("failed to unmarshal capacity: %v", err)
	}
	return snap
}

func TestReserve_LastSlotThenSoldOut(t *testing.T) {
	mongo, client := testutil.NewTestEnv().Setup(t)
	eventID := "evt-" + uuid.NewString()
	publish(t, client, eventID, 1)

	testutil.AssertStatusCode(t, client.Reserve(t, eventID, "alice"), http.StatusCreated)

	resp := client.Reserve(t, eventID, "bob")
	testutil.AssertStatusCode(t, resp, http.StatusConflict)
	var rejected model.ReservationResponse
	if err := resp.UnmarshalJSON(&rejected); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if rejected.Reason != model.ReasonSoldOut {
		t.Errorf("expected sold-out, got %+v", rejected)
	}

	testutil.AssertStatusCode(t, client.Reserve(t, eventID, "alice"), http.StatusOK)

	snap := readCapacity(t, client, eventID)
	if snap.Occupied != 1 || mongo.CountActive(t, eventID) != 1 {
		t.Errorf("expected exactly one slot held, got occupied=%d", snap.Occupied)
	}
}

func TestReserve_NoOversellUnderLoad(t *testing.T) {
	mongo, client := testutil.NewTestEnv().Setup(t)
	eventID := "evt-" + uuid.NewString()
	const capacity = 5
	publish(t, client, eventID, capacity)

	var wg sync.WaitGroup
	var mu sync.Mutex
	statuses := make(map[int]int)
	for i := range 40 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := client.Reserve(t, eventID, fmt.Sprintf("user-%d", i))
			mu.Lock()
			statuses[resp.StatusCode]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	snap := readCapacity(t, client, eventID)
	if snap.Occupied > capacity {
		t.Fatalf("oversold: occupied %d of %d", snap.Occupied, capacity)
	}
	if statuses[http.StatusCreated] != snap.Occupied {
		t.Errorf("confirmations %d do not match occupancy %d (statuses %v)", statuses[http.StatusCreated], snap.Occupied, statuses)
	}
	if active := mongo.CountActive(t, eventID); active != int64(snap.Occupied) {
		t.Errorf("ledger holds %d active rows, snapshot says %d", active, snap.Occupied)
	}
}

func TestCancel_FreesSlot(t *testing.T) {
	_, client := testutil.NewTestEnv().Setup(t)
	eventID := "evt-" + uuid.NewString()
	publish(t, client, eventID, 1)

	testutil.AssertStatusCode(t, client.Reserve(t, eventID, "alice"), http.StatusCreated)
	testutil.AssertStatusCode(t, client.Cancel(t, eventID, "alice"), http.StatusOK)
	testutil.AssertStatusCode(t, client.Cancel(t, eventID, "alice"), http.StatusNotFound)
	testutil.AssertStatusCode(t, client.Reserve(t, eventID, "bob"), http.StatusCreated)
}

func TestReserve_UnknownEvent(t *testing.T) {
	_, client := testutil.NewTestEnv().Setup(t)
	testutil.AssertStatusCode(t, client.Reserve(t, "evt-"+uuid.NewString(), "alice"), http.StatusGone)
}
