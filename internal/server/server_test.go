package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/witchbrew/cauldronwatch/internal/detect"
	"github.com/witchbrew/cauldronwatch/internal/models"
	"github.com/witchbrew/cauldronwatch/internal/storage"
)

func testServer(t *testing.T) (*Server, *storage.Storage) {
	t.Helper()
	store, err := storage.New(":memory:", 1000)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return New(store, detect.Config{WindowCap: 3, WindowDivisor: 10, SlopeEpsilon: 0.1, MinDrop: 5}), store
}

// seedDrain stores a 30-point series for cauldronID with one clean drain
// from 100 down to 50, and returns its base timestamp.
func seedDrain(t *testing.T, store *storage.Storage, cauldronID string) time.Time {
	t.Helper()
	base := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)

	var readings []models.Reading
	level := func(i int) float64 {
		switch {
		case i < 10:
			return 100
		case i < 20:
			return 100 - 5*float64(i-9)
		default:
			return 50
		}
	}
	for i := 0; i < 30; i++ {
		readings = append(readings, models.Reading{
			CauldronID: cauldronID,
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
			Level:      level(i),
		})
	}
	if err := store.UpsertReadings(readings); err != nil {
		t.Fatalf("failed to seed readings: %v", err)
	}
	return base
}

func doGet(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)
	return rr
}

func TestHealthz(t *testing.T) {
	srv, _ := testServer(t)
	rr := doGet(t, srv, "/healthz")
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}

func TestListCauldrons(t *testing.T) {
	srv, store := testServer(t)
	seedDrain(t, store, "frog-03")
	seedDrain(t, store, "bat-01")

	rr := doGet(t, srv, "/api/cauldrons")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var ids []string
	if err := json.Unmarshal(rr.Body.Bytes(), &ids); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(ids) != 2 || ids[0] != "bat-01" || ids[1] != "frog-03" {
		t.Errorf("unexpected cauldron list: %v", ids)
	}
}

func TestListCauldrons_EmptyStore(t *testing.T) {
	srv, _ := testServer(t)
	rr := doGet(t, srv, "/api/cauldrons")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if body := rr.Body.String(); body != "[]\n" {
		t.Errorf("expected empty JSON array, got %q", body)
	}
}

func TestGetLevels(t *testing.T) {
	srv, store := testServer(t)
	base := seedDrain(t, store, "bat-01")

	rr := doGet(t, srv, "/api/cauldrons/bat-01/levels")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var readings []models.Reading
	if err := json.Unmarshal(rr.Body.Bytes(), &readings); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(readings) != 30 {
		t.Fatalf("expected 30 readings, got %d", len(readings))
	}
	if !readings[0].Timestamp.Equal(base) {
		t.Errorf("expected first reading at %v, got %v", base, readings[0].Timestamp)
	}

	// Range filtering narrows the series.
	path := "/api/cauldrons/bat-01/levels?start=" + base.Add(5*time.Minute).Format(time.RFC3339) +
		"&end=" + base.Add(10*time.Minute).Format(time.RFC3339)
	rr = doGet(t, srv, path)
	if err := json.Unmarshal(rr.Body.Bytes(), &readings); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(readings) != 6 {
		t.Errorf("expected 6 readings in range, got %d", len(readings))
	}
}

func TestGetLevels_UnknownCauldron(t *testing.T) {
	srv, _ := testServer(t)
	rr := doGet(t, srv, "/api/cauldrons/nope/levels")
	if rr.Code != http.StatusOK {
		t.Fatalf("unknown cauldron must degrade to empty series, got %d", rr.Code)
	}
	if body := rr.Body.String(); body != "[]\n" {
		t.Errorf("expected empty JSON array, got %q", body)
	}
}

func TestGetDrains_RecomputedPerQuery(t *testing.T) {
	srv, store := testServer(t)
	base := seedDrain(t, store, "bat-01")

	rr := doGet(t, srv, "/api/cauldrons/bat-01/drains")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var drains []models.DrainInterval
	if err := json.Unmarshal(rr.Body.Bytes(), &drains); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(drains) != 1 {
		t.Fatalf("expected 1 drain, got %d", len(drains))
	}
	if drains[0].StartLevel != 100 || drains[0].EndLevel != 50 {
		t.Errorf("unexpected drain levels: %+v", drains[0])
	}

	// Narrowing the query below the detector's minimum length changes the
	// result: drains are a function of the queried window, not stored state.
	path := "/api/cauldrons/bat-01/drains?start=" + base.Format(time.RFC3339) +
		"&end=" + base.Add(5*time.Minute).Format(time.RFC3339)
	rr = doGet(t, srv, path)
	if err := json.Unmarshal(rr.Body.Bytes(), &drains); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(drains) != 0 {
		t.Errorf("expected no drains for short window, got %d", len(drains))
	}
}

func TestGetTickets(t *testing.T) {
	srv, store := testServer(t)
	date := time.Date(2025, 10, 1, 13, 0, 0, 0, time.UTC)
	err := store.UpsertTickets([]models.TransportTicket{
		{TicketID: "TKT-1", CauldronID: "bat-01", CourierID: "COURIER-7", Date: date, AmountCollected: 250},
	})
	if err != nil {
		t.Fatalf("failed to seed tickets: %v", err)
	}

	rr := doGet(t, srv, "/api/cauldrons/bat-01/tickets")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var tickets []models.TransportTicket
	if err := json.Unmarshal(rr.Body.Bytes(), &tickets); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(tickets) != 1 || tickets[0].TicketID != "TKT-1" {
		t.Errorf("unexpected tickets: %v", tickets)
	}
}

func TestGetOverlay(t *testing.T) {
	srv, store := testServer(t)
	base := seedDrain(t, store, "bat-01")
	err := store.UpsertTickets([]models.TransportTicket{
		{TicketID: "TKT-1", CauldronID: "bat-01", CourierID: "COURIER-7", Date: base.Add(15 * time.Minute), AmountCollected: 250},
	})
	if err != nil {
		t.Fatalf("failed to seed tickets: %v", err)
	}

	rr := doGet(t, srv, "/api/cauldrons/bat-01/overlay")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var overlay overlayResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &overlay); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if overlay.CauldronID != "bat-01" {
		t.Errorf("expected cauldron bat-01, got %s", overlay.CauldronID)
	}
	if len(overlay.Readings) != 30 {
		t.Errorf("expected 30 readings, got %d", len(overlay.Readings))
	}
	if len(overlay.Drains) != 1 {
		t.Errorf("expected 1 drain, got %d", len(overlay.Drains))
	}
	if len(overlay.Tickets) != 1 {
		t.Errorf("expected 1 ticket, got %d", len(overlay.Tickets))
	}
	if overlay.Stats.Count != 30 || overlay.Stats.MaxLevel != 100 || overlay.Stats.MinLevel != 50 {
		t.Errorf("unexpected stats: %+v", overlay.Stats)
	}
	if overlay.Stats.AvgLevel <= 50 || overlay.Stats.AvgLevel >= 100 {
		t.Errorf("average level out of range: %f", overlay.Stats.AvgLevel)
	}
}

func TestParseRange_BadValues(t *testing.T) {
	srv, _ := testServer(t)

	for _, path := range []string{
		"/api/cauldrons/bat-01/levels?start=yesterday",
		"/api/cauldrons/bat-01/levels?end=not-a-time",
		"/api/cauldrons/bat-01/levels?start=2025-10-02T00:00:00Z&end=2025-10-01T00:00:00Z",
	} {
		rr := doGet(t, srv, path)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, rr.Code)
		}
	}
}
