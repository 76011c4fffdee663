package brewery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestFetchReadings_FlattensAndSorts(t *testing.T) {
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Data" {
			t.Errorf("expected path /Data, got %s", r.URL.Path)
		}
		// Entries intentionally out of chronological order.
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"timestamp": "2025-10-01T12:05:00Z", "cauldron_levels": {"bat-01": 98.5, "frog-03": 412.0}},
			{"timestamp": "2025-10-01T12:00:00Z", "cauldron_levels": {"bat-01": 100.0}}
		]`))
	}))
	defer mockServer.Close()

	client := NewClient(mockServer.URL, 5*time.Second, 3, time.Millisecond)
	readings, err := client.FetchReadings(context.Background())
	if err != nil {
		t.Fatalf("FetchReadings failed: %v", err)
	}

	if len(readings) != 3 {
		t.Fatalf("expected 3 readings, got %d", len(readings))
	}
	for i := 1; i < len(readings); i++ {
		if readings[i].Timestamp.Before(readings[i-1].Timestamp) {
			t.Errorf("readings not sorted ascending at index %d", i)
		}
	}
	if readings[0].CauldronID != "bat-01" || readings[0].Level != 100.0 {
		t.Errorf("unexpected first reading: %+v", readings[0])
	}
}

func TestFetchReadings_SkipsMalformedEntries(t *testing.T) {
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"timestamp": "not-a-timestamp", "cauldron_levels": {"bat-01": 100.0}},
			{"timestamp": "2025-10-01T12:00:00Z", "cauldron_levels": {"bat-01": -3.0, "frog-03": 412.0}}
		]`))
	}))
	defer mockServer.Close()

	client := NewClient(mockServer.URL, 5*time.Second, 3, time.Millisecond)
	readings, err := client.FetchReadings(context.Background())
	if err != nil {
		t.Fatalf("FetchReadings failed: %v", err)
	}

	// Only frog-03 survives: the first entry has a bad timestamp, and the
	// negative bat-01 level is rejected by validation.
	if len(readings) != 1 {
		t.Fatalf("expected 1 reading, got %d", len(readings))
	}
	if readings[0].CauldronID != "frog-03" {
		t.Errorf("expected frog-03, got %s", readings[0].CauldronID)
	}
}

func TestFetchTickets(t *testing.T) {
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Tickets" {
			t.Errorf("expected path /Tickets, got %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"transport_tickets": [
			{"ticket_id": "TKT-0042", "cauldron_id": "bat-01", "courier_id": "COURIER-7", "date": "2025-10-01", "amount_collected": 250.0},
			{"ticket_id": "", "cauldron_id": "bat-01", "courier_id": "COURIER-7", "date": "2025-10-02", "amount_collected": 100.0}
		]}`))
	}))
	defer mockServer.Close()

	client := NewClient(mockServer.URL, 5*time.Second, 3, time.Millisecond)
	tickets, err := client.FetchTickets(context.Background())
	if err != nil {
		t.Fatalf("FetchTickets failed: %v", err)
	}

	// The ticket with an empty ID is dropped by validation.
	if len(tickets) != 1 {
		t.Fatalf("expected 1 ticket, got %d", len(tickets))
	}
	got := tickets[0]
	if got.TicketID != "TKT-0042" || got.CauldronID != "bat-01" || got.AmountCollected != 250.0 {
		t.Errorf("unexpected ticket: %+v", got)
	}
	if got.Date != time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC) {
		t.Errorf("unexpected ticket date: %v", got.Date)
	}
}

func TestDoRequest_RetriesOn5xx(t *testing.T) {
	var calls atomic.Int32
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer mockServer.Close()

	client := NewClient(mockServer.URL, 5*time.Second, 3, time.Millisecond)
	if _, err := client.FetchReadings(context.Background()); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestDoRequest_MaxRetriesExceeded(t *testing.T) {
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer mockServer.Close()

	client := NewClient(mockServer.URL, 5*time.Second, 2, time.Millisecond)
	if _, err := client.FetchReadings(context.Background()); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
}

func TestDoRequest_NonRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer mockServer.Close()

	client := NewClient(mockServer.URL, 5*time.Second, 3, time.Millisecond)
	if _, err := client.FetchReadings(context.Background()); err == nil {
		t.Fatal("expected error for 404")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("4xx must not be retried, got %d attempts", got)
	}
}

func TestDoRequest_ContextCancelled(t *testing.T) {
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer mockServer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient(mockServer.URL, 5*time.Second, 3, time.Second)
	if _, err := client.FetchReadings(ctx); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
