// Package brewery provides a client for the brewery telemetry API.
// It fetches cauldron level readings and transport tickets and flattens them
// into the application's domain models.
package brewery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/witchbrew/cauldronwatch/internal/logger"
	"github.com/witchbrew/cauldronwatch/internal/models"
)

// Client provides access to the brewery telemetry API
type Client struct {
	apiBaseURL     string
	httpClient     *http.Client
	maxRetries     int
	retryDelayBase time.Duration
}

// levelEntry is one raw /Data entry: a sampling instant with the level of
// every cauldron at that instant.
type levelEntry struct {
	Timestamp      string             `json:"timestamp"`
	CauldronLevels map[string]float64 `json:"cauldron_levels"`
}

// ticketsResponse is the raw /Tickets payload.
type ticketsResponse struct {
	TransportTickets []ticketEntry `json:"transport_tickets"`
}

type ticketEntry struct {
	TicketID        string  `json:"ticket_id"`
	CauldronID      string  `json:"cauldron_id"`
	CourierID       string  `json:"courier_id"`
	Date            string  `json:"date"`
	AmountCollected float64 `json:"amount_collected"`
}

// NewClient creates a new brewery API client
func NewClient(apiBaseURL string, timeout time.Duration, maxRetries int, retryDelayBase time.Duration) *Client {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	return &Client{
		apiBaseURL: apiBaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}
}

// FetchReadings retrieves the cauldron level series from the /Data endpoint.
// Each raw entry carries one timestamp and a level per cauldron; the result
// is flattened to one Reading per (timestamp, cauldron) and sorted ascending
// by timestamp. Entries with unparseable timestamps or negative levels are
// skipped with a warning rather than failing the whole fetch.
func (c *Client) FetchReadings(ctx context.Context) ([]models.Reading, error) {
	resp, err := c.doRequest(ctx, c.apiBaseURL+"/Data")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch readings: %w", err)
	}
	defer resp.Body.Close()

	var entries []levelEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("failed to decode readings: %w", err)
	}

	var readings []models.Reading
	skipped := 0
	for _, entry := range entries {
		ts, err := parseTimestamp(entry.Timestamp)
		if err != nil {
			skipped += len(entry.CauldronLevels)
			continue
		}
		for cauldronID, level := range entry.CauldronLevels {
			r := models.Reading{
				CauldronID: cauldronID,
				Timestamp:  ts,
				Level:      level,
			}
			if err := r.Validate(); err != nil {
				skipped++
				continue
			}
			readings = append(readings, r)
		}
	}
	if skipped > 0 {
		logger.Warn("Skipped %d malformed level entries from /Data", skipped)
	}

	sort.Slice(readings, func(i, j int) bool {
		return readings[i].Timestamp.Before(readings[j].Timestamp)
	})

	return readings, nil
}

// FetchTickets retrieves transport tickets from the /Tickets endpoint.
func (c *Client) FetchTickets(ctx context.Context) ([]models.TransportTicket, error) {
	resp, err := c.doRequest(ctx, c.apiBaseURL+"/Tickets")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tickets: %w", err)
	}
	defer resp.Body.Close()

	var payload ticketsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode tickets: %w", err)
	}

	var tickets []models.TransportTicket
	skipped := 0
	for _, entry := range payload.TransportTickets {
		date, err := parseTimestamp(entry.Date)
		if err != nil {
			skipped++
			continue
		}
		t := models.TransportTicket{
			TicketID:        entry.TicketID,
			CauldronID:      entry.CauldronID,
			CourierID:       entry.CourierID,
			Date:            date,
			AmountCollected: entry.AmountCollected,
		}
		if err := t.Validate(); err != nil {
			skipped++
			continue
		}
		tickets = append(tickets, t)
	}
	if skipped > 0 {
		logger.Warn("Skipped %d malformed tickets from /Tickets", skipped)
	}

	return tickets, nil
}

// parseTimestamp accepts the timestamp formats the API has been observed to
// emit: RFC3339 with or without offset, and date-only for ticket dates.
func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// doRequest performs an HTTP GET with retry on transport errors and 5xx.
func (c *Client) doRequest(ctx context.Context, url string) (*http.Response, error) {
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if waitErr := sleepCtx(ctx, c.retryDelayBase*time.Duration(i+1)); waitErr != nil {
				return nil, waitErr
			}
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			if waitErr := sleepCtx(ctx, c.retryDelayBase*time.Duration(i+1)); waitErr != nil {
				return nil, waitErr
			}
			continue
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
		}

		return resp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
