// Package monitor orchestrates the poll cycle: refresh telemetry from the
// brewery API (subject to a per-endpoint cache TTL), persist it, run drain
// detection per cauldron over a trailing lookback window, and deliver alerts
// for newly closed drains.
//
// Alert deduplication keys on (cauldron, interval end time): a closed drain
// interval is stable across cycles, so the same drain is reported once and
// then suppressed for the cooldown period.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/witchbrew/cauldronwatch/internal/detect"
	"github.com/witchbrew/cauldronwatch/internal/logger"
	"github.com/witchbrew/cauldronwatch/internal/models"
	"github.com/witchbrew/cauldronwatch/internal/storage"
)

// endpoint keys for the fetch cache
const (
	endpointData    = "Data"
	endpointTickets = "Tickets"
)

// Fetcher supplies telemetry from the upstream API.
type Fetcher interface {
	FetchReadings(ctx context.Context) ([]models.Reading, error)
	FetchTickets(ctx context.Context) ([]models.TransportTicket, error)
}

// Notifier delivers drain alerts.
type Notifier interface {
	SendDrainAlerts(alerts []models.DrainAlert) error
}

// Monitor runs poll cycles and tracks notification state.
type Monitor struct {
	store     *storage.Storage
	fetcher   Fetcher
	notifier  Notifier // nil disables alert delivery
	detectCfg detect.Config
	lookback  time.Duration
	cacheTTL  time.Duration
	cooldown  time.Duration

	// one writer per endpoint key
	endpointMu map[string]*sync.Mutex

	notifiedMu sync.Mutex
	notified   map[string]time.Time // cauldron|interval-end -> sent at
}

// New creates a Monitor. notifier may be nil, in which case detected drains
// are logged but not delivered.
func New(store *storage.Storage, fetcher Fetcher, notifier Notifier, detectCfg detect.Config, lookback, cacheTTL, cooldown time.Duration) *Monitor {
	return &Monitor{
		store:     store,
		fetcher:   fetcher,
		notifier:  notifier,
		detectCfg: detectCfg,
		lookback:  lookback,
		cacheTTL:  cacheTTL,
		cooldown:  cooldown,
		endpointMu: map[string]*sync.Mutex{
			endpointData:    {},
			endpointTickets: {},
		},
		notified: make(map[string]time.Time),
	}
}

// RunCycle performs one poll cycle at cycleTime. Upstream fetch failures are
// logged and degrade to the data already in storage; they are reported in the
// returned error but never abort detection.
func (m *Monitor) RunCycle(ctx context.Context, cycleTime time.Time) error {
	start := time.Now()
	logger.Info("Starting poll cycle")

	var fetchErr error
	if err := m.refreshReadings(ctx, cycleTime); err != nil {
		logger.Error("Reading refresh failed, continuing with stored data: %v", err)
		fetchErr = err
	}
	if err := m.refreshTickets(ctx, cycleTime); err != nil {
		logger.Error("Ticket refresh failed, continuing with stored data: %v", err)
		if fetchErr == nil {
			fetchErr = err
		}
	}

	alerts, err := m.detectAll(cycleTime)
	if err != nil {
		return fmt.Errorf("detection pass failed: %w", err)
	}

	fresh := m.filterRecentlySent(alerts, cycleTime)
	if len(fresh) > 0 {
		logger.Info("Detected %d drains (%d new after cooldown filter)", len(alerts), len(fresh))
		if m.notifier != nil {
			if err := m.notifier.SendDrainAlerts(fresh); err != nil {
				logger.Error("Failed to deliver drain alerts: %v", err)
			} else {
				m.recordNotified(fresh, cycleTime)
			}
		} else {
			m.recordNotified(fresh, cycleTime)
		}
	} else {
		logger.Debug("No new drains this cycle (%d total detected)", len(alerts))
	}

	m.pruneNotified(cycleTime)

	logger.Info("Poll cycle completed in %v", time.Since(start))
	if fetchErr != nil {
		return fmt.Errorf("cycle degraded by upstream failure: %w", fetchErr)
	}
	return nil
}

// refreshReadings fetches /Data unless it is still fresh under the cache TTL.
func (m *Monitor) refreshReadings(ctx context.Context, now time.Time) error {
	mu := m.endpointMu[endpointData]
	mu.Lock()
	defer mu.Unlock()

	fresh, err := m.isFresh(endpointData, now)
	if err != nil {
		return err
	}
	if fresh {
		logger.Debug("Skipping /Data fetch, cache still fresh")
		return nil
	}

	readings, err := m.fetcher.FetchReadings(ctx)
	if err != nil {
		return err
	}
	if err := m.store.UpsertReadings(readings); err != nil {
		return err
	}
	logger.Debug("Stored %d readings from /Data", len(readings))
	return m.store.MarkFetched(endpointData, now)
}

// refreshTickets fetches /Tickets unless it is still fresh under the cache TTL.
func (m *Monitor) refreshTickets(ctx context.Context, now time.Time) error {
	mu := m.endpointMu[endpointTickets]
	mu.Lock()
	defer mu.Unlock()

	fresh, err := m.isFresh(endpointTickets, now)
	if err != nil {
		return err
	}
	if fresh {
		logger.Debug("Skipping /Tickets fetch, cache still fresh")
		return nil
	}

	tickets, err := m.fetcher.FetchTickets(ctx)
	if err != nil {
		return err
	}
	if err := m.store.UpsertTickets(tickets); err != nil {
		return err
	}
	logger.Debug("Stored %d tickets from /Tickets", len(tickets))
	return m.store.MarkFetched(endpointTickets, now)
}

func (m *Monitor) isFresh(endpoint string, now time.Time) (bool, error) {
	if m.cacheTTL <= 0 {
		return false, nil
	}
	last, err := m.store.LastFetched(endpoint)
	if err != nil {
		return false, err
	}
	return !last.IsZero() && now.Sub(last) < m.cacheTTL, nil
}

// detectAll runs drain detection for every cauldron over the lookback window
// and wraps detected intervals in alerts.
func (m *Monitor) detectAll(now time.Time) ([]models.DrainAlert, error) {
	cauldrons, err := m.store.Cauldrons()
	if err != nil {
		return nil, err
	}

	var alerts []models.DrainAlert
	for _, id := range cauldrons {
		readings, err := m.store.ReadingsInRange(id, now.Add(-m.lookback), now)
		if err != nil {
			logger.Warn("Failed to load readings for cauldron %s: %v", id, err)
			continue
		}

		w := m.detectCfg.WindowFor(len(readings))
		if w == 0 {
			logger.Debug("Cauldron %s: %d readings, too short for detection", id, len(readings))
			continue
		}

		intervals := detect.Detect(readings, w, m.detectCfg.SlopeEpsilon, m.detectCfg.MinDrop)
		if len(intervals) == 0 {
			continue
		}

		smoothed := detect.Smooth(readings, w)
		for _, interval := range intervals {
			alerts = append(alerts, models.DrainAlert{
				ID:         uuid.New().String(),
				CauldronID: id,
				Interval:   interval,
				TotalDrop:  smoothed[interval.StartIndex] - smoothed[interval.EndIndex],
				DetectedAt: now,
			})
		}
	}
	return alerts, nil
}

func alertKey(a models.DrainAlert) string {
	return a.CauldronID + "|" + a.Interval.EndTime.UTC().Format(time.RFC3339Nano)
}

// filterRecentlySent drops alerts whose drain was already reported within the
// cooldown period.
func (m *Monitor) filterRecentlySent(alerts []models.DrainAlert, now time.Time) []models.DrainAlert {
	m.notifiedMu.Lock()
	defer m.notifiedMu.Unlock()

	var fresh []models.DrainAlert
	for _, a := range alerts {
		if sentAt, ok := m.notified[alertKey(a)]; ok && now.Sub(sentAt) < m.cooldown {
			continue
		}
		fresh = append(fresh, a)
	}
	return fresh
}

// recordNotified marks alerts as sent at now for cooldown deduplication.
func (m *Monitor) recordNotified(alerts []models.DrainAlert, now time.Time) {
	m.notifiedMu.Lock()
	defer m.notifiedMu.Unlock()

	for _, a := range alerts {
		m.notified[alertKey(a)] = now
	}
}

// pruneNotified evicts cooldown records old enough to never suppress again.
func (m *Monitor) pruneNotified(now time.Time) {
	m.notifiedMu.Lock()
	defer m.notifiedMu.Unlock()

	for key, sentAt := range m.notified {
		if now.Sub(sentAt) >= m.cooldown {
			delete(m.notified, key)
		}
	}
}
