package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/witchbrew/cauldronwatch/internal/logger"
	"github.com/witchbrew/cauldronwatch/internal/models"
)

// overlayResponse is the combined payload the dashboard renders in one shot:
// the raw series, the recomputed drain intervals, the ticket markers, and
// the summary stat row.
type overlayResponse struct {
	CauldronID string                   `json:"cauldron_id"`
	Readings   []models.Reading         `json:"readings"`
	Drains     []models.DrainInterval   `json:"drains"`
	Tickets    []models.TransportTicket `json:"tickets"`
	Stats      levelStats               `json:"stats"`
}

type levelStats struct {
	Count    int     `json:"count"`
	AvgLevel float64 `json:"avg_level"`
	MinLevel float64 `json:"min_level"`
	MaxLevel float64 `json:"max_level"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) listCauldrons(w http.ResponseWriter, _ *http.Request) {
	ids, err := s.store.Cauldrons()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list cauldrons")
		logger.Error("listCauldrons: %v", err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, ids)
}

func (s *Server) getLevels(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	from, to, ok := parseRange(w, r)
	if !ok {
		return
	}

	readings, err := s.store.ReadingsInRange(id, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load readings")
		logger.Error("getLevels %s: %v", id, err)
		return
	}
	if readings == nil {
		readings = []models.Reading{}
	}
	writeJSON(w, readings)
}

func (s *Server) getDrains(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	from, to, ok := parseRange(w, r)
	if !ok {
		return
	}

	drains, err := s.detectDrains(id, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to detect drains")
		logger.Error("getDrains %s: %v", id, err)
		return
	}
	writeJSON(w, drains)
}

func (s *Server) getTickets(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	from, to, ok := parseRange(w, r)
	if !ok {
		return
	}

	tickets, err := s.store.TicketsInRange(id, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load tickets")
		logger.Error("getTickets %s: %v", id, err)
		return
	}
	if tickets == nil {
		tickets = []models.TransportTicket{}
	}
	writeJSON(w, tickets)
}

func (s *Server) getOverlay(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	from, to, ok := parseRange(w, r)
	if !ok {
		return
	}

	readings, err := s.store.ReadingsInRange(id, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load readings")
		logger.Error("getOverlay %s: %v", id, err)
		return
	}

	drains := s.detectCfg.Run(readings)
	if drains == nil {
		drains = []models.DrainInterval{}
	}

	tickets, err := s.store.TicketsInRange(id, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load tickets")
		logger.Error("getOverlay %s: %v", id, err)
		return
	}
	if tickets == nil {
		tickets = []models.TransportTicket{}
	}
	if readings == nil {
		readings = []models.Reading{}
	}

	writeJSON(w, overlayResponse{
		CauldronID: id,
		Readings:   readings,
		Drains:     drains,
		Tickets:    tickets,
		Stats:      computeStats(readings),
	})
}

// detectDrains recomputes drain intervals for one cauldron's stored readings
// in [from, to].
func (s *Server) detectDrains(cauldronID string, from, to time.Time) ([]models.DrainInterval, error) {
	readings, err := s.store.ReadingsInRange(cauldronID, from, to)
	if err != nil {
		return nil, err
	}
	drains := s.detectCfg.Run(readings)
	if drains == nil {
		drains = []models.DrainInterval{}
	}
	return drains, nil
}

func computeStats(readings []models.Reading) levelStats {
	stats := levelStats{Count: len(readings)}
	if len(readings) == 0 {
		return stats
	}
	stats.MinLevel = readings[0].Level
	stats.MaxLevel = readings[0].Level
	var sum float64
	for _, r := range readings {
		sum += r.Level
		if r.Level < stats.MinLevel {
			stats.MinLevel = r.Level
		}
		if r.Level > stats.MaxLevel {
			stats.MaxLevel = r.Level
		}
	}
	stats.AvgLevel = sum / float64(len(readings))
	return stats
}

// parseRange reads optional RFC3339 start/end query parameters, defaulting to
// the whole of time. Writes a 400 and returns ok=false on malformed values.
func parseRange(w http.ResponseWriter, r *http.Request) (from, to time.Time, ok bool) {
	from = time.Unix(0, 0).UTC()
	to = time.Now().UTC()

	if v := r.URL.Query().Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid start: must be RFC3339")
			return from, to, false
		}
		from = t
	}
	if v := r.URL.Query().Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid end: must be RFC3339")
			return from, to, false
		}
		to = t
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "end must not precede start")
		return from, to, false
	}
	return from, to, true
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: msg})
}
