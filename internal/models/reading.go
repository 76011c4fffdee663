// Package models defines the core domain entities for cauldronwatch.
// These models represent cauldron level readings, transport tickets, and
// detected drain intervals. All models include built-in validation to ensure
// data integrity throughout the application.
//
// Terminology (matching the brewery telemetry API's own naming):
//   - Reading: one sampled fill level (liters) of one cauldron.
//   - Transport ticket: a courier pickup that collected a volume from a
//     cauldron on a given date.
//   - Drain: a sustained, non-noise decrease in a cauldron's level.
package models

import (
	"errors"
	"time"
)

// Reading represents a single sampled level for one cauldron.
// Readings are immutable once loaded; a cauldron's readings must be sorted
// ascending by timestamp before drain detection runs over them.
type Reading struct {
	CauldronID string    `json:"cauldron_id"`
	Timestamp  time.Time `json:"timestamp"`
	Level      float64   `json:"level"` // liters
}

// Validate checks that all reading fields are valid.
func (r *Reading) Validate() error {
	if r.CauldronID == "" {
		return errors.New("cauldron ID must not be empty")
	}
	if r.Timestamp.IsZero() {
		return errors.New("timestamp must not be zero")
	}
	if r.Timestamp.After(time.Now().Add(time.Minute)) {
		return errors.New("timestamp must not be in the future")
	}
	if r.Level < 0 {
		return errors.New("level must not be negative")
	}
	return nil
}
