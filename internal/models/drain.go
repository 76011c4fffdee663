package models

import (
	"errors"
	"time"
)

// DrainInterval represents one detected drain: a contiguous span of a
// cauldron's level series over which the smoothed level fell by at least the
// configured minimum drop. Indices refer to positions in the reading slice
// the detector was given; StartLevel and EndLevel carry the raw (unsmoothed)
// levels at those indices. Intervals are never persisted; they are recomputed
// from stored readings on every query.
type DrainInterval struct {
	StartIndex int       `json:"start_index"`
	EndIndex   int       `json:"end_index"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	StartLevel float64   `json:"start_level"`
	EndLevel   float64   `json:"end_level"`
}

// Validate checks that all interval fields are valid.
func (d *DrainInterval) Validate() error {
	if d.StartIndex < 0 {
		return errors.New("start index must not be negative")
	}
	if d.StartIndex >= d.EndIndex {
		return errors.New("start index must be less than end index")
	}
	if d.StartTime.IsZero() || d.EndTime.IsZero() {
		return errors.New("interval timestamps must not be zero")
	}
	if d.EndTime.Before(d.StartTime) {
		return errors.New("end time must not precede start time")
	}
	return nil
}

// Duration returns the wall-clock span of the interval.
func (d *DrainInterval) Duration() time.Duration {
	return d.EndTime.Sub(d.StartTime)
}

// Drop returns the raw level drop across the interval.
func (d *DrainInterval) Drop() float64 {
	return d.StartLevel - d.EndLevel
}

// DrainAlert represents a detected drain queued for notification.
type DrainAlert struct {
	ID         string        `json:"id"`
	CauldronID string        `json:"cauldron_id"`
	Interval   DrainInterval `json:"interval"`
	TotalDrop  float64       `json:"total_drop"` // smoothed drop that crossed the threshold
	DetectedAt time.Time     `json:"detected_at"`
	Notified   bool          `json:"notified"`
}

// Validate checks that all alert fields are valid.
func (a *DrainAlert) Validate() error {
	if a.ID == "" {
		return errors.New("alert ID must not be empty")
	}
	if a.CauldronID == "" {
		return errors.New("cauldron ID must not be empty")
	}
	if a.TotalDrop <= 0 {
		return errors.New("total drop must be positive")
	}
	if a.DetectedAt.IsZero() {
		return errors.New("detected at must not be zero")
	}
	return a.Interval.Validate()
}
