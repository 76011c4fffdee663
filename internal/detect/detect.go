// Package detect implements drain detection over a cauldron's level series.
//
// A drain is a sustained, non-noise decrease in level. Detection is a
// two-stage pass over one cauldron's chronologically sorted readings:
//
//  1. Smooth the raw levels with a centered rolling mean (windowSize samples
//     on each side) to suppress sensor noise. Smoothed values exist only for
//     interior indices [windowSize, n-windowSize).
//  2. Scan consecutive smoothed pairs. A step down of more than slopeEpsilon
//     opens a candidate drain; the first flat or rising step closes it. A
//     closed candidate is reported only when its total smoothed drop is at
//     least minDrop.
//
// minDrop is applied only at close, so brief deep dips narrower than the
// window are smoothed away and never considered. A candidate still open when
// the scan range ends is discarded: its shape is not final until the decline
// visibly stops, and reporting it would produce an interval whose end point
// moves on every new poll.
//
// Detection is a pure function of its inputs. It holds no state, allocates
// only call-scoped data, and is safe to call concurrently.
package detect

import (
	"math"

	"github.com/witchbrew/cauldronwatch/internal/models"
)

// Detect segments readings into drain intervals.
//
// readings must be sorted ascending by timestamp. windowSize is the number of
// samples averaged on each side of a center point. Returns nil when
// windowSize < 1 or the series is shorter than 2*windowSize+1; degenerate
// input is not an error.
//
// Reported intervals carry the raw (unsmoothed) levels at their boundary
// indices, are non-overlapping, and are ordered by StartIndex.
func Detect(readings []models.Reading, windowSize int, slopeEpsilon, minDrop float64) []models.DrainInterval {
	n := len(readings)
	if windowSize < 1 || n < 2*windowSize+1 {
		return nil
	}

	smoothed := Smooth(readings, windowSize)

	var intervals []models.DrainInterval
	inDrain := false
	var startIndex int
	var startValue float64

	for i := windowSize + 1; i < n-windowSize; i++ {
		falling := smoothed[i] < smoothed[i-1]-slopeEpsilon

		switch {
		case falling && !inDrain:
			inDrain = true
			startIndex = i
			startValue = smoothed[i]

		case !falling && inDrain:
			if startValue-smoothed[i-1] >= minDrop {
				intervals = append(intervals, newInterval(readings, startIndex, i-1))
			}
			inDrain = false
		}
	}

	// An open candidate at this point is dropped, never flushed.
	return intervals
}

// Smooth computes the centered rolling mean of the readings' levels using an
// incremental sliding-window sum (O(n) regardless of window size). The result
// has the same length as readings; entries outside [windowSize, n-windowSize)
// have no defined mean and are NaN.
func Smooth(readings []models.Reading, windowSize int) []float64 {
	n := len(readings)
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	if windowSize < 1 || n < 2*windowSize+1 {
		return out
	}

	span := 2*windowSize + 1
	var sum float64
	for i := 0; i < span; i++ {
		sum += readings[i].Level
	}
	out[windowSize] = sum / float64(span)

	for i := windowSize + 1; i < n-windowSize; i++ {
		sum += readings[i+windowSize].Level - readings[i-windowSize-1].Level
		out[i] = sum / float64(span)
	}
	return out
}

func newInterval(readings []models.Reading, start, end int) models.DrainInterval {
	return models.DrainInterval{
		StartIndex: start,
		EndIndex:   end,
		StartTime:  readings[start].Timestamp,
		EndTime:    readings[end].Timestamp,
		StartLevel: readings[start].Level,
		EndLevel:   readings[end].Level,
	}
}

// Config holds detection parameters with an adaptive smoothing window.
type Config struct {
	WindowCap     int     // upper bound on the adaptive window, samples per side
	WindowDivisor int     // window candidate is n/WindowDivisor
	SlopeEpsilon  float64 // per-step smoothed decrease below this is noise
	MinDrop       float64 // minimum total smoothed drop to report, liters
}

// DefaultConfig returns the detection parameters used when none are configured.
func DefaultConfig() Config {
	return Config{
		WindowCap:     5,
		WindowDivisor: 10,
		SlopeEpsilon:  0.1,
		MinDrop:       5.0,
	}
}

// WindowFor returns the smoothing window for a series of n readings:
// min(WindowCap, n/WindowDivisor), further capped so the smoothed interior
// is non-empty. Returns 0 when the series is too short for any window, in
// which case detection must be skipped.
func (c Config) WindowFor(n int) int {
	if c.WindowDivisor < 1 {
		return 0
	}
	w := n / c.WindowDivisor
	if w > c.WindowCap {
		w = c.WindowCap
	}
	if 2*w+1 > n {
		w = (n - 1) / 2
	}
	if w < 1 {
		return 0
	}
	return w
}

// Run applies the adaptive window and detects drains in readings.
func (c Config) Run(readings []models.Reading) []models.DrainInterval {
	w := c.WindowFor(len(readings))
	if w == 0 {
		return nil
	}
	return Detect(readings, w, c.SlopeEpsilon, c.MinDrop)
}
