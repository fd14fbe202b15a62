package domain

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// clock supplies "now" for run selection.
var clock = clockwork.NewRealClock()

// SetClock replaces the clock used by SelectRun; nil restores the real clock.
func SetClock(c clockwork.Clock) {
	if c == nil {
		c = clockwork.NewRealClock()
	}
	clock = c
}

// RunSelector picks a model run. A nil Hour selects the latest published run.
type RunSelector struct {
	Hour     *int
	PastDays int
}

// SelectRun resolves the run reference time for a grid, using the package
// clock for "today" and "latest".
func SelectRun(grid Grid, sel RunSelector) (time.Time, error) {
	if grid.UpdateIntervalHours <= 0 || 24%grid.UpdateIntervalHours != 0 {
		return time.Time{}, fmt.Errorf("%w: domain %s has update interval %dh", ErrInvalidArgument, grid.Name, grid.UpdateIntervalHours)
	}
	if sel.PastDays < 0 {
		return time.Time{}, fmt.Errorf("%w: past days must not be negative, got %d", ErrInvalidArgument, sel.PastDays)
	}

	now := clock.Now().UTC()
	var run time.Time
	if sel.Hour != nil {
		hour := *sel.Hour
		if hour < 0 || hour > 23 || hour%grid.UpdateIntervalHours != 0 {
			return time.Time{}, fmt.Errorf("%w: run hour %d is not a %dh run of %s",
				ErrInvalidArgument, hour, grid.UpdateIntervalHours, grid.Name)
		}
		run = now.Truncate(24 * time.Hour).Add(time.Duration(hour) * time.Hour)
	} else {
		interval := time.Duration(grid.UpdateIntervalHours) * time.Hour
		run = now.Add(-grid.AvailabilityDelay).Truncate(interval)
	}
	return run.AddDate(0, 0, -sel.PastDays), nil
}

// RingTimeRange is the half-open range of absolute time slots a run covers.
type RingTimeRange struct {
	Start int64
	End   int64
}

// NewRingTimeRange computes the slot range of a run with nTime steps.
func NewRingTimeRange(run time.Time, timeStepSeconds int64, nTime int) RingTimeRange {
	start := run.Unix() / timeStepSeconds
	return RingTimeRange{Start: start, End: start + int64(nTime)}
}

// Len returns the number of slots in the range.
func (r RingTimeRange) Len() int {
	return int(r.End - r.Start)
}

func (r RingTimeRange) String() string {
	return fmt.Sprintf("[%d, %d)", r.Start, r.End)
}
