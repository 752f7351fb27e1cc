// Package plan computes time-sliced execution plans for bulk workloads.
// Everything here is pure: no clocks, no I/O, no side effects.
package plan

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoCapacity means the workload cannot be spread: zero identities,
	// or an hourly budget too small to give each identity a nonzero rate.
	ErrNoCapacity = errors.New("no capacity to distribute workload")

	// ErrInvalidTimeZone wraps a failed zone lookup.
	ErrInvalidTimeZone = errors.New("invalid time zone")
)

const staggerStep = 10 * time.Minute

// AddMembers spreads userCount users across identityCount identities.
//
// Users divide evenly (the first userCount%n identities take one extra),
// each identity's block starts staggered by 10 minutes, and each block is
// sliced into hourly slots biased by the zone's peak hours.
//
// Precondition: the caller clamps identityCount to min(n, userCount); an
// identity index is never skipped, so excess identities would produce
// empty allocations.
func AddMembers(userCount, identityCount, actionsPerHour int, zone string, now time.Time, peaks PeakHours) ([]AccountAllocation, error) {
	if identityCount <= 0 {
		return nil, ErrNoCapacity
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidTimeZone, zone, err)
	}

	perIdentityRate := actionsPerHour / identityCount
	if perIdentityRate <= 0 {
		return nil, fmt.Errorf("%w: budget %d/h across %d identities", ErrNoCapacity, actionsPerHour, identityCount)
	}

	base := userCount / identityCount
	extra := userCount % identityCount
	peakSet := peaks.Lookup(zone)
	start := now.In(loc)

	out := make([]AccountAllocation, 0, identityCount)
	for i := 0; i < identityCount; i++ {
		users := base
		if i < extra {
			users++
		}
		blockStart := start.Add(time.Duration(i) * staggerStep)
		hoursNeeded := float64(users) / float64(perIdentityRate)

		out = append(out, AccountAllocation{
			AccountIndex:   i,
			UserCount:      users,
			StartTime:      blockStart,
			HoursNeeded:    hoursNeeded,
			ActionsPerHour: perIdentityRate,
			Slots:          timeSlots(blockStart, hoursNeeded, perIdentityRate, peakSet),
		})
	}
	return out, nil
}

// BulkScrape partitions sources into consecutive batches of
// max(1, len/actionsPerHour), batch k starting k minutes after now.
func BulkScrape(sources []string, actionsPerHour int, zone string, now time.Time) ([]BatchAllocation, error) {
	if actionsPerHour <= 0 {
		return nil, fmt.Errorf("%w: non-positive hourly budget", ErrNoCapacity)
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidTimeZone, zone, err)
	}

	batchSize := len(sources) / actionsPerHour
	if batchSize < 1 {
		batchSize = 1
	}
	start := now.In(loc)

	var out []BatchAllocation
	for i := 0; i < len(sources); i += batchSize {
		end := i + batchSize
		if end > len(sources) {
			end = len(sources)
		}
		idx := i / batchSize
		out = append(out, BatchAllocation{
			BatchIndex:        idx,
			Sources:           sources[i:end],
			StartTime:         start.Add(time.Duration(idx) * time.Minute),
			EstimatedDuration: time.Duration(end-i) * PerSourceCost,
		})
	}
	return out, nil
}

// Guard against float drift leaving a zero-width trailing slot.
const hoursEpsilon = 1e-9

// timeSlots walks forward in hourly steps from start, sizing each slot's
// target by the local hour's peak status and clamping to what is left so
// the plan never overshoots the allocation.
func timeSlots(start time.Time, hoursNeeded float64, baseRate int, peakSet map[int]bool) []TimeSlot {
	var slots []TimeSlot
	cur := start
	remaining := hoursNeeded

	for remaining > hoursEpsilon {
		dur := remaining
		if dur > 1.0 {
			dur = 1.0
		}

		peak := peakSet[cur.Hour()]
		var target int
		if peak {
			target = int(float64(baseRate) * 1.2)
		} else {
			target = int(float64(baseRate) * 0.8)
		}
		if left := int(remaining * float64(baseRate)); target > left {
			target = left
		}

		slots = append(slots, TimeSlot{
			StartTime:     cur,
			Duration:      time.Duration(dur * float64(time.Hour)),
			TargetActions: target,
			Peak:          peak,
		})

		cur = cur.Add(time.Hour)
		remaining -= dur
	}
	return slots
}
