package plan

import "time"

// AccountAllocation is one identity's share of an add-members workload:
// how many users it handles and the hourly slots it works through.
type AccountAllocation struct {
	AccountIndex   int
	UserCount      int
	StartTime      time.Time
	HoursNeeded    float64
	ActionsPerHour int
	Slots          []TimeSlot
}

// TimeSlot is a bounded window (at most one hour) with a target action
// count, biased up during peak hours and down off-peak.
type TimeSlot struct {
	StartTime     time.Time
	Duration      time.Duration
	TargetActions int
	Peak          bool
}

// BatchAllocation is one consecutive batch of scrape sources.
//
// EstimatedDuration is a fixed per-source cost (two minutes each), not
// derived from the throughput budget. That matches how the pacing delay
// between scrapes works at execution time.
type BatchAllocation struct {
	BatchIndex        int
	Sources           []string
	StartTime         time.Time
	EstimatedDuration time.Duration
}

// PerSourceCost is the assumed wall-clock cost of scraping one source.
const PerSourceCost = 2 * time.Minute
