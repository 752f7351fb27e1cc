package bulk

import (
	"context"
	"time"

	"bulkbot/internal/plan"
	"bulkbot/internal/rotation"
)

type Kind string

const (
	KindAddMembers Kind = "ADD_MEMBERS"
	KindBulkScrape Kind = "BULK_SCRAPE"
)

// TaskStatus transitions are monotonic:
// SCHEDULED -> RUNNING -> {COMPLETED, FAILED}.
type TaskStatus string

const (
	StatusScheduled TaskStatus = "SCHEDULED"
	StatusRunning   TaskStatus = "RUNNING"
	StatusCompleted TaskStatus = "COMPLETED"
	StatusFailed    TaskStatus = "FAILED"
)

// Action is one unit of platform work handed to the ActionExecutor.
type Action struct {
	Kind   Kind
	Target string // group for adds, source for scrapes
	Item   string // user for adds, empty for scrapes
}

// ActionExecutor performs the actual platform call. The scheduler treats
// it as opaque: possibly slow, possibly failing, never retried in-core.
type ActionExecutor interface {
	Perform(ctx context.Context, account rotation.Account, act Action) error
}

// Clock abstracts time so tests can drive slot waits and pacing instantly.
// Sleep returns early with ctx.Err() when the context is canceled.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// Config carries scheduling defaults applied when a caller passes a
// non-positive budget.
type Config struct {
	AddActionsPerHour    int
	ScrapeActionsPerHour int
	DefaultZone          string
}

func (c Config) withDefaults() Config {
	if c.AddActionsPerHour <= 0 {
		c.AddActionsPerHour = 200
	}
	if c.ScrapeActionsPerHour <= 0 {
		c.ScrapeActionsPerHour = 100
	}
	if c.DefaultZone == "" {
		c.DefaultZone = "UTC"
	}
	return c
}

// Task is the scheduler's record of one bulk workload. It is owned by the
// Service and guarded by its mutex; the executing goroutine is the only
// writer while RUNNING.
type Task struct {
	ID   string
	Kind Kind
	Zone string

	Group   string
	Users   []string
	Sources []string

	Allocations []plan.AccountAllocation
	Batches     []plan.BatchAllocation

	Status       TaskStatus
	Progress     int
	TotalActions int

	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	Err         string

	cancel context.CancelFunc
}

// Snapshot is the externally visible view of a task.
type Snapshot struct {
	ID           string
	Kind         Kind
	Status       TaskStatus
	Progress     int
	TotalActions int
	Percentage   float64
	CreatedAt    time.Time
	Error        string
}

// TaskEvent rides the event bus on task lifecycle changes.
type TaskEvent struct {
	ID       string     `json:"id"`
	Kind     Kind       `json:"kind"`
	Status   TaskStatus `json:"status"`
	Progress int        `json:"progress"`
	Total    int        `json:"total"`
	Error    string     `json:"error,omitempty"`
}

// NewClock returns the wall-clock implementation.
func NewClock() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
