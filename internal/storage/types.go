package storage

import (
	"errors"
	"time"
)

// ErrDisabled is returned by operations on a closed or nil-backed store.
var ErrDisabled = errors.New("storage disabled")

// Config selects and tunes the backend.
type Config struct {
	// Driver: "none" (or empty), "file", "sqlite".
	Driver string
	Path   string

	// BusyTimeout applies to the sqlite driver only.
	BusyTimeout time.Duration
}

// AuditEntry is one operational event worth keeping.
type AuditEntry struct {
	At     time.Time `json:"at"`
	Event  string    `json:"event"`
	TaskID string    `json:"task_id,omitempty"`
	Phone  string    `json:"phone,omitempty"`
	Detail string    `json:"detail,omitempty"`
}

// PoolStatsEntry is a point-in-time aggregate of the identity pool.
type PoolStatsEntry struct {
	At             time.Time `json:"at"`
	Total          int       `json:"total"`
	Live           int       `json:"live"`
	Banned         int       `json:"banned"`
	AvgSuccessRate float64   `json:"avg_success_rate"`
}
