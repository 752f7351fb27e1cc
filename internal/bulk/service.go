// Package bulk owns the task registry and state machine for bulk
// workloads, and drives their execution against the account pool.
package bulk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"bulkbot/internal/eventbus"
	"bulkbot/internal/plan"
	"bulkbot/internal/rotation"
	"bulkbot/internal/runtime/supervisor"
	"bulkbot/pkg/logx"
)

// Service schedules and executes bulk tasks. Each executing task is one
// supervised goroutine; tasks contend only on the shared Rotator.
type Service struct {
	mu sync.Mutex

	cfg   Config
	log   logx.Logger
	bus   eventbus.Bus
	rot   *rotation.Rotator
	exec  ActionExecutor
	clock Clock
	peaks plan.PeakHours

	tasks map[string]*Task
	order []string

	sup *supervisor.Supervisor
}

type Option func(*Service)

// WithClock injects the time source (tests use a fake).
func WithClock(c Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithPeakHours overrides the activity table used by the planner.
func WithPeakHours(p PeakHoursTable) Option {
	return func(s *Service) {
		if p != nil {
			s.peaks = plan.PeakHours(p)
		}
	}
}

// PeakHoursTable mirrors plan.PeakHours so callers wiring config do not
// need to import the planner.
type PeakHoursTable map[string][]int

func New(cfg Config, log logx.Logger, bus eventbus.Bus, rot *rotation.Rotator, exec ActionExecutor, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:   cfg.withDefaults(),
		log:   log.With(logx.String("comp", "bulk")),
		bus:   bus,
		rot:   rot,
		exec:  exec,
		clock: NewClock(),
		peaks: plan.DefaultPeakHours(),
		tasks: map[string]*Task{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start is idempotent; it only prepares the goroutine supervisor.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return
	}
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))
	s.log.Info("bulk scheduler started")
}

// Stop cancels running tasks and waits for their goroutines.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()

	if sup == nil {
		return
	}
	if err := sup.Stop(ctx); err != nil {
		s.log.Warn("bulk scheduler stop timed out", logx.Err(err))
		return
	}
	s.log.Info("bulk scheduler stopped")
}

// ScheduleAddMembers plans a bulk member addition across the live pool and
// records it as SCHEDULED. Planning failures propagate to the caller.
func (s *Service) ScheduleAddMembers(group string, users []string, actionsPerHour int, zone string) (string, error) {
	if actionsPerHour <= 0 {
		actionsPerHour = s.cfg.AddActionsPerHour
	}
	if zone == "" {
		zone = s.cfg.DefaultZone
	}

	// The planner never skips an identity index, so clamp to the workload
	// size to avoid empty allocations.
	n := s.rot.LiveCount()
	if n > len(users) {
		n = len(users)
	}
	allocations, err := plan.AddMembers(len(users), n, actionsPerHour, zone, s.clock.Now(), s.peaks)
	if err != nil {
		return "", err
	}

	t := &Task{
		ID:           newTaskID("add-members"),
		Kind:         KindAddMembers,
		Zone:         zone,
		Group:        group,
		Users:        users,
		Allocations:  allocations,
		Status:       StatusScheduled,
		TotalActions: len(users),
		CreatedAt:    s.clock.Now(),
	}
	s.record(t)
	return t.ID, nil
}

// ScheduleBulkScrape plans a scrape over sources in consecutive batches.
func (s *Service) ScheduleBulkScrape(sources []string, actionsPerHour int, zone string) (string, error) {
	if actionsPerHour <= 0 {
		actionsPerHour = s.cfg.ScrapeActionsPerHour
	}
	if zone == "" {
		zone = s.cfg.DefaultZone
	}

	batches, err := plan.BulkScrape(sources, actionsPerHour, zone, s.clock.Now())
	if err != nil {
		return "", err
	}

	t := &Task{
		ID:           newTaskID("bulk-scrape"),
		Kind:         KindBulkScrape,
		Zone:         zone,
		Sources:      sources,
		Batches:      batches,
		Status:       StatusScheduled,
		TotalActions: len(sources),
		CreatedAt:    s.clock.Now(),
	}
	s.record(t)
	return t.ID, nil
}

func (s *Service) record(t *Task) {
	s.mu.Lock()
	s.tasks[t.ID] = t
	s.order = append(s.order, t.ID)
	s.mu.Unlock()

	s.log.Info("task scheduled",
		logx.String("task", t.ID),
		logx.String("kind", string(t.Kind)),
		logx.Int("total", t.TotalActions),
		logx.String("zone", t.Zone),
	)
	s.publish("task.scheduled", t)
}

// Execute transitions a SCHEDULED task to RUNNING and drives it in its own
// supervised goroutine. Executing a task in any other state is a warning,
// not an error.
func (s *Service) Execute(id string) error {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	sup := s.sup
	if sup == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	if t.Status != StatusScheduled {
		status := t.Status
		s.mu.Unlock()
		s.log.Warn("task not in SCHEDULED status, ignoring execute",
			logx.String("task", id), logx.String("status", string(status)))
		return nil
	}

	ctx, cancel := context.WithCancel(sup.Context())
	t.Status = StatusRunning
	t.StartedAt = s.clock.Now()
	t.cancel = cancel
	s.mu.Unlock()

	s.publish("task.started", t)
	sup.Go("task."+id, func(context.Context) error {
		s.run(ctx, t)
		return nil
	})
	return nil
}

// Cancel stops a running (or still scheduled) task. It lands in FAILED
// with a distinct "cancelled" reason.
func (s *Service) Cancel(id string) error {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	switch t.Status {
	case StatusRunning:
		cancel := t.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return nil
	case StatusScheduled:
		t.Status = StatusFailed
		t.Err = cancelReason
		t.CompletedAt = s.clock.Now()
		s.mu.Unlock()
		s.publish("task.cancelled", t)
		return nil
	default:
		s.mu.Unlock()
		return nil
	}
}

// Status returns the current snapshot for a task id.
func (s *Service) Status(id string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return snapshotOf(t), nil
}

// List returns snapshots in scheduling order, optionally filtered by status.
func (s *Service) List(filter *TaskStatus) []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Snapshot, 0, len(s.order))
	for _, id := range s.order {
		t := s.tasks[id]
		if filter != nil && t.Status != *filter {
			continue
		}
		out = append(out, snapshotOf(t))
	}
	return out
}

// CountByStatus is used by the maintenance sweep job.
func (s *Service) CountByStatus() map[TaskStatus]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := map[TaskStatus]int{}
	for _, t := range s.tasks {
		out[t.Status]++
	}
	return out
}

func snapshotOf(t *Task) Snapshot {
	pct := 0.0
	if t.TotalActions > 0 {
		pct = float64(t.Progress) / float64(t.TotalActions) * 100
	}
	return Snapshot{
		ID:           t.ID,
		Kind:         t.Kind,
		Status:       t.Status,
		Progress:     t.Progress,
		TotalActions: t.TotalActions,
		Percentage:   pct,
		CreatedAt:    t.CreatedAt,
		Error:        t.Err,
	}
}

func (s *Service) publish(event string, t *Task) {
	if s.bus == nil {
		return
	}
	s.mu.Lock()
	ev := TaskEvent{ID: t.ID, Kind: t.Kind, Status: t.Status, Progress: t.Progress, Total: t.TotalActions, Error: t.Err}
	s.mu.Unlock()
	s.bus.Publish(eventbus.Event{Type: event, Time: time.Now(), Data: ev})
}

func newTaskID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}
