package bulk

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bulkbot/internal/eventbus"
	"bulkbot/internal/plan"
	"bulkbot/internal/rotation"
	"bulkbot/pkg/logx"
)

// fakeClock advances instantly on Sleep so multi-hour plans run in
// microseconds. Safe for concurrent use by the task goroutine and the test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d > 0 {
		c.mu.Lock()
		c.now = c.now.Add(d)
		c.mu.Unlock()
	}
	return nil
}

// recordingExec captures every action it is asked to perform.
type recordingExec struct {
	mu   sync.Mutex
	acts []Action
	fail bool
}

func (e *recordingExec) Perform(_ context.Context, _ rotation.Account, act Action) error {
	e.mu.Lock()
	e.acts = append(e.acts, act)
	e.mu.Unlock()
	if e.fail {
		return errors.New("platform rejected action")
	}
	return nil
}

func (e *recordingExec) calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.acts)
}

func (e *recordingExec) actions() []Action {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Action, len(e.acts))
	copy(out, e.acts)
	return out
}

// blockingExec parks on its first Perform until the context is canceled.
type blockingExec struct {
	once    sync.Once
	started chan struct{}
}

func newBlockingExec() *blockingExec {
	return &blockingExec{started: make(chan struct{})}
}

func (e *blockingExec) Perform(ctx context.Context, _ rotation.Account, _ Action) error {
	e.once.Do(func() { close(e.started) })
	<-ctx.Done()
	return ctx.Err()
}

func newTestService(t *testing.T, bus eventbus.Bus, exec ActionExecutor, phones ...string) (*Service, *fakeClock, *rotation.Rotator) {
	t.Helper()
	clk := &fakeClock{now: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)}
	rot := rotation.New(logx.Nop(), bus, rotation.WithNow(clk.Now))
	for _, p := range phones {
		if err := rot.Register(p, "sess-"+p, ""); err != nil {
			t.Fatalf("register %s: %v", p, err)
		}
	}
	s := New(Config{}, logx.Nop(), bus, rot, exec, WithClock(clk))
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s, clk, rot
}

func waitTerminal(t *testing.T, s *Service, id string) Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := s.Status(id)
		if err != nil {
			t.Fatalf("status %s: %v", id, err)
		}
		if snap.Status == StatusCompleted || snap.Status == StatusFailed {
			return snap
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("task %s never reached a terminal state", id)
	return Snapshot{}
}

func TestScheduleAddMembersClampsToPool(t *testing.T) {
	s, _, _ := newTestService(t, nil, &recordingExec{}, "p1", "p2", "p3")

	id, err := s.ScheduleAddMembers("grp", []string{"u1", "u2"}, 60, "UTC")
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	s.mu.Lock()
	allocs := s.tasks[id].Allocations
	s.mu.Unlock()
	// 2 users across 3 live accounts: only 2 identities get work.
	if len(allocs) != 2 {
		t.Fatalf("got %d allocations, want 2", len(allocs))
	}
}

func TestScheduleAddMembersDefaults(t *testing.T) {
	s, _, _ := newTestService(t, nil, &recordingExec{}, "p1", "p2")

	id, err := s.ScheduleAddMembers("grp", manyUsers(10), 0, "")
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	s.mu.Lock()
	task := s.tasks[id]
	zone, rate := task.Zone, task.Allocations[0].ActionsPerHour
	s.mu.Unlock()
	if zone != "UTC" {
		t.Fatalf("default zone %q, want UTC", zone)
	}
	// Default budget 200/h split across 2 identities.
	if rate != 100 {
		t.Fatalf("per-identity rate %d, want 100", rate)
	}
}

func TestScheduleAddMembersEmptyPool(t *testing.T) {
	s, _, _ := newTestService(t, nil, &recordingExec{})

	if _, err := s.ScheduleAddMembers("grp", manyUsers(5), 100, "UTC"); !errors.Is(err, plan.ErrNoCapacity) {
		t.Fatalf("got %v, want ErrNoCapacity", err)
	}
}

func TestScheduleBadZone(t *testing.T) {
	s, _, _ := newTestService(t, nil, &recordingExec{}, "p1")

	if _, err := s.ScheduleAddMembers("grp", manyUsers(5), 100, "Nope/Zone"); !errors.Is(err, plan.ErrInvalidTimeZone) {
		t.Fatalf("add: got %v, want ErrInvalidTimeZone", err)
	}
	if _, err := s.ScheduleBulkScrape([]string{"src"}, 100, "Nope/Zone"); !errors.Is(err, plan.ErrInvalidTimeZone) {
		t.Fatalf("scrape: got %v, want ErrInvalidTimeZone", err)
	}
}

func TestExecuteUnknownTask(t *testing.T) {
	s, _, _ := newTestService(t, nil, &recordingExec{}, "p1")
	if err := s.Execute("add-members-missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	if _, err := s.Status("add-members-missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("status: got %v, want ErrNotFound", err)
	}
}

func TestExecuteBeforeStart(t *testing.T) {
	rot := rotation.New(logx.Nop(), nil)
	if err := rot.Register("p1", "s1", ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	s := New(Config{}, logx.Nop(), nil, rot, &recordingExec{})

	id, err := s.ScheduleAddMembers("grp", manyUsers(3), 30, "UTC")
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := s.Execute(id); !errors.Is(err, ErrStopped) {
		t.Fatalf("got %v, want ErrStopped", err)
	}
}

func TestAddMembersRunsToCompletion(t *testing.T) {
	exec := &recordingExec{}
	s, _, rot := newTestService(t, nil, exec, "p1", "p2")

	users := manyUsers(25)
	id, err := s.ScheduleAddMembers("grp", users, 10, "UTC")
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := s.Execute(id); err != nil {
		t.Fatalf("execute: %v", err)
	}

	snap := waitTerminal(t, s, id)
	if snap.Status != StatusCompleted {
		t.Fatalf("status %s (err %q), want COMPLETED", snap.Status, snap.Error)
	}
	if snap.Progress != 25 || snap.Percentage != 100 {
		t.Fatalf("progress %d (%.1f%%), want 25 (100%%)", snap.Progress, snap.Percentage)
	}
	if exec.calls() != 25 {
		t.Fatalf("executor performed %d actions, want 25", exec.calls())
	}
	seen := map[string]bool{}
	for _, a := range exec.actions() {
		if a.Kind != KindAddMembers || a.Target != "grp" {
			t.Fatalf("unexpected action %+v", a)
		}
		seen[a.Item] = true
	}
	for _, u := range users {
		if !seen[u] {
			t.Fatalf("user %s never attempted", u)
		}
	}

	attempts := 0
	for _, a := range rot.ByStatus(rotation.StatusLive) {
		attempts += a.TotalActions
	}
	if attempts != 25 {
		t.Fatalf("rotator recorded %d attempts, want 25", attempts)
	}
}

func TestAddMembersAllFailuresStillCompletes(t *testing.T) {
	exec := &recordingExec{fail: true}
	s, _, rot := newTestService(t, nil, exec, "p1")

	id, err := s.ScheduleAddMembers("grp", manyUsers(8), 8, "UTC")
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := s.Execute(id); err != nil {
		t.Fatalf("execute: %v", err)
	}

	snap := waitTerminal(t, s, id)
	if snap.Status != StatusCompleted {
		t.Fatalf("status %s, want COMPLETED (failures are per-unit, not fatal)", snap.Status)
	}
	if snap.Progress != 8 {
		t.Fatalf("progress %d, want 8", snap.Progress)
	}
	accs := rot.ByStatus(rotation.StatusLive)
	if len(accs) != 1 || accs[0].SuccessfulActions != 0 || accs[0].TotalActions != 8 {
		t.Fatalf("outcome bookkeeping wrong: %+v", accs)
	}
}

func TestAddMembersPoolDrainedMidTask(t *testing.T) {
	exec := &recordingExec{}
	s, _, rot := newTestService(t, nil, exec, "p1")

	id, err := s.ScheduleAddMembers("grp", manyUsers(4), 4, "UTC")
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	// Bans after planning leave no live account: every unit fails softly
	// and progress still reaches the total.
	if err := rot.MarkBanned("p1"); err != nil {
		t.Fatalf("ban: %v", err)
	}
	if err := s.Execute(id); err != nil {
		t.Fatalf("execute: %v", err)
	}

	snap := waitTerminal(t, s, id)
	if snap.Status != StatusCompleted || snap.Progress != 4 {
		t.Fatalf("got %s progress %d, want COMPLETED 4", snap.Status, snap.Progress)
	}
	if exec.calls() != 0 {
		t.Fatalf("executor ran %d actions with an empty pool", exec.calls())
	}
}

func TestBulkScrapeRunsToCompletion(t *testing.T) {
	exec := &recordingExec{}
	s, _, _ := newTestService(t, nil, exec, "p1", "p2")

	sources := []string{"s1", "s2", "s3", "s4", "s5", "s6"}
	id, err := s.ScheduleBulkScrape(sources, 3, "UTC")
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := s.Execute(id); err != nil {
		t.Fatalf("execute: %v", err)
	}

	snap := waitTerminal(t, s, id)
	if snap.Status != StatusCompleted || snap.Progress != 6 {
		t.Fatalf("got %s progress %d, want COMPLETED 6", snap.Status, snap.Progress)
	}
	acts := exec.actions()
	if len(acts) != 6 {
		t.Fatalf("executor performed %d actions, want 6", len(acts))
	}
	for i, a := range acts {
		if a.Kind != KindBulkScrape || a.Target != sources[i] || a.Item != "" {
			t.Fatalf("action %d unexpected: %+v", i, a)
		}
	}
}

func TestCancelRunningTask(t *testing.T) {
	exec := newBlockingExec()
	s, _, _ := newTestService(t, nil, exec, "p1")

	id, err := s.ScheduleAddMembers("grp", manyUsers(5), 5, "UTC")
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := s.Execute(id); err != nil {
		t.Fatalf("execute: %v", err)
	}
	<-exec.started
	if err := s.Cancel(id); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	snap := waitTerminal(t, s, id)
	if snap.Status != StatusFailed || snap.Error != "cancelled" {
		t.Fatalf("got %s %q, want FAILED cancelled", snap.Status, snap.Error)
	}
	// The in-flight unit counts as attempted, nothing after it ran.
	if snap.Progress != 1 {
		t.Fatalf("progress %d, want 1", snap.Progress)
	}
}

func TestCancelScheduledTask(t *testing.T) {
	exec := &recordingExec{}
	s, _, _ := newTestService(t, nil, exec, "p1")

	id, err := s.ScheduleAddMembers("grp", manyUsers(3), 3, "UTC")
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := s.Cancel(id); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	snap, err := s.Status(id)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if snap.Status != StatusFailed || snap.Error != "cancelled" {
		t.Fatalf("got %s %q, want FAILED cancelled", snap.Status, snap.Error)
	}

	// Executing or re-cancelling a finished task is a no-op.
	if err := s.Execute(id); err != nil {
		t.Fatalf("execute after cancel: %v", err)
	}
	if err := s.Cancel(id); err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if exec.calls() != 0 {
		t.Fatalf("cancelled task still performed %d actions", exec.calls())
	}
	if err := s.Cancel("bulk-scrape-missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cancel unknown: got %v, want ErrNotFound", err)
	}
}

func TestExecuteCompletedTaskIgnored(t *testing.T) {
	exec := &recordingExec{}
	s, _, _ := newTestService(t, nil, exec, "p1")

	id, err := s.ScheduleAddMembers("grp", manyUsers(2), 2, "UTC")
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := s.Execute(id); err != nil {
		t.Fatalf("execute: %v", err)
	}
	waitTerminal(t, s, id)

	before := exec.calls()
	if err := s.Execute(id); err != nil {
		t.Fatalf("second execute: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if exec.calls() != before {
		t.Fatalf("completed task re-ran: %d -> %d actions", before, exec.calls())
	}
}

func TestListAndCountByStatus(t *testing.T) {
	s, _, _ := newTestService(t, nil, &recordingExec{}, "p1")

	id1, err := s.ScheduleAddMembers("grp", manyUsers(3), 3, "UTC")
	if err != nil {
		t.Fatalf("schedule 1: %v", err)
	}
	id2, err := s.ScheduleBulkScrape([]string{"a", "b"}, 2, "UTC")
	if err != nil {
		t.Fatalf("schedule 2: %v", err)
	}

	all := s.List(nil)
	if len(all) != 2 || all[0].ID != id1 || all[1].ID != id2 {
		t.Fatalf("list order wrong: %+v", all)
	}

	if err := s.Cancel(id2); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	failed := StatusFailed
	got := s.List(&failed)
	if len(got) != 1 || got[0].ID != id2 {
		t.Fatalf("filtered list wrong: %+v", got)
	}

	counts := s.CountByStatus()
	if counts[StatusScheduled] != 1 || counts[StatusFailed] != 1 {
		t.Fatalf("counts wrong: %v", counts)
	}
}

func TestTaskEventsPublished(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(32)
	defer unsub()

	exec := &recordingExec{}
	s, _, _ := newTestService(t, bus, exec, "p1")

	id, err := s.ScheduleAddMembers("grp", manyUsers(2), 2, "UTC")
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := s.Execute(id); err != nil {
		t.Fatalf("execute: %v", err)
	}
	waitTerminal(t, s, id)

	want := []string{"task.scheduled", "task.started", "task.completed"}
	var got []string
	deadline := time.After(2 * time.Second)
	for len(got) < len(want) {
		select {
		case ev := <-ch:
			got = append(got, ev.Type)
			if te, ok := ev.Data.(TaskEvent); !ok || te.ID != id {
				t.Fatalf("event %s carries wrong payload: %+v", ev.Type, ev.Data)
			}
		case <-deadline:
			t.Fatalf("events %v never arrived, got %v", want, got)
		}
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event order %v, want %v", got, want)
		}
	}
}

func TestServiceStartStopIdempotent(t *testing.T) {
	rot := rotation.New(logx.Nop(), nil)
	s := New(Config{}, logx.Nop(), nil, rot, &recordingExec{})

	ctx := context.Background()
	s.Start(ctx)
	s.Start(ctx)
	s.Stop(ctx)
	s.Stop(ctx)
}

func manyUsers(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = "user" + string(rune('0'+i%10)) + "x" + string(rune('a'+i/10))
	}
	return out
}
