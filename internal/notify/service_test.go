package notify

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"bulkbot/internal/bulk"
	"bulkbot/internal/eventbus"
	"bulkbot/internal/rotation"
	"bulkbot/pkg/logx"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []string
}

func (r *recordingSender) Send(_ context.Context, text string) error {
	r.mu.Lock()
	r.sent = append(r.sent, text)
	r.mu.Unlock()
	return nil
}

func (r *recordingSender) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.sent))
	copy(out, r.sent)
	return out
}

func TestFormatEvent(t *testing.T) {
	cases := []struct {
		ev   eventbus.Event
		want string
	}{
		{
			eventbus.Event{Type: "task.completed", Data: bulk.TaskEvent{ID: "t1", Progress: 10, Total: 10}},
			"task t1 completed (10/10)",
		},
		{
			eventbus.Event{Type: "task.failed", Data: bulk.TaskEvent{ID: "t2", Progress: 3, Total: 10, Error: "aborted: boom"}},
			"task t2 FAILED (3/10): aborted: boom",
		},
		{
			eventbus.Event{Type: "task.cancelled", Data: bulk.TaskEvent{ID: "t3", Progress: 5, Total: 10}},
			"task t3 cancelled at 5/10",
		},
		{
			eventbus.Event{Type: "account.banned", Data: rotation.AccountEvent{Phone: "+1555"}},
			"account +1555 BANNED",
		},
		{
			eventbus.Event{Type: "account.flood_wait", Data: rotation.AccountEvent{Phone: "+1555"}},
			"account +1555 hit flood wait",
		},
		{
			eventbus.Event{Type: "account.unauthorized", Data: rotation.AccountEvent{Phone: "+1555"}},
			"account +1555 session unauthorized",
		},
		// Noise the ops chat does not want.
		{eventbus.Event{Type: "task.scheduled", Data: bulk.TaskEvent{ID: "t4"}}, ""},
		{eventbus.Event{Type: "task.started", Data: bulk.TaskEvent{ID: "t4"}}, ""},
		{eventbus.Event{Type: "config.reloaded", Data: "x"}, ""},
	}
	for _, c := range cases {
		if got := formatEvent(c.ev); got != c.want {
			t.Fatalf("formatEvent(%s) = %q, want %q", c.ev.Type, got, c.want)
		}
	}
}

func TestServiceForwardsEvents(t *testing.T) {
	bus := eventbus.New()
	sender := &recordingSender{}
	s := New(Config{Enabled: true, RatePerSec: 100}, sender, logx.Nop(), bus)

	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop(ctx)

	bus.Publish(eventbus.Event{Type: "task.completed", Data: bulk.TaskEvent{ID: "t1", Progress: 2, Total: 2}})
	bus.Publish(eventbus.Event{Type: "task.started", Data: bulk.TaskEvent{ID: "t1"}})
	bus.Publish(eventbus.Event{Type: "account.banned", Data: rotation.AccountEvent{Phone: "+1555"}})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(sender.messages()) >= 2 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	got := sender.messages()
	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2: %v", len(got), got)
	}
	if !strings.Contains(got[0], "t1 completed") || !strings.Contains(got[1], "+1555 BANNED") {
		t.Fatalf("messages wrong: %v", got)
	}
}

func TestServiceDisabledDoesNotSubscribe(t *testing.T) {
	bus := eventbus.New()
	sender := &recordingSender{}
	s := New(Config{Enabled: false}, sender, logx.Nop(), bus)

	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop(ctx)

	bus.Publish(eventbus.Event{Type: "task.completed", Data: bulk.TaskEvent{ID: "t1"}})
	time.Sleep(20 * time.Millisecond)
	if n := len(sender.messages()); n != 0 {
		t.Fatalf("disabled notifier sent %d messages", n)
	}
}

func TestApplyDefaultsRate(t *testing.T) {
	s := New(Config{Enabled: true}, &recordingSender{}, logx.Nop(), eventbus.New())
	if s.cfg.RatePerSec != 3 {
		t.Fatalf("default rate %d, want 3", s.cfg.RatePerSec)
	}
	s.Apply(Config{Enabled: true, RatePerSec: 10})
	if s.cfg.RatePerSec != 10 || s.limiter.Limit() != 10 {
		t.Fatalf("apply did not take: %+v", s.cfg)
	}
}
