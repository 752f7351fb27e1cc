package bulk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bulkbot/internal/plan"
	"bulkbot/pkg/logx"
)

// run drives one task to a terminal state. Per-unit failures are logged
// and absorbed; only cancellation or a contract violation escaping the
// unit boundary (a panic) aborts the task.
func (s *Service) run(ctx context.Context, t *Task) {
	defer func() {
		if p := recover(); p != nil {
			s.finish(t, fmt.Sprintf("aborted: %v", p))
		}
	}()

	var err error
	switch t.Kind {
	case KindAddMembers:
		err = s.runAddMembers(ctx, t)
	case KindBulkScrape:
		err = s.runBulkScrape(ctx, t)
	default:
		err = fmt.Errorf("unknown task kind %q", t.Kind)
	}

	if err != nil {
		reason := err.Error()
		if errors.Is(err, context.Canceled) {
			reason = cancelReason
		}
		s.finish(t, reason)
		return
	}
	s.finish(t, "")
}

func (s *Service) runAddMembers(ctx context.Context, t *Task) error {
	next := 0
	total := len(t.Users)

	for ai := range t.Allocations {
		alloc := &t.Allocations[ai]
		end := next + alloc.UserCount
		if end > total {
			end = total
		}

		for si := range alloc.Slots {
			if next >= end {
				break
			}
			slot := alloc.Slots[si]
			if err := s.waitUntil(ctx, slot.StartTime); err != nil {
				return err
			}

			// Rounding in slot targets can strand trailing items; the
			// allocation's final slot absorbs whatever is left.
			count := slot.TargetActions
			if remaining := end - next; si == len(alloc.Slots)-1 || count > remaining {
				count = remaining
			}
			pace := paceDelay(slot.Duration, slot.TargetActions)

			for k := 0; k < count; k++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				s.performUnit(ctx, t, Action{Kind: KindAddMembers, Target: t.Group, Item: t.Users[next]})
				next++
				if next < total {
					if err := s.clock.Sleep(ctx, pace); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

func (s *Service) runBulkScrape(ctx context.Context, t *Task) error {
	attempted := 0
	total := len(t.Sources)

	for _, b := range t.Batches {
		if err := s.waitUntil(ctx, b.StartTime); err != nil {
			return err
		}
		for _, src := range b.Sources {
			if err := ctx.Err(); err != nil {
				return err
			}
			s.performUnit(ctx, t, Action{Kind: KindBulkScrape, Target: src})
			attempted++
			if attempted < total {
				if err := s.clock.Sleep(ctx, plan.PerSourceCost); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// performUnit selects an account, performs one action, and reports the
// outcome back to the rotator. Failures (including an empty pool) count
// as attempted units so the task's progress always reaches its total.
func (s *Service) performUnit(ctx context.Context, t *Task, act Action) {
	defer s.advance(t)

	acc, ok := s.rot.SelectBest()
	if !ok {
		s.log.Warn("no live account available", logx.String("task", t.ID))
		return
	}

	err := s.exec.Perform(ctx, acc, act)
	if err != nil {
		s.log.Error("action failed",
			logx.String("task", t.ID),
			logx.String("phone", acc.Phone),
			logx.String("target", act.Target),
			logx.Err(err),
		)
	}
	if rerr := s.rot.ReportOutcome(acc.Phone, err == nil); rerr != nil {
		s.log.Warn("outcome report failed", logx.String("phone", acc.Phone), logx.Err(rerr))
	}
}

func (s *Service) advance(t *Task) {
	s.mu.Lock()
	if t.Progress < t.TotalActions {
		t.Progress++
	}
	s.mu.Unlock()
}

func (s *Service) waitUntil(ctx context.Context, start time.Time) error {
	d := start.Sub(s.clock.Now())
	if d <= 0 {
		return ctx.Err()
	}
	return s.clock.Sleep(ctx, d)
}

// paceDelay spreads a slot's actions evenly across its duration.
func paceDelay(slotDuration time.Duration, target int) time.Duration {
	if target <= 0 {
		return 0
	}
	return slotDuration / time.Duration(target)
}

// finish records the terminal state. An empty reason means COMPLETED.
func (s *Service) finish(t *Task, reason string) {
	s.mu.Lock()
	if t.Status != StatusRunning {
		s.mu.Unlock()
		return
	}
	if reason == "" {
		t.Status = StatusCompleted
	} else {
		t.Status = StatusFailed
		t.Err = reason
	}
	t.CompletedAt = s.clock.Now()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	progress := t.Progress
	s.mu.Unlock()

	switch {
	case reason == "":
		s.log.Info("task completed", logx.String("task", t.ID), logx.Int("progress", progress))
		s.publish("task.completed", t)
	case reason == cancelReason:
		s.log.Warn("task cancelled", logx.String("task", t.ID), logx.Int("progress", progress))
		s.publish("task.cancelled", t)
	default:
		s.log.Error("task failed", logx.String("task", t.ID), logx.String("reason", reason))
		s.publish("task.failed", t)
	}
}
