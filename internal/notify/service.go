// Package notify pushes task and account lifecycle events to an ops chat.
package notify

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"bulkbot/internal/bulk"
	"bulkbot/internal/eventbus"
	"bulkbot/internal/rotation"
	"bulkbot/internal/runtime/supervisor"
	"bulkbot/pkg/logx"
)

type Config struct {
	Enabled    bool
	RatePerSec int
}

// Sender is the outbound transport. Production wires the Telegram
// adapter; tests wire a recorder.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// Service subscribes to the event bus and forwards noteworthy events,
// throttled so a burst of failures cannot flood the ops chat.
type Service struct {
	mu sync.Mutex

	cfg     Config
	log     logx.Logger
	bus     eventbus.Bus
	sender  Sender
	limiter *rate.Limiter

	sup   *supervisor.Supervisor
	unsub func()
}

func New(cfg Config, sender Sender, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:    log.With(logx.String("comp", "notify")),
		bus:    bus,
		sender: sender,
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.sender == nil || s.bus == nil {
		return
	}
	if s.sup != nil {
		return
	}

	ch, unsub := s.bus.Subscribe(64)
	s.unsub = unsub
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))
	s.sup.Go0("notify.worker", func(c context.Context) {
		s.worker(c, ch)
	})
	s.log.Info("notifier started", logx.Int("rate_per_sec", s.cfg.RatePerSec))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup := s.sup
	unsub := s.unsub
	s.sup = nil
	s.unsub = nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if sup != nil {
		_ = sup.Stop(ctx)
	}
}

func (s *Service) worker(ctx context.Context, ch <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			text := formatEvent(ev)
			if text == "" {
				continue
			}

			s.mu.Lock()
			lim := s.limiter
			s.mu.Unlock()
			if err := lim.Wait(ctx); err != nil {
				return
			}

			if err := s.sender.Send(ctx, text); err != nil {
				s.log.Warn("notification send failed", logx.String("event", ev.Type), logx.Err(err))
			}
		}
	}
}

// formatEvent returns "" for events the ops chat does not care about.
func formatEvent(ev eventbus.Event) string {
	switch d := ev.Data.(type) {
	case bulk.TaskEvent:
		switch ev.Type {
		case "task.completed":
			return fmt.Sprintf("task %s completed (%d/%d)", d.ID, d.Progress, d.Total)
		case "task.failed":
			return fmt.Sprintf("task %s FAILED (%d/%d): %s", d.ID, d.Progress, d.Total, d.Error)
		case "task.cancelled":
			return fmt.Sprintf("task %s cancelled at %d/%d", d.ID, d.Progress, d.Total)
		}
	case rotation.AccountEvent:
		switch ev.Type {
		case "account.banned":
			return fmt.Sprintf("account %s BANNED", d.Phone)
		case "account.flood_wait":
			return fmt.Sprintf("account %s hit flood wait", d.Phone)
		case "account.unauthorized":
			return fmt.Sprintf("account %s session unauthorized", d.Phone)
		}
	}
	return ""
}
