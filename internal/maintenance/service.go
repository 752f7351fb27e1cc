// Package maintenance runs the daemon's periodic housekeeping: pool-stats
// snapshots, a task-registry sweep, and the audit trail recorder.
package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"bulkbot/internal/bulk"
	"bulkbot/internal/eventbus"
	"bulkbot/internal/rotation"
	"bulkbot/internal/runtime/supervisor"
	"bulkbot/internal/storage"
	"bulkbot/pkg/logx"
)

type Config struct {
	Enabled    bool
	StatsEvery time.Duration
	SweepEvery time.Duration
}

func (c Config) withDefaults() Config {
	if c.StatsEvery <= 0 {
		c.StatsEvery = 10 * time.Minute
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 5 * time.Minute
	}
	return c
}

const storeWriteTimeout = 5 * time.Second

type Service struct {
	mu sync.Mutex

	cfg   Config
	log   logx.Logger
	rot   *rotation.Rotator
	tasks *bulk.Service
	store storage.Store
	bus   eventbus.Bus

	cron  *cron.Cron
	sup   *supervisor.Supervisor
	unsub func()
}

func New(cfg Config, log logx.Logger, rot *rotation.Rotator, tasks *bulk.Service, store storage.Store, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:   cfg.withDefaults(),
		log:   log.With(logx.String("comp", "maintenance")),
		rot:   rot,
		tasks: tasks,
		store: store,
		bus:   bus,
	}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.cron != nil {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.cfg.StatsEvery), s.statsJob); err != nil {
		return err
	}
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.cfg.SweepEvery), s.sweepJob); err != nil {
		return err
	}
	c.Start()
	s.cron = c

	// The audit recorder only runs when there is somewhere to write.
	if s.store != nil && s.bus != nil {
		ch, unsub := s.bus.Subscribe(128)
		s.unsub = unsub
		s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))
		s.sup.Go0("audit.recorder", func(c context.Context) {
			s.recordAudit(c, ch)
		})
	}

	s.log.Info("maintenance started",
		logx.Duration("stats_every", s.cfg.StatsEvery),
		logx.Duration("sweep_every", s.cfg.SweepEvery),
	)
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.cron
	sup := s.sup
	unsub := s.unsub
	s.cron = nil
	s.sup = nil
	s.unsub = nil
	s.mu.Unlock()

	if c != nil {
		stopCtx := c.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
		}
	}
	if unsub != nil {
		unsub()
	}
	if sup != nil {
		_ = sup.Stop(ctx)
	}
}

func (s *Service) statsJob() {
	st := s.rot.Stats()
	s.log.Info("pool stats",
		logx.Int("total", st.Total),
		logx.Int("live", st.Live),
		logx.Int("banned", st.Banned),
		logx.Float64("avg_success_rate", st.AvgSuccessRate),
	)
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
	defer cancel()
	if err := s.store.AppendPoolStats(ctx, storage.PoolStatsEntry{
		At:             time.Now(),
		Total:          st.Total,
		Live:           st.Live,
		Banned:         st.Banned,
		AvgSuccessRate: st.AvgSuccessRate,
	}); err != nil {
		s.log.Warn("pool stats persist failed", logx.Err(err))
	}
}

func (s *Service) sweepJob() {
	counts := s.tasks.CountByStatus()
	s.log.Info("task sweep",
		logx.Int("scheduled", counts[bulk.StatusScheduled]),
		logx.Int("running", counts[bulk.StatusRunning]),
		logx.Int("completed", counts[bulk.StatusCompleted]),
		logx.Int("failed", counts[bulk.StatusFailed]),
	)
}

func (s *Service) recordAudit(ctx context.Context, ch <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			entry, ok := auditEntry(ev)
			if !ok {
				continue
			}
			wctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
			err := s.store.AppendAudit(wctx, entry)
			cancel()
			if err != nil {
				s.log.Warn("audit append failed", logx.String("event", ev.Type), logx.Err(err))
			}
		}
	}
}

func auditEntry(ev eventbus.Event) (storage.AuditEntry, bool) {
	switch d := ev.Data.(type) {
	case bulk.TaskEvent:
		return storage.AuditEntry{
			At:     ev.Time,
			Event:  ev.Type,
			TaskID: d.ID,
			Detail: fmt.Sprintf("%d/%d %s", d.Progress, d.Total, d.Error),
		}, true
	case rotation.AccountEvent:
		return storage.AuditEntry{
			At:    ev.Time,
			Event: ev.Type,
			Phone: d.Phone,
		}, true
	}
	return storage.AuditEntry{}, false
}
