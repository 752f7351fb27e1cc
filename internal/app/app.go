// Package app wires configuration, logging, storage, and the services
// into one startable daemon.
package app

import (
	"context"
	"fmt"
	"sync"

	"bulkbot/internal/bulk"
	"bulkbot/internal/config"
	"bulkbot/internal/eventbus"
	"bulkbot/internal/maintenance"
	"bulkbot/internal/notify"
	"bulkbot/internal/plan"
	"bulkbot/internal/rotation"
	"bulkbot/internal/storage"
	"bulkbot/internal/transport/telegram"
	"bulkbot/pkg/logx"
)

type App struct {
	mu sync.Mutex

	cfgPath string
	cfg     *config.Config

	logSvc *logx.Service
	log    logx.Logger

	bus   eventbus.Bus
	store storage.Store

	rot      *rotation.Rotator
	tasks    *bulk.Service
	notifier *notify.Service
	maint    *maintenance.Service
	cfgMgr   *config.Manager

	started bool
}

func New(cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	return &App{
		cfgPath: cfgPath,
		cfg:     cfg,
		logSvc:  logSvc,
		log:     log,
	}, nil
}

// Rotator exposes the pool for callers embedding the app.
func (a *App) Rotator() *rotation.Rotator { return a.rot }

// Tasks exposes the bulk scheduler for callers embedding the app.
func (a *App) Tasks() *bulk.Service { return a.tasks }

func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}
	cfg := a.cfg

	a.bus = eventbus.New()

	if cfg.Storage != nil {
		busy, _ := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
		st, err := storage.Open(storage.Config{
			Driver:      cfg.Storage.Driver,
			Path:        cfg.Storage.Path,
			BusyTimeout: busy,
		}, a.log)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		a.store = st
	}

	tiers, err := cfg.CooldownTiers()
	if err != nil {
		return err
	}
	a.rot = rotation.New(a.log, a.bus, rotation.WithCooldownTiers(tiers))

	for _, acc := range cfg.Accounts {
		if err := a.rot.Register(acc.Phone, acc.Session, acc.Proxy); err != nil {
			return fmt.Errorf("register account %s: %w", acc.Phone, err)
		}
	}

	clock := bulk.NewClock()
	peaks := plan.DefaultPeakHours()
	if len(cfg.Bulk.PeakHours) > 0 {
		peaks = peaks.Merge(plan.PeakHours(cfg.Bulk.PeakHours))
	}
	a.tasks = bulk.New(
		bulk.Config{
			AddActionsPerHour:    cfg.Bulk.AddActionsPerHour,
			ScrapeActionsPerHour: cfg.Bulk.ScrapeActionsPerHour,
			DefaultZone:          cfg.Bulk.DefaultZone,
		},
		a.log, a.bus, a.rot,
		bulk.NewDryRunExecutor(clock, a.log),
		bulk.WithClock(clock),
		bulk.WithPeakHours(bulk.PeakHoursTable(peaks)),
	)
	a.tasks.Start(ctx)

	if cfg.Notifier != nil && cfg.Notifier.Enabled {
		adapter, err := telegram.New(telegram.Config{Token: cfg.Notifier.Token, ChatID: cfg.Notifier.ChatID})
		if err != nil {
			return fmt.Errorf("telegram adapter: %w", err)
		}
		a.notifier = notify.New(notify.Config{
			Enabled:    true,
			RatePerSec: cfg.Notifier.RatePerSec,
		}, adapter, a.log, a.bus)
		a.notifier.Start(ctx)
	}

	statsEvery, _ := config.ParseDurationField("maintenance.stats_every", maintenanceField(cfg, func(m *config.MaintenanceConfig) string { return m.StatsEvery }))
	sweepEvery, _ := config.ParseDurationField("maintenance.sweep_every", maintenanceField(cfg, func(m *config.MaintenanceConfig) string { return m.SweepEvery }))
	a.maint = maintenance.New(maintenance.Config{
		Enabled:    cfg.MaintenanceEnabled(),
		StatsEvery: statsEvery,
		SweepEvery: sweepEvery,
	}, a.log, a.rot, a.tasks, a.store, a.bus)
	if err := a.maint.Start(ctx); err != nil {
		return fmt.Errorf("start maintenance: %w", err)
	}

	a.cfgMgr = config.NewManager(a.cfgPath, a.log, a.onConfigChange)
	if err := a.cfgMgr.Start(ctx); err != nil {
		a.log.Warn("config watch unavailable", logx.Err(err))
	}

	a.started = true
	a.log.Info("bulkbot started",
		logx.Int("accounts", len(cfg.Accounts)),
		logx.Bool("storage", a.store != nil),
		logx.Bool("notifier", a.notifier != nil),
	)
	return nil
}

// onConfigChange re-applies the cheap, safe-to-swap settings. Structural
// changes (accounts, storage driver) need a restart.
func (a *App) onConfigChange(cfg *config.Config) {
	a.mu.Lock()
	a.cfg = cfg
	notifier := a.notifier
	a.mu.Unlock()

	a.logSvc.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	if notifier != nil && cfg.Notifier != nil {
		notifier.Apply(notify.Config{
			Enabled:    cfg.Notifier.Enabled,
			RatePerSec: cfg.Notifier.RatePerSec,
		})
	}
}

func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return nil
	}

	if a.cfgMgr != nil {
		a.cfgMgr.Stop()
	}
	if a.maint != nil {
		a.maint.Stop(ctx)
	}
	if a.notifier != nil {
		a.notifier.Stop(ctx)
	}
	if a.tasks != nil {
		a.tasks.Stop(ctx)
	}
	if a.store != nil {
		_ = a.store.Close()
	}

	a.log.Info("bulkbot stopped")
	_ = a.logSvc.Close()
	a.started = false
	return nil
}

func maintenanceField(cfg *config.Config, get func(*config.MaintenanceConfig) string) string {
	if cfg.Maintenance == nil {
		return ""
	}
	return get(cfg.Maintenance)
}
