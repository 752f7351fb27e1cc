package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"bulkbot/pkg/logx"
)

const reloadDebounce = 300 * time.Millisecond

// Manager watches the config file and hands every successfully reloaded
// Config to onChange. A reload that fails to parse or validate is logged
// and dropped; the previous config stays in effect.
//
// The parent directory is watched rather than the file itself because
// most editors and config management tools replace the file via rename.
type Manager struct {
	path     string
	log      logx.Logger
	onChange func(*Config)

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

func NewManager(path string, log logx.Logger, onChange func(*Config)) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{
		path:     path,
		log:      log.With(logx.String("comp", "config")),
		onChange: onChange,
	}
}

// Start begins watching. Idempotent.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(m.path)); err != nil {
		_ = w.Close()
		return err
	}

	wctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.stopped = make(chan struct{})

	go m.watch(wctx, w, m.stopped)
	m.log.Debug("config watch started", logx.String("path", m.path))
	return nil
}

func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	stopped := m.stopped
	m.cancel = nil
	m.stopped = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-stopped
	}
}

func (m *Manager) watch(ctx context.Context, w *fsnotify.Watcher, stopped chan struct{}) {
	defer close(stopped)
	defer func() { _ = w.Close() }()

	var timer *time.Timer
	var timerC <-chan time.Time
	target := filepath.Clean(m.path)

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			// Debounce bursts of write events into one reload.
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(reloadDebounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			m.reload()

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			m.log.Warn("config watch error", logx.Err(err))
		}
	}
}

func (m *Manager) reload() {
	cfg, err := Load(m.path)
	if err != nil {
		m.log.Warn("config reload rejected", logx.Err(err))
		return
	}
	m.log.Info("config reloaded", logx.String("path", m.path))
	if m.onChange != nil {
		m.onChange(cfg)
	}
}
