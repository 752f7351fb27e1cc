package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"bulkbot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.audit.jsonl (append-only JSON Lines)
//   - <prefix>.stats.jsonl (append-only JSON Lines)
type fileStore struct {
	log logx.Logger

	mu    sync.Mutex
	audit *os.File
	stats *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(filepath.Base(path)))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	sf, err := os.OpenFile(prefix+".stats.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = af.Close()
		return nil, err
	}

	return &fileStore{log: log, audit: af, stats: sf}, nil
}

func (s *fileStore) AppendAudit(_ context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	return s.appendLine(s.audit, e)
}

func (s *fileStore) AppendPoolStats(_ context.Context, e PoolStatsEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	return s.appendLine(s.stats, e)
}

func (s *fileStore) appendLine(f *os.File, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f == nil {
		return ErrDisabled
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = f.Write(b)
	return err
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var first error
	if s.audit != nil {
		if err := s.audit.Close(); err != nil {
			first = err
		}
		s.audit = nil
	}
	if s.stats != nil {
		if err := s.stats.Close(); err != nil && first == nil {
			first = err
		}
		s.stats = nil
	}
	return first
}
