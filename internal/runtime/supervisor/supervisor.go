// Package supervisor owns named goroutines so shutdown and panic handling
// live in one place instead of being re-implemented per service.
package supervisor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"bulkbot/pkg/logx"
)

// Supervisor tracks a group of goroutines under one context.
//
// Panics are recovered, logged with a stack, and recorded as errors;
// they never take down the process.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    logx.Logger

	wg sync.WaitGroup

	mu       sync.Mutex
	started  int
	panics   int
	errored  int
	firstErr error
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel, log: logx.Nop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel signals every supervised goroutine to stop.
func (s *Supervisor) Cancel() { s.cancel() }

// Err returns the first error recorded by a supervised goroutine, if any.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstErr
}

// Counters is a diagnostics snapshot.
type Counters struct {
	Started int
	Panics  int
	Errored int
}

func (s *Supervisor) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Counters{Started: s.started, Panics: s.panics, Errored: s.errored}
}

// Go runs fn in a supervised goroutine. fn should return promptly once
// its context is canceled. context.Canceled is treated as a clean exit.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	s.mu.Lock()
	s.started++
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		start := time.Now()

		defer func() {
			if p := recover(); p != nil {
				s.mu.Lock()
				s.panics++
				if s.firstErr == nil {
					s.firstErr = fmt.Errorf("goroutine %s panicked: %v", name, p)
				}
				s.mu.Unlock()
				s.log.Error("goroutine panic",
					logx.String("name", name),
					logx.Any("panic", p),
					logx.String("stack", string(debug.Stack())),
					logx.Duration("uptime", time.Since(start)),
				)
			}
		}()

		err := fn(s.ctx)
		if err != nil && err != context.Canceled {
			s.mu.Lock()
			s.errored++
			if s.firstErr == nil {
				s.firstErr = err
			}
			s.mu.Unlock()
			s.log.Warn("goroutine exited with error", logx.String("name", name), logx.Err(err))
			return
		}
		s.log.Debug("goroutine exited", logx.String("name", name), logx.Duration("uptime", time.Since(start)))
	}()
}

// Go0 is Go for functions without an error result.
func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// Wait blocks until every supervised goroutine has returned or ctx expires.
func (s *Supervisor) Wait(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels and waits.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}
