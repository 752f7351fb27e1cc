// Package rotation maintains the pool of worker accounts and picks the
// best available one for the next action.
package rotation

import (
	"sync"
	"time"

	"bulkbot/internal/eventbus"
	"bulkbot/pkg/logx"
)

// Rotator owns the identity pool. All operations are safe for concurrent
// use; selection and the last-used stamp happen under one critical section
// so two concurrent callers are not handed the same account back-to-back.
type Rotator struct {
	mu sync.Mutex

	store Store
	tiers []CooldownTier

	log logx.Logger
	bus eventbus.Bus

	now func() time.Time
}

type Option func(*Rotator)

// WithStore replaces the default in-memory repository.
func WithStore(st Store) Option {
	return func(r *Rotator) {
		if st != nil {
			r.store = st
		}
	}
}

// WithCooldownTiers overrides the cooldown penalty table.
func WithCooldownTiers(tiers []CooldownTier) Option {
	return func(r *Rotator) {
		if len(tiers) > 0 {
			r.tiers = tiers
		}
	}
}

// WithNow injects the time source. Tests use a fixed clock.
func WithNow(now func() time.Time) Option {
	return func(r *Rotator) {
		if now != nil {
			r.now = now
		}
	}
}

func New(log logx.Logger, bus eventbus.Bus, opts ...Option) *Rotator {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Rotator{
		store: NewMemStore(),
		tiers: DefaultCooldownTiers(),
		log:   log.With(logx.String("comp", "rotation")),
		bus:   bus,
		now:   time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register inserts a new LIVE account with default fitness values.
// A second registration for the same phone fails with ErrDuplicateIdentity.
func (r *Rotator) Register(phone, sessionRef, proxyRef string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.store.Get(phone); ok {
		return ErrDuplicateIdentity
	}
	r.store.Put(&Account{
		Phone:       phone,
		SessionRef:  sessionRef,
		ProxyRef:    proxyRef,
		Status:      StatusLive,
		SuccessRate: 1.0,
		AgeDays:     defaultAgeDays,
		Activity:    defaultActivity,
	})
	r.log.Info("account registered", logx.String("phone", phone))
	return nil
}

// SelectBest returns a copy of the highest-scoring LIVE account, or
// ok=false when the pool has none. The winner's LastUsed is stamped inside
// the same critical section, so its cooldown penalty already applies to
// the next caller.
func (r *Rotator) SelectBest() (Account, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	var best *Account
	var bestScore float64
	for _, a := range r.store.All() {
		if a.Status != StatusLive {
			continue
		}
		s := fitnessScore(a, now, r.tiers)
		if best == nil || s > bestScore || (s == bestScore && usedEarlier(a, best)) {
			best = a
			bestScore = s
		}
	}
	if best == nil {
		return Account{}, false
	}

	used := now
	best.LastUsed = &used

	cp := *best
	r.log.Debug("account selected",
		logx.String("phone", cp.Phone),
		logx.Float64("score", bestScore),
	)
	return cp, true
}

// usedEarlier reports whether a was used strictly before b.
// Never-used counts as earliest.
func usedEarlier(a, b *Account) bool {
	if a.LastUsed == nil {
		return b.LastUsed != nil
	}
	if b.LastUsed == nil {
		return false
	}
	return a.LastUsed.Before(*b.LastUsed)
}

// ReportOutcome records one attempted action and recomputes the success rate.
func (r *Rotator) ReportOutcome(phone string, success bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.store.Get(phone)
	if !ok {
		return ErrNotFound
	}

	now := r.now()
	a.LastUsed = &now
	a.TotalActions++
	if success {
		a.SuccessfulActions++
	}
	a.SuccessRate = float64(a.SuccessfulActions) / float64(a.TotalActions)
	return nil
}

// MarkBanned transitions the account to BANNED and bumps its ban counter.
func (r *Rotator) MarkBanned(phone string) error {
	return r.transition(phone, StatusBanned, "account.banned", func(a *Account) {
		a.BannedCount++
	})
}

// MarkFloodWait parks the account; flood waits also count as rate limits.
func (r *Rotator) MarkFloodWait(phone string) error {
	return r.transition(phone, StatusFloodWait, "account.flood_wait", func(a *Account) {
		a.RateLimitCount++
	})
}

// MarkUnauthorized parks an account whose session credentials stopped working.
func (r *Rotator) MarkUnauthorized(phone string) error {
	return r.transition(phone, StatusUnauthorized, "account.unauthorized", nil)
}

func (r *Rotator) transition(phone string, to Status, event string, mutate func(*Account)) error {
	r.mu.Lock()
	a, ok := r.store.Get(phone)
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	a.Status = to
	if mutate != nil {
		mutate(a)
	}
	r.mu.Unlock()

	r.log.Warn("account status changed", logx.String("phone", phone), logx.String("status", string(to)))
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: event, Data: AccountEvent{Phone: phone, Status: to}})
	}
	return nil
}

// MarkRateLimited bumps the rate-limit counter. The account stays LIVE;
// rate limiting is a selection penalty, not a terminal state.
func (r *Rotator) MarkRateLimited(phone string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.store.Get(phone)
	if !ok {
		return ErrNotFound
	}
	a.RateLimitCount++
	return nil
}

// Stats aggregates over the whole pool, parked accounts included.
func (r *Rotator) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := Stats{}
	sum := 0.0
	for _, a := range r.store.All() {
		st.Total++
		sum += a.SuccessRate
		switch a.Status {
		case StatusLive:
			st.Live++
		case StatusBanned:
			st.Banned++
		}
	}
	if st.Total > 0 {
		st.AvgSuccessRate = sum / float64(st.Total)
	}
	return st
}

// ByStatus returns copies of every account currently in the given status.
func (r *Rotator) ByStatus(status Status) []Account {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Account
	for _, a := range r.store.All() {
		if a.Status == status {
			out = append(out, *a)
		}
	}
	return out
}

// LiveCount is a cheap helper for planners sizing a workload.
func (r *Rotator) LiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, a := range r.store.All() {
		if a.Status == StatusLive {
			n++
		}
	}
	return n
}
