// Package circuit implements the per-strategy circuit breaker. The breaker
// tracks failures in a sliding time window and halts execution once the
// strategy is deemed unhealthy; state only changes through recorded
// successes and failures, never directly by strategy logic.
package circuit

import (
	"sync"
	"time"

	"helmsman/internal/logger"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	case StateExhausted:
		return "EXHAUSTED"
	default:
		return "UNKNOWN"
	}
}

type Config struct {
	// Window is the sliding interval over which failures are counted.
	Window time.Duration
	// FailureThreshold is the in-window failure count that opens the breaker.
	FailureThreshold int
	// Cooldown is the initial open duration. It doubles on every reopen,
	// capped at MaxCooldown.
	Cooldown    time.Duration
	MaxCooldown time.Duration
	// MaxOpens is the total number of opens tolerated before the breaker
	// exhausts permanently.
	MaxOpens int
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = 10 * time.Minute
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 15 * time.Minute
	}
	if c.MaxCooldown <= 0 {
		c.MaxCooldown = 2 * time.Hour
	}
	if c.MaxOpens <= 0 {
		c.MaxOpens = 5
	}
	return c
}

// Snapshot is a point-in-time view of breaker internals, folded into the
// owning strategy's health record.
type Snapshot struct {
	State          State
	WindowFailures int
	Opens          int
	CooldownUntil  time.Time
}

type Breaker struct {
	mu            sync.Mutex
	cfg           Config
	name          string
	state         State
	failures      []time.Time
	cooldown      time.Duration
	cooldownUntil time.Time
	opens         int
	nowFn         func() time.Time
	onStateChange func(name string, from, to State)
}

func NewBreaker(name string, cfg Config) *Breaker {
	cfg = cfg.withDefaults()
	return &Breaker{
		cfg:      cfg,
		name:     name,
		state:    StateClosed,
		cooldown: cfg.Cooldown,
		nowFn:    time.Now,
	}
}

// Restore rebuilds a breaker from a previously persisted snapshot so that a
// process restart cannot grant executions an unexpired cooldown would have
// blocked. Window failure timestamps are not persisted; the count is re-seeded
// at restore time, which keeps the window conservative after a restart.
func Restore(name string, cfg Config, snap Snapshot) *Breaker {
	b := NewBreaker(name, cfg)
	now := b.nowFn()
	if snap.Opens > 0 {
		b.opens = snap.Opens
	}
	for i := 0; i < snap.WindowFailures; i++ {
		b.failures = append(b.failures, now)
	}
	for i := 1; i < b.opens; i++ {
		b.cooldown *= 2
		if b.cooldown >= b.cfg.MaxCooldown {
			b.cooldown = b.cfg.MaxCooldown
			break
		}
	}
	switch {
	case snap.State == StateExhausted:
		b.state = StateExhausted
	case snap.State == StateOpen || snap.State == StateHalfOpen:
		b.state = StateOpen
		b.cooldownUntil = snap.CooldownUntil
	}
	return b
}

func (b *Breaker) SetStateChangeHandler(handler func(name string, from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = handler
}

// SetNowFunc overrides the clock. Test hook.
func (b *Breaker) SetNowFunc(fn func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if fn != nil {
		b.nowFn = fn
	}
}

// Allow reports whether an execution may proceed. An open breaker whose
// cooldown has elapsed half-opens and grants exactly one trial; further
// calls are rejected until the trial outcome is recorded.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.nowFn().After(b.cooldownUntil) {
			b.transition(StateHalfOpen)
			return true
		}
		return false
	case StateHalfOpen:
		return false
	default:
		return false
	}
}

// RecordSuccess closes a half-open breaker and clears the failure window.
// The cooldown resets to its initial value; the total open count does not,
// so a strategy that keeps flapping still exhausts eventually.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.failures = b.failures[:0]
		b.cooldown = b.cfg.Cooldown
		b.transition(StateClosed)
	case StateClosed:
		b.failures = b.failures[:0]
	}
}

// Reset returns the breaker to closed with a cleared window and the initial
// cooldown. Used for operator-driven resumes; the total open count is kept
// so a chronically flapping strategy still exhausts.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = b.failures[:0]
	b.cooldown = b.cfg.Cooldown
	b.cooldownUntil = time.Time{}
	b.transition(StateClosed)
}

// RecordFailure folds one failure into the window. severe trips the breaker
// regardless of the window count.
func (b *Breaker) RecordFailure(severe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.nowFn()
	b.failures = append(b.failures, now)
	b.prune(now)

	switch b.state {
	case StateClosed:
		if severe || len(b.failures) >= b.cfg.FailureThreshold {
			b.trip(now)
		}
	case StateHalfOpen:
		b.trip(now)
	}
}

// trip opens the breaker, doubling the cooldown on every open after the
// first. Once the open count exceeds MaxOpens the breaker exhausts and
// never half-opens again.
func (b *Breaker) trip(now time.Time) {
	if b.opens >= b.cfg.MaxOpens {
		b.transition(StateExhausted)
		return
	}
	b.opens++
	if b.opens > 1 {
		b.cooldown *= 2
		if b.cooldown > b.cfg.MaxCooldown {
			b.cooldown = b.cfg.MaxCooldown
		}
	}
	b.cooldownUntil = now.Add(b.cooldown)
	b.transition(StateOpen)
}

func (b *Breaker) prune(now time.Time) {
	cutoff := now.Add(-b.cfg.Window)
	kept := b.failures[:0]
	for _, ts := range b.failures {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	b.failures = kept
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prune(b.nowFn())
	return Snapshot{
		State:          b.state,
		WindowFailures: len(b.failures),
		Opens:          b.opens,
		CooldownUntil:  b.cooldownUntil,
	}
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.onStateChange != nil {
		go b.onStateChange(b.name, from, to)
	} else {
		logger.Warnf("CircuitBreaker %s state change: %s -> %s (failures=%d/%d, cooldown=%s, opens=%d/%d)",
			b.name, from, to, len(b.failures), b.cfg.FailureThreshold, b.cooldown, b.opens, b.cfg.MaxOpens)
	}
}
