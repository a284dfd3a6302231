// Package manager owns the strategy registry and the tick loop. Every tick
// runs as an isolated unit of work: a fault in one strategy is classified,
// folded into that strategy's health and breaker, and never reaches any
// other strategy.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"helmsman/internal/fault"
	"helmsman/internal/gateway/notifier"
	"helmsman/internal/logger"
	"helmsman/internal/pkg/circuit"
	"helmsman/internal/service"
	"helmsman/internal/strategy"
)

type Config struct {
	// TickInterval is the global scheduling interval. Strategies may slow
	// themselves down with a per-strategy check interval but never tick
	// faster than this.
	TickInterval time.Duration
	// Workers bounds how many strategy ticks run concurrently per cycle.
	Workers int
	// TickTimeout is the deadline for one strategy tick. A tick that
	// exceeds it is aborted and treated as a TRANSIENT_NETWORK fault.
	TickTimeout time.Duration

	Breaker circuit.Config

	// Notifier, when set, receives operator alerts for pauses and
	// failures. Delivery is best-effort and never blocks a tick.
	Notifier notifier.TextNotifier
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = 10 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.TickTimeout <= 0 {
		c.TickTimeout = 30 * time.Second
	}
	return c
}

// entry pairs one strategy with its breaker and execution guard. The mutex
// serializes ticks per strategy; halted marks strategies stopped by a
// process-wide CRITICAL fault, which only an operator resume clears.
type entry struct {
	mu      sync.Mutex
	st      *strategy.Strategy
	breaker *circuit.Breaker
	halted  bool
}

// haltRequest records a CRITICAL fault whose process-wide halt is finished
// after the cycle's worker pool drains.
type haltRequest struct {
	origin *entry
	cause  error
}

type Manager struct {
	cfg     Config
	svc     *service.Service
	machine *strategy.Machine

	mu           sync.RWMutex
	entries      map[string]*entry
	pendingHalts []haltRequest

	nowFn func() time.Time
}

func New(cfg Config, svc *service.Service, machine *strategy.Machine) *Manager {
	return &Manager{
		cfg:     cfg.withDefaults(),
		svc:     svc,
		machine: machine,
		entries: make(map[string]*entry),
		nowFn:   time.Now,
	}
}

// SetNowFunc overrides the clock. Test hook.
func (m *Manager) SetNowFunc(fn func() time.Time) {
	if fn != nil {
		m.nowFn = fn
	}
}

// Register adds a strategy to the tick registry. Terminal strategies are
// ignored. The breaker is rebuilt from the persisted health record so a
// restart honors an unexpired cooldown and a standing CRITICAL halt instead
// of resuming the strategy with a fresh closed breaker.
func (m *Manager) Register(st *strategy.Strategy) {
	if st == nil || st.State.Terminal() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[st.ID]; ok {
		return
	}
	br := circuit.Restore(st.Name, m.cfg.Breaker, breakerFromHealth(st.Health))
	br.SetStateChangeHandler(m.onBreakerChange)
	m.entries[st.ID] = &entry{
		st:      st,
		breaker: br,
		halted:  st.Health.Halted,
	}
	logger.Infof("manager registered strategy %s", st)
}

// breakerFromHealth maps the persisted health fields back onto the breaker's
// snapshot form.
func breakerFromHealth(h strategy.Health) circuit.Snapshot {
	snap := circuit.Snapshot{WindowFailures: h.WindowFailures, Opens: h.Reopens}
	if h.BreakerOpen {
		snap.State = circuit.StateOpen
	}
	if h.CooldownUntil != nil {
		snap.CooldownUntil = *h.CooldownUntil
	}
	return snap
}

func (m *Manager) onBreakerChange(name string, from, to circuit.State) {
	logger.Warnw("breaker state change",
		"strategy", name, "from", from.String(), "to", to.String())
}

// Cancel stops a strategy permanently. The entry's guard is taken so a tick
// in flight finishes before the cancellation lands.
func (m *Manager) Cancel(ctx context.Context, id string) (*strategy.Strategy, error) {
	e := m.lookup(id)
	if e == nil {
		// Not in the registry (e.g. rejected at creation): store-only path.
		return m.svc.Cancel(ctx, id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := m.svc.PersistTransition(ctx, e.st, strategy.StateCancelled, nil); err != nil {
		return nil, err
	}
	m.remove(id)
	return e.st, nil
}

// Resume restarts a paused strategy ahead of its cooldown, clearing the
// breaker and any CRITICAL halt.
func (m *Manager) Resume(ctx context.Context, id string) (*strategy.Strategy, error) {
	e := m.lookup(id)
	if e == nil {
		return m.svc.Resume(ctx, id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.st.State != strategy.StatePaused {
		return nil, fault.Newf(fault.ConfigValidation, "manager.Resume", "strategy %s is %s, only paused strategies can be resumed", e.st.Name, e.st.State)
	}
	e.breaker.Reset()
	e.halted = false
	e.st.Health.Halted = false
	e.st.Health.BreakerOpen = false
	e.st.Health.CooldownUntil = nil
	e.st.Health.ConsecutiveFailures = 0
	e.st.Health.WindowFailures = 0
	if err := m.svc.PersistTransition(ctx, e.st, strategy.StateActive, nil); err != nil {
		return nil, err
	}
	return e.st, nil
}

// Run loads the stored strategies and drives the tick loop until the
// context is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	loaded, err := m.svc.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load strategies: %w", err)
	}
	for _, st := range loaded {
		m.Register(st)
	}
	logger.Infof("manager started: %d strategies, interval=%s, workers=%d",
		len(loaded), m.cfg.TickInterval, m.cfg.Workers)

	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Infof("manager stopped")
			return nil
		case <-ticker.C:
			m.RunCycle(ctx)
		}
	}
}

// RunCycle ticks every due strategy once through the bounded worker pool.
// Exported so tests can drive cycles without the ticker.
func (m *Manager) RunCycle(ctx context.Context) {
	now := m.nowFn()
	due := m.dueEntries(now)
	if len(due) == 0 {
		return
	}
	var g errgroup.Group
	g.SetLimit(m.cfg.Workers)
	for _, e := range due {
		e := e
		g.Go(func() error {
			m.tickOne(ctx, e)
			return nil
		})
	}
	_ = g.Wait()
	m.completeHalts(ctx)
}

// dueEntries selects strategies eligible this cycle and prunes terminal
// ones from the registry.
func (m *Manager) dueEntries(now time.Time) []*entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*entry
	for id, e := range m.entries {
		if e.st.State.Terminal() {
			delete(m.entries, id)
			continue
		}
		if e.halted {
			continue
		}
		if e.st.Due(now, m.cfg.TickInterval) {
			due = append(due, e)
		}
	}
	return due
}

// tickOne is the isolated unit of work for one strategy. TryLock enforces
// the one-execution-per-strategy invariant: a tick still in flight from a
// previous cycle makes this cycle skip the strategy rather than queue up.
func (m *Manager) tickOne(ctx context.Context, e *entry) {
	if !e.mu.TryLock() {
		return
	}
	defer e.mu.Unlock()

	st := e.st
	if st.State.Terminal() || e.halted {
		return
	}
	// Open breaker with an unexpired cooldown: skip entirely, no adapter
	// calls. An elapsed cooldown grants exactly one half-open trial.
	if !e.breaker.Allow() {
		return
	}
	if st.State == strategy.StatePaused {
		if err := m.svc.PersistTransition(ctx, st, strategy.StateActive, nil); err != nil {
			logger.Errorf("strategy %s: trial resume failed: %v", st.Name, err)
			return
		}
	}
	from := st.State

	tctx, cancel := context.WithTimeout(ctx, m.cfg.TickTimeout)
	err := m.safeTick(tctx, st)
	cancel()
	m.svc.Touch(ctx, st, m.nowFn())

	if err != nil {
		m.handleFault(ctx, e, err)
		return
	}

	e.breaker.RecordSuccess()
	hadFailures := st.Health.ConsecutiveFailures > 0 || st.Health.BreakerOpen
	st.Health.ConsecutiveFailures = 0
	foldSnapshot(&st.Health, e.breaker.Snapshot())

	switch {
	case st.State != from:
		if err := m.svc.CommitState(ctx, st, from); err != nil {
			logger.Errorf("strategy %s: commit %s failed: %v", st.Name, st.State, err)
		}
	case hadFailures:
		if err := m.svc.SaveHealth(ctx, st); err != nil {
			logger.Errorf("strategy %s: save health failed: %v", st.Name, err)
		}
	}
	if st.State.Terminal() {
		m.remove(st.ID)
	}
}

// safeTick converts panics and deadline overruns into faults so nothing
// escapes the tick boundary.
func (m *Manager) safeTick(ctx context.Context, st *strategy.Strategy) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fault.Newf(fault.Unknown, "manager.tick", "panic in strategy %s: %v", st.Name, r)
		}
	}()
	err = m.machine.Tick(ctx, st)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		err = fault.Newf(fault.TransientNetwork, "manager.tick",
			"strategy %s tick exceeded %s deadline", st.Name, m.cfg.TickTimeout)
	}
	return err
}

// handleFault applies the recovery policy for one final fault outcome:
// exactly one error record, one health fold, and at most one transition.
func (m *Manager) handleFault(ctx context.Context, e *entry, cause error) {
	st := e.st
	kind := fault.KindOf(cause)
	severity := fault.Classify(kind)
	now := m.nowFn()
	st.Health.ConsecutiveFailures++
	st.Health.LastFailureAt = &now
	st.Health.LastFailureKind = string(kind)

	m.svc.RecordErrorEvent(ctx, st, cause, severity, marketState(st))

	switch {
	case severity >= fault.SeverityCritical:
		logger.Errorw("critical fault, pausing all strategies",
			"origin", st.Name, "cause", cause.Error())
		// Only the origin is halted here, under the guard this tick already
		// holds. Taking the other entries' guards now can deadlock when two
		// strategies hit CRITICAL in the same cycle, so the rest of the halt
		// is queued and finished once the worker pool drains.
		m.haltEntry(ctx, e, cause)
		m.mu.Lock()
		m.pendingHalts = append(m.pendingHalts, haltRequest{origin: e, cause: cause})
		m.mu.Unlock()
		m.alert("🛑", "all strategies paused", st, cause)

	case severity >= fault.SeveritySevere:
		if err := m.svc.PersistTransition(ctx, st, strategy.StateFailed, cause); err != nil {
			logger.Errorf("strategy %s: fail transition error: %v", st.Name, err)
		}
		m.remove(st.ID)
		m.alert("❌", "strategy failed", st, cause)

	case severity == fault.SeverityWarning:
		e.breaker.RecordFailure(false)
		snap := e.breaker.Snapshot()
		foldSnapshot(&st.Health, snap)
		switch snap.State {
		case circuit.StateExhausted:
			if err := m.svc.PersistTransition(ctx, st, strategy.StateFailed, cause); err != nil {
				logger.Errorf("strategy %s: fail transition error: %v", st.Name, err)
			}
			m.remove(st.ID)
			m.alert("❌", "strategy failed after repeated pauses", st, cause)
		case circuit.StateOpen:
			if st.State == strategy.StateActive {
				if err := m.svc.PersistTransition(ctx, st, strategy.StatePaused, cause); err != nil {
					logger.Errorf("strategy %s: pause transition error: %v", st.Name, err)
				}
				m.alert("⏸️", "strategy paused", st, cause)
			} else if err := m.svc.SaveHealth(ctx, st); err != nil {
				logger.Errorf("strategy %s: save health failed: %v", st.Name, err)
			}
		default:
			if err := m.svc.SaveHealth(ctx, st); err != nil {
				logger.Errorf("strategy %s: save health failed: %v", st.Name, err)
			}
		}

	default:
		// INFO tier: recorded, no policy action.
		if err := m.svc.SaveHealth(ctx, st); err != nil {
			logger.Errorf("strategy %s: save health failed: %v", st.Name, err)
		}
	}
}

// haltEntry marks one strategy halted and persists the pause. Caller holds
// the entry's guard.
func (m *Manager) haltEntry(ctx context.Context, e *entry, cause error) {
	if e.halted {
		return
	}
	e.halted = true
	e.st.Health.Halted = true
	if e.st.State == strategy.StateActive {
		if err := m.svc.PersistTransition(ctx, e.st, strategy.StatePaused, cause); err != nil {
			logger.Errorf("strategy %s: halt transition error: %v", e.st.Name, err)
		}
	} else if !e.st.State.Terminal() {
		if err := m.svc.SaveHealth(ctx, e.st); err != nil {
			logger.Errorf("strategy %s: save health failed: %v", e.st.Name, err)
		}
	}
}

// completeHalts finishes any process-wide halt requested during the cycle.
// It runs after the worker pool drains, so no tick holds an entry guard and
// every entry can be locked on its own. The process keeps running so
// shutdown stays an operational decision.
func (m *Manager) completeHalts(ctx context.Context) {
	m.mu.Lock()
	pending := m.pendingHalts
	m.pendingHalts = nil
	m.mu.Unlock()
	if len(pending) == 0 {
		return
	}

	m.mu.RLock()
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	cause := pending[0].cause
	for _, e := range entries {
		e.mu.Lock()
		m.haltEntry(ctx, e, cause)
		e.mu.Unlock()
	}
}

// alert pushes an operator notification off the tick path. Failures are
// logged and otherwise ignored.
func (m *Manager) alert(icon, title string, st *strategy.Strategy, cause error) {
	if m.cfg.Notifier == nil {
		return
	}
	msg := notifier.StructuredMessage{
		Icon:  icon,
		Title: title,
		Sections: []notifier.MessageSection{{
			Title: "strategy",
			Lines: []string{
				fmt.Sprintf("name: %s", st.Name),
				fmt.Sprintf("kind: %s", st.Kind),
				fmt.Sprintf("symbol: %s", st.Symbol),
				fmt.Sprintf("fault: %s", fault.KindOf(cause)),
			},
		}},
		Footer:    cause.Error(),
		Timestamp: m.nowFn(),
	}
	go func() {
		if err := m.cfg.Notifier.SendText(msg.RenderMarkdown()); err != nil {
			logger.Warnf("alert delivery failed: %v", err)
		}
	}()
}

func (m *Manager) lookup(id string) *entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entries[id]
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
}

// Size reports the number of registered strategies, for the health endpoint.
func (m *Manager) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func foldSnapshot(h *strategy.Health, snap circuit.Snapshot) {
	h.WindowFailures = snap.WindowFailures
	h.Reopens = snap.Opens
	h.BreakerOpen = snap.State == circuit.StateOpen || snap.State == circuit.StateExhausted
	if snap.CooldownUntil.IsZero() || snap.State == circuit.StateClosed {
		h.CooldownUntil = nil
	} else {
		until := snap.CooldownUntil
		h.CooldownUntil = &until
	}
}

// marketState is the context snapshot attached to error records. Built from
// in-memory state only: fault handling never makes adapter calls.
func marketState(st *strategy.Strategy) map[string]any {
	return map[string]any{
		"symbol":      st.Symbol,
		"position":    st.Position().String(),
		"open_orders": len(st.LiveOrders("")),
	}
}
