// Package service orchestrates strategy CRUD and the persistence of every
// state transition. Business logic stays in the strategy package; the
// service owns the store, write serialization per strategy, and the
// operator-facing error records.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"helmsman/internal/fault"
	"helmsman/internal/gateway/exchange"
	"helmsman/internal/logger"
	"helmsman/internal/store"
	"helmsman/internal/store/model"
	"helmsman/internal/strategy"
)

// ErrNotFound is returned when no strategy matches the given id.
var ErrNotFound = errors.New("service: strategy not found")

// ErrDuplicateName is returned when a strategy name is already taken.
var ErrDuplicateName = errors.New("service: strategy name already exists")

// Service wires strategy records to the store and the exchange gateway.
type Service struct {
	st      store.Store
	gateway exchange.Exchange
	schemas *strategy.SchemaRegistry

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(st store.Store, gateway exchange.Exchange, schemas *strategy.SchemaRegistry) *Service {
	return &Service{
		st:      st,
		gateway: gateway,
		schemas: schemas,
		locks:   make(map[string]*sync.Mutex),
	}
}

// lockFor serializes store writes per strategy id so concurrent HTTP calls
// and manager ticks never interleave partial updates.
func (s *Service) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// CreateRequest is one strategy submission.
type CreateRequest struct {
	Name          string         `json:"name"`
	Kind          string         `json:"kind"`
	Symbol        string         `json:"symbol"`
	Config        map[string]any `json:"config"`
	CheckInterval time.Duration  `json:"check_interval,omitempty"`
}

// Create validates and stores a new strategy. An invalid configuration is
// rejected synchronously: the record lands in FAILED with one error event
// and never enters the tick loop.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*strategy.Strategy, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fault.Newf(fault.ConfigValidation, "service.Create", "name: required")
	}
	kind := strategy.Kind(strings.ToLower(strings.TrimSpace(req.Kind)))
	if !kind.Valid() {
		return nil, fault.Newf(fault.ConfigValidation, "service.Create", "kind: unknown strategy kind %q", req.Kind)
	}
	symbol := strings.TrimSpace(req.Symbol)
	if symbol == "" {
		return nil, fault.Newf(fault.ConfigValidation, "service.Create", "symbol: required")
	}
	if _, err := s.st.FindStrategyByName(ctx, name); err == nil {
		return nil, ErrDuplicateName
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("service.Create: name lookup: %w", err)
	}

	st := &strategy.Strategy{
		ID:            uuid.NewString(),
		Name:          name,
		Kind:          kind,
		Symbol:        symbol,
		RawConfig:     req.Config,
		State:         strategy.StatePending,
		CheckInterval: req.CheckInterval,
		CreatedAt:     time.Now().UTC(),
	}

	var verr error
	if s.schemas != nil {
		verr = s.schemas.Validate(kind, req.Config)
	}
	if verr == nil {
		_, verr = strategy.DecodeConfig(kind, req.Config)
	}
	if verr != nil {
		st.State = strategy.StateFailed
	}

	rec, err := toRecord(st)
	if err != nil {
		return nil, err
	}
	if err := s.st.CreateStrategy(ctx, rec); err != nil {
		return nil, err
	}
	if verr != nil {
		s.RecordErrorEvent(ctx, st, verr, fault.SeveritySevere, nil)
		logger.Warnf("strategy %s rejected: %v", st.Name, verr)
		return nil, verr
	}
	logger.Infof("strategy %s created (%s %s)", st.Name, st.Kind, st.Symbol)
	return st, nil
}

// List returns every stored strategy.
func (s *Service) List(ctx context.Context) ([]*strategy.Strategy, error) {
	recs, err := s.st.LoadStrategies(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*strategy.Strategy, 0, len(recs))
	for i := range recs {
		st, err := fromRecord(&recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// Get returns one strategy with its order facts attached.
func (s *Service) Get(ctx context.Context, id string) (*strategy.Strategy, error) {
	rec, err := s.st.FindStrategy(ctx, id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	st, err := fromRecord(rec)
	if err != nil {
		return nil, err
	}
	orders, err := s.st.ListOrders(ctx, id)
	if err != nil {
		return nil, err
	}
	st.Orders = ordersFromRecords(orders)
	return st, nil
}

// Cancel is the explicit operator stop: live orders are cancelled on the
// exchange first, then the strategy moves to the terminal CANCELLED state.
func (s *Service) Cancel(ctx context.Context, id string) (*strategy.Strategy, error) {
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	st, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := strategy.ValidateTransition(st.State, strategy.StateCancelled); err != nil {
		return nil, err
	}
	if err := s.cancelLiveOrders(ctx, st); err != nil {
		return nil, err
	}
	if err := s.persistTransition(ctx, st, strategy.StateCancelled, nil); err != nil {
		return nil, err
	}
	return st, nil
}

// Resume restarts a circuit-paused strategy ahead of its cooldown.
func (s *Service) Resume(ctx context.Context, id string) (*strategy.Strategy, error) {
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	st, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if st.State != strategy.StatePaused {
		return nil, fault.Newf(fault.ConfigValidation, "service.Resume", "strategy %s is %s, only paused strategies can be resumed", st.Name, st.State)
	}
	st.Health.Halted = false
	st.Health.BreakerOpen = false
	st.Health.CooldownUntil = nil
	st.Health.ConsecutiveFailures = 0
	st.Health.WindowFailures = 0
	if err := s.persistTransition(ctx, st, strategy.StateActive, nil); err != nil {
		return nil, err
	}
	return st, nil
}

// Orders lists a strategy's order facts.
func (s *Service) Orders(ctx context.Context, id string) ([]model.OrderRecord, error) {
	if _, err := s.st.FindStrategy(ctx, id); err != nil {
		return nil, mapNotFound(err)
	}
	return s.st.ListOrders(ctx, id)
}

// Events lists a strategy's recent error events.
func (s *Service) Events(ctx context.Context, id string, limit int) ([]model.ErrorEventRecord, error) {
	if _, err := s.st.FindStrategy(ctx, id); err != nil {
		return nil, mapNotFound(err)
	}
	return s.st.ListErrorEvents(ctx, id, limit)
}

// LoadAll hydrates every non-terminal strategy with its orders for the
// manager's registry at startup.
func (s *Service) LoadAll(ctx context.Context) ([]*strategy.Strategy, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []*strategy.Strategy
	for _, st := range all {
		if st.State.Terminal() {
			continue
		}
		orders, err := s.st.ListOrders(ctx, st.ID)
		if err != nil {
			return nil, err
		}
		st.Orders = ordersFromRecords(orders)
		out = append(out, st)
	}
	return out, nil
}

// PersistTransition validates and stores a manager-driven state change,
// cancelling live orders when the target state is terminal.
func (s *Service) PersistTransition(ctx context.Context, st *strategy.Strategy, to strategy.State, cause error) error {
	l := s.lockFor(st.ID)
	l.Lock()
	defer l.Unlock()

	if err := strategy.ValidateTransition(st.State, to); err != nil {
		return err
	}
	if to.Terminal() {
		if err := s.cancelLiveOrders(ctx, st); err != nil {
			logger.Errorf("strategy %s: cancel orders on %s failed: %v", st.Name, to, err)
		}
	}
	return s.persistTransition(ctx, st, to, cause)
}

// CommitState persists a transition the machine already applied in memory
// (activation, completion), logging before/after. Terminal states cancel
// any remaining live orders first.
func (s *Service) CommitState(ctx context.Context, st *strategy.Strategy, from strategy.State) error {
	l := s.lockFor(st.ID)
	l.Lock()
	defer l.Unlock()

	to := st.State
	if to.Terminal() {
		if err := s.cancelLiveOrders(ctx, st); err != nil {
			logger.Errorf("strategy %s: cancel orders on %s failed: %v", st.Name, to, err)
		}
	}
	logger.Infow("strategy state transition",
		"strategy", st.Name, "from", string(from), "to", string(to))
	if err := s.st.SaveStrategyState(ctx, st.ID, to, st.Health); err != nil {
		return fmt.Errorf("save strategy state: %w", err)
	}
	return nil
}

// persistTransition logs before/after state then commits. Callers hold the
// per-strategy lock.
func (s *Service) persistTransition(ctx context.Context, st *strategy.Strategy, to strategy.State, cause error) error {
	from := st.State
	if cause != nil {
		logger.Warnw("strategy state transition",
			"strategy", st.Name, "from", string(from), "to", string(to), "cause", cause.Error())
	} else {
		logger.Infow("strategy state transition",
			"strategy", st.Name, "from", string(from), "to", string(to))
	}
	if err := s.st.SaveStrategyState(ctx, st.ID, to, st.Health); err != nil {
		return fmt.Errorf("save strategy state: %w", err)
	}
	st.State = to
	return nil
}

// SaveHealth persists the health record without a state change.
func (s *Service) SaveHealth(ctx context.Context, st *strategy.Strategy) error {
	l := s.lockFor(st.ID)
	l.Lock()
	defer l.Unlock()
	return s.st.SaveStrategyState(ctx, st.ID, st.State, st.Health)
}

// Touch records the tick time for the due filter across restarts.
func (s *Service) Touch(ctx context.Context, st *strategy.Strategy, at time.Time) {
	st.LastCheckedAt = at
	if err := s.st.TouchStrategy(ctx, st.ID, at.Unix()); err != nil {
		logger.Debugf("strategy %s: touch failed: %v", st.Name, err)
	}
}

// RecordOrder implements strategy.OrderRecorder: one append-only row per
// accepted order.
func (s *Service) RecordOrder(ctx context.Context, st *strategy.Strategy, o strategy.Order) error {
	return s.st.AppendOrder(ctx, &model.OrderRecord{
		OrderID:       o.OrderID,
		ClientOrderID: o.ClientOrderID,
		StrategyID:    st.ID,
		Symbol:        o.Symbol,
		Side:          string(o.Side),
		Price:         o.Price.String(),
		Quantity:      o.Quantity.String(),
		PlacedAtUnix:  o.PlacedAt.Unix(),
	})
}

// RecordErrorEvent emits exactly one structured record for a final fault
// outcome: the log line for the operator and the row for triage. The
// context bundles the configuration, the market state at failure time and
// the kinds of the preceding events.
func (s *Service) RecordErrorEvent(ctx context.Context, st *strategy.Strategy, cause error, severity fault.Severity, marketState map[string]any) {
	kind := string(fault.KindOf(cause))
	prev := s.previousErrorKinds(ctx, st.ID)

	logger.Errorw("strategy fault",
		"strategy", st.Name,
		"error_kind", kind,
		"severity", severity.String(),
		"message", cause.Error(),
	)

	evCtx := map[string]any{
		"config":          st.RawConfig,
		"market_state":    marketState,
		"previous_errors": prev,
	}
	ctxJSON, err := json.Marshal(evCtx)
	if err != nil {
		ctxJSON = []byte(`{}`)
	}
	rec := &model.ErrorEventRecord{
		StrategyID:   st.ID,
		StrategyName: st.Name,
		ErrorKind:    kind,
		Severity:     severity.String(),
		Message:      cause.Error(),
		ContextJSON:  datatypes.JSON(ctxJSON),
	}
	if err := s.st.AppendErrorEvent(ctx, rec); err != nil {
		logger.Errorf("strategy %s: append error event failed: %v", st.Name, err)
	}
}

func (s *Service) previousErrorKinds(ctx context.Context, id string) []string {
	events, err := s.st.ListErrorEvents(ctx, id, 5)
	if err != nil {
		return nil
	}
	kinds := make([]string, 0, len(events))
	for _, ev := range events {
		kinds = append(kinds, ev.ErrorKind)
	}
	return kinds
}

// cancelLiveOrders cancels every live order on the exchange and is a no-op
// for strategies without open orders.
func (s *Service) cancelLiveOrders(ctx context.Context, st *strategy.Strategy) error {
	for i := range st.Orders {
		o := &st.Orders[i]
		if !o.Live() || o.OrderID == "" {
			continue
		}
		if err := s.gateway.CancelOrder(ctx, o.Symbol, o.OrderID); err != nil {
			return err
		}
		o.State = exchange.OrderCancelled
		logger.Infof("strategy %s cancelled order %s", st.Name, o.OrderID)
	}
	return nil
}

func mapNotFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
