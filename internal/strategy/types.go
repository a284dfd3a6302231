// Package strategy holds the per-strategy lifecycle state machine and the
// order logic for each strategy kind. The machine owns transitions and tick
// evaluation only; retry, circuit breaking and persistence live with the
// manager and the service.
package strategy

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"helmsman/internal/fault"
	"helmsman/internal/gateway/exchange"
)

// Kind enumerates the supported strategy kinds.
type Kind string

const (
	KindRange              Kind = "range"
	KindBreakout           Kind = "breakout"
	KindStopLossTakeProfit Kind = "stop_loss_take_profit"
)

func (k Kind) Valid() bool {
	switch k {
	case KindRange, KindBreakout, KindStopLossTakeProfit:
		return true
	}
	return false
}

// State is the strategy lifecycle state.
type State string

const (
	StatePending   State = "pending"
	StateActive    State = "active"
	StatePaused    State = "paused"
	StateFailed    State = "failed"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether the strategy can never tick again.
func (s State) Terminal() bool {
	return s == StateFailed || s == StateCompleted || s == StateCancelled
}

// validTransitions is the closed transition table. PENDING may fail
// synchronously on invalid configuration; ACTIVE and PAUSED cycle; every
// non-terminal state may be cancelled by the operator.
var validTransitions = map[State][]State{
	StatePending: {StateActive, StateFailed, StateCancelled},
	StateActive:  {StatePaused, StateFailed, StateCompleted, StateCancelled},
	StatePaused:  {StateActive, StateFailed, StateCancelled},
}

// ValidateTransition returns nil when from → to is allowed.
func ValidateTransition(from, to State) error {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fault.Newf(fault.ConfigValidation, "strategy.ValidateTransition",
		"invalid transition %s -> %s", from, to)
}

// Health is the failure bookkeeping the breaker and the manager fold faults
// into. It is persisted with every state save so a restart resumes with the
// same view of a strategy's reliability.
type Health struct {
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
	LastFailureKind     string     `json:"last_failure_kind,omitempty"`
	WindowFailures      int        `json:"window_failures"`
	BreakerOpen         bool       `json:"breaker_open"`
	CooldownUntil       *time.Time `json:"cooldown_until,omitempty"`
	Reopens             int        `json:"reopens"`
	Halted              bool       `json:"halted,omitempty"`
}

// Order is one append-only order fact attributed to a strategy. State is the
// latest view fetched from the exchange; everything else is immutable once
// recorded.
type Order struct {
	OrderID       string
	ClientOrderID string
	StrategyID    string
	Symbol        string
	Side          exchange.Side
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	State         exchange.OrderState
	PlacedAt      time.Time
}

// Live reports whether the order can still fill.
func (o Order) Live() bool { return !o.State.Terminal() }

// Strategy is the runtime record for one configured strategy instance.
// RawConfig keeps the submitted document verbatim (including the opaque
// entry_conditions block); Config is the typed decode used by tick logic.
type Strategy struct {
	ID     string
	Name   string
	Kind   Kind
	Symbol string

	RawConfig map[string]any
	Config    Config

	State  State
	Health Health

	CheckInterval time.Duration
	LastCheckedAt time.Time
	CreatedAt     time.Time

	Orders []Order
}

// Due reports whether enough time has passed since the last tick, honoring
// the per-strategy interval override when present.
func (s *Strategy) Due(now time.Time, global time.Duration) bool {
	interval := global
	if s.CheckInterval > 0 {
		interval = s.CheckInterval
	}
	return s.LastCheckedAt.IsZero() || !now.Before(s.LastCheckedAt.Add(interval))
}

// LiveOrders returns the strategy's non-terminal orders, optionally filtered
// by side ("" matches both).
func (s *Strategy) LiveOrders(side exchange.Side) []Order {
	return s.filterOrders(side, func(o Order) bool { return o.Live() })
}

// FilledOrders returns fully filled orders, optionally filtered by side.
func (s *Strategy) FilledOrders(side exchange.Side) []Order {
	return s.filterOrders(side, func(o Order) bool { return o.State == exchange.OrderFilled })
}

func (s *Strategy) filterOrders(side exchange.Side, keep func(Order) bool) []Order {
	var out []Order
	for _, o := range s.Orders {
		if side != "" && o.Side != side {
			continue
		}
		if keep(o) {
			out = append(out, o)
		}
	}
	return out
}

// Position is the net filled quantity: bought minus sold.
func (s *Strategy) Position() decimal.Decimal {
	pos := decimal.Zero
	for _, o := range s.FilledOrders(exchange.SideBuy) {
		pos = pos.Add(o.Quantity)
	}
	for _, o := range s.FilledOrders(exchange.SideSell) {
		pos = pos.Sub(o.Quantity)
	}
	return pos
}

func (s *Strategy) String() string {
	return fmt.Sprintf("%s(%s %s %s)", s.Name, s.Kind, s.Symbol, s.State)
}
