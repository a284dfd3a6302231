package strategy

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"helmsman/internal/gateway/exchange"
	"helmsman/internal/logger"
)

// OrderRecorder persists one order fact. The machine calls it exactly once
// per accepted order, before the order joins the in-memory record.
type OrderRecorder interface {
	RecordOrder(ctx context.Context, st *Strategy, o Order) error
}

// Machine drives one tick of strategy logic. It never catches faults: every
// error propagates to the caller so retry and circuit policy stay outside
// the strategy logic.
type Machine struct {
	gateway  exchange.Exchange
	schemas  *SchemaRegistry
	recorder OrderRecorder
}

func NewMachine(gateway exchange.Exchange, schemas *SchemaRegistry, recorder OrderRecorder) *Machine {
	return &Machine{gateway: gateway, schemas: schemas, recorder: recorder}
}

var multStopExit = decimal.RequireFromString("0.99")

// Tick runs one evaluation cycle. PENDING strategies are validated and
// activated first; an invalid configuration never reaches the tick logic.
// State mutations happen only on success paths: a failed order placement
// leaves the strategy exactly as it was before the attempt.
func (m *Machine) Tick(ctx context.Context, st *Strategy) error {
	if st.State == StatePending {
		if err := m.activate(st); err != nil {
			return err
		}
	}
	if st.State != StateActive {
		return nil
	}
	if st.Config == (Config{}) {
		cfg, err := DecodeConfig(st.Kind, st.RawConfig)
		if err != nil {
			return err
		}
		st.Config = cfg
	}

	if err := m.refreshOrders(ctx, st); err != nil {
		return err
	}
	quote, err := m.gateway.GetPrice(ctx, st.Symbol)
	if err != nil {
		return err
	}
	logger.Debugf("strategy %s price %s", st.Name, quote.Last)

	var done bool
	switch st.Kind {
	case KindRange:
		done, err = m.executeRange(ctx, st, quote.Last)
	case KindBreakout:
		done, err = m.executeBreakout(ctx, st, quote.Last)
	case KindStopLossTakeProfit:
		done, err = m.executeStopLossTakeProfit(ctx, st, quote.Last)
	}
	if err != nil {
		return err
	}
	if done {
		st.State = StateCompleted
		logger.Infof("strategy %s completed", st.Name)
	}
	return nil
}

// activate validates the raw configuration against the kind's schema and
// decodes the typed payload, then moves PENDING to ACTIVE.
func (m *Machine) activate(st *Strategy) error {
	if m.schemas != nil {
		if err := m.schemas.Validate(st.Kind, st.RawConfig); err != nil {
			return err
		}
	}
	cfg, err := DecodeConfig(st.Kind, st.RawConfig)
	if err != nil {
		return err
	}
	st.Config = cfg
	st.State = StateActive
	logger.Infof("strategy %s activated", st.Name)
	return nil
}

// refreshOrders pulls the current status of every live order before any
// decision is made, so fills observed since the last tick are counted.
func (m *Machine) refreshOrders(ctx context.Context, st *Strategy) error {
	for i := range st.Orders {
		o := &st.Orders[i]
		if !o.Live() || o.OrderID == "" {
			continue
		}
		status, err := m.gateway.OrderStatus(ctx, o.Symbol, o.OrderID)
		if err != nil {
			return err
		}
		if status.State != o.State {
			logger.Debugf("strategy %s order %s %s -> %s", st.Name, o.OrderID, o.State, status.State)
			o.State = status.State
		}
	}
	return nil
}

// placeLimit submits one limit order and records the accepted fact. The
// in-memory order list is only appended after both the exchange and the
// recorder accepted it.
func (m *Machine) placeLimit(ctx context.Context, st *Strategy, side exchange.Side, price, qty decimal.Decimal) error {
	req := exchange.OrderRequest{
		Symbol:        st.Symbol,
		Side:          side,
		Price:         price,
		Quantity:      qty,
		ClientOrderID: uuid.NewString(),
	}
	ack, err := m.gateway.PlaceOrder(ctx, req)
	if err != nil {
		return err
	}
	order := Order{
		OrderID:       ack.OrderID,
		ClientOrderID: req.ClientOrderID,
		StrategyID:    st.ID,
		Symbol:        ack.Symbol,
		Side:          side,
		Price:         ack.Price,
		Quantity:      ack.Quantity,
		State:         exchange.OrderLive,
		PlacedAt:      ack.AcceptedAt,
	}
	if m.recorder != nil {
		if err := m.recorder.RecordOrder(ctx, st, order); err != nil {
			return err
		}
	}
	st.Orders = append(st.Orders, order)
	logger.Infof("strategy %s placed %s %s %s @ %s", st.Name, side, order.Quantity, st.Symbol, order.Price)
	return nil
}

// exitAtStop cancels resting sells above the stop and places one aggressive
// limit sell 1% below it. A live sell already at or below the stop means the
// exit is in flight and nothing is re-placed.
func (m *Machine) exitAtStop(ctx context.Context, st *Strategy, stop, qty decimal.Decimal) error {
	for i := range st.Orders {
		o := &st.Orders[i]
		if o.Side != exchange.SideSell || !o.Live() {
			continue
		}
		if o.Price.LessThanOrEqual(stop) {
			return nil
		}
		if err := m.gateway.CancelOrder(ctx, o.Symbol, o.OrderID); err != nil {
			return err
		}
		o.State = exchange.OrderCancelled
	}
	logger.Warnf("strategy %s stop %s crossed, exiting %s", st.Name, stop, qty)
	return m.placeLimit(ctx, st, exchange.SideSell, stop.Mul(multStopExit), qty)
}

// pendingSellQuantity is the total size of live sell orders.
func pendingSellQuantity(st *Strategy) decimal.Decimal {
	total := decimal.Zero
	for _, o := range st.LiveOrders(exchange.SideSell) {
		total = total.Add(o.Quantity)
	}
	return total
}
