package strategy

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helmsman/internal/fault"
	"helmsman/internal/gateway/exchange"
)

type fakeExchange struct {
	price    decimal.Decimal
	priceErr error
	placeErr error

	placed    []exchange.OrderRequest
	cancelled []string
	statuses  map[string]exchange.OrderState
	nextID    int
}

func newFakeExchange(price string) *fakeExchange {
	return &fakeExchange{
		price:    decimal.RequireFromString(price),
		statuses: make(map[string]exchange.OrderState),
	}
}

func (f *fakeExchange) Name() string { return "fake" }

func (f *fakeExchange) GetPrice(context.Context, string) (exchange.PriceQuote, error) {
	if f.priceErr != nil {
		return exchange.PriceQuote{}, f.priceErr
	}
	return exchange.PriceQuote{Last: f.price, UpdatedAt: time.Now()}, nil
}

func (f *fakeExchange) PlaceOrder(_ context.Context, req exchange.OrderRequest) (exchange.OrderAck, error) {
	if f.placeErr != nil {
		return exchange.OrderAck{}, f.placeErr
	}
	f.nextID++
	id := fmt.Sprintf("ord-%d", f.nextID)
	f.placed = append(f.placed, req)
	f.statuses[id] = exchange.OrderLive
	return exchange.OrderAck{
		OrderID:    id,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Price:      req.Price,
		Quantity:   req.Quantity,
		AcceptedAt: time.Now(),
	}, nil
}

func (f *fakeExchange) OrderStatus(_ context.Context, symbol, orderID string) (exchange.OrderStatus, error) {
	state, ok := f.statuses[orderID]
	if !ok {
		return exchange.OrderStatus{}, fault.Newf(fault.InvalidOrderParams, "fake.OrderStatus", "unknown order %s", orderID)
	}
	return exchange.OrderStatus{OrderID: orderID, Symbol: symbol, State: state}, nil
}

func (f *fakeExchange) CancelOrder(_ context.Context, _, orderID string) error {
	f.cancelled = append(f.cancelled, orderID)
	f.statuses[orderID] = exchange.OrderCancelled
	return nil
}

func (f *fakeExchange) Balances(context.Context) ([]exchange.Balance, error) {
	return nil, nil
}

func (f *fakeExchange) fill(orderID string) { f.statuses[orderID] = exchange.OrderFilled }

func rangeStrategy() *Strategy {
	return &Strategy{
		ID:     "st-1",
		Name:   "eth-range",
		Kind:   KindRange,
		Symbol: "ethusd",
		State:  StatePending,
		RawConfig: map[string]any{
			"levels": []any{
				map[string]any{"price": "2400", "size": "1"},
				map[string]any{"price": "2300", "size": "2"},
			},
			"target_price": "2600",
			"stop_price":   "2200",
		},
	}
}

func TestTickActivatesPendingStrategy(t *testing.T) {
	gw := newFakeExchange("2500")
	m := NewMachine(gw, nil, nil)
	st := rangeStrategy()

	require.NoError(t, m.Tick(context.Background(), st))
	assert.Equal(t, StateActive, st.State)
	require.NotNil(t, st.Config.Range)
	assert.Len(t, st.Config.Range.Levels, 2)
}

func TestTickRejectsInvalidConfigBeforeActivation(t *testing.T) {
	gw := newFakeExchange("2500")
	m := NewMachine(gw, nil, nil)
	st := rangeStrategy()
	st.RawConfig["target_price"] = "100" // below the highest entry level

	err := m.Tick(context.Background(), st)
	require.Error(t, err)
	assert.Equal(t, fault.ConfigValidation, fault.KindOf(err))
	assert.Equal(t, StatePending, st.State)
	assert.Empty(t, gw.placed, "invalid configuration must never reach the exchange")
}

func TestRangePlacesEntriesThenTargetSell(t *testing.T) {
	gw := newFakeExchange("2500")
	m := NewMachine(gw, nil, nil)
	st := rangeStrategy()
	ctx := context.Background()

	require.NoError(t, m.Tick(ctx, st))
	require.Len(t, gw.placed, 2, "one resting buy per level")
	assert.Equal(t, exchange.SideBuy, gw.placed[0].Side)
	assert.Equal(t, "2400", gw.placed[0].Price.String())
	assert.Equal(t, "2300", gw.placed[1].Price.String())

	// First level fills; the next tick covers the position at the target.
	gw.fill(st.Orders[0].OrderID)
	require.NoError(t, m.Tick(ctx, st))
	require.Len(t, gw.placed, 3)
	sell := gw.placed[2]
	assert.Equal(t, exchange.SideSell, sell.Side)
	assert.Equal(t, "2600", sell.Price.String())
	assert.Equal(t, "1", sell.Quantity.String())

	// Second level fills too; the sell tops up for the extra quantity.
	gw.fill(st.Orders[1].OrderID)
	require.NoError(t, m.Tick(ctx, st))
	require.Len(t, gw.placed, 4)
	assert.Equal(t, "2", gw.placed[3].Quantity.String())
}

func TestRangeCompletesWhenPositionSold(t *testing.T) {
	gw := newFakeExchange("2500")
	m := NewMachine(gw, nil, nil)
	st := rangeStrategy()
	ctx := context.Background()

	require.NoError(t, m.Tick(ctx, st))
	gw.fill(st.Orders[0].OrderID)
	require.NoError(t, m.Tick(ctx, st))

	// Target sell fills: position fully exited.
	gw.fill(st.Orders[2].OrderID)
	require.NoError(t, m.Tick(ctx, st))
	assert.Equal(t, StateCompleted, st.State)
}

func TestRangeStopCrossingCancelsSellAndExits(t *testing.T) {
	gw := newFakeExchange("2500")
	m := NewMachine(gw, nil, nil)
	st := rangeStrategy()
	ctx := context.Background()

	require.NoError(t, m.Tick(ctx, st))
	gw.fill(st.Orders[0].OrderID)
	require.NoError(t, m.Tick(ctx, st))
	targetSell := st.Orders[2].OrderID

	gw.price = decimal.RequireFromString("2150")
	require.NoError(t, m.Tick(ctx, st))
	assert.Contains(t, gw.cancelled, targetSell)
	exit := gw.placed[len(gw.placed)-1]
	assert.Equal(t, exchange.SideSell, exit.Side)
	assert.Equal(t, "2178", exit.Price.String(), "exit rests 1% below the stop")

	// Still under the stop next tick: the in-flight exit is not re-placed.
	placed := len(gw.placed)
	require.NoError(t, m.Tick(ctx, st))
	assert.Len(t, gw.placed, placed)
}

func TestFailedPlacementLeavesStateUntouched(t *testing.T) {
	gw := newFakeExchange("2500")
	m := NewMachine(gw, nil, nil)
	st := rangeStrategy()
	ctx := context.Background()

	gw.placeErr = fault.Newf(fault.InvalidOrderParams, "fake.PlaceOrder", "rejected")
	err := m.Tick(ctx, st)
	require.Error(t, err)
	assert.Equal(t, fault.InvalidOrderParams, fault.KindOf(err))
	assert.Empty(t, st.Orders, "no order fact recorded for a failed attempt")
	assert.Equal(t, StateActive, st.State)
}

func breakoutStrategy() *Strategy {
	return &Strategy{
		ID:     "st-2",
		Name:   "btc-breakout",
		Kind:   KindBreakout,
		Symbol: "btcusd",
		State:  StatePending,
		RawConfig: map[string]any{
			"breakout_price": "50000",
			"amount":         "0.4",
			"take_profit_1":  "52000",
			"take_profit_2":  "54000",
			"stop_loss":      "48000",
		},
	}
}

func TestBreakoutArmsOnlyNearLevel(t *testing.T) {
	gw := newFakeExchange("48000")
	m := NewMachine(gw, nil, nil)
	st := breakoutStrategy()
	ctx := context.Background()

	require.NoError(t, m.Tick(ctx, st))
	assert.Empty(t, gw.placed, "price 4% under the level must not arm the entry")

	// Within 0.5% of the breakout level the entry goes in.
	gw.price = decimal.RequireFromString("49800")
	require.NoError(t, m.Tick(ctx, st))
	require.Len(t, gw.placed, 1)
	assert.Equal(t, "50000", gw.placed[0].Price.String())
}

func TestBreakoutSplitsExitAcrossTwoTargets(t *testing.T) {
	gw := newFakeExchange("50100")
	m := NewMachine(gw, nil, nil)
	st := breakoutStrategy()
	ctx := context.Background()

	require.NoError(t, m.Tick(ctx, st))
	gw.fill(st.Orders[0].OrderID)

	require.NoError(t, m.Tick(ctx, st))
	require.Len(t, gw.placed, 3)
	assert.Equal(t, "52000", gw.placed[1].Price.String())
	assert.Equal(t, "54000", gw.placed[2].Price.String())
	assert.Equal(t, "0.2", gw.placed[1].Quantity.String())
	assert.Equal(t, "0.2", gw.placed[2].Quantity.String())

	gw.fill(st.Orders[1].OrderID)
	gw.fill(st.Orders[2].OrderID)
	require.NoError(t, m.Tick(ctx, st))
	assert.Equal(t, StateCompleted, st.State)
}

func TestStopLossTakeProfitExitsOnStopCrossing(t *testing.T) {
	gw := newFakeExchange("2500")
	m := NewMachine(gw, nil, nil)
	st := &Strategy{
		ID:     "st-3",
		Name:   "eth-sltp",
		Kind:   KindStopLossTakeProfit,
		Symbol: "ethusd",
		State:  StatePending,
		RawConfig: map[string]any{
			"current_position":  "3",
			"entry_price":       "2400",
			"take_profit_price": "2700",
			"stop_loss_price":   "2300",
		},
	}
	ctx := context.Background()

	require.NoError(t, m.Tick(ctx, st))
	require.Len(t, gw.placed, 1)
	assert.Equal(t, "2700", gw.placed[0].Price.String())
	assert.Equal(t, "3", gw.placed[0].Quantity.String())

	gw.price = decimal.RequireFromString("2290")
	require.NoError(t, m.Tick(ctx, st))
	assert.Len(t, gw.cancelled, 1)
	exit := gw.placed[len(gw.placed)-1]
	assert.Equal(t, "2277", exit.Price.String())

	gw.fill(st.Orders[len(st.Orders)-1].OrderID)
	require.NoError(t, m.Tick(ctx, st))
	assert.Equal(t, StateCompleted, st.State)
}

func TestTransitionTable(t *testing.T) {
	valid := []struct{ from, to State }{
		{StatePending, StateActive},
		{StatePending, StateFailed},
		{StateActive, StatePaused},
		{StateActive, StateCompleted},
		{StatePaused, StateActive},
		{StatePaused, StateFailed},
		{StateActive, StateCancelled},
	}
	for _, tc := range valid {
		assert.NoError(t, ValidateTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}

	invalid := []struct{ from, to State }{
		{StateFailed, StateActive},
		{StateCompleted, StateActive},
		{StateCancelled, StateActive},
		{StatePending, StatePaused},
		{StatePaused, StateCompleted},
	}
	for _, tc := range invalid {
		err := ValidateTransition(tc.from, tc.to)
		require.Error(t, err, "%s -> %s", tc.from, tc.to)
		assert.Equal(t, fault.ConfigValidation, fault.KindOf(err))
	}
}

func TestDueHonorsPerStrategyInterval(t *testing.T) {
	now := time.Now()
	st := &Strategy{LastCheckedAt: now.Add(-10 * time.Second)}
	assert.True(t, st.Due(now, 5*time.Second))

	st.CheckInterval = 30 * time.Second
	assert.False(t, st.Due(now, 5*time.Second))
	assert.True(t, st.Due(now.Add(25*time.Second), 5*time.Second))

	fresh := &Strategy{}
	assert.True(t, fresh.Due(now, time.Minute), "never-ticked strategies are always due")
}
