package strategy

import (
	"context"

	"github.com/shopspring/decimal"

	"helmsman/internal/gateway/exchange"
	"helmsman/internal/logger"
)

// executeRange scales into a position with resting limit buys at the
// configured descending levels and exits the whole position at the target.
// The goal is reached once the position has been fully sold back.
func (m *Machine) executeRange(ctx context.Context, st *Strategy, price decimal.Decimal) (bool, error) {
	cfg := st.Config.Range
	position := st.Position()

	if position.LessThanOrEqual(decimal.Zero) && len(st.FilledOrders(exchange.SideSell)) > 0 {
		return true, nil
	}

	// Stop crossing takes priority over everything else.
	if !cfg.StopPrice.IsZero() && position.IsPositive() && price.LessThanOrEqual(cfg.StopPrice) {
		return false, m.exitAtStop(ctx, st, cfg.StopPrice, position)
	}

	if err := m.placeRangeEntries(ctx, st, cfg); err != nil {
		return false, err
	}

	// Top up the target sell so the whole position is always covered.
	uncovered := position.Sub(pendingSellQuantity(st))
	if uncovered.IsPositive() {
		if err := m.placeLimit(ctx, st, exchange.SideSell, cfg.TargetPrice, uncovered); err != nil {
			return false, err
		}
	}
	return false, nil
}

// placeRangeEntries rests one limit buy per configured level that does not
// have an order yet, capped by max_position when set.
func (m *Machine) placeRangeEntries(ctx context.Context, st *Strategy, cfg *RangeConfig) error {
	committed := decimal.Zero
	for _, o := range st.Orders {
		if o.Side == exchange.SideBuy && o.State != exchange.OrderCancelled && o.State != exchange.OrderRejected {
			committed = committed.Add(o.Quantity)
		}
	}
	for _, level := range cfg.Levels {
		if hasBuyAtLevel(st, level.Price) {
			continue
		}
		if !cfg.MaxPosition.IsZero() && committed.Add(level.Size).GreaterThan(cfg.MaxPosition) {
			logger.Debugf("strategy %s skipping level %s: max position %s reached",
				st.Name, level.Price, cfg.MaxPosition)
			continue
		}
		if err := m.placeLimit(ctx, st, exchange.SideBuy, level.Price, level.Size); err != nil {
			return err
		}
		committed = committed.Add(level.Size)
	}
	return nil
}

func hasBuyAtLevel(st *Strategy, level decimal.Decimal) bool {
	for _, o := range st.Orders {
		if o.Side != exchange.SideBuy {
			continue
		}
		if o.State == exchange.OrderCancelled || o.State == exchange.OrderRejected {
			continue
		}
		if o.Price.Equal(level) {
			return true
		}
	}
	return false
}
