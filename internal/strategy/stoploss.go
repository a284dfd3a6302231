package strategy

import (
	"context"

	"github.com/shopspring/decimal"

	"helmsman/internal/gateway/exchange"
)

// executeStopLossTakeProfit watches an existing position and exits on
// whichever of the target or the stop is crossed first. The position was
// acquired outside this strategy, so only sell orders are ever placed.
func (m *Machine) executeStopLossTakeProfit(ctx context.Context, st *Strategy, price decimal.Decimal) (bool, error) {
	cfg := st.Config.SLTP

	if len(st.FilledOrders(exchange.SideSell)) > 0 {
		return true, nil
	}

	if price.LessThanOrEqual(cfg.StopLossPrice) {
		return false, m.exitAtStop(ctx, st, cfg.StopLossPrice, cfg.CurrentPosition)
	}

	if pendingSellQuantity(st).LessThan(cfg.CurrentPosition) {
		uncovered := cfg.CurrentPosition.Sub(pendingSellQuantity(st))
		if uncovered.GreaterThan(decimal.Zero) {
			return false, m.placeLimit(ctx, st, exchange.SideSell, cfg.TakeProfitPrice, uncovered)
		}
	}
	return false, nil
}
