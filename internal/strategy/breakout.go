package strategy

import (
	"context"

	"github.com/shopspring/decimal"

	"helmsman/internal/gateway/exchange"
	"helmsman/internal/logger"
)

var two = decimal.NewFromInt(2)

// executeBreakout waits for price to approach the breakout level before
// committing the entry, then splits the exit across two take-profit targets
// of half size each.
func (m *Machine) executeBreakout(ctx context.Context, st *Strategy, price decimal.Decimal) (bool, error) {
	cfg := st.Config.Breakout
	filledSells := st.FilledOrders(exchange.SideSell)

	if len(filledSells) >= 2 {
		return true, nil
	}
	position := st.Position()
	if position.LessThanOrEqual(decimal.Zero) && len(filledSells) > 0 {
		// Stop exit filled before both targets did.
		return true, nil
	}

	if position.IsPositive() && price.LessThanOrEqual(cfg.StopLoss) {
		return false, m.exitAtStop(ctx, st, cfg.StopLoss, position)
	}

	buys := st.filterOrders(exchange.SideBuy, func(o Order) bool {
		return o.State != exchange.OrderCancelled && o.State != exchange.OrderRejected
	})
	if len(buys) == 0 {
		// Arm only near the level so a cold market does not tie up funds.
		armAt := cfg.BreakoutPrice.Mul(decimal.NewFromInt(1).Sub(cfg.ArmThreshold))
		if price.LessThan(armAt) {
			logger.Debugf("strategy %s price %s below arming level %s", st.Name, price, armAt)
			return false, nil
		}
		return false, m.placeLimit(ctx, st, exchange.SideBuy, cfg.BreakoutPrice, cfg.Amount)
	}

	entryFilled := len(st.FilledOrders(exchange.SideBuy)) > 0
	if entryFilled && len(st.LiveOrders(exchange.SideSell)) == 0 && len(filledSells) == 0 {
		half := cfg.Amount.Div(two)
		if err := m.placeLimit(ctx, st, exchange.SideSell, cfg.TakeProfit1, half); err != nil {
			return false, err
		}
		if err := m.placeLimit(ctx, st, exchange.SideSell, cfg.TakeProfit2, half); err != nil {
			return false, err
		}
	}
	return false, nil
}
