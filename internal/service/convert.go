package service

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"helmsman/internal/gateway/exchange"
	"helmsman/internal/store/model"
	"helmsman/internal/strategy"
)

func toRecord(st *strategy.Strategy) (*model.StrategyRecord, error) {
	cfgJSON, err := json.Marshal(st.RawConfig)
	if err != nil {
		return nil, fmt.Errorf("marshal strategy config: %w", err)
	}
	healthJSON, err := json.Marshal(st.Health)
	if err != nil {
		return nil, fmt.Errorf("marshal health record: %w", err)
	}
	return &model.StrategyRecord{
		ID:              st.ID,
		Name:            st.Name,
		Kind:            string(st.Kind),
		Symbol:          st.Symbol,
		ConfigJSON:      datatypes.JSON(cfgJSON),
		State:           string(st.State),
		HealthJSON:      datatypes.JSON(healthJSON),
		CheckIntervalMS: st.CheckInterval.Milliseconds(),
		LastCheckedUnix: lastCheckedUnix(st),
	}, nil
}

func fromRecord(rec *model.StrategyRecord) (*strategy.Strategy, error) {
	st := &strategy.Strategy{
		ID:            rec.ID,
		Name:          rec.Name,
		Kind:          strategy.Kind(rec.Kind),
		Symbol:        rec.Symbol,
		State:         strategy.State(rec.State),
		CheckInterval: time.Duration(rec.CheckIntervalMS) * time.Millisecond,
		CreatedAt:     time.Unix(rec.CreatedAtUnix, 0).UTC(),
	}
	if rec.LastCheckedUnix > 0 {
		st.LastCheckedAt = time.Unix(rec.LastCheckedUnix, 0).UTC()
	}
	if len(rec.ConfigJSON) > 0 {
		if err := json.Unmarshal(rec.ConfigJSON, &st.RawConfig); err != nil {
			return nil, fmt.Errorf("unmarshal strategy config for %s: %w", rec.Name, err)
		}
	}
	if len(rec.HealthJSON) > 0 {
		if err := json.Unmarshal(rec.HealthJSON, &st.Health); err != nil {
			return nil, fmt.Errorf("unmarshal health record for %s: %w", rec.Name, err)
		}
	}
	return st, nil
}

// ordersFromRecords rebuilds the in-memory order facts. Stored orders start
// as live; the first tick after a restart refreshes the real status from
// the exchange before any decision is made.
func ordersFromRecords(recs []model.OrderRecord) []strategy.Order {
	out := make([]strategy.Order, 0, len(recs))
	for _, rec := range recs {
		out = append(out, strategy.Order{
			OrderID:       rec.OrderID,
			ClientOrderID: rec.ClientOrderID,
			StrategyID:    rec.StrategyID,
			Symbol:        rec.Symbol,
			Side:          exchange.Side(rec.Side),
			Price:         parseDec(rec.Price),
			Quantity:      parseDec(rec.Quantity),
			State:         exchange.OrderLive,
			PlacedAt:      time.Unix(rec.PlacedAtUnix, 0).UTC(),
		})
	}
	return out
}

func parseDec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func lastCheckedUnix(st *strategy.Strategy) int64 {
	if st.LastCheckedAt.IsZero() {
		return 0
	}
	return st.LastCheckedAt.Unix()
}
