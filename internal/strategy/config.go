package strategy

import (
	"reflect"

	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"

	"helmsman/internal/fault"
)

// Config is the closed set of kind-specific configuration payloads. Exactly
// one field is non-nil after a successful decode.
type Config struct {
	Range    *RangeConfig
	Breakout *BreakoutConfig
	SLTP     *StopLossTakeProfitConfig
}

// EntryLevel is one scale-in step: a resting limit buy of Size at Price.
type EntryLevel struct {
	Price decimal.Decimal `mapstructure:"price"`
	Size  decimal.Decimal `mapstructure:"size"`
}

// RangeConfig scales into a position at descending price levels and exits
// the whole position at a target. An optional stop exits early.
type RangeConfig struct {
	Levels      []EntryLevel    `mapstructure:"levels"`
	TargetPrice decimal.Decimal `mapstructure:"target_price"`
	StopPrice   decimal.Decimal `mapstructure:"stop_price"`
	MaxPosition decimal.Decimal `mapstructure:"max_position"`
}

// BreakoutConfig buys a breakout level once price approaches it, then exits
// across two take-profit targets of half size each.
type BreakoutConfig struct {
	BreakoutPrice decimal.Decimal `mapstructure:"breakout_price"`
	Amount        decimal.Decimal `mapstructure:"amount"`
	TakeProfit1   decimal.Decimal `mapstructure:"take_profit_1"`
	TakeProfit2   decimal.Decimal `mapstructure:"take_profit_2"`
	StopLoss      decimal.Decimal `mapstructure:"stop_loss"`
	// ArmThreshold is the fraction of the breakout price within which the
	// entry order is placed. Defaults to 0.005 (0.5%).
	ArmThreshold decimal.Decimal `mapstructure:"arm_threshold"`
}

// StopLossTakeProfitConfig watches an existing position and exits on either
// a target or a stop crossing.
type StopLossTakeProfitConfig struct {
	CurrentPosition decimal.Decimal `mapstructure:"current_position"`
	EntryPrice      decimal.Decimal `mapstructure:"entry_price"`
	TakeProfitPrice decimal.Decimal `mapstructure:"take_profit_price"`
	StopLossPrice   decimal.Decimal `mapstructure:"stop_loss_price"`
}

var defaultArmThreshold = decimal.RequireFromString("0.005")

// DecodeConfig turns a schema-validated raw document into the typed payload
// for the given kind. The schema catches missing and mistyped fields; this
// decode enforces the numeric relationships a schema cannot express.
func DecodeConfig(kind Kind, raw map[string]any) (Config, error) {
	const op = "strategy.DecodeConfig"
	switch kind {
	case KindRange:
		var cfg RangeConfig
		if err := decode(raw, &cfg); err != nil {
			return Config{}, fault.New(fault.ConfigValidation, op, err)
		}
		if len(cfg.Levels) == 0 {
			return Config{}, fault.Newf(fault.ConfigValidation, op, "levels: at least one entry level required")
		}
		for i, lv := range cfg.Levels {
			if !lv.Price.IsPositive() || !lv.Size.IsPositive() {
				return Config{}, fault.Newf(fault.ConfigValidation, op, "levels[%d]: price and size must be positive", i)
			}
			if i > 0 && !lv.Price.LessThan(cfg.Levels[i-1].Price) {
				return Config{}, fault.Newf(fault.ConfigValidation, op, "levels[%d]: levels must be strictly descending", i)
			}
		}
		if !cfg.TargetPrice.GreaterThan(cfg.Levels[0].Price) {
			return Config{}, fault.Newf(fault.ConfigValidation, op, "target_price: must exceed the highest entry level")
		}
		if !cfg.StopPrice.IsZero() && !cfg.StopPrice.LessThan(cfg.Levels[len(cfg.Levels)-1].Price) {
			return Config{}, fault.Newf(fault.ConfigValidation, op, "stop_price: must sit below the lowest entry level")
		}
		return Config{Range: &cfg}, nil

	case KindBreakout:
		var cfg BreakoutConfig
		if err := decode(raw, &cfg); err != nil {
			return Config{}, fault.New(fault.ConfigValidation, op, err)
		}
		if !cfg.BreakoutPrice.IsPositive() || !cfg.Amount.IsPositive() {
			return Config{}, fault.Newf(fault.ConfigValidation, op, "breakout_price and amount must be positive")
		}
		if !cfg.TakeProfit1.GreaterThan(cfg.BreakoutPrice) || !cfg.TakeProfit2.GreaterThan(cfg.TakeProfit1) {
			return Config{}, fault.Newf(fault.ConfigValidation, op, "take profits must satisfy breakout_price < take_profit_1 < take_profit_2")
		}
		if !cfg.StopLoss.IsPositive() || !cfg.StopLoss.LessThan(cfg.BreakoutPrice) {
			return Config{}, fault.Newf(fault.ConfigValidation, op, "stop_loss: must sit below breakout_price")
		}
		if cfg.ArmThreshold.IsZero() {
			cfg.ArmThreshold = defaultArmThreshold
		}
		if cfg.ArmThreshold.IsNegative() || cfg.ArmThreshold.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return Config{}, fault.Newf(fault.ConfigValidation, op, "arm_threshold: must be in (0, 1)")
		}
		return Config{Breakout: &cfg}, nil

	case KindStopLossTakeProfit:
		var cfg StopLossTakeProfitConfig
		if err := decode(raw, &cfg); err != nil {
			return Config{}, fault.New(fault.ConfigValidation, op, err)
		}
		if !cfg.CurrentPosition.IsPositive() {
			return Config{}, fault.Newf(fault.ConfigValidation, op, "current_position: must be positive")
		}
		if !cfg.StopLossPrice.IsPositive() || !cfg.StopLossPrice.LessThan(cfg.TakeProfitPrice) {
			return Config{}, fault.Newf(fault.ConfigValidation, op, "stop_loss_price: must sit below take_profit_price")
		}
		return Config{SLTP: &cfg}, nil
	}
	return Config{}, fault.Newf(fault.ConfigValidation, op, "kind: unknown strategy kind %q", kind)
}

func decode(raw map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		DecodeHook:       decimalHook,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}

// decimalHook converts strings and numbers to decimal.Decimal so price
// fields never pass through float64.
func decimalHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(decimal.Decimal{}) {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		return decimal.NewFromString(v)
	case float64:
		return decimal.NewFromFloat(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	}
	return data, nil
}
