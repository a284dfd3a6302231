package exchange

import (
	"strings"

	"github.com/shopspring/decimal"

	"helmsman/internal/fault"
)

// Instrument carries the numeric precision rules the exchange enforces for
// one traded symbol. Gateways round every outgoing order against these
// before transmission so floating-point drift never reaches the wire.
type Instrument struct {
	Symbol       string
	TickSize     decimal.Decimal
	QtyIncrement decimal.Decimal
	MinQty       decimal.Decimal
}

// RoundPrice snaps a price to the instrument's tick size, to the nearest
// tick with halves rounding away from zero. 2.2769999999999997 at tick
// 0.0001 becomes 2.2770.
func (i Instrument) RoundPrice(p decimal.Decimal) decimal.Decimal {
	if i.TickSize.IsZero() {
		return p
	}
	return p.Div(i.TickSize).Round(0).Mul(i.TickSize)
}

// RoundQty floors a quantity to the instrument's increment. Quantities are
// never rounded up: an order must not exceed what the caller asked for.
func (i Instrument) RoundQty(q decimal.Decimal) decimal.Decimal {
	if i.QtyIncrement.IsZero() {
		return q
	}
	return q.Div(i.QtyIncrement).Floor().Mul(i.QtyIncrement)
}

// ValidateOrder checks the already-rounded price and quantity. A violation
// is an INVALID_ORDER_PARAMS fault raised locally, before any round trip.
func (i Instrument) ValidateOrder(price, qty decimal.Decimal) error {
	if !price.IsPositive() {
		return fault.Newf(fault.InvalidOrderParams, "exchange.ValidateOrder",
			"price %s must be positive for %s", price, i.Symbol)
	}
	if !qty.IsPositive() {
		return fault.Newf(fault.InvalidOrderParams, "exchange.ValidateOrder",
			"quantity %s must be positive for %s", qty, i.Symbol)
	}
	if !i.MinQty.IsZero() && qty.LessThan(i.MinQty) {
		return fault.Newf(fault.InvalidOrderParams, "exchange.ValidateOrder",
			"quantity %s below minimum %s for %s", qty, i.MinQty, i.Symbol)
	}
	return nil
}

// InstrumentTable resolves instruments by symbol, falling back to a default
// when the symbol has no dedicated entry.
type InstrumentTable struct {
	bySymbol map[string]Instrument
	fallback Instrument
}

func NewInstrumentTable(instruments []Instrument, fallback Instrument) *InstrumentTable {
	t := &InstrumentTable{
		bySymbol: make(map[string]Instrument, len(instruments)),
		fallback: fallback,
	}
	for _, in := range instruments {
		t.bySymbol[normalizeSymbol(in.Symbol)] = in
	}
	return t
}

func (t *InstrumentTable) Lookup(symbol string) Instrument {
	if in, ok := t.bySymbol[normalizeSymbol(symbol)]; ok {
		return in
	}
	in := t.fallback
	in.Symbol = symbol
	return in
}

func normalizeSymbol(symbol string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(symbol), "/", ""))
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic("exchange: bad decimal literal " + s)
	}
	return d
}

// DefaultInstruments covers the Gemini pairs this runner trades. Unlisted
// symbols fall back to a conservative 8-decimal tick.
func DefaultInstruments() *InstrumentTable {
	return NewInstrumentTable([]Instrument{
		{Symbol: "btcusd", TickSize: dec("0.01"), QtyIncrement: dec("0.00000001"), MinQty: dec("0.00001")},
		{Symbol: "ethusd", TickSize: dec("0.01"), QtyIncrement: dec("0.000001"), MinQty: dec("0.001")},
		{Symbol: "solusd", TickSize: dec("0.01"), QtyIncrement: dec("0.000001"), MinQty: dec("0.01")},
		{Symbol: "dogeusd", TickSize: dec("0.0001"), QtyIncrement: dec("0.000001"), MinQty: dec("0.1")},
	}, Instrument{
		TickSize:     dec("0.00000001"),
		QtyIncrement: dec("0.00000001"),
	})
}
