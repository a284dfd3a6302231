package exchange

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helmsman/internal/fault"
)

func TestRoundPriceSnapsFloatDrift(t *testing.T) {
	in := Instrument{Symbol: "dogeusd", TickSize: dec("0.0001")}

	drifted := decimal.NewFromFloat(2.2769999999999997)
	got := in.RoundPrice(drifted)
	assert.True(t, got.Equal(dec("2.2770")), "got %s", got)
}

func TestRoundPrice(t *testing.T) {
	cases := []struct {
		tick, in, want string
	}{
		{"0.01", "7505.614", "7505.61"},
		{"0.01", "7505.615", "7505.62"},
		{"0.01", "7505.61", "7505.61"},
		{"0.0001", "0.00014999", "0.0001"},
		{"0.25", "100.37", "100.25"},
		{"0.25", "100.38", "100.50"},
	}
	for _, tc := range cases {
		in := Instrument{TickSize: dec(tc.tick)}
		got := in.RoundPrice(dec(tc.in))
		assert.True(t, got.Equal(dec(tc.want)), "tick=%s in=%s got=%s want=%s", tc.tick, tc.in, got, tc.want)
	}
}

func TestRoundQtyNeverRoundsUp(t *testing.T) {
	in := Instrument{QtyIncrement: dec("0.001")}
	got := in.RoundQty(dec("0.0019"))
	assert.True(t, got.Equal(dec("0.001")), "got %s", got)
}

func TestValidateOrder(t *testing.T) {
	in := Instrument{Symbol: "btcusd", TickSize: dec("0.01"), MinQty: dec("0.00001")}

	require.NoError(t, in.ValidateOrder(dec("100"), dec("0.5")))

	err := in.ValidateOrder(dec("0"), dec("0.5"))
	require.Error(t, err)
	assert.Equal(t, fault.InvalidOrderParams, fault.KindOf(err))

	err = in.ValidateOrder(dec("100"), dec("0.000001"))
	require.Error(t, err)
	assert.Equal(t, fault.InvalidOrderParams, fault.KindOf(err))

	var f *fault.Fault
	require.True(t, errors.As(err, &f))
	assert.Contains(t, f.Message, "below minimum")
}

func TestInstrumentTableLookup(t *testing.T) {
	tbl := DefaultInstruments()

	btc := tbl.Lookup("BTC/USD")
	assert.Equal(t, "btcusd", btc.Symbol)
	assert.True(t, btc.TickSize.Equal(dec("0.01")))

	other := tbl.Lookup("xyzusd")
	assert.Equal(t, "xyzusd", other.Symbol)
	assert.True(t, other.TickSize.Equal(dec("0.00000001")))
}
