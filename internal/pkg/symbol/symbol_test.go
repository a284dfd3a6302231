package symbol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in    string
		base  string
		quote string
	}{
		{"ETH/USD", "ETH", "USD"},
		{" eth/usd ", "ETH", "USD"},
		{"ETHUSD", "ETH", "USD"},
		{"solusdt", "SOL", "USDT"},
		{"BTCGUSD", "BTC", "GUSD"},
		{"", "", ""},
		{"USD", "", ""},
	}
	for _, tc := range cases {
		sym := Parse(tc.in)
		assert.Equal(t, tc.base, sym.Base, tc.in)
		assert.Equal(t, tc.quote, sym.Quote, tc.in)
	}
}

func TestConverters(t *testing.T) {
	assert.Equal(t, "ethusd", Gemini.ToExchange("ETH/USD"))
	assert.Equal(t, "ethusd", Gemini.ToExchange(" ethusd "))
	assert.Equal(t, "ETH/USD", Gemini.FromExchange("ethusd"))

	assert.Equal(t, "ETHUSDT", Binance.ToExchange("eth/usdt"))
	assert.Equal(t, "ETH/USDT", Binance.FromExchange("ETHUSDT"))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "ETH/USD", Normalize("ethusd"))
	assert.Equal(t, "", Normalize("junk"))
	assert.True(t, IsValid("doge/usd"))
	assert.False(t, IsValid("USD"))
}
