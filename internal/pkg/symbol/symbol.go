// Package symbol normalizes trading pair notation between the internal
// BASE/QUOTE form and the formats the supported exchanges expect.
package symbol

import "strings"

type Format string

const (
	FormatInternal Format = "internal"
	FormatGemini   Format = "gemini"
	FormatBinance  Format = "binance"
)

type Converter interface {
	ToExchange(internal string) string
	FromExchange(raw string) string
	Format() Format
}

type Symbol struct {
	Base  string
	Quote string
}

func (s Symbol) Internal() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + "/" + s.Quote
}

// quoteCurrencies is checked longest-first when splitting concatenated
// pairs like ETHUSD or SOLUSDT.
var quoteCurrencies = []string{"USDT", "USDC", "BUSD", "GUSD", "USD", "BTC", "ETH"}

// Parse accepts BASE/QUOTE or concatenated exchange notation in any case
// and returns the split pair. Unrecognized input yields a zero Symbol.
func Parse(s string) Symbol {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Symbol{}
	}
	if parts := strings.SplitN(s, "/", 2); len(parts) == 2 {
		return Symbol{
			Base:  strings.TrimSpace(parts[0]),
			Quote: strings.TrimSpace(parts[1]),
		}
	}
	for _, quote := range quoteCurrencies {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return Symbol{
				Base:  s[:len(s)-len(quote)],
				Quote: quote,
			}
		}
	}
	return Symbol{}
}

func Normalize(s string) string {
	return Parse(s).Internal()
}

func IsValid(s string) bool {
	sym := Parse(s)
	return sym.Base != "" && sym.Quote != ""
}
