package symbol

import "strings"

// GeminiConverter maps pairs to Gemini's lowercase concatenated form
// (ETH/USD -> ethusd).
type GeminiConverter struct{}

func (GeminiConverter) ToExchange(internal string) string {
	s := strings.TrimSpace(internal)
	if s == "" {
		return ""
	}
	return strings.ToLower(strings.ReplaceAll(strings.ToUpper(s), "/", ""))
}

func (GeminiConverter) FromExchange(raw string) string {
	return Parse(raw).Internal()
}

func (GeminiConverter) Format() Format {
	return FormatGemini
}

var Gemini = GeminiConverter{}
