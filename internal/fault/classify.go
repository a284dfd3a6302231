package fault

// Severity is the ordinal recovery tier assigned by classification.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeveritySevere
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeveritySevere:
		return "SEVERE"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "SEVERE"
	}
}

// Classify maps a fault kind to its severity tier. The mapping is total and
// deterministic: every kind, including ones this build has never seen, maps
// to exactly one severity. Unrecognized kinds fail safe to SEVERE.
func Classify(k Kind) Severity {
	switch k {
	case AuthFailure:
		return SeverityCritical
	case InvalidOrderParams, InvalidResponseSchema, ConfigValidation:
		return SeveritySevere
	case RateLimit, TransientNetwork:
		return SeverityWarning
	case PartialFill:
		return SeverityInfo
	default:
		return SeveritySevere
	}
}

// ClassifyErr classifies an arbitrary error chain.
func ClassifyErr(err error) Severity {
	return Classify(KindOf(err))
}
