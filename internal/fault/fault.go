// Package fault defines the failure taxonomy shared by the exchange
// gateways, the strategy manager and the persistence layer. A Fault is an
// ephemeral classified failure: it is raised by an operation, routed to the
// manager, folded into the strategy's health record and then discarded.
package fault

import (
	"errors"
	"fmt"
	"time"
)

// Kind is the canonical error kind of a fault.
type Kind string

const (
	TransientNetwork      Kind = "TRANSIENT_NETWORK"
	RateLimit             Kind = "RATE_LIMIT"
	InvalidResponseSchema Kind = "INVALID_RESPONSE_SCHEMA"
	InvalidOrderParams    Kind = "INVALID_ORDER_PARAMS"
	AuthFailure           Kind = "AUTH_FAILURE"
	ConfigValidation      Kind = "CONFIG_VALIDATION"
	PartialFill           Kind = "PARTIAL_FILL"
	Unknown               Kind = "UNKNOWN"
)

// Fault carries the classified kind, the originating operation and the
// underlying cause. It implements error so it can flow through ordinary
// error returns.
type Fault struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
	At      time.Time
}

func New(kind Kind, op string, err error) *Fault {
	f := &Fault{Kind: kind, Op: op, Err: err, At: time.Now().UTC()}
	if err != nil {
		f.Message = err.Error()
	}
	return f
}

func Newf(kind Kind, op, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...), At: time.Now().UTC()}
}

func (f *Fault) Error() string {
	if f.Message != "" {
		return fmt.Sprintf("%s: %s (%s)", f.Op, f.Message, f.Kind)
	}
	return fmt.Sprintf("%s: %s", f.Op, f.Kind)
}

func (f *Fault) Unwrap() error { return f.Err }

// From returns err as a *Fault, wrapping it as UNKNOWN when it carries no
// classification of its own.
func From(err error, op string) *Fault {
	if err == nil {
		return nil
	}
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return New(Unknown, op, err)
}

// KindOf extracts the kind from an arbitrary error chain. Unclassified
// errors report UNKNOWN.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return Unknown
}

// Retryable reports whether the kind is eligible for transport-level retry.
func Retryable(k Kind) bool {
	return k == TransientNetwork || k == RateLimit
}
