package exchange

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderState mirrors the lifecycle an exchange reports for a single order.
type OrderState string

const (
	OrderAccepted    OrderState = "accepted"
	OrderLive        OrderState = "live"
	OrderPartialFill OrderState = "partial_fill"
	OrderFilled      OrderState = "filled"
	OrderCancelled   OrderState = "cancelled"
	OrderRejected    OrderState = "rejected"
)

// Terminal reports whether the order can no longer change.
func (s OrderState) Terminal() bool {
	return s == OrderFilled || s == OrderCancelled || s == OrderRejected
}

// PriceQuote is the current market price for a symbol.
type PriceQuote struct {
	Symbol    string
	Last      decimal.Decimal
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	UpdatedAt time.Time
}

// OrderRequest describes a limit order to submit. Price and Quantity carry
// the caller's raw values; the gateway rounds them to the instrument's
// precision rules before transmission.
type OrderRequest struct {
	Symbol        string
	Side          Side
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	ClientOrderID string
}

// OrderAck is the exchange's acceptance of an order. Price and Quantity are
// the values actually transmitted, after rounding.
type OrderAck struct {
	OrderID    string
	Symbol     string
	Side       Side
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	AcceptedAt time.Time
}

// OrderStatus is a point-in-time view of a previously placed order.
type OrderStatus struct {
	OrderID           string
	Symbol            string
	Side              Side
	State             OrderState
	Price             decimal.Decimal
	ExecutedQuantity  decimal.Decimal
	RemainingQuantity decimal.Decimal
	AvgFillPrice      decimal.Decimal
}

type Balance struct {
	Currency  string
	Amount    decimal.Decimal
	Available decimal.Decimal
}
