// Package exchange defines the typed call surface over a remote trading
// exchange. Gateways (Gemini, Binance) implement Exchange; everything above
// them talks in these types and never sees raw transport payloads.
package exchange

import "context"

type Exchange interface {
	Name() string

	GetPrice(ctx context.Context, symbol string) (PriceQuote, error)

	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)

	OrderStatus(ctx context.Context, symbol, orderID string) (OrderStatus, error)

	CancelOrder(ctx context.Context, symbol, orderID string) error

	Balances(ctx context.Context) ([]Balance, error)
}
