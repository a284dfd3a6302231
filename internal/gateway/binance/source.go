// Package binance implements the exchange gateway on top of the go-binance
// SDK. It mirrors the Gemini gateway's contract: rounding and parameter
// validation happen here, and every failure surfaces as a classified fault.
package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"helmsman/internal/fault"
	"helmsman/internal/gateway/exchange"
	"helmsman/internal/pkg/symbol"
)

type Config struct {
	BaseURL   string
	APIKey    string
	APISecret string

	HTTPTimeout time.Duration

	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	RequestsPerSecond float64
	RequestBurst      int
}

func (c Config) withDefaults() Config {
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 15 * time.Second
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 10
	}
	if c.RequestBurst <= 0 {
		c.RequestBurst = 20
	}
	return c
}

type Source struct {
	cfg         Config
	client      *binance.Client
	limiter     *rate.Limiter
	instruments *exchange.InstrumentTable
	retry       exchange.RetryPolicy
}

func New(cfg Config) (*Source, error) {
	final := cfg.withDefaults()
	client := binance.NewClient(final.APIKey, final.APISecret)
	if base := strings.TrimSpace(final.BaseURL); base != "" {
		client.BaseURL = base
	}
	client.HTTPClient = &http.Client{Timeout: final.HTTPTimeout}
	return &Source{
		cfg:     final,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(final.RequestsPerSecond), final.RequestBurst),
		retry: exchange.RetryPolicy{
			MaxAttempts: final.MaxAttempts,
			BaseDelay:   final.RetryBaseDelay,
			MaxDelay:    final.RetryMaxDelay,
		},
		instruments: defaultInstruments(),
	}, nil
}

func (s *Source) Name() string { return "binance" }

func (s *Source) GetPrice(ctx context.Context, symbol string) (exchange.PriceQuote, error) {
	const op = "binance.GetPrice"
	clean := cleanSymbol(symbol)

	var quote exchange.PriceQuote
	err := exchange.WithRetry(ctx, op, s.retry, func() error {
		if err := s.limiter.Wait(ctx); err != nil {
			return fault.New(fault.TransientNetwork, op, err)
		}
		prices, err := s.client.NewListPricesService().Symbol(clean).Do(ctx)
		if err != nil {
			return classify(op, err)
		}
		if len(prices) == 0 || prices[0] == nil {
			return fault.Newf(fault.InvalidResponseSchema, op, "empty price list for %s", clean)
		}
		last, err := decimal.NewFromString(prices[0].Price)
		if err != nil {
			return fault.Newf(fault.InvalidResponseSchema, op, "price %q is not a decimal", prices[0].Price)
		}
		quote = exchange.PriceQuote{Symbol: clean, Last: last, UpdatedAt: time.Now().UTC()}
		return nil
	})
	return quote, err
}

func (s *Source) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderAck, error) {
	const op = "binance.PlaceOrder"
	clean := cleanSymbol(req.Symbol)

	in := s.instruments.Lookup(clean)
	price := in.RoundPrice(req.Price)
	qty := in.RoundQty(req.Quantity)
	if err := in.ValidateOrder(price, qty); err != nil {
		return exchange.OrderAck{}, err
	}

	side := binance.SideTypeBuy
	if req.Side == exchange.SideSell {
		side = binance.SideTypeSell
	}

	var ack exchange.OrderAck
	err := exchange.WithRetry(ctx, op, s.retry, func() error {
		if err := s.limiter.Wait(ctx); err != nil {
			return fault.New(fault.TransientNetwork, op, err)
		}
		svc := s.client.NewCreateOrderService().
			Symbol(clean).
			Side(side).
			Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Quantity(qty.String()).
			Price(price.String())
		if req.ClientOrderID != "" {
			svc = svc.NewClientOrderID(req.ClientOrderID)
		}
		resp, err := svc.Do(ctx)
		if err != nil {
			return classify(op, err)
		}
		ack = exchange.OrderAck{
			OrderID:    strconv.FormatInt(resp.OrderID, 10),
			Symbol:     clean,
			Side:       req.Side,
			Price:      price,
			Quantity:   qty,
			AcceptedAt: time.Now().UTC(),
		}
		return nil
	})
	return ack, err
}

func (s *Source) OrderStatus(ctx context.Context, symbol, orderID string) (exchange.OrderStatus, error) {
	const op = "binance.OrderStatus"
	clean := cleanSymbol(symbol)
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return exchange.OrderStatus{}, fault.Newf(fault.InvalidOrderParams, op, "order id %q is not numeric", orderID)
	}

	var status exchange.OrderStatus
	err = exchange.WithRetry(ctx, op, s.retry, func() error {
		if err := s.limiter.Wait(ctx); err != nil {
			return fault.New(fault.TransientNetwork, op, err)
		}
		ord, err := s.client.NewGetOrderService().Symbol(clean).OrderID(id).Do(ctx)
		if err != nil {
			return classify(op, err)
		}
		executed := parseDecimal(ord.ExecutedQuantity)
		original := parseDecimal(ord.OrigQuantity)
		status = exchange.OrderStatus{
			OrderID:           orderID,
			Symbol:            clean,
			Side:              exchange.Side(strings.ToLower(string(ord.Side))),
			State:             orderState(ord.Status),
			Price:             parseDecimal(ord.Price),
			ExecutedQuantity:  executed,
			RemainingQuantity: original.Sub(executed),
			AvgFillPrice:      parseDecimal(ord.Price),
		}
		return nil
	})
	return status, err
}

func (s *Source) CancelOrder(ctx context.Context, symbol, orderID string) error {
	const op = "binance.CancelOrder"
	clean := cleanSymbol(symbol)
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fault.Newf(fault.InvalidOrderParams, op, "order id %q is not numeric", orderID)
	}
	return exchange.WithRetry(ctx, op, s.retry, func() error {
		if err := s.limiter.Wait(ctx); err != nil {
			return fault.New(fault.TransientNetwork, op, err)
		}
		if _, err := s.client.NewCancelOrderService().Symbol(clean).OrderID(id).Do(ctx); err != nil {
			return classify(op, err)
		}
		return nil
	})
}

func (s *Source) Balances(ctx context.Context) ([]exchange.Balance, error) {
	const op = "binance.Balances"

	var out []exchange.Balance
	err := exchange.WithRetry(ctx, op, s.retry, func() error {
		if err := s.limiter.Wait(ctx); err != nil {
			return fault.New(fault.TransientNetwork, op, err)
		}
		account, err := s.client.NewGetAccountService().Do(ctx)
		if err != nil {
			return classify(op, err)
		}
		out = out[:0]
		for _, b := range account.Balances {
			free := parseDecimal(b.Free)
			locked := parseDecimal(b.Locked)
			out = append(out, exchange.Balance{
				Currency:  b.Asset,
				Amount:    free.Add(locked),
				Available: free,
			})
		}
		return nil
	})
	return out, err
}

// classify maps SDK errors to fault kinds. Binance APIError codes are
// stable; anything that is not an APIError is assumed to be transport.
func classify(op string, err error) error {
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return fault.New(fault.TransientNetwork, op, err)
	}
	switch apiErr.Code {
	case -1003, -1015: // TOO_MANY_REQUESTS, TOO_MANY_ORDERS
		return fault.New(fault.RateLimit, op, apiErr)
	case -1022, -2014, -2015: // bad signature / api key
		return fault.New(fault.AuthFailure, op, apiErr)
	case -1013, -1111, -1121, -2010: // filter failure, precision, bad symbol, rejection
		return fault.New(fault.InvalidOrderParams, op, apiErr)
	}
	if apiErr.Code <= -1000 && apiErr.Code >= -1099 {
		// General server/network bucket.
		return fault.New(fault.TransientNetwork, op, apiErr)
	}
	return fault.New(fault.Unknown, op, fmt.Errorf("code %d: %s", apiErr.Code, apiErr.Message))
}

func orderState(status binance.OrderStatusType) exchange.OrderState {
	switch status {
	case binance.OrderStatusTypeNew:
		return exchange.OrderLive
	case binance.OrderStatusTypePartiallyFilled:
		return exchange.OrderPartialFill
	case binance.OrderStatusTypeFilled:
		return exchange.OrderFilled
	case binance.OrderStatusTypeCanceled, binance.OrderStatusTypeExpired:
		return exchange.OrderCancelled
	case binance.OrderStatusTypeRejected:
		return exchange.OrderRejected
	default:
		return exchange.OrderLive
	}
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Binance requires symbols without separators, upper case (ETHUSDT).
func cleanSymbol(s string) string {
	return symbol.Binance.ToExchange(s)
}

func defaultInstruments() *exchange.InstrumentTable {
	mustDec := func(s string) decimal.Decimal { return decimal.RequireFromString(s) }
	return exchange.NewInstrumentTable([]exchange.Instrument{
		{Symbol: "BTCUSDT", TickSize: mustDec("0.01"), QtyIncrement: mustDec("0.00001"), MinQty: mustDec("0.00001")},
		{Symbol: "ETHUSDT", TickSize: mustDec("0.01"), QtyIncrement: mustDec("0.0001"), MinQty: mustDec("0.0001")},
		{Symbol: "SOLUSDT", TickSize: mustDec("0.01"), QtyIncrement: mustDec("0.001"), MinQty: mustDec("0.001")},
		{Symbol: "DOGEUSDT", TickSize: mustDec("0.00001"), QtyIncrement: mustDec("1"), MinQty: mustDec("1")},
	}, exchange.Instrument{
		TickSize:     mustDec("0.00000001"),
		QtyIncrement: mustDec("0.00000001"),
	})
}
