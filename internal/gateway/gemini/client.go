// Package gemini implements the exchange gateway for the Gemini REST API.
// It owns credential injection, response-schema validation, price/quantity
// rounding and transport-level retry; callers above it only ever see typed
// results or classified faults.
package gemini

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"helmsman/internal/fault"
	"helmsman/internal/gateway/exchange"
	"helmsman/internal/pkg/symbol"
)

type Client struct {
	cfg         Config
	baseURL     *url.URL
	httpClient  *http.Client
	limiter     *rate.Limiter
	instruments *exchange.InstrumentTable
	nonce       atomic.Int64
}

func New(cfg Config) (*Client, error) {
	final := cfg.withDefaults()
	parsed, err := url.Parse(final.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid gemini base url: %w", err)
	}
	c := &Client{
		cfg:         final,
		baseURL:     parsed,
		httpClient:  &http.Client{Timeout: final.HTTPTimeout},
		limiter:     rate.NewLimiter(rate.Limit(final.RequestsPerSecond), final.RequestBurst),
		instruments: exchange.DefaultInstruments(),
	}
	c.nonce.Store(time.Now().UnixNano())
	return c, nil
}

// SetHTTPClient sets the HTTP client for testing.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

func (c *Client) Name() string { return "gemini" }

// GetPrice fetches the last traded price from the public ticker.
func (c *Client) GetPrice(ctx context.Context, symbol string) (exchange.PriceQuote, error) {
	const op = "gemini.GetPrice"
	symbol = cleanSymbol(symbol)

	var quote exchange.PriceQuote
	err := c.withRetry(ctx, op, func() error {
		body, err := c.get(ctx, op, "/v1/pubticker/"+symbol)
		if err != nil {
			return err
		}
		parsed, err := validateFields(op, body, "last")
		if err != nil {
			return err
		}
		last, err := parseDecimalField(op, parsed, "last")
		if err != nil {
			return err
		}
		quote = exchange.PriceQuote{
			Symbol:    symbol,
			Last:      last,
			Bid:       optionalDecimal(parsed, "bid"),
			Ask:       optionalDecimal(parsed, "ask"),
			UpdatedAt: time.Now().UTC(),
		}
		return nil
	})
	return quote, err
}

// PlaceOrder rounds the request to the instrument's precision rules,
// validates it locally and submits an exchange limit order. The ack carries
// the rounded values actually sent on the wire.
func (c *Client) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderAck, error) {
	const op = "gemini.PlaceOrder"
	symbol := cleanSymbol(req.Symbol)

	in := c.instruments.Lookup(symbol)
	price := in.RoundPrice(req.Price)
	qty := in.RoundQty(req.Quantity)
	if err := in.ValidateOrder(price, qty); err != nil {
		return exchange.OrderAck{}, err
	}

	payload := map[string]any{
		"symbol": symbol,
		"amount": qty.String(),
		"price":  price.String(),
		"side":   string(req.Side),
		"type":   "exchange limit",
	}
	if req.ClientOrderID != "" {
		payload["client_order_id"] = req.ClientOrderID
	}

	var ack exchange.OrderAck
	err := c.withRetry(ctx, op, func() error {
		body, err := c.post(ctx, op, "/v1/order/new", payload)
		if err != nil {
			return err
		}
		parsed, err := validateFields(op, body, "order_id")
		if err != nil {
			return err
		}
		ack = exchange.OrderAck{
			OrderID:    parsed.Get("order_id").String(),
			Symbol:     symbol,
			Side:       req.Side,
			Price:      price,
			Quantity:   qty,
			AcceptedAt: time.Now().UTC(),
		}
		return nil
	})
	return ack, err
}

// OrderStatus queries a previously placed order. The symbol parameter is
// unused on Gemini; order ids are globally unique.
func (c *Client) OrderStatus(ctx context.Context, _ string, orderID string) (exchange.OrderStatus, error) {
	const op = "gemini.OrderStatus"

	var status exchange.OrderStatus
	err := c.withRetry(ctx, op, func() error {
		body, err := c.post(ctx, op, "/v1/order/status", map[string]any{"order_id": orderID})
		if err != nil {
			return err
		}
		parsed, err := validateFields(op, body, "order_id", "is_live", "is_cancelled", "executed_amount", "original_amount")
		if err != nil {
			return err
		}
		executed := optionalDecimal(parsed, "executed_amount")
		original := optionalDecimal(parsed, "original_amount")
		status = exchange.OrderStatus{
			OrderID:           parsed.Get("order_id").String(),
			Symbol:            parsed.Get("symbol").String(),
			Side:              exchange.Side(parsed.Get("side").String()),
			State:             orderState(parsed.Get("is_live").Bool(), parsed.Get("is_cancelled").Bool(), executed, original),
			Price:             optionalDecimal(parsed, "price"),
			ExecutedQuantity:  executed,
			RemainingQuantity: optionalDecimal(parsed, "remaining_amount"),
			AvgFillPrice:      optionalDecimal(parsed, "avg_execution_price"),
		}
		return nil
	})
	return status, err
}

func (c *Client) CancelOrder(ctx context.Context, _ string, orderID string) error {
	const op = "gemini.CancelOrder"
	return c.withRetry(ctx, op, func() error {
		body, err := c.post(ctx, op, "/v1/order/cancel", map[string]any{"order_id": orderID})
		if err != nil {
			return err
		}
		_, err = validateFields(op, body, "order_id")
		return err
	})
}

func (c *Client) Balances(ctx context.Context) ([]exchange.Balance, error) {
	const op = "gemini.Balances"

	var out []exchange.Balance
	err := c.withRetry(ctx, op, func() error {
		body, err := c.post(ctx, op, "/v1/balances", map[string]any{})
		if err != nil {
			return err
		}
		parsed := gjson.ParseBytes(body)
		if !parsed.IsArray() {
			return fault.Newf(fault.InvalidResponseSchema, op, "expected array, got: %.120s", string(body))
		}
		out = out[:0]
		parsed.ForEach(func(_, item gjson.Result) bool {
			out = append(out, exchange.Balance{
				Currency:  item.Get("currency").String(),
				Amount:    optionalDecimal(item, "amount"),
				Available: optionalDecimal(item, "available"),
			})
			return true
		})
		return nil
	})
	return out, err
}

func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	return exchange.WithRetry(ctx, op, exchange.RetryPolicy{
		MaxAttempts: c.cfg.MaxAttempts,
		BaseDelay:   c.cfg.RetryBaseDelay,
		MaxDelay:    c.cfg.RetryMaxDelay,
	}, fn)
}

func (c *Client) get(ctx context.Context, op, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path), nil)
	if err != nil {
		return nil, fault.New(fault.Unknown, op, err)
	}
	return c.do(op, req)
}

// post sends a signed private-API request. Gemini wants the JSON payload
// base64-encoded in a header with an HMAC-SHA384 signature; the body stays
// empty.
func (c *Client) post(ctx context.Context, op, path string, payload map[string]any) ([]byte, error) {
	payload["request"] = path
	payload["nonce"] = c.nonce.Add(1)

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fault.New(fault.Unknown, op, err)
	}
	b64 := base64.StdEncoding.EncodeToString(raw)
	mac := hmac.New(sha512.New384, []byte(c.cfg.APISecret))
	mac.Write([]byte(b64))
	sig := hex.EncodeToString(mac.Sum(nil))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), nil)
	if err != nil {
		return nil, fault.New(fault.Unknown, op, err)
	}
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("X-GEMINI-APIKEY", c.cfg.APIKey)
	req.Header.Set("X-GEMINI-PAYLOAD", b64)
	req.Header.Set("X-GEMINI-SIGNATURE", sig)
	return c.do(op, req)
}

func (c *Client) do(op string, req *http.Request) ([]byte, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, fault.New(fault.TransientNetwork, op, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fault.New(fault.TransientNetwork, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fault.New(fault.TransientNetwork, op, err)
	}
	if resp.StatusCode >= 300 {
		return nil, classifyHTTP(op, resp.StatusCode, body)
	}
	return body, nil
}

func (c *Client) endpoint(path string) string {
	base := *c.baseURL
	base.Path = strings.TrimSuffix(base.Path, "/") + path
	return base.String()
}

// classifyHTTP maps an error response to a fault kind. Gemini reports a
// machine-readable reason alongside most 4xx errors.
func classifyHTTP(op string, status int, body []byte) *fault.Fault {
	msg := strings.TrimSpace(string(body))
	reason := gjson.GetBytes(body, "reason").String()

	switch {
	case status == http.StatusTooManyRequests:
		return fault.Newf(fault.RateLimit, op, "http %d: %.200s", status, msg)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fault.Newf(fault.AuthFailure, op, "http %d: %.200s", status, msg)
	case status >= 500:
		return fault.Newf(fault.TransientNetwork, op, "http %d: %.200s", status, msg)
	}

	switch reason {
	case "InvalidPrice", "InvalidQuantity", "InvalidSide", "InvalidSymbol", "InvalidOrderType", "InsufficientFunds":
		return fault.Newf(fault.InvalidOrderParams, op, "%s: %.200s", reason, msg)
	case "RateLimit":
		return fault.Newf(fault.RateLimit, op, "%.200s", msg)
	case "InvalidSignature", "InvalidApiKey", "MissingApikeyHeader", "InvalidNonce":
		return fault.Newf(fault.AuthFailure, op, "%s: %.200s", reason, msg)
	case "Maintenance", "System":
		return fault.Newf(fault.TransientNetwork, op, "%s: %.200s", reason, msg)
	}
	return fault.Newf(fault.Unknown, op, "http %d: %.200s", status, msg)
}

// validateFields checks the payload shape before any field is extracted. A
// missing field is an INVALID_RESPONSE_SCHEMA fault carrying the field name,
// never an opaque zero value.
func validateFields(op string, body []byte, required ...string) (gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fault.Newf(fault.InvalidResponseSchema, op, "response is not valid json: %.120s", string(body))
	}
	parsed := gjson.ParseBytes(body)
	if parsed.Get("result").String() == "error" {
		return gjson.Result{}, classifyHTTP(op, http.StatusBadRequest, body)
	}
	for _, field := range required {
		if !parsed.Get(field).Exists() {
			return gjson.Result{}, fault.Newf(fault.InvalidResponseSchema, op, "response missing required field %q", field)
		}
	}
	return parsed, nil
}

func parseDecimalField(op string, parsed gjson.Result, field string) (decimal.Decimal, error) {
	raw := parsed.Get(field).String()
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fault.Newf(fault.InvalidResponseSchema, op, "field %q is not a decimal: %q", field, raw)
	}
	return d, nil
}

func optionalDecimal(parsed gjson.Result, field string) decimal.Decimal {
	d, err := decimal.NewFromString(parsed.Get(field).String())
	if err != nil {
		return decimal.Zero
	}
	return d
}

func orderState(isLive, isCancelled bool, executed, original decimal.Decimal) exchange.OrderState {
	switch {
	case isCancelled:
		return exchange.OrderCancelled
	case !isLive && executed.GreaterThanOrEqual(original) && executed.IsPositive():
		return exchange.OrderFilled
	case isLive && executed.IsPositive():
		return exchange.OrderPartialFill
	case isLive:
		return exchange.OrderLive
	default:
		return exchange.OrderCancelled
	}
}

func cleanSymbol(s string) string {
	return symbol.Gemini.ToExchange(s)
}
