package upbit

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"upbit-trade-bot-go/internal/config"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://api.upbit.com/v1"

	SideBid = "bid" // buy
	SideAsk = "ask" // sell

	OrdTypeLimit = "limit"
	OrdTypePrice = "price" // market buy by quote amount

	OrderStateWait   = "wait"
	OrderStateWatch  = "watch"
	OrderStateDone   = "done"
	OrderStateCancel = "cancel"
	OrderStateError  = "error"
)

// ErrMissingUUID is returned when the exchange acknowledges an order without an id.
var ErrMissingUUID = errors.New("order response has no uuid")

// RestClientInterface defines the exchange operations the trading core needs.
type RestClientInterface interface {
	GetCurrentPrice(ctx context.Context, market string) (decimal.Decimal, error)
	GetBalance(ctx context.Context, currency string) (decimal.Decimal, error)
	BuyMarket(ctx context.Context, market string, amount decimal.Decimal) (*Order, error)
	SellLimit(ctx context.Context, market string, volume, price decimal.Decimal) (*Order, error)
	GetOrder(ctx context.Context, orderUUID string) (*Order, error)
	CancelOrder(ctx context.Context, orderUUID string) (*Order, error)
}

// Trade is one individual fill of an order.
type Trade struct {
	Market string          `json:"market"`
	UUID   string          `json:"uuid"`
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"volume"`
	Funds  decimal.Decimal `json:"funds"`
	Side   string          `json:"side"`
}

// Order is the exchange's view of an order. Numeric fields arrive as strings.
type Order struct {
	UUID            string          `json:"uuid"`
	Side            string          `json:"side"`
	OrdType         string          `json:"ord_type"`
	Price           decimal.Decimal `json:"price"`
	State           string          `json:"state"`
	Market          string          `json:"market"`
	CreatedAt       string          `json:"created_at"`
	Volume          decimal.Decimal `json:"volume"`
	RemainingVolume decimal.Decimal `json:"remaining_volume"`
	PaidFee         decimal.Decimal `json:"paid_fee"`
	ExecutedVolume  decimal.Decimal `json:"executed_volume"`
	TradesCount     int             `json:"trades_count"`
	Trades          []Trade         `json:"trades"`
}

// APIError is the error body returned by Upbit.
type APIError struct {
	Status  int    `json:"-"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upbit api error %d %s: %s", e.Status, e.Name, e.Message)
}

type errorResponse struct {
	Error APIError `json:"error"`
}

// RestClient is a client for the Upbit REST API.
// It implements the RestClientInterface.
type RestClient struct {
	client    *resty.Client
	accessKey string
	secretKey string
	logger    *zap.Logger
	limiter   *rate.Limiter
}

// ensure RestClient implements the interface
var _ RestClientInterface = (*RestClient)(nil)

// NewRestClient creates a new Upbit REST API client.
func NewRestClient(cfg *config.Upbit, logger *zap.Logger) *RestClient {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	client := resty.New().SetBaseURL(base)
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}

	return &RestClient{
		client:    client,
		accessKey: cfg.AccessKey,
		secretKey: cfg.SecretKey,
		logger:    logger.Named("upbit"),
		limiter:   rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst),
	}
}

// token builds the Authorization header value. params are the request's
// query or body parameters; their urlencoded form is hashed into the claim.
func (c *RestClient) token(params url.Values) (string, error) {
	claims := jwt.MapClaims{
		"access_key": c.accessKey,
		"nonce":      uuid.NewString(),
	}
	if len(params) > 0 {
		sum := sha512.Sum512([]byte(params.Encode()))
		claims["query_hash"] = hex.EncodeToString(sum[:])
		claims["query_hash_alg"] = "SHA512"
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.secretKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign request: %w", err)
	}
	return "Bearer " + signed, nil
}

// newRequest returns a request builder. Private requests get a fresh token
// on every attempt because Upbit rejects reused nonces.
func (c *RestClient) newRequest(ctx context.Context, private bool, query, body url.Values, result any) func() (*resty.Request, error) {
	return func() (*resty.Request, error) {
		req := c.client.R().
			SetContext(ctx).
			SetHeader("Accept", "application/json").
			SetError(&errorResponse{})
		if result != nil {
			req.SetResult(result)
		}
		if len(query) > 0 {
			req.SetQueryParamsFromValues(query)
		}
		signed := query
		if len(body) > 0 {
			payload := make(map[string]string, len(body))
			for k := range body {
				payload[k] = body.Get(k)
			}
			req.SetHeader("Content-Type", "application/json").SetBody(payload)
			signed = body
		}
		if private {
			auth, err := c.token(signed)
			if err != nil {
				return nil, err
			}
			req.SetHeader("Authorization", auth)
		}
		return req, nil
	}
}

// doRequest handles the actual request execution with rate limiting and retry logic.
func (c *RestClient) doRequest(ctx context.Context, method, path string, build func() (*resty.Request, error)) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	const maxRetries = 3

	for i := 0; i < maxRetries; i++ {
		// Wait for the rate limiter
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		req, buildErr := build()
		if buildErr != nil {
			return nil, buildErr
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+path))
		resp, err = req.Execute(method, path)

		if err == nil && !resp.IsError() {
			return resp, nil // Success
		}

		// Analyze error and decide whether to retry
		shouldRetry := false
		var retryAfter time.Duration

		if err == nil {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests || statusCode == 418 {
				shouldRetry = true
				if seconds, convErr := strconv.Atoi(resp.Header().Get("Retry-After")); convErr == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 { // Server errors
				shouldRetry = true
			}
			err = apiError(resp)
		} else { // Network or other client-side errors
			shouldRetry = ctx.Err() == nil
		}

		if !shouldRetry {
			return nil, fmt.Errorf("request failed: %w", err)
		}

		// If we should retry, calculate wait time
		if retryAfter == 0 {
			// Exponential backoff: 1s, 2s, 4s
			retryAfter = time.Duration(math.Pow(2, float64(i))) * time.Second
		}

		c.logger.Warn("Request failed, retrying...",
			zap.String("path", path),
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}

func apiError(resp *resty.Response) error {
	if body, ok := resp.Error().(*errorResponse); ok && body.Error.Name != "" {
		e := body.Error
		e.Status = resp.StatusCode()
		return &e
	}
	return &APIError{Status: resp.StatusCode(), Name: resp.Status(), Message: resp.String()}
}

// tickerPrice represents the response for a single ticker.
type tickerPrice struct {
	Market     string          `json:"market"`
	TradePrice decimal.Decimal `json:"trade_price"`
}

// GetCurrentPrice fetches the last traded price of market.
// This is a public endpoint and works without credentials.
func (c *RestClient) GetCurrentPrice(ctx context.Context, market string) (decimal.Decimal, error) {
	var tickers []tickerPrice
	query := url.Values{"markets": {market}}

	resp, err := c.doRequest(ctx, http.MethodGet, "/ticker", c.newRequest(ctx, false, query, nil, &tickers))
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get price for %s: %w", market, err)
	}

	result := *resp.Result().(*[]tickerPrice)
	for _, t := range result {
		if t.Market == market && t.TradePrice.IsPositive() {
			return t.TradePrice, nil
		}
	}
	return decimal.Zero, fmt.Errorf("no quote for market %s", market)
}

type account struct {
	Currency string          `json:"currency"`
	Balance  decimal.Decimal `json:"balance"`
	Locked   decimal.Decimal `json:"locked"`
}

// GetBalance returns the free balance of currency. A currency the account
// does not hold has a zero balance.
func (c *RestClient) GetBalance(ctx context.Context, currency string) (decimal.Decimal, error) {
	var accounts []account

	resp, err := c.doRequest(ctx, http.MethodGet, "/accounts", c.newRequest(ctx, true, nil, nil, &accounts))
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get balance: %w", err)
	}

	for _, a := range *resp.Result().(*[]account) {
		if a.Currency == currency {
			return a.Balance, nil
		}
	}
	return decimal.Zero, nil
}

// BuyMarket places a market buy spending amount of the quote currency.
func (c *RestClient) BuyMarket(ctx context.Context, market string, amount decimal.Decimal) (*Order, error) {
	body := url.Values{
		"market":   {market},
		"side":     {SideBid},
		"ord_type": {OrdTypePrice},
		"price":    {amount.String()},
	}
	return c.placeOrder(ctx, body)
}

// SellLimit places a limit sell of volume at price.
func (c *RestClient) SellLimit(ctx context.Context, market string, volume, price decimal.Decimal) (*Order, error) {
	body := url.Values{
		"market":   {market},
		"side":     {SideAsk},
		"ord_type": {OrdTypeLimit},
		"volume":   {volume.String()},
		"price":    {price.String()},
	}
	return c.placeOrder(ctx, body)
}

func (c *RestClient) placeOrder(ctx context.Context, body url.Values) (*Order, error) {
	market, side := body.Get("market"), body.Get("side")

	resp, err := c.doRequest(ctx, http.MethodPost, "/orders", c.newRequest(ctx, true, nil, body, &Order{}))
	if err != nil {
		c.logger.Error("Failed to create order after multiple attempts",
			zap.Error(err),
			zap.String("market", market),
			zap.String("side", side),
		)
		return nil, fmt.Errorf("failed to create %s order on %s: %w", side, market, err)
	}

	result := resp.Result().(*Order)
	if result.UUID == "" {
		return nil, fmt.Errorf("%s order on %s: %w", side, market, ErrMissingUUID)
	}
	c.logger.Info("Successfully created order",
		zap.String("uuid", result.UUID),
		zap.String("market", market),
		zap.String("side", side),
	)
	return result, nil
}

// GetOrder fetches the state and fills of an order.
func (c *RestClient) GetOrder(ctx context.Context, orderUUID string) (*Order, error) {
	query := url.Values{"uuid": {orderUUID}}

	resp, err := c.doRequest(ctx, http.MethodGet, "/order", c.newRequest(ctx, true, query, nil, &Order{}))
	if err != nil {
		return nil, fmt.Errorf("failed to get order %s: %w", orderUUID, err)
	}
	return resp.Result().(*Order), nil
}

// CancelOrder cancels a resting order. It fails when the order already
// reached a terminal state.
func (c *RestClient) CancelOrder(ctx context.Context, orderUUID string) (*Order, error) {
	query := url.Values{"uuid": {orderUUID}}

	resp, err := c.doRequest(ctx, http.MethodDelete, "/order", c.newRequest(ctx, true, query, nil, &Order{}))
	if err != nil {
		return nil, fmt.Errorf("failed to cancel order %s: %w", orderUUID, err)
	}
	return resp.Result().(*Order), nil
}
