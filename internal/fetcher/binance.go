// Package fetcher talks to the upstream price ticker API.
package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pricewatch/internal/market"
	"pricewatch/internal/metrics"
)

const (
	spotTickerPath    = "/api/v3/ticker/price"
	futuresTickerPath = "/fapi/v1/ticker/price"

	defaultSpotBaseURL    = "https://api.binance.com"
	defaultFuturesBaseURL = "https://fapi.binance.com"
)

// BinanceOptions parameterise the ticker fetcher.
type BinanceOptions struct {
	SpotBaseURL    string
	FuturesBaseURL string
	UserAgent      string
	Retries        int
	RetryDelay     time.Duration
}

// Binance fetches last-trade prices from the spot and USD-M futures tickers.
type Binance struct {
	opts    BinanceOptions
	client  *http.Client
	logger  zerolog.Logger
	spot    string
	futures string
}

// NewBinance constructs the fetcher around an existing HTTP client.
func NewBinance(opts BinanceOptions, client *http.Client, logger zerolog.Logger) *Binance {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Retries <= 0 {
		opts.Retries = 3
	}

	spot := strings.TrimRight(opts.SpotBaseURL, "/")
	if spot == "" {
		spot = defaultSpotBaseURL
	}
	futures := strings.TrimRight(opts.FuturesBaseURL, "/")
	if futures == "" {
		futures = defaultFuturesBaseURL
	}

	return &Binance{
		opts:    opts,
		client:  client,
		logger:  logger.With().Str("component", "price_fetcher").Logger(),
		spot:    spot,
		futures: futures,
	}
}

// FetchPrice returns the latest price. Transport and status errors are retried;
// a response without a positive price fails immediately with ErrInvalidPrice.
func (b *Binance) FetchPrice(ctx context.Context, symbol string, kind market.Kind) (decimal.Decimal, error) {
	endpoint, err := b.endpoint(symbol, kind)
	if err != nil {
		return decimal.Decimal{}, err
	}

	var lastErr error
	for attempt := 1; attempt <= b.opts.Retries; attempt++ {
		price, err := b.fetchOnce(ctx, endpoint)
		if err == nil {
			metrics.PriceFetchesTotal.WithLabelValues(string(kind), "ok").Inc()
			return price, nil
		}
		lastErr = err
		if errors.Is(err, ErrInvalidPrice) || ctx.Err() != nil {
			break
		}
		if attempt < b.opts.Retries {
			b.logger.Warn().Err(err).Str("symbol", symbol).Int("attempt", attempt).Msg("price fetch failed, retrying")
			if !wait(ctx, b.opts.RetryDelay) {
				break
			}
		}
	}

	metrics.PriceFetchesTotal.WithLabelValues(string(kind), "error").Inc()
	return decimal.Decimal{}, fmt.Errorf("fetch %s %s price: %w", symbol, kind, lastErr)
}

func (b *Binance) endpoint(symbol string, kind market.Kind) (string, error) {
	var base, path string
	switch kind {
	case market.Spot:
		base, path = b.spot, spotTickerPath
	case market.Perpetual:
		base, path = b.futures, futuresTickerPath
	default:
		return "", fmt.Errorf("unsupported market kind %q", kind)
	}
	q := url.Values{}
	q.Set("symbol", symbol)
	return base + path + "?" + q.Encode(), nil
}

func (b *Binance) fetchOnce(ctx context.Context, endpoint string) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Decimal{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(b.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "pricewatch/1.0")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Decimal{}, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decimal.Decimal{}, parseHTTPError(resp.StatusCode, payload)
	}

	var ticker tickerResponse
	if err := json.Unmarshal(payload, &ticker); err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: decode ticker: %v", ErrInvalidPrice, err)
	}
	if ticker.Price == "" {
		return decimal.Decimal{}, fmt.Errorf("%w: missing price field", ErrInvalidPrice)
	}
	price, err := decimal.NewFromString(ticker.Price)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: parse price: %v", ErrInvalidPrice, err)
	}
	if !price.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("%w: non-positive price %s", ErrInvalidPrice, price)
	}
	return price, nil
}

type tickerResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

type errorResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil && apiErr.Msg != "" {
		return fmt.Errorf("binance api error (%d): %d %s", status, apiErr.Code, apiErr.Msg)
	}
	if len(payload) > 0 {
		return fmt.Errorf("binance api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("binance api error (%d)", status)
}

func wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

var _ PriceFetcher = (*Binance)(nil)
