// Package tradier provides a Tradier market-data client implementing the backtester's
// asset and options data collaborators.
package tradier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/scranton_backtester/internal/marketdata"
	"github.com/eddiefleurent/scranton_backtester/internal/models"
)

const (
	productionURL = "https://api.tradier.com/v1"
	sandboxURL    = "https://sandbox.tradier.com/v1"

	defaultTimeout = 10 * time.Second
)

// APIError represents an API error with status code and response body
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// Temporary reports whether the request may succeed when retried (rate limit or server error).
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError
}

// Client fetches history and time & sales data from Tradier.
type Client struct {
	client  *http.Client
	logger  *logrus.Logger
	apiKey  string
	baseURL string
	sandbox bool
}

// NewClient creates a client for the production or sandbox API. A non-empty baseURL
// overrides both.
func NewClient(apiKey string, sandbox bool, baseURL string) *Client {
	if baseURL == "" {
		if sandbox {
			baseURL = sandboxURL
		} else {
			baseURL = productionURL
		}
	}
	return &Client{
		client:  &http.Client{Timeout: defaultTimeout},
		logger:  logrus.StandardLogger(),
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		sandbox: sandbox,
	}
}

// WithHTTPClient allows overriding the HTTP client (tests, custom transport).
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	if hc != nil {
		c.client = hc
	}
	return c
}

// WithTimeout sets the HTTP client timeout duration.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	if timeout > 0 {
		c.client.Timeout = timeout
	}
	return c
}

// WithLogger sets the logger used for request diagnostics
func (c *Client) WithLogger(logger *logrus.Logger) *Client {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// ============ API Response Structures ============

// Handle single-object vs array responses from Tradier
type singleOrArray[T any] []T

func (s *singleOrArray[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '[' {
		return json.Unmarshal(b, (*[]T)(s))
	}
	var one T
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*s = append(*s, one)
	return nil
}

// nullableObject tolerates Tradier's "null" string in place of an empty object.
type nullableObject[T any] struct {
	Value T
}

func (n *nullableObject[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) || bytes.Equal(b, []byte(`"null"`)) {
		return nil
	}
	return json.Unmarshal(b, &n.Value)
}

// HistoryDay is one row of /markets/history
type HistoryDay struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// HistoryResponse represents the response from the history endpoint
type HistoryResponse struct {
	History nullableObject[struct {
		Day singleOrArray[HistoryDay] `json:"day"`
	}] `json:"history"`
}

// TimeSale is one row of /markets/timesales
type TimeSale struct {
	Time      string  `json:"time"`
	Timestamp int64   `json:"timestamp"`
	Price     float64 `json:"price"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	VWAP      float64 `json:"vwap"`
}

// TimeSalesResponse represents the response from the time & sales endpoint
type TimeSalesResponse struct {
	Series nullableObject[struct {
		Data singleOrArray[TimeSale] `json:"data"`
	}] `json:"series"`
}

// ============ API Methods ============

// GetHistory returns daily bars of symbol between start and end (inclusive).
func (c *Client) GetHistory(ctx context.Context, symbol string, start, end time.Time) ([]HistoryDay, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", "daily")
	params.Set("start", start.Format("2006-01-02"))
	params.Set("end", end.Format("2006-01-02"))

	var response HistoryResponse
	if err := c.makeRequestCtx(ctx, "/markets/history", params, &response); err != nil {
		return nil, fmt.Errorf("failed to get history for %s: %w", symbol, err)
	}
	return response.History.Value.Day, nil
}

// GetTimeSales returns one-minute bars of symbol for the regular session of day.
func (c *Client) GetTimeSales(ctx context.Context, symbol string, day time.Time) ([]TimeSale, error) {
	d := day.Format("2006-01-02")
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", "1min")
	params.Set("start", d+" 00:00")
	params.Set("end", d+" 23:59")
	params.Set("session_filter", "open")

	var response TimeSalesResponse
	if err := c.makeRequestCtx(ctx, "/markets/timesales", params, &response); err != nil {
		return nil, fmt.Errorf("failed to get timesales for %s: %w", symbol, err)
	}
	return response.Series.Value.Data, nil
}

// ============ Collaborator implementation ============

// DailyCandles implements marketdata.AssetDataService.
func (c *Client) DailyCandles(ctx context.Context, start, end time.Time, asset string) (marketdata.Series, error) {
	days, err := c.GetHistory(ctx, asset, start, end)
	if err != nil {
		return nil, &marketdata.FetchError{Op: "daily candles", Asset: asset, Err: err}
	}
	if len(days) == 0 {
		return nil, &marketdata.FetchError{Op: "daily candles", Asset: asset, Err: marketdata.ErrNoData}
	}
	out := make(marketdata.Series, 0, len(days))
	for _, d := range days {
		date, err := time.Parse("2006-01-02", d.Date)
		if err != nil {
			return nil, &marketdata.FetchError{
				Op: "daily candles", Asset: asset,
				Err: fmt.Errorf("%w: date %q: %w", marketdata.ErrMalformed, d.Date, err),
			}
		}
		out = append(out, marketdata.Bar{
			Timestamp: date,
			Symbol:    asset,
			Open:      d.Open,
			High:      d.High,
			Low:       d.Low,
			Close:     d.Close,
			Volume:    d.Volume,
		})
	}
	return out.Sorted(), nil
}

// MinuteBars implements marketdata.AssetDataService.
func (c *Client) MinuteBars(ctx context.Context, day time.Time, asset string) (marketdata.Series, error) {
	series, err := c.minuteSeries(ctx, day, asset)
	if err != nil {
		return nil, &marketdata.FetchError{Op: "asset minute bars", Day: day, Asset: asset, Err: err}
	}
	if len(series) == 0 {
		return nil, &marketdata.FetchError{Op: "asset minute bars", Day: day, Asset: asset, Err: marketdata.ErrNoData}
	}
	return series, nil
}

// OptionMinuteBars implements marketdata.OptionsDataService. Contracts with no trades
// are left out of the result.
func (c *Client) OptionMinuteBars(
	ctx context.Context,
	day time.Time,
	options []models.Option,
) (marketdata.OptionSeries, error) {
	out := make(marketdata.OptionSeries, len(options))
	for _, opt := range options {
		sym := opt.Symbol()
		series, err := c.minuteSeries(ctx, day, sym)
		if err != nil {
			return nil, &marketdata.FetchError{
				Op: "option minute bars", Day: day, Symbols: marketdata.Symbols(options), Err: err,
			}
		}
		if len(series) > 0 {
			out[sym] = series
		}
	}
	return out, nil
}

func (c *Client) minuteSeries(ctx context.Context, day time.Time, symbol string) (marketdata.Series, error) {
	sales, err := c.GetTimeSales(ctx, symbol, day)
	if err != nil {
		return nil, err
	}
	out := make(marketdata.Series, 0, len(sales))
	for _, s := range sales {
		if s.Timestamp <= 0 {
			return nil, fmt.Errorf("%w: %s row %q has no timestamp", marketdata.ErrMalformed, symbol, s.Time)
		}
		out = append(out, marketdata.Bar{
			Timestamp: time.Unix(s.Timestamp, 0).UTC(),
			Symbol:    symbol,
			Open:      s.Open,
			High:      s.High,
			Low:       s.Low,
			Close:     s.Close,
			Volume:    s.Volume,
			VWAP:      s.VWAP,
		})
	}
	if !out.IsAscending() {
		out = out.Sorted()
	}
	return out, nil
}

// makeRequestCtx performs a GET with bearer auth and decodes the JSON body into response.
func (c *Client) makeRequestCtx(ctx context.Context, endpoint string, params url.Values, response interface{}) error {
	u := c.baseURL + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Add("Authorization", "Bearer "+c.apiKey)
	req.Header.Add("Accept", "application/json")
	req.Header.Add("User-Agent", "scranton-backtester/1.0 (+tradier)")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.WithError(err).Debug("Failed to close response body")
		}
	}()

	remaining := resp.Header.Get("X-Ratelimit-Available")
	if remaining == "" {
		remaining = resp.Header.Get("X-RateLimit-Remaining")
	}
	if remaining != "" && c.sandbox {
		c.logger.WithField("remaining", remaining).Debug("Rate limit")
	}

	if resp.StatusCode != http.StatusOK {
		body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10)) // 64KB cap to avoid huge payloads
		if err != nil {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("GET %s -> failed to read error body", endpoint)}
		}
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("GET %s -> %s (retry-after: %s)", endpoint, string(body), ra)}
		}
		return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("GET %s -> %s", endpoint, string(body))}
	}

	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(response); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %w", marketdata.ErrMalformed, err)
	}
	return nil
}
