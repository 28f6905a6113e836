package tradier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/eddiefleurent/scranton_backtester/internal/marketdata"
	"github.com/eddiefleurent/scranton_backtester/internal/models"
)

var day = time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

func TestAPIError(t *testing.T) {
	err := &APIError{Status: 429, Body: "too many requests"}
	want := "API error 429: too many requests"
	if got := err.Error(); got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
	if !err.Temporary() {
		t.Error("429 should be temporary")
	}
	if (&APIError{Status: 401}).Temporary() {
		t.Error("401 should not be temporary")
	}
	if !(&APIError{Status: 503}).Temporary() {
		t.Error("503 should be temporary")
	}
}

func TestNewClient_BaseURL(t *testing.T) {
	tests := []struct {
		name    string
		sandbox bool
		baseURL string
		want    string
	}{
		{"sandbox default", true, "", "https://sandbox.tradier.com/v1"},
		{"production default", false, "", "https://api.tradier.com/v1"},
		{"custom trimmed", false, "https://example.test/api/", "https://example.test/api"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient("k", tt.sandbox, tt.baseURL)
			if c.baseURL != tt.want {
				t.Fatalf("baseURL = %q, want %q", c.baseURL, tt.want)
			}
		})
	}
}

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("secret", false, srv.URL).WithHTTPClient(srv.Client())
}

func TestDailyCandles(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/markets/history" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		q := r.URL.Query()
		if q.Get("symbol") != "SPY" || q.Get("interval") != "daily" || q.Get("start") != "2024-04-01" || q.Get("end") != "2024-04-03" {
			t.Errorf("unexpected query %v", q)
		}
		fmt.Fprint(w, `{"history":{"day":[
			{"date":"2024-04-02","open":501,"high":505,"low":499,"close":503,"volume":1000},
			{"date":"2024-04-01","open":500,"high":502,"low":498,"close":501,"volume":900}
		]}}`)
	})

	bars, err := c.DailyCandles(context.Background(), day, day.AddDate(0, 0, 2), "SPY")
	if err != nil {
		t.Fatalf("DailyCandles failed: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(bars))
	}
	if !bars[0].Timestamp.Equal(day) || bars[0].Open != 500 || bars[0].Symbol != "SPY" {
		t.Errorf("unexpected first bar %+v", bars[0])
	}
}

func TestDailyCandles_SingleObjectAndNull(t *testing.T) {
	body := `{"history":{"day":{"date":"2024-04-01","open":500,"high":502,"low":498,"close":501,"volume":900}}}`
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	})
	bars, err := c.DailyCandles(context.Background(), day, day, "SPY")
	if err != nil || len(bars) != 1 {
		t.Fatalf("single object: bars=%v err=%v", bars, err)
	}

	body = `{"history":"null"}`
	_, err = c.DailyCandles(context.Background(), day, day, "SPY")
	if !errors.Is(err, marketdata.ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
}

func TestMinuteBars(t *testing.T) {
	ts := time.Date(2024, 4, 1, 13, 30, 0, 0, time.UTC).Unix()
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/markets/timesales" || q.Get("interval") != "1min" || q.Get("session_filter") != "open" {
			t.Errorf("unexpected request %s?%s", r.URL.Path, r.URL.RawQuery)
		}
		fmt.Fprintf(w, `{"series":{"data":[
			{"time":"2024-04-01T09:31:00","timestamp":%d,"open":501,"high":501,"low":500,"close":500.5,"volume":10,"vwap":500.7},
			{"time":"2024-04-01T09:30:00","timestamp":%d,"open":500,"high":501,"low":499,"close":501,"volume":12,"vwap":500.2}
		]}}`, ts+60, ts)
	})

	bars, err := c.MinuteBars(context.Background(), day, "SPY")
	if err != nil {
		t.Fatalf("MinuteBars failed: %v", err)
	}
	if len(bars) != 2 || !bars.IsAscending() {
		t.Fatalf("expected 2 ascending bars, got %+v", bars)
	}
	if bars[0].Timestamp.Unix() != ts || bars[0].VWAP != 500.2 {
		t.Errorf("unexpected first bar %+v", bars[0])
	}
}

func TestOptionMinuteBars(t *testing.T) {
	call := models.NewOption(models.OptionTypeCall, "SPY", day, 500)
	put := models.NewOption(models.OptionTypePut, "SPY", day, 500)
	ts := time.Date(2024, 4, 1, 13, 30, 0, 0, time.UTC).Unix()

	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("symbol") {
		case call.Symbol():
			fmt.Fprintf(w, `{"series":{"data":{"time":"x","timestamp":%d,"open":1.2,"high":1.3,"low":1.1,"close":1.25,"volume":3}}}`, ts)
		case put.Symbol():
			fmt.Fprint(w, `{"series":null}`)
		default:
			t.Errorf("unexpected symbol %s", r.URL.Query().Get("symbol"))
		}
	})

	got, err := c.OptionMinuteBars(context.Background(), day, []models.Option{call, put})
	if err != nil {
		t.Fatalf("OptionMinuteBars failed: %v", err)
	}
	if len(got[call.Symbol()]) != 1 {
		t.Errorf("expected one bar for %s", call.Symbol())
	}
	if _, ok := got[put.Symbol()]; ok {
		t.Errorf("contract without trades should be absent")
	}
}

func TestAPIErrorPropagation(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, "slow down")
	})

	_, err := c.MinuteBars(context.Background(), day, "SPY")
	var fe *marketdata.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FetchError, got %T %v", err, err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError in chain, got %v", err)
	}
	if apiErr.Status != http.StatusTooManyRequests {
		t.Errorf("status = %d", apiErr.Status)
	}
}

func TestMalformedBody(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"series":{"data":[{"time":"x","timestamp":0}]}}`)
	})
	_, err := c.MinuteBars(context.Background(), day, "SPY")
	if !errors.Is(err, marketdata.ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}

	c = newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"series":`)
	})
	_, err = c.MinuteBars(context.Background(), day, "SPY")
	if !errors.Is(err, marketdata.ErrMalformed) {
		t.Fatalf("expected ErrMalformed on truncated body, got %v", err)
	}
}
