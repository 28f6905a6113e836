package marketdata

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/eddiefleurent/scranton_backtester/internal/models"
)

// CircuitBreakerSettings configures circuit breaker behavior
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// DefaultCircuitBreakerSettings trips on a 60% failure rate over at least 5 requests.
var DefaultCircuitBreakerSettings = CircuitBreakerSettings{
	MaxRequests:  3,
	Interval:     60 * time.Second,
	Timeout:      30 * time.Second,
	MinRequests:  5,
	FailureRatio: 0.6,
}

// CircuitBreakerSource wraps a Source with circuit breaker functionality.
// ErrNoData results do not count as failures.
type CircuitBreakerSource struct {
	source  Source
	breaker *gobreaker.CircuitBreaker
}

// NewCircuitBreakerSource creates a CircuitBreakerSource. A nil logger uses the standard logger.
func NewCircuitBreakerSource(src Source, settings CircuitBreakerSettings, logger *logrus.Logger) *CircuitBreakerSource {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	gbSettings := gobreaker.Settings{
		Name:        "MarketDataCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNoData)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	}
	return &CircuitBreakerSource{source: src, breaker: gobreaker.NewCircuitBreaker(gbSettings)}
}

// State reports the breaker state
func (c *CircuitBreakerSource) State() gobreaker.State {
	return c.breaker.State()
}

func execCircuitBreaker[T any](breaker *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn() })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// DailyCandles wraps the underlying call with the circuit breaker
func (c *CircuitBreakerSource) DailyCandles(ctx context.Context, start, end time.Time, asset string) (Series, error) {
	return execCircuitBreaker(c.breaker, func() (Series, error) { return c.source.DailyCandles(ctx, start, end, asset) })
}

// MinuteBars wraps the underlying call with the circuit breaker
func (c *CircuitBreakerSource) MinuteBars(ctx context.Context, day time.Time, asset string) (Series, error) {
	return execCircuitBreaker(c.breaker, func() (Series, error) { return c.source.MinuteBars(ctx, day, asset) })
}

// OptionMinuteBars wraps the underlying call with the circuit breaker
func (c *CircuitBreakerSource) OptionMinuteBars(
	ctx context.Context,
	day time.Time,
	options []models.Option,
) (OptionSeries, error) {
	return execCircuitBreaker(c.breaker, func() (OptionSeries, error) {
		return c.source.OptionMinuteBars(ctx, day, options)
	})
}
