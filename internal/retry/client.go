// Package retry wraps market data collaborators with bounded retries for transient failures.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/scranton_backtester/internal/marketdata"
	"github.com/eddiefleurent/scranton_backtester/internal/models"
)

type Config struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Timeout        time.Duration `yaml:"timeout"` // per call, including retries
}

var DefaultConfig = Config{
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	Timeout:        2 * time.Minute,
}

// Source retries the calls of a wrapped marketdata.Source.
type Source struct {
	source marketdata.Source
	logger *logrus.Logger
	config Config
}

func NewSource(source marketdata.Source, logger *logrus.Logger, config ...Config) *Source {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Source{
		source: source,
		logger: logger,
		config: cfg,
	}
}

// DailyCandles retries the wrapped call on transient errors
func (s *Source) DailyCandles(ctx context.Context, start, end time.Time, asset string) (marketdata.Series, error) {
	return do(ctx, s, "daily candles "+asset, func(ctx context.Context) (marketdata.Series, error) {
		return s.source.DailyCandles(ctx, start, end, asset)
	})
}

// MinuteBars retries the wrapped call on transient errors
func (s *Source) MinuteBars(ctx context.Context, day time.Time, asset string) (marketdata.Series, error) {
	return do(ctx, s, "minute bars "+asset, func(ctx context.Context) (marketdata.Series, error) {
		return s.source.MinuteBars(ctx, day, asset)
	})
}

// OptionMinuteBars retries the wrapped call on transient errors
func (s *Source) OptionMinuteBars(
	ctx context.Context,
	day time.Time,
	options []models.Option,
) (marketdata.OptionSeries, error) {
	return do(ctx, s, fmt.Sprintf("option minute bars (%d contracts)", len(options)),
		func(ctx context.Context) (marketdata.OptionSeries, error) {
			return s.source.OptionMinuteBars(ctx, day, options)
		})
}

func do[T any](ctx context.Context, s *Source, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	callCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	var lastErr error
	backoff := s.config.InitialBackoff

	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return zero, fmt.Errorf("operation canceled: %w", ctx.Err())
		}
		if callCtx.Err() != nil {
			return zero, fmt.Errorf("%s timed out after %v: %w", op, s.config.Timeout, callCtx.Err())
		}

		res, err := fn(callCtx)
		if err == nil {
			if attempt > 0 {
				s.logger.WithField("attempt", attempt+1).Infof("%s succeeded after retry", op)
			}
			return res, nil
		}

		lastErr = err
		if !isTransientError(err) || attempt == s.config.MaxRetries {
			break
		}

		s.logger.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"backoff": backoff,
		}).Warnf("%s failed with transient error, retrying", op)

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
			backoff = s.calculateNextBackoff(backoff)
		case <-callCtx.Done():
			timer.Stop()
			if ctx.Err() != nil {
				return zero, fmt.Errorf("operation canceled during backoff: %w", ctx.Err())
			}
			return zero, fmt.Errorf("%s timed out during backoff: %w", op, callCtx.Err())
		}
	}

	if !isTransientError(lastErr) {
		return zero, lastErr
	}
	return zero, fmt.Errorf("%s failed after %d attempts: %w", op, s.config.MaxRetries+1, lastErr)
}

func (s *Source) calculateNextBackoff(currentBackoff time.Duration) time.Duration {
	backoff := time.Duration(float64(currentBackoff) * 1.5)
	if backoff > s.config.MaxBackoff {
		backoff = s.config.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			s.logger.WithError(err).Debug("Failed to generate jitter")
		} else {
			backoff += time.Duration(jitterVal.Int64())
		}
	}

	return backoff
}

type temporary interface {
	Temporary() bool
}

// isTransientError classifies by error type only. Message text is never
// inspected, so an OCC symbol or date inside an error string cannot make a
// permanent failure retryable.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, marketdata.ErrNoData) || errors.Is(err, marketdata.ErrMalformed) ||
		errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var t temporary
	if errors.As(err, &t) {
		return t.Temporary()
	}
	return false
}
