package storage

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/scranton_backtester/internal/marketdata"
	"github.com/eddiefleurent/scranton_backtester/internal/models"
)

// CachingSource serves repeated requests from a cache and fetches only what is missing.
// Errors are never cached; an empty answer from the source is.
type CachingSource struct {
	source marketdata.Source
	store  Interface
	logger *logrus.Logger
}

// NewCachingSource wraps source with store. A nil logger uses the standard logger.
func NewCachingSource(source marketdata.Source, store Interface, logger *logrus.Logger) *CachingSource {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CachingSource{source: source, store: store, logger: logger}
}

// get returns the cached series for key. Cache read errors are logged and treated as misses.
func (c *CachingSource) get(key Key) (marketdata.Series, bool) {
	series, ok, err := c.store.Get(key)
	if err != nil {
		c.logger.WithError(err).WithField("key", key.String()).Warn("Cache read failed, refetching")
		return nil, false
	}
	return series, ok
}

func (c *CachingSource) put(key Key, series marketdata.Series) {
	if err := c.store.Put(key, series); err != nil {
		c.logger.WithError(err).WithField("key", key.String()).Warn("Cache write failed")
	}
}

// DailyCandles implements marketdata.AssetDataService
func (c *CachingSource) DailyCandles(ctx context.Context, start, end time.Time, asset string) (marketdata.Series, error) {
	key := DailyKey(asset, start, end)
	if series, ok := c.get(key); ok {
		if len(series) == 0 {
			return nil, &marketdata.FetchError{Op: "daily candles", Asset: asset, Err: marketdata.ErrNoData}
		}
		return series, nil
	}
	series, err := c.source.DailyCandles(ctx, start, end, asset)
	if errors.Is(err, marketdata.ErrNoData) {
		c.put(key, nil)
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	c.put(key, series)
	return series, nil
}

// MinuteBars implements marketdata.AssetDataService
func (c *CachingSource) MinuteBars(ctx context.Context, day time.Time, asset string) (marketdata.Series, error) {
	key := MinuteKey(asset, day)
	if series, ok := c.get(key); ok {
		if len(series) == 0 {
			return nil, &marketdata.FetchError{Op: "asset minute bars", Day: day, Asset: asset, Err: marketdata.ErrNoData}
		}
		return series, nil
	}
	series, err := c.source.MinuteBars(ctx, day, asset)
	if errors.Is(err, marketdata.ErrNoData) {
		c.put(key, nil)
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	c.put(key, series)
	return series, nil
}

// OptionMinuteBars implements marketdata.OptionsDataService. Only contracts missing from
// the cache are requested from the source.
func (c *CachingSource) OptionMinuteBars(
	ctx context.Context,
	day time.Time,
	options []models.Option,
) (marketdata.OptionSeries, error) {
	out := make(marketdata.OptionSeries, len(options))
	var missing []models.Option
	for _, opt := range options {
		series, ok := c.get(MinuteKey(opt.Symbol(), day))
		if !ok {
			missing = append(missing, opt)
			continue
		}
		if len(series) > 0 {
			out[opt.Symbol()] = series
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := c.source.OptionMinuteBars(ctx, day, missing)
	if err != nil {
		return nil, err
	}
	for _, opt := range missing {
		sym := opt.Symbol()
		series := fetched[sym]
		c.put(MinuteKey(sym, day), series)
		if len(series) > 0 {
			out[sym] = series
		}
	}
	c.logger.WithFields(logrus.Fields{
		"day":     day.Format("2006-01-02"),
		"fetched": len(missing),
		"cached":  len(options) - len(missing),
	}).Debug("Option bars loaded")
	return out, nil
}
