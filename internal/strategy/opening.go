// Package strategy holds the opening and closing rules applied to each simulated day.
package strategy

import (
	"errors"
	"fmt"
	"time"

	"github.com/eddiefleurent/scranton_backtester/internal/combo"
	"github.com/eddiefleurent/scranton_backtester/internal/marketdata"
	"github.com/eddiefleurent/scranton_backtester/internal/models"
)

var (
	// ErrInvalidConfig is returned when a strategy is built from invalid parameters
	ErrInvalidConfig = errors.New("invalid strategy config")
	// ErrOpeningOutOfRange is returned when the opening minute is not in the day's bars
	ErrOpeningOutOfRange = errors.New("opening minute out of range")
)

// Opening is the result of an opening decision.
type Opening struct {
	Timestamp time.Time    `json:"timestamp"`
	Legs      []models.Leg `json:"legs"`
	Index     int          `json:"index"`
	Reference float64      `json:"reference"`
}

// OpeningStrategy picks the opening minute and legs from the underlying's minute bars.
type OpeningStrategy interface {
	Open(day marketdata.Series) (Opening, error)
	String() string
}

// OpeningKind names an opening rule
type OpeningKind string

const (
	// OpenAtMinuteIndex opens at a fixed position in the day's bars
	OpenAtMinuteIndex OpeningKind = "minute_index"
	// OpenAtMinuteOfDay opens at the first bar at or after a wall clock time
	OpenAtMinuteOfDay OpeningKind = "minute_of_day"
)

// OpeningConfig is the serialisable description of an opening rule.
type OpeningConfig struct {
	Kind        OpeningKind `yaml:"kind" json:"kind"`
	MinuteOfDay string      `yaml:"minute_of_day" json:"minute_of_day,omitempty"` // HH:MM
	Timezone    string      `yaml:"timezone" json:"timezone,omitempty"`
	Combo       combo.Spec  `yaml:"combo" json:"combo"`
	MinuteIndex int         `yaml:"minute_index" json:"minute_index"`
	ExpiryDays  int         `yaml:"expiry_days" json:"expiry_days"` // 0 = same day
}

// DefaultOpeningConfig opens the reference 0DTE iron condor on the third minute.
var DefaultOpeningConfig = OpeningConfig{
	Kind:        OpenAtMinuteIndex,
	MinuteIndex: 2,
	Combo:       combo.DefaultSpec,
}

// Build validates the config and returns the strategy.
func (c OpeningConfig) Build() (OpeningStrategy, error) {
	if err := c.Combo.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.ExpiryDays < 0 {
		return nil, fmt.Errorf("%w: expiry_days must be >= 0 (got %d)", ErrInvalidConfig, c.ExpiryDays)
	}

	switch c.Kind {
	case OpenAtMinuteIndex:
		if c.MinuteIndex < 0 {
			return nil, fmt.Errorf("%w: minute_index must be >= 0 (got %d)", ErrInvalidConfig, c.MinuteIndex)
		}
		return &minuteIndexOpening{cfg: c}, nil
	case OpenAtMinuteOfDay:
		tz := c.Timezone
		if tz == "" {
			tz = "America/New_York"
		}
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("%w: timezone %q: %w", ErrInvalidConfig, tz, err)
		}
		clock, err := time.Parse("15:04", c.MinuteOfDay)
		if err != nil {
			return nil, fmt.Errorf("%w: minute_of_day %q must be HH:MM", ErrInvalidConfig, c.MinuteOfDay)
		}
		offset := time.Duration(clock.Hour())*time.Hour + time.Duration(clock.Minute())*time.Minute
		return &minuteOfDayOpening{cfg: c, loc: loc, offset: offset}, nil
	default:
		return nil, fmt.Errorf("%w: unknown opening kind %q", ErrInvalidConfig, c.Kind)
	}
}

// legsAt builds the combo anchored on the open price of day[idx].
func (c OpeningConfig) legsAt(day marketdata.Series, idx int) (Opening, error) {
	b := day[idx]
	if b.Symbol == "" {
		return Opening{}, fmt.Errorf("%w: bar at %s has no symbol", marketdata.ErrMalformed, b.Timestamp)
	}
	expiry := marketdata.TradingDay(b.Timestamp).AddDate(0, 0, c.ExpiryDays)
	legs, err := c.Combo.Build(b.Symbol, b.Open, expiry)
	if err != nil {
		return Opening{}, err
	}
	return Opening{Index: idx, Timestamp: b.Timestamp, Legs: legs, Reference: b.Open}, nil
}

type minuteIndexOpening struct {
	cfg OpeningConfig
}

func (o *minuteIndexOpening) String() string {
	return fmt.Sprintf("%s=%d %s", OpenAtMinuteIndex, o.cfg.MinuteIndex, o.cfg.Combo.Kind)
}

func (o *minuteIndexOpening) Open(day marketdata.Series) (Opening, error) {
	if o.cfg.MinuteIndex >= len(day) {
		return Opening{}, fmt.Errorf("%w: index %d with %d bars", ErrOpeningOutOfRange, o.cfg.MinuteIndex, len(day))
	}
	return o.cfg.legsAt(day, o.cfg.MinuteIndex)
}

type minuteOfDayOpening struct {
	cfg    OpeningConfig
	loc    *time.Location
	offset time.Duration
}

func (o *minuteOfDayOpening) String() string {
	return fmt.Sprintf("%s=%s %s", OpenAtMinuteOfDay, o.cfg.MinuteOfDay, o.cfg.Combo.Kind)
}

func (o *minuteOfDayOpening) Open(day marketdata.Series) (Opening, error) {
	if len(day) == 0 {
		return Opening{}, fmt.Errorf("%w: no bars", ErrOpeningOutOfRange)
	}
	local := day[0].Timestamp.In(o.loc)
	target := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, o.loc).Add(o.offset)
	for i, b := range day {
		if !b.Timestamp.Before(target) {
			return o.cfg.legsAt(day, i)
		}
	}
	return Opening{}, fmt.Errorf("%w: no bar at or after %s", ErrOpeningOutOfRange, target.Format(time.RFC3339))
}
