// Package combo builds multi-leg option combos from a reference price and structural ratios.
package combo

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eddiefleurent/scranton_backtester/internal/models"
	"github.com/eddiefleurent/scranton_backtester/internal/util"
)

// ErrInvalidCombo is returned when combo parameters cannot produce a valid leg list
var ErrInvalidCombo = errors.New("invalid combo parameters")

// Kind names a combo shape
type Kind string

const (
	// KindIronCondor sells a call and a put at the same strike and buys wings on both sides
	KindIronCondor Kind = "iron_condor"
	// KindStraddle trades a call and a put at the same strike
	KindStraddle Kind = "straddle"
	// KindStrangle trades an out-of-the-money call and put
	KindStrangle Kind = "strangle"
	// KindCallSpread sells a call and buys a further out-of-the-money call
	KindCallSpread Kind = "call_spread"
	// KindPutSpread sells a put and buys a further out-of-the-money put
	KindPutSpread Kind = "put_spread"
)

// StrikeRounding rounds computed strikes to the listed strike granularity.
type StrikeRounding struct {
	Tick float64 `yaml:"tick" json:"tick"`
}

// DefaultRounding rounds strikes to the nearest whole dollar.
var DefaultRounding = StrikeRounding{Tick: 1}

// Round rounds a strike to the configured tick; a zero tick falls back to whole dollars.
func (r StrikeRounding) Round(strike float64) float64 {
	tick := r.Tick
	if tick == 0 {
		tick = DefaultRounding.Tick
	}
	return util.RoundToTick(strike, tick)
}

// scaled returns reference*(1+ratio) computed in decimal, so 500*(1+0.015) is exactly 507.5.
func scaled(reference, ratio float64) float64 {
	one := decimal.NewFromInt(1)
	return decimal.NewFromFloat(reference).Mul(one.Add(decimal.NewFromFloat(ratio))).InexactFloat64()
}

func validate(contracts int, asset string, reference, ratio float64, needRatio bool) error {
	if contracts <= 0 {
		return fmt.Errorf("%w: contracts must be > 0 (got %d)", ErrInvalidCombo, contracts)
	}
	if strings.TrimSpace(asset) == "" {
		return fmt.Errorf("%w: asset is required", ErrInvalidCombo)
	}
	if reference <= 0 {
		return fmt.Errorf("%w: reference price must be > 0 (got %v)", ErrInvalidCombo, reference)
	}
	if needRatio && (ratio <= 0 || ratio >= 1) {
		return fmt.Errorf("%w: width ratio must be in (0,1) (got %v)", ErrInvalidCombo, ratio)
	}
	return nil
}

// IronCondorSameShorts returns an iron condor whose short call and short put share the
// strike nearest shortsStrike. The long call sits at shortsStrike*(1+wingspan) and the long
// put at shortsStrike*(1-wingspan). Each strike is rounded on its own after scaling, so the
// wings may end up asymmetric.
//
// Legs are returned as: sell call, sell put, buy call, buy put.
func IronCondorSameShorts(
	contracts int,
	asset string,
	shortsStrike, wingspan float64,
	expiry time.Time,
	rounding StrikeRounding,
) ([]models.Leg, error) {
	if err := validate(contracts, asset, shortsStrike, wingspan, true); err != nil {
		return nil, err
	}

	middle := rounding.Round(shortsStrike)
	high := rounding.Round(scaled(shortsStrike, wingspan))
	low := rounding.Round(scaled(shortsStrike, -wingspan))

	return []models.Leg{
		models.NewLeg(models.Sell, contracts, models.NewOption(models.OptionTypeCall, asset, expiry, middle)),
		models.NewLeg(models.Sell, contracts, models.NewOption(models.OptionTypePut, asset, expiry, middle)),
		models.NewLeg(models.Buy, contracts, models.NewOption(models.OptionTypeCall, asset, expiry, high)),
		models.NewLeg(models.Buy, contracts, models.NewOption(models.OptionTypePut, asset, expiry, low)),
	}, nil
}

// Straddle returns a call and a put at the strike nearest reference, both traded with action.
func Straddle(
	contracts int,
	asset string,
	reference float64,
	action models.TradeAction,
	expiry time.Time,
	rounding StrikeRounding,
) ([]models.Leg, error) {
	if err := validate(contracts, asset, reference, 0, false); err != nil {
		return nil, err
	}
	if !action.Valid() {
		return nil, fmt.Errorf("%w: invalid action %d", ErrInvalidCombo, action)
	}

	strike := rounding.Round(reference)
	return []models.Leg{
		models.NewLeg(action, contracts, models.NewOption(models.OptionTypeCall, asset, expiry, strike)),
		models.NewLeg(action, contracts, models.NewOption(models.OptionTypePut, asset, expiry, strike)),
	}, nil
}

// Strangle returns a call at reference*(1+width) and a put at reference*(1-width), both
// traded with action.
func Strangle(
	contracts int,
	asset string,
	reference, width float64,
	action models.TradeAction,
	expiry time.Time,
	rounding StrikeRounding,
) ([]models.Leg, error) {
	if err := validate(contracts, asset, reference, width, true); err != nil {
		return nil, err
	}
	if !action.Valid() {
		return nil, fmt.Errorf("%w: invalid action %d", ErrInvalidCombo, action)
	}

	return []models.Leg{
		models.NewLeg(action, contracts, models.NewOption(models.OptionTypeCall, asset, expiry,
			rounding.Round(scaled(reference, width)))),
		models.NewLeg(action, contracts, models.NewOption(models.OptionTypePut, asset, expiry,
			rounding.Round(scaled(reference, -width)))),
	}, nil
}

// VerticalCreditSpread sells optType at the strike nearest shortStrike and buys the same
// type width further out of the money (above for calls, below for puts).
func VerticalCreditSpread(
	contracts int,
	asset string,
	optType models.OptionType,
	shortStrike, width float64,
	expiry time.Time,
	rounding StrikeRounding,
) ([]models.Leg, error) {
	if err := validate(contracts, asset, shortStrike, width, true); err != nil {
		return nil, err
	}

	var wing float64
	switch optType {
	case models.OptionTypeCall:
		wing = scaled(shortStrike, width)
	case models.OptionTypePut:
		wing = scaled(shortStrike, -width)
	default:
		return nil, fmt.Errorf("%w: invalid option type %q", ErrInvalidCombo, optType)
	}

	return []models.Leg{
		models.NewLeg(models.Sell, contracts, models.NewOption(optType, asset, expiry, rounding.Round(shortStrike))),
		models.NewLeg(models.Buy, contracts, models.NewOption(optType, asset, expiry, rounding.Round(wing))),
	}, nil
}

// Spec is a serialisable combo description: a shape plus its structural ratios.
type Spec struct {
	Kind      Kind           `yaml:"kind" json:"kind"`
	Contracts int            `yaml:"contracts" json:"contracts"`
	Width     float64        `yaml:"width" json:"width"`   // wingspan / strike offset ratio
	Action    string         `yaml:"action" json:"action"` // buy | sell, straddle and strangle only
	Rounding  StrikeRounding `yaml:"rounding" json:"rounding"`
}

// DefaultSpec is the reference combo: one-lot iron condor with 1.5% wings.
var DefaultSpec = Spec{Kind: KindIronCondor, Contracts: 1, Width: 0.015, Rounding: DefaultRounding}

// action parses Spec.Action, defaulting to selling premium
func (s Spec) action() (models.TradeAction, error) {
	switch strings.ToLower(strings.TrimSpace(s.Action)) {
	case "", "sell":
		return models.Sell, nil
	case "buy":
		return models.Buy, nil
	default:
		return 0, fmt.Errorf("%w: action must be 'buy' or 'sell' (got %q)", ErrInvalidCombo, s.Action)
	}
}

// Validate checks the spec without a reference price.
func (s Spec) Validate() error {
	if s.Contracts <= 0 {
		return fmt.Errorf("%w: contracts must be > 0 (got %d)", ErrInvalidCombo, s.Contracts)
	}
	if _, err := s.action(); err != nil {
		return err
	}
	switch s.Kind {
	case KindStraddle:
		return nil
	case KindIronCondor, KindStrangle, KindCallSpread, KindPutSpread:
		if s.Width <= 0 || s.Width >= 1 {
			return fmt.Errorf("%w: width must be in (0,1) for %s (got %v)", ErrInvalidCombo, s.Kind, s.Width)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown combo kind %q", ErrInvalidCombo, s.Kind)
	}
}

// Build returns the legs of the spec anchored on reference.
func (s Spec) Build(asset string, reference float64, expiry time.Time) ([]models.Leg, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	action, _ := s.action()

	switch s.Kind {
	case KindIronCondor:
		return IronCondorSameShorts(s.Contracts, asset, reference, s.Width, expiry, s.Rounding)
	case KindStraddle:
		return Straddle(s.Contracts, asset, reference, action, expiry, s.Rounding)
	case KindStrangle:
		return Strangle(s.Contracts, asset, reference, s.Width, action, expiry, s.Rounding)
	case KindCallSpread:
		return VerticalCreditSpread(s.Contracts, asset, models.OptionTypeCall, reference, s.Width, expiry, s.Rounding)
	default:
		return VerticalCreditSpread(s.Contracts, asset, models.OptionTypePut, reference, s.Width, expiry, s.Rounding)
	}
}
