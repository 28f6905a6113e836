package strategy

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/eddiefleurent/scranton_backtester/internal/util"
)

// ClosingStrategy turns a day's minute-by-minute profit trace into one realized profit.
type ClosingStrategy interface {
	Close(profits []float64) float64
	String() string
}

// ClosingKind names a closing rule
type ClosingKind string

const (
	CloseLast                          ClosingKind = "last"
	CloseMax                           ClosingKind = "max"
	CloseMiddle                        ClosingKind = "middle"
	CloseLimit                         ClosingKind = "limit"
	CloseLimitOrStopLoss               ClosingKind = "limit_or_stoploss"
	CloseLastN                         ClosingKind = "last_n"
	CloseLimitOrLastN                  ClosingKind = "limit_or_last_n"
	CloseLimitOrStopLossOrLastN        ClosingKind = "limit_or_stoploss_or_last_n"
	CloseLimitOrStopLossAfterNOrLastM  ClosingKind = "limit_or_stoploss_after_n_or_last_m"
	CloseNthMinute                     ClosingKind = "nth_minute"
	CloseLimitOrStopLossOrNthMinute    ClosingKind = "limit_or_stoploss_or_nth_minute"
	CloseLimitOrStopLossAfterNOrMthMin ClosingKind = "limit_or_stoploss_after_n_or_mth_minute"
)

// ClosingKinds lists every supported kind in a stable order
func ClosingKinds() []ClosingKind {
	kinds := make([]ClosingKind, 0, len(closingParams))
	for k := range closingParams {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func kindList() string {
	kinds := ClosingKinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}

type params struct {
	limit, stopLoss, n, m bool
	nFromEnd, mFromEnd    bool
}

var closingParams = map[ClosingKind]params{
	CloseLast:                          {},
	CloseMax:                           {},
	CloseMiddle:                        {},
	CloseLimit:                         {limit: true},
	CloseLimitOrStopLoss:               {limit: true, stopLoss: true},
	CloseLastN:                         {n: true, nFromEnd: true},
	CloseLimitOrLastN:                  {limit: true, n: true, nFromEnd: true},
	CloseLimitOrStopLossOrLastN:        {limit: true, stopLoss: true, n: true, nFromEnd: true},
	CloseLimitOrStopLossAfterNOrLastM:  {limit: true, stopLoss: true, n: true, m: true, mFromEnd: true},
	CloseNthMinute:                     {n: true},
	CloseLimitOrStopLossOrNthMinute:    {limit: true, stopLoss: true, n: true},
	CloseLimitOrStopLossAfterNOrMthMin: {limit: true, stopLoss: true, n: true, m: true},
}

// ClosingConfig is the serialisable description of a closing rule.
//
// Limit is a profit target in dollars. StopLoss is a loss magnitude in dollars; its sign
// is ignored, so 400 and -400 both close once the trace reaches -400. N and M are minute
// counts whose meaning depends on Kind.
type ClosingConfig struct {
	Kind     ClosingKind `yaml:"kind" json:"kind"`
	Limit    float64     `yaml:"limit" json:"limit,omitempty"`
	StopLoss float64     `yaml:"stoploss" json:"stoploss,omitempty"`
	N        int         `yaml:"n" json:"n,omitempty"`
	M        int         `yaml:"m" json:"m,omitempty"`
}

// Validate checks the parameters required by Kind.
func (c ClosingConfig) Validate() error {
	p, ok := closingParams[c.Kind]
	if !ok {
		return fmt.Errorf("%w: unknown closing kind %q (valid: %s)", ErrInvalidConfig, c.Kind, kindList())
	}
	if p.limit && !(c.Limit > 0) {
		return fmt.Errorf("%w: %s needs limit > 0 (got %v)", ErrInvalidConfig, c.Kind, c.Limit)
	}
	if p.stopLoss && (c.StopLoss == 0 || math.IsNaN(c.StopLoss)) {
		return fmt.Errorf("%w: %s needs a non-zero stoploss", ErrInvalidConfig, c.Kind)
	}
	if p.n && c.N < 0 {
		return fmt.Errorf("%w: %s needs n >= 0 (got %d)", ErrInvalidConfig, c.Kind, c.N)
	}
	if p.m && c.M < 0 {
		return fmt.Errorf("%w: %s needs m >= 0 (got %d)", ErrInvalidConfig, c.Kind, c.M)
	}
	if p.nFromEnd && c.N == 0 {
		return fmt.Errorf("%w: %s needs n >= 1", ErrInvalidConfig, c.Kind)
	}
	if p.mFromEnd && c.M == 0 {
		return fmt.Errorf("%w: %s needs m >= 1", ErrInvalidConfig, c.Kind)
	}
	return nil
}

// Build validates the config and returns the strategy.
func (c ClosingConfig) Build() (ClosingStrategy, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &scanClose{cfg: c, stop: -math.Abs(c.StopLoss)}, nil
}

// MustBuild is Build for configs known to be valid; it panics otherwise.
func (c ClosingConfig) MustBuild() ClosingStrategy {
	s, err := c.Build()
	if err != nil {
		panic(err)
	}
	return s
}

// scanClose implements every kind as one scan: look at window [0, end) for an exit
// and otherwise force close at index end.
type scanClose struct {
	cfg  ClosingConfig
	stop float64
}

func (s *scanClose) String() string {
	p := closingParams[s.cfg.Kind]
	label := string(s.cfg.Kind)
	if p.limit {
		label += " limit=" + fmtNum(s.cfg.Limit)
	}
	if p.stopLoss {
		label += " stoploss=" + fmtNum(s.stop)
	}
	if p.n {
		label += " n=" + strconv.Itoa(s.cfg.N)
	}
	if p.m {
		label += " m=" + strconv.Itoa(s.cfg.M)
	}
	return label
}

func fmtNum(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (s *scanClose) Close(profits []float64) float64 {
	n := len(profits)
	if n == 0 {
		return 0
	}
	last := n - 1

	switch s.cfg.Kind {
	case CloseLast:
		return profits[last]
	case CloseMax:
		best := profits[0]
		for _, v := range profits[1:] {
			if v > best {
				best = v
			}
		}
		return best
	case CloseMiddle:
		return profits[n/2]
	case CloseLimit:
		return s.scan(profits, n, -1, false, last)
	case CloseLimitOrStopLoss:
		return s.scan(profits, n, 0, true, last)
	case CloseLastN:
		return profits[fromEnd(n, s.cfg.N)]
	case CloseLimitOrLastN:
		end := fromEnd(n, s.cfg.N)
		return s.scan(profits, end, -1, false, end)
	case CloseLimitOrStopLossOrLastN:
		end := fromEnd(n, s.cfg.N)
		return s.scan(profits, end, 0, true, end)
	case CloseLimitOrStopLossAfterNOrLastM:
		end := fromEnd(n, s.cfg.M)
		return s.scan(profits, end, s.cfg.N, true, end)
	case CloseNthMinute:
		return profits[util.ClampInt(s.cfg.N, 0, last)]
	case CloseLimitOrStopLossOrNthMinute:
		end := util.ClampInt(s.cfg.N, 0, last)
		return s.scan(profits, end, 0, true, end)
	default: // CloseLimitOrStopLossAfterNOrMthMin
		end := util.ClampInt(s.cfg.M, 0, last)
		return s.scan(profits, end, s.cfg.N, true, end)
	}
}

// fromEnd returns the index of the k-th value from the end, capped at the first value.
func fromEnd(length, k int) int {
	return util.ClampInt(length-k, 0, length-1)
}

// scan returns the first value in profits[:end] at or above the limit, or at or below the
// stop once the index reaches stopFrom. The limit wins when both fire on the same minute.
// Without a hit it returns profits[fallback].
func (s *scanClose) scan(profits []float64, end, stopFrom int, useStop bool, fallback int) float64 {
	for i := 0; i < end; i++ {
		v := profits[i]
		if v >= s.cfg.Limit {
			return v
		}
		if useStop && i >= stopFrom && v <= s.stop {
			return v
		}
	}
	return profits[fallback]
}
