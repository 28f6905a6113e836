// Package util holds small numeric helpers shared by combo construction and closing rules.
package util

import (
	"math"

	"github.com/shopspring/decimal"
)

// RoundToTick snaps x to the nearest multiple of tick, ties away from zero.
// Strike grids use it, so 507.5 on a 1-point grid is 508 and 492.5 is 493.
// A zero or non-finite tick, or a non-finite x, returns x unchanged.
func RoundToTick(x, tick float64) float64 {
	tick = math.Abs(tick)
	if tick == 0 || math.IsNaN(x) || math.IsInf(x, 0) || math.IsNaN(tick) || math.IsInf(tick, 0) {
		return x
	}
	// decimal keeps 507.5 / 2.5 style ties exact
	t := decimal.NewFromFloat(tick)
	return decimal.NewFromFloat(x).Div(t).Round(0).Mul(t).InexactFloat64()
}

// ClampInt limits v to the closed range [lo, hi]. If hi < lo, lo wins.
func ClampInt(v, lo, hi int) int {
	if v > hi {
		v = hi
	}
	if v < lo {
		v = lo
	}
	return v
}
