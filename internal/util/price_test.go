package util

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundToTick_StrikeGrid(t *testing.T) {
	tests := []struct {
		name          string
		x, tick, want float64
	}{
		{"call wing tie goes up", 507.5, 1, 508},
		{"put wing tie goes up", 492.5, 1, 493},
		{"below half", 500.4, 1, 500},
		{"half point grid", 507.3, 0.5, 507.5},
		{"five point grid", 512.6, 5, 515},
		{"already on grid", 495, 5, 495},
		{"negative offset tie", -7.5, 1, -8},
		{"negative tick", 507.5, -1, 508},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RoundToTick(tt.x, tt.tick))
		})
	}
}

func TestRoundToTick_Degenerate(t *testing.T) {
	assert.Equal(t, 501.3, RoundToTick(501.3, 0))
	assert.True(t, math.IsNaN(RoundToTick(math.NaN(), 1)))
	assert.True(t, math.IsInf(RoundToTick(math.Inf(1), 1), 1))
	assert.Equal(t, 501.3, RoundToTick(501.3, math.Inf(1)))
}

func TestClampInt(t *testing.T) {
	tests := []struct {
		name            string
		v, lo, hi, want int
	}{
		{"inside range", 5, 0, 10, 5},
		{"above range", 15, 0, 10, 10},
		{"below range", -3, 0, 10, 0},
		{"inverted range favours lo", 5, 3, 1, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClampInt(tt.v, tt.lo, tt.hi))
		})
	}
}
