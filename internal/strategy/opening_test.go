package strategy

import (
	"errors"
	"testing"
	"time"

	"github.com/eddiefleurent/scranton_backtester/internal/combo"
	"github.com/eddiefleurent/scranton_backtester/internal/marketdata"
	"github.com/eddiefleurent/scranton_backtester/internal/models"
)

func underlyingDay(opens ...float64) marketdata.Series {
	start := time.Date(2024, 4, 1, 13, 30, 0, 0, time.UTC)
	out := make(marketdata.Series, len(opens))
	for i, o := range opens {
		out[i] = marketdata.Bar{
			Symbol:    "SPY",
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Open:      o,
			Close:     o + 0.3,
		}
	}
	return out
}

func TestMinuteIndexOpening(t *testing.T) {
	cfg := DefaultOpeningConfig
	cfg.MinuteIndex = 0
	s, err := cfg.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	day := underlyingDay(500, 501, 502)
	op, err := s.Open(day)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if op.Index != 0 || !op.Timestamp.Equal(day[0].Timestamp) {
		t.Errorf("unexpected opening minute: %d %s", op.Index, op.Timestamp)
	}
	if op.Reference != 500 {
		t.Errorf("reference should be the bar open, got %v", op.Reference)
	}

	want := []float64{500, 500, 508, 493}
	if len(op.Legs) != len(want) {
		t.Fatalf("expected %d legs, got %d", len(want), len(op.Legs))
	}
	expiry := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	for i, leg := range op.Legs {
		if leg.Option.Strike != want[i] {
			t.Errorf("leg %d strike %v, want %v", i, leg.Option.Strike, want[i])
		}
		if !leg.Option.Expiry.Equal(expiry) {
			t.Errorf("leg %d should expire same day, got %s", i, leg.Option.Expiry)
		}
		if leg.Option.Underlying != "SPY" {
			t.Errorf("leg %d underlying %q", i, leg.Option.Underlying)
		}
	}
	if op.Legs[0].Action != models.Sell || op.Legs[2].Action != models.Buy {
		t.Errorf("unexpected actions: %s %s", op.Legs[0].Action, op.Legs[2].Action)
	}
}

func TestMinuteIndexOpening_OutOfRange(t *testing.T) {
	s, err := DefaultOpeningConfig.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	_, err = s.Open(underlyingDay(500, 501))
	if !errors.Is(err, ErrOpeningOutOfRange) {
		t.Errorf("expected ErrOpeningOutOfRange, got %v", err)
	}
}

func TestOpening_ExpiryDays(t *testing.T) {
	cfg := DefaultOpeningConfig
	cfg.ExpiryDays = 3
	s, err := cfg.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	op, err := s.Open(underlyingDay(500, 501, 502))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	want := time.Date(2024, 4, 4, 0, 0, 0, 0, time.UTC)
	if !op.Legs[0].Option.Expiry.Equal(want) {
		t.Errorf("expiry %s, want %s", op.Legs[0].Option.Expiry, want)
	}
}

func TestMinuteOfDayOpening(t *testing.T) {
	cfg := OpeningConfig{
		Kind:        OpenAtMinuteOfDay,
		MinuteOfDay: "09:32",
		Timezone:    "America/New_York",
		Combo:       combo.Spec{Kind: combo.KindStraddle, Contracts: 1},
	}
	s, err := cfg.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	// 13:30 UTC is 09:30 EDT, so 09:32 is index 2
	op, err := s.Open(underlyingDay(500, 501, 502.4, 503))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if op.Index != 2 {
		t.Errorf("index %d, want 2", op.Index)
	}
	if len(op.Legs) != 2 || op.Legs[0].Option.Strike != 502 {
		t.Errorf("unexpected legs %v", op.Legs)
	}

	late := cfg
	late.MinuteOfDay = "15:59"
	s, err = late.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if _, err := s.Open(underlyingDay(500, 501)); !errors.Is(err, ErrOpeningOutOfRange) {
		t.Errorf("expected ErrOpeningOutOfRange, got %v", err)
	}
	if _, err := s.Open(nil); !errors.Is(err, ErrOpeningOutOfRange) {
		t.Errorf("expected ErrOpeningOutOfRange on empty day, got %v", err)
	}
}

func TestOpening_MissingSymbol(t *testing.T) {
	s, err := DefaultOpeningConfig.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	day := underlyingDay(500, 501, 502)
	day[2].Symbol = ""
	if _, err := s.Open(day); !errors.Is(err, marketdata.ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}

func TestOpeningConfig_Build_Invalid(t *testing.T) {
	tests := []struct {
		name string
		cfg  OpeningConfig
	}{
		{"unknown kind", OpeningConfig{Kind: "whenever", Combo: combo.DefaultSpec}},
		{"negative index", OpeningConfig{Kind: OpenAtMinuteIndex, MinuteIndex: -1, Combo: combo.DefaultSpec}},
		{"bad clock", OpeningConfig{Kind: OpenAtMinuteOfDay, MinuteOfDay: "noon", Combo: combo.DefaultSpec}},
		{"bad timezone", OpeningConfig{Kind: OpenAtMinuteOfDay, MinuteOfDay: "10:00", Timezone: "Mars/Base", Combo: combo.DefaultSpec}},
		{"bad combo", OpeningConfig{Kind: OpenAtMinuteIndex, Combo: combo.Spec{Kind: combo.KindIronCondor}}},
		{"negative expiry", OpeningConfig{Kind: OpenAtMinuteIndex, ExpiryDays: -1, Combo: combo.DefaultSpec}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.cfg.Build(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}
