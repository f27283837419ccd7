package usecase

import (
	"math"
	"testing"
)

func TestRoundToSigFigs(t *testing.T) {
	cases := []struct {
		in   float64
		figs int
		want float64
	}{
		{123456.0, 5, 123460.0},
		{1.234567, 5, 1.2346},
		{0.000123456, 5, 0.00012346},
		{99999.4, 5, 99999.0},
		{0, 5, 0},
	}
	for _, c := range cases {
		got := RoundToSigFigs(c.in, c.figs)
		if got != c.want {
			t.Errorf("RoundToSigFigs(%v, %d): expected %v, got %v", c.in, c.figs, c.want, got)
		}
	}
}

func TestRoundToTick_Invariant(t *testing.T) {
	// For every rounded price p, p/tick must land on an integer step.
	ticks := []float64{0.1, 0.01, 0.001, 0.5}
	prices := []float64{50123.456, 0.123456, 3.14159, 1999.999}

	for _, tick := range ticks {
		for _, price := range prices {
			p := RoundToTick(price, tick)
			steps := p / tick
			if math.Abs(steps-math.Round(steps)) > 1e-9 {
				t.Errorf("RoundToTick(%v, %v) = %v is not on the tick grid", price, tick, p)
			}
		}
	}
}

func TestRoundPrice_FiveSigFigs(t *testing.T) {
	// 50123.456 @ tick 0.1 -> sig-fig round first (50123), then tick snap.
	got := RoundPrice(50123.456, 0.1)
	if got != 50123.0 {
		t.Errorf("Expected 50123.0, got %v", got)
	}

	// Small prices keep their resolution.
	got = RoundPrice(0.0123456, 0.0001)
	if got != 0.0123 {
		t.Errorf("Expected 0.0123, got %v", got)
	}
}

func TestRoundSize(t *testing.T) {
	if got := RoundSize(0.123456, 4); got != 0.1235 {
		t.Errorf("Expected 0.1235, got %v", got)
	}
	if got := RoundSize(1.6, 0); got != 2.0 {
		t.Errorf("Expected 2.0, got %v", got)
	}
	// Negative decimals clamp to whole units.
	if got := RoundSize(3.7, -1); got != 4.0 {
		t.Errorf("Expected 4.0, got %v", got)
	}
}

func TestRoundSize_NoFloatArtifacts(t *testing.T) {
	// 0.1+0.2 style inputs must come out clean.
	got := RoundSize(0.1+0.2, 3)
	if got != 0.3 {
		t.Errorf("Expected 0.3, got %v", got)
	}
}
