package triage

import (
	"testing"
	"time"
)

func TestBaseScore(t *testing.T) {
	tests := []struct {
		risk RiskLevel
		want float64
	}{
		{RiskHigh, 100},
		{RiskMedium, 50},
		{RiskLow, 10},
		{RiskLevel(0), 10},
		{RiskLevel(42), 10},
	}
	for _, tt := range tests {
		if got := BaseScore(tt.risk); got != tt.want {
			t.Errorf("BaseScore(%v) = %v, want %v", tt.risk, got, tt.want)
		}
	}
}

func TestWaitBonus(t *testing.T) {
	tests := []struct {
		minutes float64
		want    float64
	}{
		{-5, 0},
		{0, 0},
		{10, 1},
		{150, 15},
		{300, 30},
		{10000, 30},
	}
	for _, tt := range tests {
		if got := WaitBonus(tt.minutes); got != tt.want {
			t.Errorf("WaitBonus(%v) = %v, want %v", tt.minutes, got, tt.want)
		}
	}
}

func TestScore_MonotonicAndCapped(t *testing.T) {
	arrival := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	for _, risk := range []RiskLevel{RiskHigh, RiskMedium, RiskLow} {
		prev := Score(risk, arrival, arrival)
		for m := 1; m <= 600; m++ {
			s := Score(risk, arrival, arrival.Add(time.Duration(m)*time.Minute))
			if s < prev {
				t.Fatalf("%v: score decreased at %d minutes: %v < %v", risk, m, s, prev)
			}
			if s > BaseScore(risk)+30 {
				t.Fatalf("%v: score %v exceeds cap at %d minutes", risk, s, m)
			}
			prev = s
		}
	}
}

func TestScore_LowRiskAfterFiveHours(t *testing.T) {
	arrival := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	if got := Score(RiskLow, arrival, arrival.Add(300*time.Minute)); got != 40 {
		t.Errorf("expected 40, got %v", got)
	}
}

func TestScore_ClockSkew(t *testing.T) {
	arrival := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	if got := Score(RiskMedium, arrival, arrival.Add(-time.Hour)); got != 50 {
		t.Errorf("expected no bonus when now precedes arrival, got %v", got)
	}
}

func TestCompare_TieBreak(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	now := t0.Add(time.Minute)

	high := &Entry{Risk: RiskHigh, ArrivalTime: t0, seq: 2}
	low := &Entry{Risk: RiskLow, ArrivalTime: t0, seq: 1}
	if Compare(high, low, now) >= 0 {
		t.Error("expected higher score first")
	}

	// Identical scores: arrival decides, then admission order.
	a := &Entry{Risk: RiskMedium, ArrivalTime: now, seq: 5}
	b := &Entry{Risk: RiskMedium, ArrivalTime: now, seq: 6}
	if Compare(a, b, now) >= 0 || Compare(b, a, now) <= 0 {
		t.Error("expected lower seq first on equal score and arrival")
	}
	if Compare(a, a, now) != 0 {
		t.Error("expected entry to compare equal to itself")
	}
}
