package triage

import (
	"cmp"
	"time"
)

const (
	waitBonusPerMinute = 0.1
	maxWaitBonus       = 30.0
)

// BaseScore returns the risk component of the priority score.
func BaseScore(r RiskLevel) float64 {
	switch r {
	case RiskHigh:
		return 100
	case RiskMedium:
		return 50
	case RiskLow:
		return 10
	default:
		return 10
	}
}

// WaitBonus returns the aging component for a wait of the given minutes,
// capped at 30.
func WaitBonus(minutes float64) float64 {
	if minutes <= 0 {
		return 0
	}
	return min(minutes*waitBonusPerMinute, maxWaitBonus)
}

// Score computes the urgency of a patient at now. Higher is more urgent.
func Score(r RiskLevel, arrival, now time.Time) float64 {
	return BaseScore(r) + WaitBonus(waitMinutes(arrival, now))
}

// Compare orders entries for serving at now: higher score first, then the
// earlier arrival, then admission order.
func Compare(a, b *Entry, now time.Time) int {
	return compareScored(a, b, a.PriorityScore(now), b.PriorityScore(now))
}

func compareScored(a, b *Entry, sa, sb float64) int {
	if c := cmp.Compare(sb, sa); c != 0 {
		return c
	}
	if c := a.ArrivalTime.Compare(b.ArrivalTime); c != 0 {
		return c
	}
	return cmp.Compare(a.seq, b.seq)
}

func waitMinutes(arrival, now time.Time) float64 {
	d := now.Sub(arrival)
	if d < 0 {
		return 0
	}
	return d.Minutes()
}
