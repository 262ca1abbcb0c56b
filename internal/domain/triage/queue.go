package triage

import (
	"slices"
	"time"
)

// ScoredEntry pairs an entry with the score it had when a snapshot was taken.
type ScoredEntry struct {
	Entry Entry
	Score float64
}

// Queue holds the admitted patients of one department in arrival order.
// Serving order is computed on read by Snapshot.
type Queue struct {
	entries []*Entry
}

// Append adds an entry at the tail.
func (q *Queue) Append(e *Entry) {
	q.entries = append(q.entries, e)
}

// Len returns the number of entries.
func (q *Queue) Len() int {
	return len(q.entries)
}

// Snapshot returns copies of the entries accepted by filter (nil accepts
// all), ordered by live priority at now.
func (q *Queue) Snapshot(filter func(*Entry) bool, now time.Time) []ScoredEntry {
	out := make([]ScoredEntry, 0, len(q.entries))
	for _, e := range q.entries {
		if filter != nil && !filter(e) {
			continue
		}
		out = append(out, ScoredEntry{Entry: *e, Score: e.PriorityScore(now)})
	}
	slices.SortStableFunc(out, func(a, b ScoredEntry) int {
		return compareScored(&a.Entry, &b.Entry, a.Score, b.Score)
	})
	return out
}

func (q *Queue) countByRisk() (high, medium, low int) {
	for _, e := range q.entries {
		switch e.Risk {
		case RiskHigh:
			high++
		case RiskMedium:
			medium++
		case RiskLow:
			low++
		}
	}
	return high, medium, low
}
