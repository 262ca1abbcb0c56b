package triage

import (
	"strings"
	"time"
)

// RiskLevel is the classifier-assigned urgency tier.
type RiskLevel int

const (
	RiskLow RiskLevel = iota + 1
	RiskMedium
	RiskHigh
)

// String returns the wire form of the risk level.
func (r RiskLevel) String() string {
	switch r {
	case RiskHigh:
		return "high"
	case RiskMedium:
		return "medium"
	case RiskLow:
		return "low"
	default:
		return "unknown"
	}
}

// Valid reports whether r is one of the three known tiers.
func (r RiskLevel) Valid() bool {
	return r == RiskHigh || r == RiskMedium || r == RiskLow
}

// ParseRiskLevel parses "high", "medium" or "low", ignoring case and
// surrounding whitespace.
func ParseRiskLevel(s string) (RiskLevel, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return RiskHigh, true
	case "medium":
		return RiskMedium, true
	case "low":
		return RiskLow, true
	default:
		return 0, false
	}
}

// Entry is one admitted patient. Priority and wait time are derived from
// ArrivalTime at read time and are never stored.
type Entry struct {
	PatientID   string
	Risk        RiskLevel
	Department  string
	ArrivalTime time.Time

	seq uint64
}

// WaitMinutes returns the time spent in the queue as of now.
func (e *Entry) WaitMinutes(now time.Time) float64 {
	return waitMinutes(e.ArrivalTime, now)
}

// PriorityScore returns the live urgency score as of now.
func (e *Entry) PriorityScore(now time.Time) float64 {
	return Score(e.Risk, e.ArrivalTime, now)
}

// AdmitRequest is a classified patient ready for admission.
type AdmitRequest struct {
	PatientID         string
	Risk              RiskLevel
	PrimaryDepartment string
}

// AdmissionResult describes where an admitted patient landed.
type AdmissionResult struct {
	PatientID            string
	Risk                 RiskLevel
	PrimaryDepartment    string
	Department           string
	QueuePosition        int
	EstimatedWaitMinutes float64
	WasLoadBalanced      bool
	AdmittedAt           time.Time
	SessionID            string
}

// BatchItem is the per-entry outcome of AdmitBatch. Exactly one of Result
// and Err is set.
type BatchItem struct {
	Request AdmitRequest
	Result  *AdmissionResult
	Err     error
}

// StatusTier buckets a department by utilization.
type StatusTier string

const (
	TierAvailable  StatusTier = "AVAILABLE"
	TierBusy       StatusTier = "BUSY"
	TierAtCapacity StatusTier = "AT_CAPACITY"
	TierCritical   StatusTier = "CRITICAL"
)

// TierFor maps a utilization percentage to its tier and warning text.
func TierFor(utilizationPct float64) (StatusTier, string) {
	switch {
	case utilizationPct > 100:
		return TierCritical, "OVERCROWDED - Immediate action needed"
	case utilizationPct > 80:
		return TierAtCapacity, "Near capacity - Monitor closely"
	case utilizationPct > 50:
		return TierBusy, "High load"
	default:
		return TierAvailable, ""
	}
}

// DepartmentStatus is the live view of one department.
type DepartmentStatus struct {
	Department           string
	CurrentCount         int
	Capacity             int
	UtilizationPct       float64
	Tier                 StatusTier
	Warning              string
	HighCount            int
	MediumCount          int
	LowCount             int
	EstimatedWaitMinutes float64
}

// StatusReport is the result of Engine.Status.
type StatusReport struct {
	SessionID     string
	Departments   []DepartmentStatus
	TotalPatients int
	GeneratedAt   time.Time
}

// QueueItem is one row of a prioritized queue.
type QueueItem struct {
	Position      int
	PatientID     string
	Risk          RiskLevel
	Department    string
	PriorityScore float64
	WaitMinutes   float64
	ArrivalTime   time.Time
}

// QueueView is the result of Engine.PrioritizedQueue.
type QueueView struct {
	Department     string
	CategoryFilter string
	Items          []QueueItem
	TotalInQueue   int
	FilteredCount  int
	GeneratedAt    time.Time
}

// CapacityChange records an administrative capacity update.
type CapacityChange struct {
	Department  string
	OldCapacity int
	NewCapacity int
}
