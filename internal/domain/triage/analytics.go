package triage

import "time"

// DepartmentUtilization holds the load metrics of one department.
type DepartmentUtilization struct {
	Department             string
	Capacity               int
	CurrentCount           int
	UtilizationPct         float64
	WeightedUtilizationPct float64
	EfficiencyScore        float64
}

// UtilizationReport is the result of Engine.Utilization.
type UtilizationReport struct {
	Departments           []DepartmentUtilization
	AverageUtilizationPct float64
	SystemEfficiencyScore float64
	TotalPatients         int
	GeneratedAt           time.Time
}

// RiskWeight is the load a single patient of risk r contributes to weighted
// utilization.
func RiskWeight(r RiskLevel) float64 {
	switch r {
	case RiskHigh:
		return 1.5
	case RiskMedium:
		return 1.0
	case RiskLow:
		return 0.5
	default:
		return 1.0
	}
}

func buildUtilization(snap engineSnapshot) UtilizationReport {
	report := UtilizationReport{
		Departments:   make([]DepartmentUtilization, 0, len(snap.loads)),
		TotalPatients: snap.total,
		GeneratedAt:   snap.at,
	}
	var sum float64
	for _, l := range snap.loads {
		util := percent(l.count, l.capacity)
		weighted := float64(l.high)*RiskWeight(RiskHigh) +
			float64(l.medium)*RiskWeight(RiskMedium) +
			float64(l.low)*RiskWeight(RiskLow)
		var weightedPct float64
		if l.capacity > 0 {
			weightedPct = weighted / float64(l.capacity) * 100
		}
		report.Departments = append(report.Departments, DepartmentUtilization{
			Department:             l.name,
			Capacity:               l.capacity,
			CurrentCount:           l.count,
			UtilizationPct:         util,
			WeightedUtilizationPct: weightedPct,
			EfficiencyScore:        (100 - min(util, 100)) + weightedPct/2,
		})
		sum += util
	}
	if len(snap.loads) > 0 {
		report.AverageUtilizationPct = sum / float64(len(snap.loads))
	}
	report.SystemEfficiencyScore = (100 - min(report.AverageUtilizationPct, 100)) * 1.2
	return report
}
