package triage

import (
	"context"
	"fmt"
	"strings"
)

// symptomDepartments routes normalized symptom keys to departments.
var symptomDepartments = map[string]string{
	"chest_pain":                      "Cardiology",
	"chest_discomfort":                "Cardiology",
	"chest_pain_sweating":             "Cardiology",
	"chest_pain_palpitations":         "Cardiology",
	"leg_swelling":                    "Cardiology",
	"shortness_of_breath":             "Pulmonology",
	"shortness_of_breath_wheezing":    "Pulmonology",
	"shortness_of_breath_fatigue":     "Pulmonology",
	"cough":                           "Pulmonology",
	"cough_weakness":                  "Pulmonology",
	"persistent_cough":                "Pulmonology",
	"fever_cough":                     "Pulmonology",
	"cough_blood":                     "Pulmonology",
	"fatigue_cough":                   "Pulmonology",
	"fatigue_shortness_of_breath":     "Pulmonology",
	"difficulty_breathing":            "Emergency",
	"chest_pain_difficulty_breathing": "Emergency",
	"severe_chest_pain":               "Emergency",
	"chest_pain_confusion_sweating":   "Emergency",
	"shortness_of_breath_confusion":   "Emergency",
	"headache":                        "Neurology",
	"headache_nausea":                 "Neurology",
	"headache_dizziness":              "Neurology",
	"headache_mild_cough":             "Neurology",
	"dizziness":                       "Neurology",
	"abdominal_pain":                  "General Surgery",
	"abdominal_pain_fever":            "General Surgery",
	"abdominal_pain_nausea":           "Gastroenterology",
	"fatigue":                         "General Medicine",
	"fever_fatigue":                   "General Medicine",
	"mild_cough":                      "General Medicine",
	"mild_fatigue":                    "General Medicine",
	"general_discomfort":              "General Medicine",
	"mild_discomfort":                 "General Medicine",
	"minor_symptoms":                  "General Medicine",
	"sore_throat":                     "ENT",
	"sore_throat_cough":               "ENT",
	"back_pain":                       "Orthopedics",
	"joint_pain_swelling":             "Orthopedics",
	"leg_pain_swelling":               "Vascular Surgery",
	"fever_chills":                    "Infectious Disease",
	"skin_rash":                       "Dermatology",
}

// RuleClassifier is a deterministic vitals and symptom classifier used when
// no model service is configured.
type RuleClassifier struct {
	fallbackDepartment string
}

// NewRuleClassifier returns a classifier that sends unmatched low and medium
// risk patients to fallbackDepartment ("General Medicine" when empty).
func NewRuleClassifier(fallbackDepartment string) *RuleClassifier {
	if fallbackDepartment == "" {
		fallbackDepartment = "General Medicine"
	}
	return &RuleClassifier{fallbackDepartment: fallbackDepartment}
}

// Classify implements Classifier.
func (c *RuleClassifier) Classify(ctx context.Context, v Vitals) (Classification, error) {
	if err := ctx.Err(); err != nil {
		return Classification{}, fmt.Errorf("%w: %v", ErrClassifierUnavailable, err)
	}
	risk := classifyRisk(v)
	return Classification{Risk: risk, Department: c.department(v, risk)}, nil
}

// classifyRisk treats zero readings as not measured.
func classifyRisk(v Vitals) RiskLevel {
	spo2, sys, hr, temp := v.OxygenSaturation, v.BloodPressureSystolic, v.HeartRate, v.Temperature
	switch {
	case spo2 > 0 && spo2 < 90,
		sys >= 180, sys > 0 && sys < 90,
		hr > 120, hr > 0 && hr < 40,
		temp >= 39.5,
		v.PainLevel >= 8:
		return RiskHigh
	case spo2 > 0 && spo2 < 95,
		sys >= 140,
		hr > 100,
		temp >= 38,
		v.PainLevel >= 5,
		v.Age >= 65:
		return RiskMedium
	default:
		return RiskLow
	}
}

func (c *RuleClassifier) department(v Vitals, risk RiskLevel) string {
	if dept, ok := symptomDepartments[normalizeSymptoms(v.Symptoms)]; ok {
		return dept
	}
	switch {
	case v.OxygenSaturation > 0 && v.OxygenSaturation < 90:
		return "Emergency"
	case risk == RiskHigh:
		return "Emergency"
	case v.HeartRate > 100 || v.BloodPressureSystolic >= 140:
		return "Cardiology"
	case v.Temperature >= 38:
		return "Infectious Disease"
	default:
		return c.fallbackDepartment
	}
}

// normalizeSymptoms turns "Chest pain, sweating" into "chest_pain_sweating".
func normalizeSymptoms(s string) string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return r == ' ' || r == ',' || r == ';' || r == '_' || r == '-' || r == '/'
	})
	return strings.Join(fields, "_")
}
