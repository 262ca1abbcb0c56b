package triage

import "context"

// Vitals are the measurements handed to the classifier. Missing readings
// are zero.
type Vitals struct {
	Age                    float64 `json:"age"`
	BloodPressureSystolic  float64 `json:"blood_pressure_systolic"`
	BloodPressureDiastolic float64 `json:"blood_pressure_diastolic"`
	HeartRate              float64 `json:"heart_rate"`
	Temperature            float64 `json:"temperature"`
	OxygenSaturation       float64 `json:"oxygen_saturation"`
	PainLevel              int     `json:"pain_level"`
	Gender                 string  `json:"gender,omitempty"`
	Symptoms               string  `json:"symptoms,omitempty"`
	PreExistingConditions  string  `json:"pre_existing_conditions,omitempty"`
}

// Classification is the classifier's verdict for one patient.
type Classification struct {
	Risk       RiskLevel
	Department string
}

// Classifier maps vitals to a risk level and a suggested department.
// Implementations should return an error wrapping ErrClassifierUnavailable
// when they cannot answer.
type Classifier interface {
	Classify(ctx context.Context, v Vitals) (Classification, error)
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(ctx context.Context, v Vitals) (Classification, error)

func (f ClassifierFunc) Classify(ctx context.Context, v Vitals) (Classification, error) {
	return f(ctx, v)
}
