package triage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/triage/pkg/pagination"
)

// DefaultQueueDepartment is used by GET /queue when no department is given.
const DefaultQueueDepartment = "Emergency"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the triage endpoints on g, normally /api/v1/triage.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/sessions", h.StartSession)
	g.POST("/patients", h.AdmitPatient)
	g.POST("/patients/batch", h.AdmitBatch)

	g.GET("/departments/status", h.DepartmentStatus)
	g.GET("/queue", h.PrioritizedQueue)
	g.GET("/utilization", h.Utilization)

	g.GET("/capacity", h.GetCapacity)
	g.PUT("/capacity", h.UpdateCapacity)

	g.GET("/history", h.History)
}

// -- Request types --

// flexFloat decodes a JSON number or numeric string. Anything else,
// including null, decodes to 0 so that incomplete vitals still reach the
// classifier.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}
	s := strings.TrimSpace(strings.Trim(string(b), `"`))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		*f = 0
		return nil
	}
	*f = flexFloat(v)
	return nil
}

type patientRequest struct {
	PatientID              string    `json:"patient_id"`
	RiskLevel              string    `json:"risk_level"`
	PrimaryDepartment      string    `json:"primary_department"`
	Age                    flexFloat `json:"age"`
	BloodPressureSystolic  flexFloat `json:"blood_pressure_systolic"`
	BloodPressureDiastolic flexFloat `json:"blood_pressure_diastolic"`
	HeartRate              flexFloat `json:"heart_rate"`
	Temperature            flexFloat `json:"temperature"`
	OxygenSaturation       flexFloat `json:"oxygen_saturation"`
	PainLevel              flexFloat `json:"pain_level"`
	Gender                 string    `json:"gender"`
	Symptoms               string    `json:"symptoms"`
	PreExistingConditions  string    `json:"pre_existing_conditions"`
}

func (r patientRequest) input() PatientInput {
	return PatientInput{
		PatientID:         r.PatientID,
		RiskLevel:         r.RiskLevel,
		PrimaryDepartment: r.PrimaryDepartment,
		Vitals: Vitals{
			Age:                    float64(r.Age),
			BloodPressureSystolic:  float64(r.BloodPressureSystolic),
			BloodPressureDiastolic: float64(r.BloodPressureDiastolic),
			HeartRate:              float64(r.HeartRate),
			Temperature:            float64(r.Temperature),
			OxygenSaturation:       float64(r.OxygenSaturation),
			PainLevel:              int(r.PainLevel),
			Gender:                 r.Gender,
			Symptoms:               r.Symptoms,
			PreExistingConditions:  r.PreExistingConditions,
		},
	}
}

type batchRequest struct {
	Patients []patientRequest `json:"patients"`
}

type capacityRequest struct {
	Department string          `json:"department"`
	Capacity   json.RawMessage `json:"capacity"`
}

// parseCapacity accepts a JSON integer or a string holding one.
func parseCapacity(raw json.RawMessage) (int, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0, fmt.Errorf("%w: capacity is required", ErrInvalidCapacity)
	}
	s = strings.TrimSpace(strings.Trim(s, `"`))
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer", ErrInvalidCapacity, s)
	}
	return n, nil
}

// -- Response types --

type admissionResponse struct {
	PatientID            string    `json:"patient_id"`
	RiskLevel            string    `json:"risk_level"`
	AssignedDepartment   string    `json:"assigned_department"`
	PrimaryDepartment    string    `json:"primary_department"`
	LoadBalanced         bool      `json:"load_balanced"`
	QueuePosition        int       `json:"queue_position"`
	EstimatedWaitMinutes float64   `json:"estimated_wait_time_minutes"`
	SessionID            string    `json:"session_id"`
	Timestamp            time.Time `json:"timestamp"`
}

func newAdmissionResponse(r *AdmissionResult) admissionResponse {
	return admissionResponse{
		PatientID:            r.PatientID,
		RiskLevel:            r.Risk.String(),
		AssignedDepartment:   r.Department,
		PrimaryDepartment:    r.PrimaryDepartment,
		LoadBalanced:         r.WasLoadBalanced,
		QueuePosition:        r.QueuePosition,
		EstimatedWaitMinutes: round1(r.EstimatedWaitMinutes),
		SessionID:            r.SessionID,
		Timestamp:            r.AdmittedAt,
	}
}

type batchResult struct {
	*admissionResponse
	PatientID string `json:"patient_id"`
	Error     string `json:"error,omitempty"`
}

type batchResponse struct {
	Processed int           `json:"patients_processed"`
	Failed    int           `json:"failed"`
	Results   []batchResult `json:"results"`
	Timestamp time.Time     `json:"timestamp"`
}

type departmentStatusJSON struct {
	CurrentPatients      int     `json:"current_patients"`
	Capacity             int     `json:"capacity"`
	UtilizationPct       float64 `json:"utilization_percentage"`
	Status               string  `json:"status"`
	Warning              string  `json:"warning,omitempty"`
	HighRiskCount        int     `json:"high_risk_count"`
	MediumRiskCount      int     `json:"medium_risk_count"`
	LowRiskCount         int     `json:"low_risk_count"`
	EstimatedWaitMinutes float64 `json:"estimated_wait_time_minutes"`
}

type statusResponse struct {
	SessionID        string                          `json:"session_id"`
	DepartmentStatus map[string]departmentStatusJSON `json:"department_status"`
	TotalPatients    int                             `json:"total_patients_in_system"`
	Timestamp        time.Time                       `json:"timestamp"`
}

type queueItemJSON struct {
	Position      int       `json:"position"`
	PatientID     string    `json:"patient_id"`
	RiskLevel     string    `json:"risk_level"`
	Department    string    `json:"department"`
	PriorityScore float64   `json:"priority_score"`
	WaitMinutes   float64   `json:"wait_time_minutes"`
	ArrivalTime   time.Time `json:"arrival_time"`
}

type queueResponse struct {
	Department     string          `json:"department"`
	CategoryFilter string          `json:"category_filter"`
	Queue          []queueItemJSON `json:"prioritized_queue"`
	TotalInQueue   int             `json:"total_in_queue"`
	FilteredCount  int             `json:"filtered_count"`
	Timestamp      time.Time       `json:"timestamp"`
}

type utilizationJSON struct {
	Capacity               int     `json:"capacity"`
	CurrentPatients        int     `json:"current_patients"`
	UtilizationPct         float64 `json:"utilization_percentage"`
	WeightedUtilizationPct float64 `json:"weighted_utilization_percentage"`
	EfficiencyScore        float64 `json:"efficiency_score"`
}

type utilizationResponse struct {
	Metrics               map[string]utilizationJSON `json:"utilization_metrics"`
	AverageUtilizationPct float64                    `json:"average_utilization_percentage"`
	TotalPatients         int                        `json:"total_patients_in_system"`
	SystemEfficiencyScore float64                    `json:"system_efficiency_score"`
	Timestamp             time.Time                  `json:"timestamp"`
}

// -- Endpoints --

func (h *Handler) StartSession(c echo.Context) error {
	id := h.svc.Reset(c.Request().Context())
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"session_id": id,
		"message":    "New triage session started",
		"timestamp":  time.Now().UTC(),
	})
}

func (h *Handler) AdmitPatient(c echo.Context) error {
	var req patientRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := h.svc.Admit(c.Request().Context(), req.input())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, newAdmissionResponse(res))
}

func (h *Handler) AdmitBatch(c echo.Context) error {
	var req batchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Patients) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "patients must be a non-empty list")
	}

	inputs := make([]PatientInput, len(req.Patients))
	for i, p := range req.Patients {
		inputs[i] = p.input()
	}
	items := h.svc.AdmitBatch(c.Request().Context(), inputs)

	resp := batchResponse{
		Results:   make([]batchResult, len(items)),
		Timestamp: time.Now().UTC(),
	}
	for i, item := range items {
		if item.Err != nil {
			resp.Failed++
			resp.Results[i] = batchResult{PatientID: item.Request.PatientID, Error: item.Err.Error()}
			continue
		}
		resp.Processed++
		ar := newAdmissionResponse(item.Result)
		resp.Results[i] = batchResult{admissionResponse: &ar, PatientID: ar.PatientID}
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) DepartmentStatus(c echo.Context) error {
	report := h.svc.Status()
	resp := statusResponse{
		SessionID:        report.SessionID,
		DepartmentStatus: make(map[string]departmentStatusJSON, len(report.Departments)),
		TotalPatients:    report.TotalPatients,
		Timestamp:        report.GeneratedAt,
	}
	for _, d := range report.Departments {
		resp.DepartmentStatus[d.Department] = departmentStatusJSON{
			CurrentPatients:      d.CurrentCount,
			Capacity:             d.Capacity,
			UtilizationPct:       round1(d.UtilizationPct),
			Status:               string(d.Tier),
			Warning:              d.Warning,
			HighRiskCount:        d.HighCount,
			MediumRiskCount:      d.MediumCount,
			LowRiskCount:         d.LowCount,
			EstimatedWaitMinutes: round1(d.EstimatedWaitMinutes),
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) PrioritizedQueue(c echo.Context) error {
	department := strings.TrimSpace(c.QueryParam("department"))
	if department == "" {
		department = DefaultQueueDepartment
	}
	category := strings.TrimSpace(c.QueryParam("category"))
	if category == "" {
		category = "all"
	}

	view, err := h.svc.PrioritizedQueue(department, category)
	if err != nil {
		return httpError(err)
	}
	resp := queueResponse{
		Department:     view.Department,
		CategoryFilter: view.CategoryFilter,
		Queue:          make([]queueItemJSON, len(view.Items)),
		TotalInQueue:   view.TotalInQueue,
		FilteredCount:  view.FilteredCount,
		Timestamp:      view.GeneratedAt,
	}
	for i, it := range view.Items {
		resp.Queue[i] = queueItemJSON{
			Position:      it.Position,
			PatientID:     it.PatientID,
			RiskLevel:     it.Risk.String(),
			Department:    it.Department,
			PriorityScore: round2(it.PriorityScore),
			WaitMinutes:   round1(it.WaitMinutes),
			ArrivalTime:   it.ArrivalTime,
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) Utilization(c echo.Context) error {
	report := h.svc.Utilization()
	resp := utilizationResponse{
		Metrics:               make(map[string]utilizationJSON, len(report.Departments)),
		AverageUtilizationPct: round1(report.AverageUtilizationPct),
		TotalPatients:         report.TotalPatients,
		SystemEfficiencyScore: round1(report.SystemEfficiencyScore),
		Timestamp:             report.GeneratedAt,
	}
	for _, d := range report.Departments {
		resp.Metrics[d.Department] = utilizationJSON{
			Capacity:               d.Capacity,
			CurrentPatients:        d.CurrentCount,
			UtilizationPct:         round1(d.UtilizationPct),
			WeightedUtilizationPct: round1(d.WeightedUtilizationPct),
			EfficiencyScore:        round1(d.EfficiencyScore),
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetCapacity(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"department_capacity": h.svc.Capacities(),
	})
}

func (h *Handler) UpdateCapacity(c echo.Context) error {
	var req capacityRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	n, err := parseCapacity(req.Capacity)
	if err != nil {
		return httpError(err)
	}
	change, persisted, err := h.svc.UpdateCapacity(c.Request().Context(), strings.TrimSpace(req.Department), n)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":      fmt.Sprintf("Capacity for %s updated", change.Department),
		"department":   change.Department,
		"old_capacity": change.OldCapacity,
		"new_capacity": change.NewCapacity,
		"persisted":    persisted,
	})
}

func (h *Handler) History(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.History(c.Request().Context(), c.QueryParam("session_id"), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*PatientRecord{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// httpError maps domain errors onto HTTP status codes.
func httpError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrInvalidCapacity),
		errors.Is(err, ErrUnknownDepartment):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrDuplicatePatient):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrClassifierUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
