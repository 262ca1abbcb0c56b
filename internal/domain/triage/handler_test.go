package triage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func newTestHandler(t *testing.T) (*Handler, *testDeps, *echo.Echo) {
	t.Helper()
	d := newTestService(t)
	return NewHandler(d.svc), d, echo.New()
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func assertHTTPStatus(t *testing.T, err error, want int) {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %v", err)
	}
	if he.Code != want {
		t.Errorf("expected %d, got %d (%v)", want, he.Code, he.Message)
	}
}

func TestHandler_AdmitPatient(t *testing.T) {
	h, _, e := newTestHandler(t)
	body := `{"patient_id":"P1","risk_level":"high","primary_department":"Emergency","heart_rate":"130","temperature":null,"oxygen_saturation":"n/a"}`
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/", body), rec)

	if err := h.AdmitPatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var resp admissionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.PatientID != "P1" || resp.RiskLevel != "high" || resp.AssignedDepartment != "Emergency" {
		t.Errorf("unexpected response %+v", resp)
	}
	if resp.EstimatedWaitMinutes != 2.5 || resp.QueuePosition != 1 {
		t.Errorf("unexpected position/wait: %d/%v", resp.QueuePosition, resp.EstimatedWaitMinutes)
	}
}

func TestHandler_AdmitPatient_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"unknown department", `{"patient_id":"X","risk_level":"low","primary_department":"Radiology"}`, http.StatusBadRequest},
		{"bad risk", `{"patient_id":"X","risk_level":"urgent","primary_department":"ENT"}`, http.StatusBadRequest},
		{"malformed body", `{"patient_id":`, http.StatusBadRequest},
		{"duplicate", `{"patient_id":"DUP","risk_level":"low","primary_department":"ENT"}`, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, d, e := newTestHandler(t)
			d.svc.Admit(context.Background(), PatientInput{PatientID: "DUP", RiskLevel: "low", PrimaryDepartment: "ENT"})

			c := e.NewContext(jsonRequest(http.MethodPost, "/", tt.body), httptest.NewRecorder())
			assertHTTPStatus(t, h.AdmitPatient(c), tt.want)
		})
	}
}

func TestHandler_AdmitPatient_ClassifierDown(t *testing.T) {
	h, d, e := newTestHandler(t)
	d.classifier.err = errors.New("timeout")
	c := e.NewContext(jsonRequest(http.MethodPost, "/", `{"age":"40"}`), httptest.NewRecorder())
	assertHTTPStatus(t, h.AdmitPatient(c), http.StatusServiceUnavailable)
}

func TestHandler_AdmitBatch(t *testing.T) {
	h, _, e := newTestHandler(t)
	body := `{"patients":[
		{"patient_id":"A","risk_level":"high","primary_department":"Emergency"},
		{"patient_id":"A","risk_level":"low","primary_department":"ENT"},
		{"patient_id":"B","age":52}
	]}`
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/", body), rec)

	if err := h.AdmitBatch(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Processed int `json:"patients_processed"`
		Failed    int `json:"failed"`
		Results   []struct {
			PatientID          string `json:"patient_id"`
			AssignedDepartment string `json:"assigned_department"`
			Error              string `json:"error"`
		} `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Processed != 2 || resp.Failed != 1 || len(resp.Results) != 3 {
		t.Fatalf("unexpected summary %+v", resp)
	}
	if resp.Results[1].PatientID != "A" || resp.Results[1].Error == "" {
		t.Errorf("expected error for duplicate A, got %+v", resp.Results[1])
	}
	if resp.Results[2].AssignedDepartment != "Neurology" {
		t.Errorf("expected classified department, got %+v", resp.Results[2])
	}
}

func TestHandler_AdmitBatch_Empty(t *testing.T) {
	h, _, e := newTestHandler(t)
	c := e.NewContext(jsonRequest(http.MethodPost, "/", `{"patients":[]}`), httptest.NewRecorder())
	assertHTTPStatus(t, h.AdmitBatch(c), http.StatusBadRequest)
}

func TestHandler_StartSession(t *testing.T) {
	h, d, e := newTestHandler(t)
	before := d.engine.SessionID()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)

	if err := h.StartSession(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["session_id"] == before || resp["session_id"] != d.engine.SessionID() {
		t.Errorf("expected new session id, got %v", resp["session_id"])
	}
}

func TestHandler_DepartmentStatus(t *testing.T) {
	h, d, e := newTestHandler(t)
	d.svc.Admit(context.Background(), PatientInput{PatientID: "A", RiskLevel: "high", PrimaryDepartment: "Dermatology"})
	d.svc.Admit(context.Background(), PatientInput{PatientID: "B", RiskLevel: "low", PrimaryDepartment: "Dermatology"})
	d.svc.Admit(context.Background(), PatientInput{PatientID: "C", RiskLevel: "low", PrimaryDepartment: "Dermatology"})

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	if err := h.DepartmentStatus(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	derm := resp.DepartmentStatus["Dermatology"]
	if derm.CurrentPatients != 3 || derm.UtilizationPct != 60 || derm.Status != "BUSY" || derm.Warning != "High load" {
		t.Errorf("unexpected Dermatology status %+v", derm)
	}
	if resp.TotalPatients != 3 || len(resp.DepartmentStatus) != 12 {
		t.Errorf("unexpected totals: %d patients, %d departments", resp.TotalPatients, len(resp.DepartmentStatus))
	}
}

func TestHandler_PrioritizedQueue(t *testing.T) {
	h, d, e := newTestHandler(t)
	d.svc.Admit(context.Background(), PatientInput{PatientID: "L", RiskLevel: "low", PrimaryDepartment: "Emergency"})
	d.svc.Admit(context.Background(), PatientInput{PatientID: "H", RiskLevel: "high", PrimaryDepartment: "Emergency"})

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?category=high", nil), rec)
	if err := h.PrioritizedQueue(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp queueResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Department != "Emergency" {
		t.Errorf("expected default department Emergency, got %s", resp.Department)
	}
	if resp.FilteredCount != 1 || resp.TotalInQueue != 2 || resp.Queue[0].PatientID != "H" {
		t.Errorf("unexpected queue %+v", resp)
	}
	if resp.Queue[0].PriorityScore != 100 {
		t.Errorf("expected score 100, got %v", resp.Queue[0].PriorityScore)
	}
}

func TestHandler_PrioritizedQueue_UnknownDepartment(t *testing.T) {
	h, _, e := newTestHandler(t)
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?department=Radiology", nil), httptest.NewRecorder())
	assertHTTPStatus(t, h.PrioritizedQueue(c), http.StatusBadRequest)
}

func TestHandler_Utilization(t *testing.T) {
	h, _, e := newTestHandler(t)
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	if err := h.Utilization(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp utilizationResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Metrics) != 12 || resp.SystemEfficiencyScore != 120 {
		t.Errorf("unexpected idle utilization %+v", resp)
	}
}

func TestHandler_UpdateCapacity(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"integer", `{"department":"ENT","capacity":9}`, http.StatusOK},
		{"integer string", `{"department":"ENT","capacity":"9"}`, http.StatusOK},
		{"zero", `{"department":"ENT","capacity":0}`, http.StatusBadRequest},
		{"negative", `{"department":"ENT","capacity":-5}`, http.StatusBadRequest},
		{"fractional", `{"department":"ENT","capacity":2.5}`, http.StatusBadRequest},
		{"text", `{"department":"ENT","capacity":"many"}`, http.StatusBadRequest},
		{"missing", `{"department":"ENT"}`, http.StatusBadRequest},
		{"unknown department", `{"department":"Unknown","capacity":7}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, d, e := newTestHandler(t)
			rec := httptest.NewRecorder()
			c := e.NewContext(jsonRequest(http.MethodPut, "/", tt.body), rec)
			err := h.UpdateCapacity(c)
			if tt.want != http.StatusOK {
				assertHTTPStatus(t, err, tt.want)
				if got, _ := d.engine.Capacity("ENT"); got != 6 {
					t.Errorf("capacity changed on rejected update: %d", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			var resp map[string]interface{}
			json.Unmarshal(rec.Body.Bytes(), &resp)
			if resp["old_capacity"] != float64(6) || resp["new_capacity"] != float64(9) || resp["persisted"] != true {
				t.Errorf("unexpected response %v", resp)
			}
		})
	}
}

func TestHandler_GetCapacity(t *testing.T) {
	h, _, e := newTestHandler(t)
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	if err := h.GetCapacity(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp map[string]map[string]int
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["department_capacity"]["Emergency"] != 15 {
		t.Errorf("unexpected capacity table %v", resp)
	}
}

func TestHandler_History(t *testing.T) {
	h, d, e := newTestHandler(t)
	d.history.Create(context.Background(), &PatientRecord{PatientID: "A", SessionID: "S1"})
	d.history.Create(context.Background(), &PatientRecord{PatientID: "B", SessionID: "S2"})

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?session_id=S2&limit=5", nil), rec)
	if err := h.History(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Data  []PatientRecord `json:"data"`
		Total int             `json:"total"`
		Limit int             `json:"limit"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Total != 1 || len(resp.Data) != 1 || resp.Data[0].PatientID != "B" || resp.Limit != 5 {
		t.Errorf("unexpected history page %+v", resp)
	}
}

func TestFlexFloat(t *testing.T) {
	var v struct {
		A flexFloat `json:"a"`
		B flexFloat `json:"b"`
		C flexFloat `json:"c"`
		D flexFloat `json:"d"`
		E flexFloat `json:"e"`
	}
	if err := json.Unmarshal([]byte(`{"a":12.5,"b":"98","c":"abc","d":null,"e":true}`), &v); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.A != 12.5 || v.B != 98 || v.C != 0 || v.D != 0 || v.E != 0 {
		t.Errorf("unexpected values %+v", v)
	}
}

func TestRounding(t *testing.T) {
	if round1(33.3333) != 33.3 || round1(66.66) != 66.7 {
		t.Error("round1 mismatch")
	}
	if round2(101.23456) != 101.23 {
		t.Error("round2 mismatch")
	}
}
