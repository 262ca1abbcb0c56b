package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/ehr/triage/internal/config"
	"github.com/ehr/triage/internal/domain/triage"
	"github.com/ehr/triage/migrations"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:              "0",
		Env:               "test",
		LogLevel:          "info",
		DBMaxConns:        10,
		DBMinConns:        2,
		CapacityStore:     config.StoreMemory,
		HistoryStore:      config.StoreMemory,
		HistoryBuffer:     8,
		AvgServiceMinutes: 2.5,
		CORSOrigins:       []string{"*"},
		BodyLimit:         "1M",
	}
}

func newTestApp(t *testing.T) *app {
	t.Helper()
	a, err := newApp(context.Background(), testConfig(), zerolog.Nop(), nil, prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	return a
}

func doRequest(a *app, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	a.echo.ServeHTTP(rec, req)
	return rec
}

func TestApp_Health(t *testing.T) {
	a := newTestApp(t)

	rec := doRequest(a, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["session_id"] != a.engine.SessionID() {
		t.Errorf("expected session %s, got %v", a.engine.SessionID(), body["session_id"])
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestApp_NoDBHealthWithoutPool(t *testing.T) {
	a := newTestApp(t)
	if rec := doRequest(a, http.MethodGet, "/health/db", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 without a pool, got %d", rec.Code)
	}
}

func TestApp_AdmitAndMetrics(t *testing.T) {
	a := newTestApp(t)

	rec := doRequest(a, http.MethodPost, "/api/v1/triage/patients",
		`{"patient_id":"P1","risk_level":"high","primary_department":"Cardiology"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["assigned_department"] != "Cardiology" {
		t.Errorf("expected Cardiology, got %v", resp["assigned_department"])
	}
	if a.recorder.Pending() != 1 {
		t.Errorf("expected one buffered history record, got %d", a.recorder.Pending())
	}

	rec = doRequest(a, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "triage_admissions_total") {
		t.Error("expected triage_admissions_total in metrics output")
	}
}

func TestApp_BodyLimit(t *testing.T) {
	cfg := testConfig()
	cfg.BodyLimit = "64B"
	a, err := newApp(context.Background(), cfg, zerolog.Nop(), nil, prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}

	body := `{"patient_id":"P1","risk_level":"high","primary_department":"Cardiology","symptoms":"` +
		strings.Repeat("x", 256) + `"}`
	if rec := doRequest(a, http.MethodPost, "/api/v1/triage/patients", body); rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", rec.Code)
	}
}

func TestSkipOperational(t *testing.T) {
	a := newTestApp(t)
	for path, want := range map[string]bool{
		"/health":                true,
		"/health/db":             true,
		"/metrics":               true,
		"/api/v1/triage/queue":   false,
		"/api/v1/triage/metrics": false,
	} {
		c := a.echo.NewContext(httptest.NewRequest(http.MethodGet, path, nil), httptest.NewRecorder())
		if got := skipOperational(c); got != want {
			t.Errorf("skipOperational(%s) = %v, want %v", path, got, want)
		}
	}
}

func TestSetStoredCapacity(t *testing.T) {
	store := triage.NewMemoryCapacityStore(nil)

	change, err := setStoredCapacity(context.Background(), store, zerolog.Nop(), "ENT", 9)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if change.OldCapacity != 6 || change.NewCapacity != 9 {
		t.Errorf("unexpected change %+v", change)
	}
	caps, found, _ := store.Load(context.Background())
	if !found || caps["ENT"] != 9 || caps["Cardiology"] != 10 {
		t.Errorf("expected full table with ENT=9, got %v", caps)
	}

	if _, err := setStoredCapacity(context.Background(), store, zerolog.Nop(), "ENT", 0); !errors.Is(err, triage.ErrInvalidCapacity) {
		t.Errorf("expected ErrInvalidCapacity, got %v", err)
	}
	if _, err := setStoredCapacity(context.Background(), store, zerolog.Nop(), "Radiology", 4); !errors.Is(err, triage.ErrUnknownDepartment) {
		t.Errorf("expected ErrUnknownDepartment, got %v", err)
	}
}

func TestNewCapacityStore(t *testing.T) {
	cfg := testConfig()

	cfg.CapacityStore = config.StoreFile
	cfg.CapacityFile = filepath.Join(t.TempDir(), "caps.json")
	if s, err := newCapacityStore(cfg, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	} else if _, ok := s.(*triage.FileCapacityStore); !ok {
		t.Errorf("expected file store, got %T", s)
	}

	cfg.CapacityStore = config.StorePostgres
	if _, err := newCapacityStore(cfg, nil); err == nil {
		t.Error("expected error for postgres store without a pool")
	}
	if _, err := newHistoryStore(&config.Config{HistoryStore: config.StorePostgres}, nil); err == nil {
		t.Error("expected error for postgres history without a pool")
	}
}

func TestMigrationsFS(t *testing.T) {
	cfg := testConfig()
	if got := migrationsFS("", cfg); got != migrations.FS {
		t.Error("expected embedded migrations when no directory is set")
	}

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "001_init.sql"), []byte("SELECT 1;"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.MigrationsDir = dir
	fsys := migrationsFS("", cfg)
	if _, err := fsys.Open("001_init.sql"); err != nil {
		t.Errorf("expected MIGRATIONS_DIR to be used: %v", err)
	}

	if _, err := migrationsFS(t.TempDir(), cfg).Open("001_init.sql"); err == nil {
		t.Error("expected --dir to take precedence over MIGRATIONS_DIR")
	}
}

func TestNewLogger_Level(t *testing.T) {
	cfg := testConfig()

	cfg.LogLevel = "debug"
	if got := newLogger(cfg).GetLevel(); got != zerolog.DebugLevel {
		t.Errorf("expected debug, got %s", got)
	}

	cfg.LogLevel = "loud"
	if got := newLogger(cfg).GetLevel(); got != zerolog.InfoLevel {
		t.Errorf("expected fallback to info, got %s", got)
	}
}

func TestWebsocketOrigins(t *testing.T) {
	cfg := testConfig()
	cfg.CORSOrigins = []string{"https://ward.example"}
	if got := websocketOrigins(cfg); got != nil {
		t.Errorf("expected no restriction outside production, got %v", got)
	}

	cfg.Env = "production"
	if got := websocketOrigins(cfg); len(got) != 1 || got[0] != "https://ward.example" {
		t.Errorf("expected CORS origins in production, got %v", got)
	}
}

func TestApp_WebsocketOriginRejectedInProduction(t *testing.T) {
	cfg := testConfig()
	cfg.Env = "production"
	cfg.CORSOrigins = []string{"https://ward.example"}
	a, err := newApp(context.Background(), cfg, zerolog.Nop(), nil, prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/triage/ws", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	a.echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for an unlisted origin, got %d", rec.Code)
	}
}
