package db

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestHealthHandler(t *testing.T) {
	stats := func() *PoolStats { return &PoolStats{TotalConns: 3, MaxConns: 10} }
	up := func(context.Context) error { return nil }
	schemaAt := func(st SchemaState, err error) func(context.Context) (SchemaState, error) {
		return func(context.Context) (SchemaState, error) { return st, err }
	}
	tests := []struct {
		name    string
		ping    func(context.Context) error
		schema  func(context.Context) (SchemaState, error)
		status  int
		want    string
		version int
	}{
		{"healthy without migrator", up, nil, http.StatusOK, "healthy", 0},
		{"unhealthy", func(context.Context) error { return errors.New("connection refused") }, nil, http.StatusServiceUnavailable, "unhealthy", 0},
		{"schema current", up, schemaAt(SchemaState{Version: 1, Applied: 1}, nil), http.StatusOK, "healthy", 1},
		{"migrations pending", up, schemaAt(SchemaState{Version: 1, Applied: 1, Pending: 1}, nil), http.StatusServiceUnavailable, "migrations_pending", 1},
		{"schema error", up, schemaAt(SchemaState{}, errors.New("permission denied")), http.StatusServiceUnavailable, "unhealthy", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health/db", nil), rec)

			if err := healthHandler(tt.ping, stats, tt.schema)(c); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rec.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, rec.Code)
			}
			var body struct {
				Status string      `json:"status"`
				Pool   PoolStats   `json:"pool"`
				Schema SchemaState `json:"schema"`
			}
			json.Unmarshal(rec.Body.Bytes(), &body)
			if body.Status != tt.want || body.Pool.MaxConns != 10 || body.Schema.Version != tt.version {
				t.Errorf("unexpected body %+v", body)
			}
		})
	}
}

func TestSummarizeSchema(t *testing.T) {
	st := SummarizeSchema([]MigrationStatus{
		{Version: 1, Applied: true},
		{Version: 2, Applied: true},
		{Version: 3},
	})
	if st.Version != 2 || st.Applied != 2 || st.Pending != 1 {
		t.Errorf("unexpected state %+v", st)
	}
	if empty := SummarizeSchema(nil); empty != (SchemaState{}) {
		t.Errorf("expected zero state, got %+v", empty)
	}
}

func TestNewPool_InvalidURL(t *testing.T) {
	if _, err := NewPool(context.Background(), PoolConfig{URL: "://not-a-url"}); err == nil {
		t.Error("expected parse error")
	}
}
