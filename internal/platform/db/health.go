package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
}

// GetPoolStats returns connection pool statistics.
func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
	}
}

// SchemaState summarizes the migrations known to a Migrator.
type SchemaState struct {
	Version int `json:"version"`
	Applied int `json:"applied"`
	Pending int `json:"pending"`
}

// SummarizeSchema reduces per-migration statuses to a SchemaState. Version is
// the highest applied version.
func SummarizeSchema(statuses []MigrationStatus) SchemaState {
	var st SchemaState
	for _, s := range statuses {
		if !s.Applied {
			st.Pending++
			continue
		}
		st.Applied++
		if s.Version > st.Version {
			st.Version = s.Version
		}
	}
	return st
}

// Schema reports the applied and pending migrations.
func (m *Migrator) Schema(ctx context.Context) (SchemaState, error) {
	statuses, err := m.Status(ctx)
	if err != nil {
		return SchemaState{}, err
	}
	return SummarizeSchema(statuses), nil
}

// HealthHandler returns the /health/db handler for pool. With a migrator,
// pending migrations also report 503 because the history and capacity
// tables may be missing.
func HealthHandler(pool *pgxpool.Pool, m *Migrator) echo.HandlerFunc {
	var schema func(context.Context) (SchemaState, error)
	if m != nil {
		schema = m.Schema
	}
	return healthHandler(pool.Ping, func() *PoolStats { return GetPoolStats(pool) }, schema)
}

func healthHandler(ping func(context.Context) error, stats func() *PoolStats, schema func(context.Context) (SchemaState, error)) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		body := map[string]interface{}{"pool": stats()}
		if err := ping(ctx); err != nil {
			body["status"] = "unhealthy"
			body["error"] = err.Error()
			return c.JSON(http.StatusServiceUnavailable, body)
		}

		code, status := http.StatusOK, "healthy"
		if schema != nil {
			st, err := schema(ctx)
			switch {
			case err != nil:
				code, status = http.StatusServiceUnavailable, "unhealthy"
				body["error"] = err.Error()
			case st.Pending > 0:
				code, status = http.StatusServiceUnavailable, "migrations_pending"
				body["schema"] = st
			default:
				body["schema"] = st
			}
		}
		body["status"] = status
		return c.JSON(code, body)
	}
}
