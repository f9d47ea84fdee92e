package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats reports connection pool usage for the health endpoint.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
}

// SchemaStats reports how far the database schema is migrated. A non-zero
// Pending means the running binary expects tables the database does not
// have yet.
type SchemaStats struct {
	Applied       int    `json:"applied"`
	Pending       int    `json:"pending"`
	LatestVersion int    `json:"latest_version"`
	LatestName    string `json:"latest_name,omitempty"`
}

type healthReport struct {
	Status string       `json:"status"`
	Error  string       `json:"error,omitempty"`
	Pool   *PoolStats   `json:"pool"`
	Schema *SchemaStats `json:"schema,omitempty"`
}

// GetPoolStats snapshots the pool counters.
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

// GetSchemaStats summarizes the migrator's view of the schema.
func GetSchemaStats(ctx context.Context, migrator *Migrator) (*SchemaStats, error) {
	statuses, err := migrator.Status(ctx)
	if err != nil {
		return nil, err
	}
	return tallySchema(statuses), nil
}

func tallySchema(statuses []MigrationStatus) *SchemaStats {
	s := &SchemaStats{}
	for _, st := range statuses {
		if !st.Applied {
			s.Pending++
			continue
		}
		s.Applied++
		if st.Version > s.LatestVersion {
			s.LatestVersion = st.Version
			s.LatestName = st.Name
		}
	}
	return s
}

// HealthHandler serves the liveness endpoint: database reachability, pool
// counters, and schema migration state. The database being up but behind
// on migrations is reported as degraded rather than unhealthy so deploy
// tooling can tell the two apart.
func HealthHandler(pool *pgxpool.Pool, migrator *Migrator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		report := healthReport{Status: "healthy", Pool: GetPoolStats(pool)}

		if err := pool.Ping(ctx); err != nil {
			report.Status = "unhealthy"
			report.Error = err.Error()
			return c.JSON(http.StatusServiceUnavailable, report)
		}

		schema, err := GetSchemaStats(ctx, migrator)
		if err != nil {
			report.Status = "degraded"
			report.Error = err.Error()
			return c.JSON(http.StatusOK, report)
		}
		report.Schema = schema
		if schema.Pending > 0 {
			report.Status = "degraded"
		}

		return c.JSON(http.StatusOK, report)
	}
}
