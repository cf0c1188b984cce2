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
	Healthy         bool   `json:"healthy"`
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
		Healthy:         stat.TotalConns() > 0,
	}
}

// Pinger is anything with a liveness probe: the pgx pool, a redis client
// wrapper.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthHandler returns a handler for /health/db. The database is probed
// first; each dependency is reported under its name and any failure turns
// the response into a 503.
func HealthHandler(database Pinger, deps map[string]Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		body := map[string]interface{}{"status": "healthy"}
		status := http.StatusOK

		err := database.Ping(ctx)
		if pool, ok := database.(*pgxpool.Pool); ok {
			stats := GetPoolStats(pool)
			stats.Healthy = stats.Healthy && err == nil
			body["pool"] = stats
		}
		if err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "unhealthy"
			body["error"] = err.Error()
		}

		if len(deps) > 0 {
			checks := make(map[string]string, len(deps))
			for name, dep := range deps {
				if derr := dep.Ping(ctx); derr != nil {
					checks[name] = derr.Error()
					status = http.StatusServiceUnavailable
					body["status"] = "unhealthy"
					continue
				}
				checks[name] = "ok"
			}
			body["dependencies"] = checks
		}

		return c.JSON(status, body)
	}
}
