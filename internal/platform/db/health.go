package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats is the subset of pgxpool statistics reported by /health/ready.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireDuration string `json:"acquire_duration"`
}

func statsOf(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireDuration: stat.AcquireDuration().String(),
	}
}

// Check probes one dependency the engine needs to serve evaluations.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// PoolCheck pings the patient treatment store.
func PoolCheck(pool *pgxpool.Pool) Check {
	return Check{Name: "database", Ping: pool.Ping}
}

type readiness struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
	Pool   *PoolStats        `json:"pool,omitempty"`
}

// ReadinessHandler runs every check within timeout and answers 503 when any
// of them fails. pool may be nil.
func ReadinessHandler(pool *pgxpool.Pool, timeout time.Duration, checks ...Check) echo.HandlerFunc {
	var stats func() *PoolStats
	if pool != nil {
		stats = func() *PoolStats { return statsOf(pool) }
	}
	return readinessHandler(stats, timeout, checks)
}

func readinessHandler(stats func() *PoolStats, timeout time.Duration, checks []Check) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
		defer cancel()

		body := readiness{Status: "ready", Checks: make(map[string]string, len(checks))}
		code := http.StatusOK
		for _, chk := range checks {
			if err := chk.Ping(ctx); err != nil {
				body.Checks[chk.Name] = err.Error()
				body.Status = "unavailable"
				code = http.StatusServiceUnavailable
				continue
			}
			body.Checks[chk.Name] = "ok"
		}
		if stats != nil {
			body.Pool = stats()
		}
		return c.JSON(code, body)
	}
}
