package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats is the pool section of the /health/db response.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
}

// Prober is the part of *pgxpool.Pool the health check needs.
type Prober interface {
	Ping(ctx context.Context) error
	Stat() *pgxpool.Stat
}

func statsOf(stat *pgxpool.Stat) *PoolStats {
	if stat == nil {
		return nil
	}
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
	}
}

// HealthHandler pings the database and reports the round trip and pool
// statistics. An unreachable database answers 503.
func HealthHandler(p Prober) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		start := time.Now()
		err := p.Ping(ctx)
		latency := time.Since(start)
		if err != nil {
			return c.JSON(http.StatusServiceUnavailable, dbHealth{Status: "unhealthy", Error: err.Error()})
		}
		return c.JSON(http.StatusOK, dbHealth{
			Status:  "healthy",
			Latency: latency.String(),
			Pool:    statsOf(p.Stat()),
		})
	}
}

type dbHealth struct {
	Status  string     `json:"status"`
	Latency string     `json:"latency,omitempty"`
	Error   string     `json:"error,omitempty"`
	Pool    *PoolStats `json:"pool,omitempty"`
}
