package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-portal/internal/config"
	"github.com/stemsi/exstem-portal/internal/response"
)

// SystemHandler reports liveness and the state of optional backends.
type SystemHandler struct {
	cfg       *config.Config
	rdb       *redis.Client
	pool      *pgxpool.Pool
	startTime time.Time
}

// NewSystemHandler creates a new SystemHandler. rdb and pool may be nil.
func NewSystemHandler(cfg *config.Config, rdb *redis.Client, pool *pgxpool.Pool) *SystemHandler {
	return &SystemHandler{cfg: cfg, rdb: rdb, pool: pool, startTime: time.Now()}
}

// Health godoc
// GET /health
// Reports uptime and pings redis and postgres when they are configured.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	checks := gin.H{}
	if h.rdb != nil {
		checks["redis"] = probe(h.rdb.Ping(ctx).Err())
		if checks["redis"] != "ok" {
			status = "degraded"
		}
	}
	if h.pool != nil {
		checks["postgres"] = probe(h.pool.Ping(ctx))
		if checks["postgres"] != "ok" {
			status = "degraded"
		}
	}

	response.Success(c, http.StatusOK, gin.H{
		"status":       status,
		"uptime":       time.Since(h.startTime).Truncate(time.Second).String(),
		"goroutines":   runtime.NumGoroutine(),
		"store_driver": h.cfg.StoreDriver,
		"profile":      h.cfg.Profile,
		"checks":       checks,
	})
}

func probe(err error) string {
	if err != nil {
		return err.Error()
	}
	return "ok"
}
