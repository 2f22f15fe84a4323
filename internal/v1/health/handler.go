// Package health implements the liveness/readiness endpoints a process
// orchestrator polls. Readiness uses a pluggable Checker per dependency:
// the storage backend (Postgres, or the in-memory reference store) and,
// when configured, the Redis event bus.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lairchat/server/internal/v1/bus"
	"github.com/lairchat/server/internal/v1/logging"
	"go.uber.org/zap"
)

// StorageChecker reports whether the storage backend is reachable.
type StorageChecker interface {
	Check(ctx context.Context) string
}

// Pinger is satisfied by any storage backend that can verify its own
// connectivity, such as a pgx connection pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// pingStorageChecker adapts a Pinger into a StorageChecker.
type pingStorageChecker struct {
	pinger Pinger
}

func (c *pingStorageChecker) Check(ctx context.Context) string {
	if c.pinger == nil {
		return "healthy" // in-memory backend has no connection to lose
	}
	if err := c.pinger.Ping(ctx); err != nil {
		logging.Error(ctx, "storage health check failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}

// Handler serves the liveness and readiness probes.
type Handler struct {
	redisService   *bus.Service
	storageChecker StorageChecker
}

// NewHandler builds a Handler. pinger may be nil (the in-memory backend has
// nothing to ping and is always considered healthy).
func NewHandler(redisService *bus.Service, pinger Pinger) *Handler {
	return &Handler{
		redisService:   redisService,
		storageChecker: &pingStorageChecker{pinger: pinger},
	}
}

// LivenessResponse is the liveness probe response body.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse is the readiness probe response body.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness reports the process is alive. It never checks dependencies: a
// degraded dependency should mark the process not-ready, not dead.
// GET /health/live
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness reports whether the storage backend and, when configured, the
// cross-instance event bus are reachable.
// GET /health/ready
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	storageStatus := h.checkStorage(ctx)
	checks["storage"] = storageStatus
	if storageStatus != "healthy" {
		allHealthy = false
	}

	if h.redisService != nil {
		redisStatus := h.checkRedis(ctx)
		checks["redis"] = redisStatus
		if redisStatus != "healthy" {
			allHealthy = false
		}
	}

	status := "ready"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) checkRedis(ctx context.Context) string {
	if h.redisService == nil {
		return "healthy"
	}
	if err := h.redisService.Ping(ctx); err != nil {
		logging.Error(ctx, "redis health check failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}

func (h *Handler) checkStorage(ctx context.Context) string {
	if h.storageChecker == nil {
		return "unhealthy"
	}
	return h.storageChecker.Check(ctx)
}

// HealthCheckResponse is a generic envelope kept for callers that want a
// uniform shape across probes.
type HealthCheckResponse struct {
	Status string         `json:"status"`
	Data   map[string]any `json:"data,omitempty"`
}

// MarshalJSON gives ReadinessResponse a stable field order.
func (r ReadinessResponse) MarshalJSON() ([]byte, error) {
	type Alias ReadinessResponse
	return json.Marshal(&struct{ *Alias }{Alias: (*Alias)(&r)})
}
