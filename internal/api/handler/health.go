package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger is a dependency whose liveness the health endpoint reports.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthHandler handles health check endpoints
type HealthHandler struct {
	checks map[string]Pinger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(checks map[string]Pinger) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// Health returns the health status of the service
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	deps := make(gin.H, len(h.checks))
	healthy := true
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			deps[name] = err.Error()
			healthy = false
			continue
		}
		deps[name] = "ok"
	}

	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "dependencies": deps})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "dependencies": deps})
}
