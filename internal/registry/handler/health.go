package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/certledger/internal/health"
)

// HealthHandler serves liveness and readiness.
type HealthHandler struct {
	checker *health.Checker
}

// NewHealthHandler creates a HealthHandler. A nil checker reports ready
// with no backends.
func NewHealthHandler(checker *health.Checker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

// Register mounts /healthz and /readyz on the root router.
func (h *HealthHandler) Register(r gin.IRouter) {
	r.GET("/healthz", h.Live)
	r.GET("/readyz", h.Ready)
}

// Live handles GET /healthz.
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready handles GET /readyz by probing every backend.
func (h *HealthHandler) Ready(c *gin.Context) {
	if h.checker == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "ready": true})
		return
	}

	report := h.checker.CheckAll(c.Request.Context())
	status := http.StatusOK
	label := "ok"
	if !report.Ready {
		status = http.StatusServiceUnavailable
		label = "degraded"
	}
	c.JSON(status, gin.H{
		"status":     label,
		"ready":      report.Ready,
		"checked_at": report.CheckedAt,
		"backends":   report.Backends,
	})
}
