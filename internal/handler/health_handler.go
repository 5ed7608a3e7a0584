package handler

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"storefront/pkg/log"
)

// HealthCheck reports one dependency
type HealthCheck func(ctx context.Context) error

// HealthHandler liveness and readiness probes
type HealthHandler struct {
	service string
	timeout time.Duration

	mu     sync.RWMutex
	checks map[string]HealthCheck
}

// NewHealthHandler creates a health handler
func NewHealthHandler(service string, timeout time.Duration) *HealthHandler {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HealthHandler{
		service: service,
		timeout: timeout,
		checks:  make(map[string]HealthCheck),
	}
}

// AddCheck registers a readiness check such as "database" or "bus"
func (h *HealthHandler) AddCheck(name string, check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// Live returns 200 while the process serves requests
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": h.service,
	})
}

// Ready runs every check; any failure answers 503
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	h.mu.RUnlock()
	sort.Strings(names)

	results := make(map[string]string, len(names))
	healthy := true
	for _, name := range names {
		h.mu.RLock()
		check := h.checks[name]
		h.mu.RUnlock()

		if err := check(ctx); err != nil {
			healthy = false
			results[name] = err.Error()
			log.WithFields(map[string]interface{}{
				"check": name,
				"error": err.Error(),
			}).Warn("Readiness check failed")
			continue
		}
		results[name] = "ok"
	}

	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":  status,
		"service": h.service,
		"checks":  results,
	})
}
