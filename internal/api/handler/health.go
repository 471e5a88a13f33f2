package handler

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/fitfinder/internal/logger"
)

// Probe checks one upstream dependency.
type Probe func(ctx context.Context) error

// HealthHandler handles health check endpoints
type HealthHandler struct {
	probes  map[string]Probe
	timeout time.Duration
}

// NewHealthHandler creates a new health handler. probes are keyed by the
// upstream name reported in the response.
func NewHealthHandler(probes map[string]Probe, timeout time.Duration) *HealthHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthHandler{probes: probes, timeout: timeout}
}

// UpstreamStatus is the outcome of one probe.
type UpstreamStatus struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// Health returns the health status of the service
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// Upstreams handles GET /api/v1/health/upstreams. Probes run concurrently;
// any failure turns the response into 503.
func (h *HealthHandler) Upstreams(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.probes))
	for name := range h.probes {
		names = append(names, name)
	}
	sort.Strings(names)

	statuses := make([]UpstreamStatus, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, probe Probe) {
			defer wg.Done()
			start := time.Now()
			err := probe(ctx)
			st := UpstreamStatus{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
			if err != nil {
				st.Status = "error"
				st.Error = err.Error()
			}
			statuses[i] = st
		}(i, h.probes[name])
	}
	wg.Wait()

	overall, code := "ok", http.StatusOK
	upstreams := make(map[string]UpstreamStatus, len(names))
	for i, name := range names {
		upstreams[name] = statuses[i]
		if statuses[i].Status != "ok" {
			overall, code = "degraded", http.StatusServiceUnavailable
			logger.With(logger.Fields{logger.FieldUpstream: name}).Warn(c.Request.Context(), "Upstream check failed: %s", statuses[i].Error)
		}
	}

	c.JSON(code, gin.H{
		"status":    overall,
		"upstreams": upstreams,
	})
}
