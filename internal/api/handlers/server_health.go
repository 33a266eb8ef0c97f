package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Health status values.
const (
	HealthStatusOk       = "ok"
	HealthStatusDegraded = "degraded"
)

// Health is the probe response body.
type Health struct {
	Status  string                 `json:"status"`
	Checks  map[string]string      `json:"checks,omitempty"`
	Workers map[string]interface{} `json:"workers,omitempty"`
}

// GetLiveness handles GET /health/live.
func (s *Server) GetLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, Health{Status: HealthStatusOk})
}

// GetReadiness handles GET /health/ready.
func (s *Server) GetReadiness(c *gin.Context) {
	checks := make(map[string]string)
	allHealthy := true

	if s.pool == nil {
		checks["database"] = "unconfigured"
		allHealthy = false
	} else if err := s.pool.Ping(c.Request.Context()); err != nil {
		checks["database"] = "error"
		allHealthy = false
	} else {
		checks["database"] = "ok"
	}

	status := HealthStatusOk
	httpStatus := http.StatusOK
	if !allHealthy {
		status = HealthStatusDegraded
		httpStatus = http.StatusServiceUnavailable
	}

	resp := Health{Status: status, Checks: checks}
	if s.pools != nil {
		resp.Workers = s.pools.Metrics()
	}
	c.JSON(httpStatus, resp)
}
