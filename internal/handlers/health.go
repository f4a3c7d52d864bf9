package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hawkerops/menu-sync/internal/database"
)

// PoolStats reports connection pool usage for the health endpoint
type PoolStats struct {
	Total    int32 `json:"total"`
	Idle     int32 `json:"idle"`
	Acquired int32 `json:"acquired"`
}

// HealthResponse reports component status for the health endpoint
type HealthResponse struct {
	Status   string     `json:"status"`
	Database string     `json:"database"`
	Pool     *PoolStats `json:"pool,omitempty"`
}

// Health returns service health including database connectivity and pool usage
func Health(c *gin.Context) {
	resp := HealthResponse{Status: "ok", Database: "ok"}

	if err := database.Status(c.Request.Context()); err != nil {
		resp.Status = "degraded"
		resp.Database = err.Error()
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}

	if stats := database.Stats(); stats != nil {
		resp.Pool = &PoolStats{
			Total:    stats.TotalConns(),
			Idle:     stats.IdleConns(),
			Acquired: stats.AcquiredConns(),
		}
	}

	c.JSON(http.StatusOK, resp)
}
