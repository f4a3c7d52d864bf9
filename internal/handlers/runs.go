package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hawkerops/menu-sync/internal/database"
)

// ListRunsRequest represents query parameters for listing sync runs
type ListRunsRequest struct {
	Limit  int `form:"limit" binding:"omitempty,min=1,max=100"`
	Offset int `form:"offset" binding:"omitempty,min=0"`
}

// ListRunsResponse represents the response for listing sync runs
type ListRunsResponse struct {
	Runs []database.RunSummary `json:"runs"`
}

// ListRuns returns recent sync runs aggregated from the snapshot log
func ListRuns(c *gin.Context) {
	var req ListRunsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Limit == 0 {
		req.Limit = 20
	}

	runs, err := database.NewStore().ListRuns(c.Request.Context(), req.Limit, req.Offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}

	c.JSON(http.StatusOK, ListRunsResponse{Runs: runs})
}
