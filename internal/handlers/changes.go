package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hawkerops/menu-sync/internal/database"
)

// ListChangesRequest represents query parameters for listing item changes
type ListChangesRequest struct {
	ShopID string `form:"shopId"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=200"`
	Offset int    `form:"offset" binding:"omitempty,min=0"`
}

// ItemChange is one change row in API form, with the diff payload inlined
type ItemChange struct {
	ID        string          `json:"id"`
	RunID     string          `json:"runId"`
	ShopID    string          `json:"shopId"`
	ItemID    string          `json:"itemId"`
	ItemUID   string          `json:"itemUid"`
	Change    json.RawMessage `json:"change"`
	CreatedAt time.Time       `json:"createdAt"`
}

// ListChangesResponse represents the response for listing item changes
type ListChangesResponse struct {
	Changes []ItemChange `json:"changes"`
}

// ListChanges returns recent item change records, optionally filtered by shop
func ListChanges(c *gin.Context) {
	var req ListChangesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Limit == 0 {
		req.Limit = 50
	}

	rows, err := database.NewStore().ListChanges(c.Request.Context(), req.ShopID, req.Limit, req.Offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list changes"})
		return
	}

	changes := make([]ItemChange, 0, len(rows))
	for _, row := range rows {
		changes = append(changes, ItemChange{
			ID:        row.ID,
			RunID:     row.RunID,
			ShopID:    row.ShopID,
			ItemID:    row.ItemID,
			ItemUID:   row.ItemUID,
			Change:    row.ChangeJSON,
			CreatedAt: row.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, ListChangesResponse{Changes: changes})
}
