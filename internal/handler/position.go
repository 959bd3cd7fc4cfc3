package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"flag-classifier/internal/catalog"
	"flag-classifier/internal/middleware"
	"flag-classifier/internal/session"
)

// PositionHandler reads and saves the caller's queue position.
type PositionHandler struct {
	positions session.PositionStore
	catalog   *catalog.Catalog
	logger    *zap.Logger
}

func NewPositionHandler(positions session.PositionStore, images *catalog.Catalog, logger *zap.Logger) *PositionHandler {
	return &PositionHandler{positions: positions, catalog: images, logger: logger}
}

type PositionRequest struct {
	Index *int `json:"index" binding:"required,min=0"`
}

func (h *PositionHandler) GetPosition(c *gin.Context) {
	username := middleware.Username(c)

	index, saved, err := h.positions.LoadPosition(c.Request.Context(), username)
	if err != nil {
		h.logger.Error("Failed to load position", zap.String("username", username), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load position"})
		return
	}

	if saved {
		index = restorePosition(h.catalog, index)
	}

	c.JSON(http.StatusOK, gin.H{
		"expertId": username,
		"index":    index,
		"saved":    saved,
	})
}

// restorePosition resets a saved index that no longer fits the catalog.
func restorePosition(images *catalog.Catalog, saved int) int {
	index, _ := session.RestorePosition(saved, images.Len())
	return index
}

func (h *PositionHandler) PutPosition(c *gin.Context) {
	var req PositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	username := middleware.Username(c)
	if err := h.positions.SavePosition(c.Request.Context(), username, *req.Index); err != nil {
		h.logger.Error("Failed to save position", zap.String("username", username), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save position"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"expertId": username,
		"index":    *req.Index,
		"saved":    true,
	})
}
