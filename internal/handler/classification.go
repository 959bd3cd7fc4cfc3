package handler

import (
	"encoding/csv"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"flag-classifier/internal/classification"
	"flag-classifier/internal/middleware"
	"flag-classifier/internal/models"
)

// ClassificationHandler exposes the classification store.
type ClassificationHandler struct {
	store  classification.Store
	reader classification.Reader
	logger *zap.Logger
}

// NewClassificationHandler creates a new classification handler
func NewClassificationHandler(store classification.Store, reader classification.Reader, logger *zap.Logger) *ClassificationHandler {
	return &ClassificationHandler{
		store:  store,
		reader: reader,
		logger: logger,
	}
}

// GetClassifications returns all classifications, newest first
func (h *ClassificationHandler) GetClassifications(c *gin.Context) {
	rows, err := h.reader.List(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to get classifications", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get classifications"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"classifications": rows,
		"total":           len(rows),
	})
}

// GetCurrent returns the most recent classification of an image
func (h *ClassificationHandler) GetCurrent(c *gin.Context) {
	row, err := h.reader.Current(c.Request.Context(), c.Param("imageId"))
	if errors.Is(err, classification.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "classification not found"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to get current classification", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get classification"})
		return
	}

	c.JSON(http.StatusOK, row)
}

// GetStats returns classification statistics
func (h *ClassificationHandler) GetStats(c *gin.Context) {
	stats, err := h.reader.Stats(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to get stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get stats"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// PostClassification handles the save and flag actions
func (h *ClassificationHandler) PostClassification(c *gin.Context) {
	var req models.ClassificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ClassificationResponse{Error: err.Error()})
		return
	}

	ctx := c.Request.Context()
	switch req.Action {
	case models.ActionSave:
		if req.Classification == nil {
			c.JSON(http.StatusBadRequest, models.ClassificationResponse{
				Error:  "classification is required",
				Fields: []string{"classification"},
			})
			return
		}
		req.Classification.ExpertID = expertFor(c, req.Classification.ExpertID)

		saved, err := h.store.Submit(ctx, req.Classification)
		if err != nil {
			h.writeStoreError(c, models.ActionSave, err)
			return
		}
		c.JSON(http.StatusOK, models.ClassificationResponse{
			Success: true,
			Message: "Classification saved successfully",
			Data:    saved,
		})

	case models.ActionFlag:
		flagged, err := h.store.Flag(ctx, req.ImageID, req.Reason, expertFor(c, req.ExpertID))
		if err != nil {
			h.writeStoreError(c, models.ActionFlag, err)
			return
		}
		c.JSON(http.StatusOK, models.ClassificationResponse{
			Success: true,
			Message: "Image flagged for review",
			Data:    flagged,
		})

	default:
		c.JSON(http.StatusBadRequest, models.ClassificationResponse{Error: "Unknown action"})
	}
}

// ExportCSV exports classifications to CSV
func (h *ClassificationHandler) ExportCSV(c *gin.Context) {
	rows, err := h.reader.List(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to export CSV", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", "attachment; filename=classifications.csv")

	writer := csv.NewWriter(c.Writer)

	// Write header
	writer.Write([]string{
		"id", "image_id", "town", "primary_category", "specific_flag", "display_context",
		"user_context", "confidence", "expert_id", "timestamp", "needs_review", "review_reason",
	})

	// Write data
	for _, row := range rows {
		writer.Write([]string{
			strconv.FormatInt(row.ID, 10),
			row.ImageID,
			row.Town,
			row.PrimaryCategory,
			row.SpecificFlag,
			row.DisplayContext,
			row.UserContext,
			strconv.Itoa(row.Confidence),
			row.ExpertID,
			row.Timestamp.UTC().Format(time.RFC3339),
			strconv.FormatBool(row.NeedsReview),
			row.ReviewReason,
		})
	}

	// csv.Writer keeps the first write error; the status line is already sent.
	writer.Flush()
	if err := writer.Error(); err != nil {
		h.logger.Error("Failed to write CSV export", zap.Int("rows", len(rows)), zap.Error(err))
	}
}

func (h *ClassificationHandler) writeStoreError(c *gin.Context, action string, err error) {
	var ve *classification.ValidationError
	if errors.As(err, &ve) {
		c.JSON(http.StatusBadRequest, models.ClassificationResponse{
			Error:  ve.Error(),
			Fields: ve.Fields,
		})
		return
	}

	h.logger.Error("Classification store failed", zap.String("action", action), zap.Error(err))
	c.JSON(http.StatusInternalServerError, models.ClassificationResponse{Error: err.Error()})
}

// expertFor prefers a token-verified caller over the identity in the body.
func expertFor(c *gin.Context, claimed string) string {
	if middleware.Verified(c) || claimed == "" {
		return middleware.Username(c)
	}
	return claimed
}
