package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"flag-classifier/internal/catalog"
	"flag-classifier/internal/models"
	"flag-classifier/internal/resolver"
	"flag-classifier/internal/taxonomy"
)

// CatalogHandler serves the image queue and resolves image locations.
type CatalogHandler struct {
	catalog  *catalog.Catalog
	resolver *resolver.Resolver
	taxonomy *taxonomy.Taxonomy
	logger   *zap.Logger
}

// NewCatalogHandler creates a new catalog handler
func NewCatalogHandler(c *catalog.Catalog, r *resolver.Resolver, t *taxonomy.Taxonomy, logger *zap.Logger) *CatalogHandler {
	return &CatalogHandler{
		catalog:  c,
		resolver: r,
		taxonomy: t,
		logger:   logger,
	}
}

// GetImages returns the catalog
func (h *CatalogHandler) GetImages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"images":  h.catalog.Images,
		"total":   h.catalog.Len(),
	})
}

// ResolveImage finds a loadable URL for one image. It always answers with a
// URL; a miss is reported through the status field.
func (h *CatalogHandler) ResolveImage(c *gin.Context) {
	town := c.Query("town")
	filename := c.Query("filename")
	if filename == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "filename is required"})
		return
	}

	mode := models.DisplayMode(c.DefaultQuery("mode", string(models.ModeCropped)))
	if !mode.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be cropped or composite"})
		return
	}

	rec, ok := h.catalog.Find(town, filename)
	if !ok {
		rec = models.ImageRecord{Town: town, Filename: filename}
	}

	result := h.resolver.Resolve(c.Request.Context(), rec, mode)
	c.JSON(http.StatusOK, result)
}

// GetTaxonomy returns the selectable flags and display contexts
func (h *CatalogHandler) GetTaxonomy(c *gin.Context) {
	c.JSON(http.StatusOK, h.taxonomy)
}
