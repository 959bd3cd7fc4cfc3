// Package catalog loads the list of images available for labeling.
package catalog

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"flag-classifier/internal/models"
)

//go:embed fallback.json
var fallbackJSON []byte

// Catalog is the ordered list of labelable images. It is read-only once built.
type Catalog struct {
	Images []models.ImageRecord `json:"images"`
}

// Source produces a catalog.
type Source interface {
	Load(ctx context.Context) (*Catalog, error)
}

// Len returns the number of images.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Images)
}

// At returns the image at index i.
func (c *Catalog) At(i int) (models.ImageRecord, bool) {
	if c == nil || i < 0 || i >= len(c.Images) {
		return models.ImageRecord{}, false
	}
	return c.Images[i], true
}

// Find looks an image up by identity. Town comparison ignores case and the
// space/underscore spelling difference.
func (c *Catalog) Find(town, filename string) (models.ImageRecord, bool) {
	if c == nil {
		return models.ImageRecord{}, false
	}
	key := townKey(town)
	for _, img := range c.Images {
		if img.Filename == filename && (town == "" || townKey(img.Town) == key) {
			return img, true
		}
	}
	return models.ImageRecord{}, false
}

func townKey(town string) string {
	return strings.ToUpper(strings.Join(strings.Fields(strings.ReplaceAll(town, "_", " ")), " "))
}

// Decode parses a `{ "images": [...] }` document.
func Decode(data []byte) (*Catalog, error) {
	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	return &c, nil
}

// Fallback returns the small catalog compiled into the binary.
func Fallback() *Catalog {
	c, err := Decode(fallbackJSON)
	if err != nil {
		// The embedded file is part of the build; a decode failure is a programming error.
		panic(err)
	}
	return c
}

// Merge combines catalogs in order. Records sharing a filename are
// collapsed: the last one wins but keeps the position of the first.
func Merge(catalogs ...*Catalog) *Catalog {
	index := make(map[string]int)
	merged := &Catalog{}

	for _, c := range catalogs {
		if c == nil {
			continue
		}
		for _, img := range c.Images {
			if img.Filename == "" {
				continue
			}
			if i, ok := index[img.Filename]; ok {
				merged.Images[i] = img
				continue
			}
			index[img.Filename] = len(merged.Images)
			merged.Images = append(merged.Images, img)
		}
	}

	return merged
}

// LoadWithFallback loads src and falls back to the embedded catalog when the
// load fails or yields nothing. The boolean reports whether the fallback was used.
func LoadWithFallback(ctx context.Context, src Source, logger *zap.Logger) (*Catalog, bool) {
	c, err := src.Load(ctx)
	if err != nil {
		logger.Warn("Failed to load catalog, using embedded fallback", zap.Error(err))
		return Fallback(), true
	}
	if c.Len() == 0 {
		logger.Warn("Catalog is empty, using embedded fallback")
		return Fallback(), true
	}
	return c, false
}
