package models

import "encoding/json"

// DisplayMode selects which rendition of an image the expert is looking at.
type DisplayMode string

const (
	ModeCropped   DisplayMode = "cropped"
	ModeComposite DisplayMode = "composite" // cropped subject side by side with its wider context
)

// Valid reports whether m is a known display mode.
func (m DisplayMode) Valid() bool {
	return m == ModeCropped || m == ModeComposite
}

// Alternate returns the other display mode.
func (m DisplayMode) Alternate() DisplayMode {
	if m == ModeComposite {
		return ModeCropped
	}
	return ModeComposite
}

// ImageRecord is a single labelable item in the catalog.
// Identity is the (Town, Filename) pair.
type ImageRecord struct {
	Town          string `json:"town"`
	Filename      string `json:"filename"`
	PrimaryPath   string `json:"primaryPath,omitempty"`
	CompositePath string `json:"compositePath,omitempty"`
	HasComposite  bool   `json:"hasComposite"`
}

// UnmarshalJSON accepts both the canonical field names and the ones written
// by the classification queue generator (path, composite_image, has_composite).
func (r *ImageRecord) UnmarshalJSON(data []byte) error {
	var raw struct {
		Town               string `json:"town"`
		Filename           string `json:"filename"`
		PrimaryPath        string `json:"primaryPath"`
		Path               string `json:"path"`
		CompositePath      string `json:"compositePath"`
		CompositeImage     string `json:"composite_image"`
		HasComposite       *bool  `json:"hasComposite"`
		HasCompositeLegacy *bool  `json:"has_composite"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	r.Town = raw.Town
	r.Filename = raw.Filename
	r.PrimaryPath = firstNonEmpty(raw.PrimaryPath, raw.Path)
	r.CompositePath = firstNonEmpty(raw.CompositePath, raw.CompositeImage)

	switch {
	case raw.HasComposite != nil:
		r.HasComposite = *raw.HasComposite
	case raw.HasCompositeLegacy != nil:
		r.HasComposite = *raw.HasCompositeLegacy
	default:
		r.HasComposite = r.CompositePath != ""
	}
	return nil
}

// Identity returns the town/filename key used for logging and placeholder selection.
func (r ImageRecord) Identity() string {
	return r.Town + "/" + r.Filename
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
