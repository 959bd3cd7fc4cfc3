package classification

import (
	"strings"
	"time"

	"flag-classifier/internal/models"
)

// Validate checks the fields every saved classification must carry.
func Validate(c *models.Classification) error {
	if c == nil {
		return &ValidationError{Fields: []string{"classification"}}
	}

	var fields []string
	if strings.TrimSpace(c.ImageID) == "" {
		fields = append(fields, "imageId")
	}
	if strings.TrimSpace(c.PrimaryCategory) == "" && strings.TrimSpace(c.SpecificFlag) == "" {
		fields = append(fields, "primaryCategory")
	}
	if strings.TrimSpace(c.DisplayContext) == "" {
		fields = append(fields, "displayContext")
	}
	if c.Confidence < models.MinConfidence || c.Confidence > models.MaxConfidence {
		fields = append(fields, "confidence")
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// prepare validates c and returns a copy with defaults filled in.
func prepare(c *models.Classification, now time.Time) (*models.Classification, error) {
	if err := Validate(c); err != nil {
		return nil, err
	}

	out := *c
	out.ID = 0
	out.ImageID = strings.TrimSpace(out.ImageID)
	if strings.TrimSpace(out.ExpertID) == "" {
		out.ExpertID = models.AnonymousExpert
	}
	if out.Timestamp.IsZero() {
		out.Timestamp = now
	}
	out.Timestamp = out.Timestamp.UTC()
	if !out.NeedsReview {
		out.ReviewReason = ""
	}
	return &out, nil
}

// flagDefaults applies the reason and expert defaults of a flag request.
func flagDefaults(imageID, reason, expertID string) (string, string, string, error) {
	imageID = strings.TrimSpace(imageID)
	if imageID == "" {
		return "", "", "", &ValidationError{Fields: []string{"imageId"}}
	}
	if strings.TrimSpace(reason) == "" {
		reason = models.DefaultReviewReason
	}
	if strings.TrimSpace(expertID) == "" {
		expertID = models.AnonymousExpert
	}
	return imageID, reason, expertID, nil
}

// reviewRow is the minimal row inserted when an image is flagged before
// anyone classified it.
func reviewRow(imageID, reason, expertID string, now time.Time) *models.Classification {
	return &models.Classification{
		ImageID:         imageID,
		PrimaryCategory: models.ReviewCategory,
		ExpertID:        expertID,
		Timestamp:       now.UTC(),
		NeedsReview:     true,
		ReviewReason:    reason,
	}
}
