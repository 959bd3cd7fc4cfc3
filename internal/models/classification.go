package models

import "time"

const (
	// AnonymousExpert is recorded when no identity could be resolved.
	AnonymousExpert = "anonymous"

	// DefaultReviewReason is used when a flag request carries no reason.
	DefaultReviewReason = "Flagged for review"

	// ReviewCategory is the primary category of rows created by a bare flag.
	ReviewCategory = "Review"

	MinConfidence = 1
	MaxConfidence = 5
)

// Classification is one expert judgment about one image.
// Several rows may exist for the same ImageID; the most recent one is current.
type Classification struct {
	ID              int64     `json:"id,omitempty" db:"id"`
	ImageID         string    `json:"imageId" db:"image_id"`
	Town            string    `json:"town" db:"town"`
	PrimaryCategory string    `json:"primaryCategory" db:"primary_category"`
	SpecificFlag    string    `json:"specificFlag" db:"specific_flag"`
	DisplayContext  string    `json:"displayContext" db:"display_context"`
	UserContext     string    `json:"userContext,omitempty" db:"user_context"`
	Confidence      int       `json:"confidence" db:"confidence"`
	ExpertID        string    `json:"expertId" db:"expert_id"`
	Timestamp       time.Time `json:"timestamp" db:"timestamp"`
	NeedsReview     bool      `json:"needsReview" db:"needs_review"`
	ReviewReason    string    `json:"reviewReason,omitempty" db:"review_reason"`
}

// Action names accepted by the classification endpoint.
const (
	ActionSave = "save"
	ActionFlag = "flag"
)

// ClassificationRequest is the body of POST /api/classifications.
// Classification is set for "save", the flat fields for "flag".
type ClassificationRequest struct {
	Action         string          `json:"action" binding:"required"`
	Classification *Classification `json:"classification,omitempty"`
	ImageID        string          `json:"imageId,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	ExpertID       string          `json:"expertId,omitempty"`
}

// ClassificationResponse is returned by the classification endpoint.
type ClassificationResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    *Classification `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Fields  []string        `json:"fields,omitempty"` // invalid fields, set on validation failures
}

// ClassificationStats summarises the stored judgments.
type ClassificationStats struct {
	Total         int            `json:"total"`
	Labeled       int            `json:"labeled"`
	Flagged       int            `json:"flagged"`
	AvgConfidence float64        `json:"avgConfidence"`
	ByExpert      map[string]int `json:"byExpert"`
	ByCategory    map[string]int `json:"byCategory"`
}
