// Package classification persists expert judgments about images.
//
// Every backend implements Store. Save validates before touching the
// backend; Flag marks the most recent row of an image for review, or inserts
// a minimal review row when the image has none.
package classification

import (
	"context"
	"errors"
	"sort"
	"time"

	"flag-classifier/internal/metrics"
	"flag-classifier/internal/models"
)

// Store records judgments.
type Store interface {
	Submit(ctx context.Context, c *models.Classification) (*models.Classification, error)
	Flag(ctx context.Context, imageID, reason, expertID string) (*models.Classification, error)
}

// Reader exposes stored judgments.
type Reader interface {
	List(ctx context.Context) ([]models.Classification, error)
	Current(ctx context.Context, imageID string) (*models.Classification, error)
	Stats(ctx context.Context) (*models.ClassificationStats, error)
}

// ReadWriter is a store that can also be read back.
type ReadWriter interface {
	Store
	Reader
}

// newestFirst orders rows by timestamp, then by insertion order.
func newestFirst(rows []models.Classification) {
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].Timestamp.Equal(rows[j].Timestamp) {
			return rows[i].Timestamp.After(rows[j].Timestamp)
		}
		return rows[i].ID > rows[j].ID
	})
}

func computeStats(rows []models.Classification) *models.ClassificationStats {
	stats := &models.ClassificationStats{
		ByExpert:   make(map[string]int),
		ByCategory: make(map[string]int),
	}

	var confidenceSum int
	for _, r := range rows {
		stats.Total++
		if r.Confidence >= models.MinConfidence {
			stats.Labeled++
			confidenceSum += r.Confidence
		}
		if r.NeedsReview {
			stats.Flagged++
		}
		stats.ByExpert[r.ExpertID]++
		stats.ByCategory[r.PrimaryCategory]++
	}
	if stats.Labeled > 0 {
		stats.AvgConfidence = float64(confidenceSum) / float64(stats.Labeled)
	}
	return stats
}

type instrumented struct {
	next    Store
	metrics *metrics.Metrics
}

// Instrument counts the outcome of every Submit and Flag passing through s.
func Instrument(s Store, m *metrics.Metrics) Store {
	if m == nil {
		return s
	}
	return &instrumented{next: s, metrics: m}
}

func (s *instrumented) Submit(ctx context.Context, c *models.Classification) (*models.Classification, error) {
	out, err := s.next.Submit(ctx, c)
	s.metrics.ObserveStore(models.ActionSave, result(err))
	return out, err
}

func (s *instrumented) Flag(ctx context.Context, imageID, reason, expertID string) (*models.Classification, error) {
	out, err := s.next.Flag(ctx, imageID, reason, expertID)
	s.metrics.ObserveStore(models.ActionFlag, result(err))
	return out, err
}

func result(err error) string {
	switch {
	case err == nil:
		return metrics.ResultSuccess
	case IsValidation(err):
		return metrics.ResultValidation
	default:
		return metrics.ResultBackend
	}
}

type clock func() time.Time

func (c clock) now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}

func ctxErr(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return backendErr(op, err)
	}
	return nil
}

var errClosed = errors.New("store is closed")
