package classification

import (
	"context"
	"sync"
	"time"

	"flag-classifier/internal/models"
)

// MemoryStore keeps judgments in process memory. It backs demo mode and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	rows   []models.Classification
	nextID int64
	closed bool
	now    clock
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1}
}

// WithClock overrides the time source.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

// Close makes every later call fail with a BackendError.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Submit appends a validated classification.
func (s *MemoryStore) Submit(ctx context.Context, c *models.Classification) (*models.Classification, error) {
	row, err := prepare(c, s.now.now())
	if err != nil {
		return nil, err
	}
	if err := ctxErr(ctx, "submit"); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, backendErr("submit", errClosed)
	}

	row.ID = s.nextID
	s.nextID++
	s.rows = append(s.rows, *row)
	return row, nil
}

// Flag marks the most recent row for imageID, or inserts a review row.
func (s *MemoryStore) Flag(ctx context.Context, imageID, reason, expertID string) (*models.Classification, error) {
	imageID, reason, expertID, err := flagDefaults(imageID, reason, expertID)
	if err != nil {
		return nil, err
	}
	if err := ctxErr(ctx, "flag"); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, backendErr("flag", errClosed)
	}

	if i := s.latestLocked(imageID); i >= 0 {
		s.rows[i].NeedsReview = true
		s.rows[i].ReviewReason = reason
		out := s.rows[i]
		return &out, nil
	}

	row := reviewRow(imageID, reason, expertID, s.now.now())
	row.ID = s.nextID
	s.nextID++
	s.rows = append(s.rows, *row)
	return row, nil
}

// List returns every row, newest first.
func (s *MemoryStore) List(ctx context.Context) ([]models.Classification, error) {
	if err := ctxErr(ctx, "list"); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, backendErr("list", errClosed)
	}

	rows := make([]models.Classification, len(s.rows))
	copy(rows, s.rows)
	newestFirst(rows)
	return rows, nil
}

// Current returns the most recent row for imageID.
func (s *MemoryStore) Current(ctx context.Context, imageID string) (*models.Classification, error) {
	if err := ctxErr(ctx, "current"); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, backendErr("current", errClosed)
	}

	i := s.latestLocked(imageID)
	if i < 0 {
		return nil, ErrNotFound
	}
	out := s.rows[i]
	return &out, nil
}

// Stats summarises the stored rows.
func (s *MemoryStore) Stats(ctx context.Context) (*models.ClassificationStats, error) {
	rows, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return computeStats(rows), nil
}

func (s *MemoryStore) latestLocked(imageID string) int {
	best := -1
	for i := range s.rows {
		if s.rows[i].ImageID != imageID {
			continue
		}
		if best < 0 || !s.rows[i].Timestamp.Before(s.rows[best].Timestamp) {
			best = i
		}
	}
	return best
}
