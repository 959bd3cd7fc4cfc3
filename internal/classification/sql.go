package classification

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"flag-classifier/internal/models"
)

const classificationColumns = `id, image_id, town, primary_category, specific_flag, display_context,
	user_context, confidence, expert_id, timestamp, needs_review, review_reason`

// SQLStore persists judgments in the classifications table. It works with
// both the postgres and sqlite drivers; queries are written with ? and rebound.
type SQLStore struct {
	db     *sqlx.DB
	logger *zap.Logger
	now    clock
}

// NewSQLStore creates a store over an already migrated database.
func NewSQLStore(db *sqlx.DB, logger *zap.Logger) *SQLStore {
	return &SQLStore{db: db, logger: logger}
}

// WithClock overrides the time source.
func (s *SQLStore) WithClock(now func() time.Time) *SQLStore {
	s.now = now
	return s
}

// Submit inserts one row.
func (s *SQLStore) Submit(ctx context.Context, c *models.Classification) (*models.Classification, error) {
	row, err := prepare(c, s.now.now())
	if err != nil {
		return nil, err
	}

	if err := s.insert(ctx, row); err != nil {
		s.logger.Error("Failed to save classification", zap.String("image_id", row.ImageID), zap.Error(err))
		return nil, backendErr("submit", err)
	}

	s.logger.Debug("Classification saved",
		zap.Int64("id", row.ID),
		zap.String("image_id", row.ImageID),
		zap.String("expert_id", row.ExpertID))
	return row, nil
}

// Flag looks up the most recent row and updates it, or inserts a review row.
// The lookup and the write are separate statements.
func (s *SQLStore) Flag(ctx context.Context, imageID, reason, expertID string) (*models.Classification, error) {
	imageID, reason, expertID, err := flagDefaults(imageID, reason, expertID)
	if err != nil {
		return nil, err
	}

	current, err := s.latest(ctx, imageID)
	switch {
	case err == nil:
		query := s.db.Rebind(`UPDATE classifications SET needs_review = ?, review_reason = ? WHERE id = ?`)
		if _, err := s.db.ExecContext(ctx, query, true, reason, current.ID); err != nil {
			s.logger.Error("Failed to flag classification", zap.Int64("id", current.ID), zap.Error(err))
			return nil, backendErr("flag", err)
		}
		current.NeedsReview = true
		current.ReviewReason = reason
		return current, nil

	case errors.Is(err, sql.ErrNoRows):
		row := reviewRow(imageID, reason, expertID, s.now.now())
		if err := s.insert(ctx, row); err != nil {
			s.logger.Error("Failed to insert review row", zap.String("image_id", imageID), zap.Error(err))
			return nil, backendErr("flag", err)
		}
		return row, nil

	default:
		s.logger.Error("Failed to look up classification", zap.String("image_id", imageID), zap.Error(err))
		return nil, backendErr("flag", err)
	}
}

// List returns every row, newest first.
func (s *SQLStore) List(ctx context.Context) ([]models.Classification, error) {
	var rows []models.Classification
	query := `SELECT ` + classificationColumns + ` FROM classifications ORDER BY timestamp DESC, id DESC`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, backendErr("list", err)
	}
	return rows, nil
}

// Current returns the most recent row for imageID.
func (s *SQLStore) Current(ctx context.Context, imageID string) (*models.Classification, error) {
	c, err := s.latest(ctx, imageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, backendErr("current", err)
	}
	return c, nil
}

// Stats aggregates the table.
func (s *SQLStore) Stats(ctx context.Context) (*models.ClassificationStats, error) {
	var totals struct {
		Total         int     `db:"total"`
		Labeled       int     `db:"labeled"`
		Flagged       int     `db:"flagged"`
		AvgConfidence float64 `db:"avg_confidence"`
	}
	query := `
		SELECT
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN confidence > 0 THEN 1 ELSE 0 END), 0) AS labeled,
			COALESCE(SUM(CASE WHEN needs_review THEN 1 ELSE 0 END), 0) AS flagged,
			COALESCE(AVG(CASE WHEN confidence > 0 THEN confidence END), 0) AS avg_confidence
		FROM classifications`
	if err := s.db.GetContext(ctx, &totals, query); err != nil {
		return nil, backendErr("stats", err)
	}

	byExpert, err := s.countBy(ctx, "expert_id")
	if err != nil {
		return nil, err
	}
	byCategory, err := s.countBy(ctx, "primary_category")
	if err != nil {
		return nil, err
	}

	return &models.ClassificationStats{
		Total:         totals.Total,
		Labeled:       totals.Labeled,
		Flagged:       totals.Flagged,
		AvgConfidence: totals.AvgConfidence,
		ByExpert:      byExpert,
		ByCategory:    byCategory,
	}, nil
}

// countBy groups rows by one of a fixed set of column names.
func (s *SQLStore) countBy(ctx context.Context, column string) (map[string]int, error) {
	var groups []struct {
		Name  string `db:"name"`
		Total int    `db:"total"`
	}
	query := `SELECT ` + column + ` AS name, COUNT(*) AS total FROM classifications GROUP BY ` + column
	if err := s.db.SelectContext(ctx, &groups, query); err != nil {
		return nil, backendErr("stats", err)
	}

	counts := make(map[string]int, len(groups))
	for _, g := range groups {
		counts[g.Name] = g.Total
	}
	return counts, nil
}

func (s *SQLStore) latest(ctx context.Context, imageID string) (*models.Classification, error) {
	var c models.Classification
	query := s.db.Rebind(`SELECT ` + classificationColumns + ` FROM classifications
		WHERE image_id = ? ORDER BY timestamp DESC, id DESC LIMIT 1`)
	if err := s.db.GetContext(ctx, &c, query, imageID); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *SQLStore) insert(ctx context.Context, c *models.Classification) error {
	query := s.db.Rebind(`
		INSERT INTO classifications (
			image_id, town, primary_category, specific_flag, display_context,
			user_context, confidence, expert_id, timestamp, needs_review, review_reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)

	return s.db.QueryRowxContext(ctx, query,
		c.ImageID,
		c.Town,
		c.PrimaryCategory,
		c.SpecificFlag,
		c.DisplayContext,
		c.UserContext,
		c.Confidence,
		c.ExpertID,
		c.Timestamp,
		c.NeedsReview,
		c.ReviewReason,
	).Scan(&c.ID)
}
