package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"flag-classifier/internal/models"
)

// PositionRepository stores the catalog index each expert last reached.
type PositionRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewPositionRepository(db *sqlx.DB, logger *zap.Logger) *PositionRepository {
	return &PositionRepository{db: db, logger: logger}
}

// GetPosition returns the saved position row, or nil when none was saved.
func (r *PositionRepository) GetPosition(ctx context.Context, expertID string) (*models.SessionPosition, error) {
	var pos models.SessionPosition
	query := r.db.Rebind(`SELECT expert_id, position, updated_at FROM session_positions WHERE expert_id = ?`)
	err := r.db.GetContext(ctx, &pos, query, expertID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load position: %w", err)
	}
	return &pos, nil
}

// LoadPosition returns the saved index, or false when none was saved.
func (r *PositionRepository) LoadPosition(ctx context.Context, expertID string) (int, bool, error) {
	pos, err := r.GetPosition(ctx, expertID)
	if err != nil || pos == nil {
		return 0, false, err
	}
	return pos.Index, true, nil
}

// SavePosition upserts the index for expertID.
func (r *PositionRepository) SavePosition(ctx context.Context, expertID string, index int) error {
	query := r.db.Rebind(`
		INSERT INTO session_positions (expert_id, position, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (expert_id) DO UPDATE SET position = excluded.position, updated_at = excluded.updated_at`)
	if _, err := r.db.ExecContext(ctx, query, expertID, index, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save position: %w", err)
	}

	r.logger.Debug("Session position saved", zap.String("expert_id", expertID), zap.Int("index", index))
	return nil
}
