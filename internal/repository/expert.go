package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"flag-classifier/internal/models"
)

type ExpertRepository interface {
	CreateExpert(ctx context.Context, expert *models.Expert) error
	GetExpertByUsername(ctx context.Context, username string) (*models.Expert, error)
	CountExperts(ctx context.Context) (int, error)
}

type expertRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewExpertRepository(db *sqlx.DB, logger *zap.Logger) ExpertRepository {
	return &expertRepository{db: db, logger: logger}
}

func (r *expertRepository) CreateExpert(ctx context.Context, expert *models.Expert) error {
	if expert.CreatedAt.IsZero() {
		expert.CreatedAt = time.Now().UTC()
	}
	query := r.db.Rebind(`INSERT INTO experts (username, password_hash, created_at) VALUES (?, ?, ?) RETURNING id`)
	return r.db.QueryRowxContext(ctx, query, expert.Username, expert.PasswordHash, expert.CreatedAt).Scan(&expert.ID)
}

func (r *expertRepository) GetExpertByUsername(ctx context.Context, username string) (*models.Expert, error) {
	var expert models.Expert
	query := r.db.Rebind(`SELECT id, username, password_hash, created_at FROM experts WHERE username = ?`)
	err := r.db.GetContext(ctx, &expert, query, username)
	if err != nil {
		return nil, err
	}
	return &expert, nil
}

func (r *expertRepository) CountExperts(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM experts`
	err := r.db.GetContext(ctx, &count, query)
	if err != nil {
		return 0, err
	}
	return count, nil
}
