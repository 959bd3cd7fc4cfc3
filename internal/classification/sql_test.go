package classification

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"flag-classifier/internal/models"
	"flag-classifier/internal/repository"
)

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := repository.NewSQLiteDB(filepath.Join(t.TempDir(), "classifications.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, repository.Migrate(db, zap.NewNop()))

	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	return NewSQLStore(db, zap.NewNop()).WithClock(tickingClock(start))
}

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return NewSQLStore(sqlx.NewDb(mockDB, "sqlmock"), zap.NewNop()), mock
}

var mockColumns = []string{
	"id", "image_id", "town", "primary_category", "specific_flag", "display_context",
	"user_context", "confidence", "expert_id", "timestamp", "needs_review", "review_reason",
}

func TestSQLStore_SubmitAndRead(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	saved, err := s.Submit(ctx, validClassification("x.jpg"))
	require.NoError(t, err)
	assert.Positive(t, saved.ID)

	second := validClassification("x.jpg")
	second.SpecificFlag = "Ulster Banner"
	second.UserContext = "Loyalist"
	_, err = s.Submit(ctx, second)
	require.NoError(t, err)

	current, err := s.Current(ctx, "x.jpg")
	require.NoError(t, err)
	assert.Equal(t, "Ulster Banner", current.SpecificFlag)
	assert.Equal(t, "Loyalist", current.UserContext)
	assert.Equal(t, 3, current.Confidence)
	assert.False(t, current.NeedsReview)

	rows, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].Timestamp.After(rows[1].Timestamp))

	_, err = s.Current(ctx, "missing.jpg")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLStore_FlagTwiceKeepsOneCurrentRow(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	first, err := s.Flag(ctx, "y.jpg", "blurry", "")
	require.NoError(t, err)
	assert.Equal(t, models.ReviewCategory, first.PrimaryCategory)
	assert.Equal(t, models.AnonymousExpert, first.ExpertID)

	_, err = s.Flag(ctx, "y.jpg", "wrong town", "bob")
	require.NoError(t, err)

	rows, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	current, err := s.Current(ctx, "y.jpg")
	require.NoError(t, err)
	assert.True(t, current.NeedsReview)
	assert.Equal(t, "wrong town", current.ReviewReason)
}

func TestSQLStore_FlagUpdatesMostRecentRow(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	_, err := s.Submit(ctx, validClassification("z.jpg"))
	require.NoError(t, err)
	newer, err := s.Submit(ctx, validClassification("z.jpg"))
	require.NoError(t, err)

	flagged, err := s.Flag(ctx, "z.jpg", "", "")
	require.NoError(t, err)
	assert.Equal(t, newer.ID, flagged.ID)
	assert.Equal(t, models.DefaultReviewReason, flagged.ReviewReason)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.Labeled)
	assert.Equal(t, 1, stats.Flagged)
	assert.InDelta(t, 3.0, stats.AvgConfidence, 0.001)
	assert.Equal(t, map[string]int{"alice": 2}, stats.ByExpert)
	assert.Equal(t, map[string]int{"National": 2}, stats.ByCategory)
}

func TestSQLStore_StatsEmpty(t *testing.T) {
	stats, err := newSQLiteStore(t).Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)
	assert.Zero(t, stats.AvgConfidence)
	assert.Empty(t, stats.ByExpert)
}

func TestSQLStore_ValidationSkipsDatabase(t *testing.T) {
	s, mock := newMockStore(t)

	c := validClassification("x.jpg")
	c.Confidence = 6
	_, err := s.Submit(context.Background(), c)

	assert.True(t, IsValidation(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_FlagUpdateFailureIsBackendError(t *testing.T) {
	s, mock := newMockStore(t)
	ts := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT .* FROM classifications\s+WHERE image_id = \?`).
		WithArgs("x.jpg").
		WillReturnRows(sqlmock.NewRows(mockColumns).
			AddRow(4, "x.jpg", "BELFAST", "National", "Union Flag", "Lamppost", "", 3, "alice", ts, false, ""))
	mock.ExpectExec(`UPDATE classifications SET needs_review = \?, review_reason = \? WHERE id = \?`).
		WithArgs(true, "blurry", int64(4)).
		WillReturnError(errors.New("connection reset by peer"))

	_, err := s.Flag(context.Background(), "x.jpg", "blurry", "alice")

	var be *BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "flag", be.Op)
	assert.False(t, IsValidation(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_FlagLookupFailureSkipsWrite(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .* FROM classifications`).
		WithArgs("x.jpg").
		WillReturnError(errors.New("database is locked"))

	_, err := s.Flag(context.Background(), "x.jpg", "", "")

	assert.True(t, IsBackend(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_SubmitInsertFailure(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`INSERT INTO classifications`).
		WillReturnError(errors.New("disk full"))

	_, err := s.Submit(context.Background(), validClassification("x.jpg"))

	assert.True(t, IsBackend(err))
	assert.ErrorContains(t, err, "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}
