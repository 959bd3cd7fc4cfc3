package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"flag-classifier/internal/catalog"
	"flag-classifier/internal/classification"
	"flag-classifier/internal/config"
	"flag-classifier/internal/models"
	"flag-classifier/internal/repository"
	"flag-classifier/internal/resolver"
	"flag-classifier/internal/server"
	"flag-classifier/internal/service"
	"flag-classifier/internal/session"
	"flag-classifier/internal/taxonomy"
)

// newBackend serves the classification API over a real listener.
func newBackend(t *testing.T) (string, *classification.MemoryStore) {
	t.Helper()
	return newBackendWith(t, []models.ImageRecord{
		{Town: "BELFAST", Filename: "x.jpg"},
		{Town: "LARNE", Filename: "y.jpg"},
	}, nil)
}

// newBackendWith serves images from the API and, when assets is set, every
// other path from assets.
func newBackendWith(t *testing.T, images []models.ImageRecord, assets http.Handler) (string, *classification.MemoryStore) {
	t.Helper()
	logger := zap.NewNop()

	db, err := repository.NewSQLiteDB(filepath.Join(t.TempDir(), "backend.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, repository.Migrate(db, logger))

	store := classification.NewMemoryStore()
	srv := server.NewServer(server.Deps{
		Catalog:  &catalog.Catalog{Images: images},
		Resolver: resolver.New(resolver.Config{}, nil, nil, logger),
		Taxonomy: taxonomy.Default(),
		Store:    store,
		Reader:   store,
		Auth: service.NewAuthService(repository.NewExpertRepository(db, logger), service.AuthConfig{
			JWTSecret: "test-secret",
			TokenTTL:  time.Hour,
		}, logger),
		Positions: repository.NewPositionRepository(db, logger),
	}, logger)

	mux := http.NewServeMux()
	mux.Handle("/api/", srv.Handler())
	if assets != nil {
		mux.Handle("/", assets)
	}

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts.URL, store
}

func newTestSession(t *testing.T, baseURL string, positions session.PositionStore) *session.Session {
	t.Helper()
	logger := zap.NewNop()

	miss := resolver.ProberFunc(func(context.Context, string) error { return resolver.ErrAssetMiss })
	s := session.New(session.Options{
		ExpertID:  "alice",
		Catalog:   catalog.NewHTTPSource(baseURL+"/api/images", time.Second),
		Store:     classification.NewRemoteStore(baseURL+"/api/classifications", "", time.Second, logger),
		Positions: positions,
		Resolver: resolver.New(resolver.Config{
			Roots:        []string{"/static"},
			Placeholders: []string{"https://example.org/p.jpg"},
		}, miss, nil, logger),
		Logger: logger,
	})
	require.NoError(t, s.Start(context.Background()))
	return s
}

func TestREPL_LabelsAgainstServer(t *testing.T) {
	baseURL, store := newBackend(t)
	positions := session.NewMemoryPositions()
	s := newTestSession(t, baseURL, positions)

	var out bytes.Buffer
	input := strings.Join([]string{
		"flag Union Jack",
		"context Lamppost-mounted",
		"confidence 4",
		"save",
		"review blurry",
		"stats",
		"quit",
	}, "\n")

	require.NoError(t, newREPL(s, &out).run(context.Background(), strings.NewReader(input)))
	require.NoError(t, s.Logout(context.Background()))

	printed := out.String()
	assert.Contains(t, printed, "[1/2] BELFAST x.jpg")
	assert.Contains(t, printed, "https://example.org/p.jpg (composite, placeholder)")
	assert.Contains(t, printed, "recorded x.jpg")
	assert.Contains(t, printed, "recorded y.jpg")
	assert.Contains(t, printed, "queue finished")
	assert.Contains(t, printed, "labeled 1, flagged 1")

	rows, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	byImage := map[string]models.Classification{}
	for _, row := range rows {
		byImage[row.ImageID] = row
	}
	assert.Equal(t, "Union Jack", byImage["x.jpg"].SpecificFlag)
	assert.Equal(t, "National", byImage["x.jpg"].PrimaryCategory)
	assert.Equal(t, 4, byImage["x.jpg"].Confidence)
	assert.Equal(t, "alice", byImage["x.jpg"].ExpertID)
	assert.True(t, byImage["y.jpg"].NeedsReview)
	assert.Equal(t, "blurry", byImage["y.jpg"].ReviewReason)

	index, saved, err := positions.LoadPosition(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, saved)
	assert.Equal(t, 2, index)
}

func TestREPL_Errors(t *testing.T) {
	baseURL, store := newBackend(t)
	s := newTestSession(t, baseURL, nil)

	var out bytes.Buffer
	r := newREPL(s, &out)
	ctx := context.Background()

	err := r.exec(ctx, "save")
	assert.ErrorIs(t, err, session.ErrNoSelection)

	require.NoError(t, r.exec(ctx, "category National"))
	err = r.exec(ctx, "save")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "displayContext")

	assert.ErrorIs(t, r.exec(ctx, "flag Pirate"), session.ErrUnknownFlag)
	assert.Error(t, r.exec(ctx, "confidence high"))
	assert.Error(t, r.exec(ctx, "teleport"))
	assert.ErrorIs(t, r.exec(ctx, "quit"), errQuit)

	require.NoError(t, r.exec(ctx, "context On a balloon"))
	assert.Contains(t, out.String(), `"On a balloon" is not a listed display context`)

	rows, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Equal(t, 0, s.Index())
}

func TestREPL_StopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := session.New(session.Options{ExpertID: "alice", Logger: zap.NewNop()})
	require.NoError(t, s.Start(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	// An open reader never yields a line; cancellation alone ends the loop.
	reader, writer := io.Pipe()
	assert.NoError(t, newREPL(s, &out).run(ctx, reader))

	// A line arriving after cancellation lets the reader goroutine exit.
	_, err := writer.Write([]byte("show\n"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())
}

func TestNewSession_FindsExplicitPathOnServer(t *testing.T) {
	var requests atomic.Int32
	assets := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.URL.Path == "/uploads/BELFAST/x.jpg" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
	})
	baseURL, _ := newBackendWith(t, []models.ImageRecord{
		{Town: "BELFAST", Filename: "x.jpg", PrimaryPath: "uploads/BELFAST/x.jpg"},
	}, assets)

	path := filepath.Join(t.TempDir(), "labeler.yml")
	require.NoError(t, os.WriteFile(path, []byte("server_url: "+baseURL+"\nexpert_id: alice\n"), 0o600))
	cfg, err := config.LoadLabelerConfig(path)
	require.NoError(t, err)

	s, err := newSession(cfg, session.NewMemoryPositions(), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	res, ok := s.Display(context.Background(), models.ModeCropped)
	require.True(t, ok)
	assert.Equal(t, resolver.StatusFound, res.Status)
	assert.Equal(t, "/uploads/BELFAST/x.jpg", res.URL)
	assert.Equal(t, int32(1), requests.Load())
}
