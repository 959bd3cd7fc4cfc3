package server

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"flag-classifier/internal/catalog"
	"flag-classifier/internal/classification"
	"flag-classifier/internal/metrics"
	"flag-classifier/internal/models"
	"flag-classifier/internal/repository"
	"flag-classifier/internal/resolver"
	"flag-classifier/internal/service"
	"flag-classifier/internal/taxonomy"
)

type testServer struct {
	handler http.Handler
	store   *classification.MemoryStore
}

func newTestServer(t *testing.T, authRequired bool) *testServer {
	t.Helper()
	logger := zap.NewNop()

	db, err := repository.NewSQLiteDB(filepath.Join(t.TempDir(), "server.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, repository.Migrate(db, logger))

	registry := prometheus.NewRegistry()
	m, err := metrics.New(registry)
	require.NoError(t, err)

	prober := resolver.ProberFunc(func(_ context.Context, candidate string) error {
		if candidate == "/static/BELFAST/x.jpg" {
			return nil
		}
		return resolver.ErrAssetMiss
	})
	r := resolver.New(resolver.Config{
		Roots:        []string{"/static"},
		Placeholders: []string{"https://example.org/p1.jpg", "https://example.org/p2.jpg"},
	}, prober, m, logger)

	store := classification.NewMemoryStore()
	auth := service.NewAuthService(repository.NewExpertRepository(db, logger), service.AuthConfig{
		JWTSecret:         "test-secret",
		TokenTTL:          time.Hour,
		AllowRegistration: true,
	}, logger)

	srv := NewServer(Deps{
		Catalog: &catalog.Catalog{Images: []models.ImageRecord{
			{Town: "BELFAST", Filename: "x.jpg"},
			{Town: "LARNE", Filename: "y.jpg"},
		}},
		Resolver:     r,
		Taxonomy:     taxonomy.Default(),
		Store:        classification.Instrument(store, m),
		Reader:       store,
		Auth:         auth,
		Positions:    repository.NewPositionRepository(db, logger),
		Gatherer:     registry,
		AuthRequired: authRequired,
	}, logger)

	return &testServer{handler: srv.Handler(), store: store}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func saveBody(confidence int) obj {
	return obj{
		"action": "save",
		"classification": obj{
			"imageId":         "x.jpg",
			"town":            "BELFAST",
			"primaryCategory": "National",
			"specificFlag":    "Union Jack",
			"displayContext":  "Lamppost-mounted",
			"confidence":      confidence,
			"expertId":        "spoofed",
		},
	}
}

type obj = map[string]any

func TestHealthAndImages(t *testing.T) {
	s := newTestServer(t, false)

	w := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/images", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var images struct {
		Images []models.ImageRecord `json:"images"`
		Total  int                  `json:"total"`
	}
	decode(t, w, &images)
	assert.Equal(t, 2, images.Total)
	assert.Equal(t, "x.jpg", images.Images[0].Filename)
}

func TestResolveEndpoint(t *testing.T) {
	s := newTestServer(t, false)

	w := s.do(t, http.MethodGet, "/api/images/resolve?town=Belfast&filename=x.jpg&mode=composite", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var found resolver.Result
	decode(t, w, &found)
	assert.Equal(t, resolver.StatusFound, found.Status)
	assert.Equal(t, "/static/BELFAST/x.jpg", found.URL)

	w = s.do(t, http.MethodGet, "/api/images/resolve?town=Larne&filename=y.jpg", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var miss resolver.Result
	decode(t, w, &miss)
	assert.Equal(t, resolver.StatusPlaceholder, miss.Status)
	assert.NotEmpty(t, miss.URL)

	w = s.do(t, http.MethodGet, "/api/images/resolve?filename=y.jpg&mode=thumbnail", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/images/resolve?town=Larne", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestClassificationLifecycle(t *testing.T) {
	s := newTestServer(t, false)

	w := s.do(t, http.MethodPost, "/api/classifications", "", saveBody(3))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var saved models.ClassificationResponse
	decode(t, w, &saved)
	assert.True(t, saved.Success)
	assert.Equal(t, "spoofed", saved.Data.ExpertID, "unverified callers keep the claimed identity")

	w = s.do(t, http.MethodPost, "/api/classifications", "", obj{"action": "flag", "imageId": "x.jpg", "reason": "blurry"})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/classifications/x.jpg/current", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var current models.Classification
	decode(t, w, &current)
	assert.True(t, current.NeedsReview)
	assert.Equal(t, "blurry", current.ReviewReason)

	w = s.do(t, http.MethodGet, "/api/classifications/none.jpg/current", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/api/classifications/stats", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats models.ClassificationStats
	decode(t, w, &stats)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Flagged)

	w = s.do(t, http.MethodGet, "/api/export/csv", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	records, err := csv.NewReader(strings.NewReader(w.Body.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "image_id", records[0][1])
	assert.Equal(t, "x.jpg", records[1][1])
	assert.Equal(t, "true", records[1][10])

	w = s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `classification_store_operations_total{action="save",result="success"} 1`)
}

func TestClassificationErrors(t *testing.T) {
	s := newTestServer(t, false)

	w := s.do(t, http.MethodPost, "/api/classifications", "", saveBody(6))
	require.Equal(t, http.StatusBadRequest, w.Code)
	var invalid models.ClassificationResponse
	decode(t, w, &invalid)
	assert.False(t, invalid.Success)
	assert.Equal(t, []string{"confidence"}, invalid.Fields)

	w = s.do(t, http.MethodPost, "/api/classifications", "", obj{"action": "delete"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	var unknown models.ClassificationResponse
	decode(t, w, &unknown)
	assert.Equal(t, "Unknown action", unknown.Error)

	w = s.do(t, http.MethodPost, "/api/classifications", "", obj{"action": "save"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	require.NoError(t, s.store.Close())
	w = s.do(t, http.MethodPost, "/api/classifications", "", obj{"action": "flag", "imageId": "x.jpg"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	rows := s.do(t, http.MethodGet, "/api/classifications", "", nil)
	assert.Equal(t, http.StatusInternalServerError, rows.Code)
}

func TestAuthFlow(t *testing.T) {
	s := newTestServer(t, true)

	w := s.do(t, http.MethodPost, "/api/classifications", "", saveBody(4))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/api/auth/register", "", obj{"username": "alice", "password": "pw"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/auth/login", "", obj{"username": "alice", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/api/auth/login", "", obj{"username": "alice", "password": "pw"})
	require.Equal(t, http.StatusOK, w.Code)
	var login struct {
		Token    string `json:"token"`
		Position int    `json:"position"`
	}
	decode(t, w, &login)
	require.NotEmpty(t, login.Token)
	assert.Equal(t, 0, login.Position)

	w = s.do(t, http.MethodGet, "/api/current-user", login.Token, nil)
	assert.JSONEq(t, `{"username":"alice"}`, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/classifications", login.Token, saveBody(4))
	require.Equal(t, http.StatusOK, w.Code)
	var saved models.ClassificationResponse
	decode(t, w, &saved)
	assert.Equal(t, "alice", saved.Data.ExpertID, "verified identity overrides the body")

	w = s.do(t, http.MethodPut, "/api/session/position", login.Token, obj{"index": -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/auth/logout", login.Token, obj{"position": 1})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/session/position", login.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"expertId":"alice","index":1,"saved":true}`, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/auth/login", "", obj{"username": "alice", "password": "pw"})
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &login)
	assert.Equal(t, 1, login.Position)
}

func TestCurrentUser_AnonymousByDefault(t *testing.T) {
	s := newTestServer(t, true)

	w := s.do(t, http.MethodGet, "/api/current-user", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"username":"anonymous"}`, w.Body.String())
}

func TestLogin_OutOfRangePositionResets(t *testing.T) {
	s := newTestServer(t, true)

	w := s.do(t, http.MethodPost, "/api/auth/register", "", obj{"username": "bob", "password": "pw"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/auth/login", "", obj{"username": "bob", "password": "pw"})
	require.Equal(t, http.StatusOK, w.Code)
	var login struct {
		Token    string `json:"token"`
		Position int    `json:"position"`
	}
	decode(t, w, &login)

	// The test catalog holds two images.
	w = s.do(t, http.MethodPut, "/api/session/position", login.Token, obj{"index": 7})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/session/position", login.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"expertId":"bob","index":0,"saved":true}`, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/auth/login", "", obj{"username": "bob", "password": "pw"})
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &login)
	assert.Equal(t, 0, login.Position)

	// A finished queue is kept.
	w = s.do(t, http.MethodPut, "/api/session/position", login.Token, obj{"index": 2})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, "/api/auth/login", "", obj{"username": "bob", "password": "pw"})
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &login)
	assert.Equal(t, 2, login.Position)
}
