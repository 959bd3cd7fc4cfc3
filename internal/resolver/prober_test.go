package resolver

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"flag-classifier/internal/metrics"
	"flag-classifier/internal/models"
)

func newMockedProber(t *testing.T, cfg HTTPProberConfig, m *metrics.Metrics) *HTTPProber {
	t.Helper()
	p, err := NewHTTPProber(cfg, m, zap.NewNop())
	require.NoError(t, err)
	httpmock.ActivateNonDefault(p.HTTPClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	return p
}

func TestHTTPProber_ResolvesRelativeAgainstOrigin(t *testing.T) {
	p := newMockedProber(t, HTTPProberConfig{Origin: "https://labels.example.org"}, nil)

	httpmock.RegisterResponder(http.MethodHead, "https://labels.example.org/static/BANGOR/a.jpg",
		httpmock.NewStringResponder(http.StatusOK, ""))
	httpmock.RegisterResponder(http.MethodHead, "https://labels.example.org/static/BANGOR/b.jpg",
		httpmock.NewStringResponder(http.StatusNotFound, ""))

	require.NoError(t, p.Probe(context.Background(), "/static/BANGOR/a.jpg"))

	err := p.Probe(context.Background(), "/static/BANGOR/b.jpg")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAssetMiss)
}

func TestHTTPProber_RelativeWithoutOrigin(t *testing.T) {
	p := newMockedProber(t, HTTPProberConfig{}, nil)

	err := p.Probe(context.Background(), "/static/X/a.jpg")
	assert.ErrorIs(t, err, ErrAssetMiss)
	assert.Equal(t, 0, httpmock.GetTotalCallCount())
}

func TestHTTPProber_FallsBackToRangedGet(t *testing.T) {
	p := newMockedProber(t, HTTPProberConfig{}, nil)
	target := "https://bucket.example.org/flag-images/NEWRY/a.jpg"

	httpmock.RegisterResponder(http.MethodHead, target,
		httpmock.NewStringResponder(http.StatusMethodNotAllowed, ""))
	httpmock.RegisterResponder(http.MethodGet, target,
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "bytes=0-0", req.Header.Get("Range"))
			return httpmock.NewStringResponse(http.StatusPartialContent, "x"), nil
		})

	require.NoError(t, p.Probe(context.Background(), target))
	assert.Equal(t, 2, httpmock.GetTotalCallCount())
}

func TestHTTPProber_CachesOutcomes(t *testing.T) {
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)
	p := newMockedProber(t, HTTPProberConfig{CacheTTL: time.Minute}, m)

	hit := "https://cdn.example.org/A/hit.jpg"
	miss := "https://cdn.example.org/A/miss.jpg"
	httpmock.RegisterResponder(http.MethodHead, hit, httpmock.NewStringResponder(http.StatusOK, ""))
	httpmock.RegisterResponder(http.MethodHead, miss, httpmock.NewStringResponder(http.StatusNotFound, ""))

	for i := 0; i < 3; i++ {
		require.NoError(t, p.Probe(context.Background(), hit))
		require.ErrorIs(t, p.Probe(context.Background(), miss), ErrAssetMiss)
	}

	assert.Equal(t, 2, httpmock.GetTotalCallCount())
	assert.InDelta(t, 4, testutil.ToFloat64(m.ProbeCacheHits), 0)

	p.Flush()
	require.NoError(t, p.Probe(context.Background(), hit))
	assert.Equal(t, 3, httpmock.GetTotalCallCount())
}

func TestHTTPProber_NegativeTTLDisablesCache(t *testing.T) {
	p := newMockedProber(t, HTTPProberConfig{CacheTTL: -time.Second}, nil)

	hit := "https://cdn.example.org/B/hit.jpg"
	httpmock.RegisterResponder(http.MethodHead, hit, httpmock.NewStringResponder(http.StatusOK, ""))

	for i := 0; i < 3; i++ {
		require.NoError(t, p.Probe(context.Background(), hit))
	}
	assert.Equal(t, 3, httpmock.GetTotalCallCount())
}

func TestHTTPProber_TransportErrorIsMiss(t *testing.T) {
	p := newMockedProber(t, HTTPProberConfig{}, nil)
	// No responder registered: httpmock returns a transport error.
	err := p.Probe(context.Background(), "https://down.example.org/a.jpg")
	assert.ErrorIs(t, err, ErrAssetMiss)
}

func TestResolver_WithHTTPProber(t *testing.T) {
	p := newMockedProber(t, HTTPProberConfig{Origin: "https://labels.example.org"}, nil)
	httpmock.RegisterNoResponder(httpmock.NewStringResponder(http.StatusNotFound, ""))
	httpmock.RegisterResponder(http.MethodHead, "https://labels.example.org/images/ENNISKILLEN/composite_f.jpg",
		httpmock.NewStringResponder(http.StatusOK, ""))

	r := New(Config{Roots: []string{"/static", "/images"}, Placeholders: testPlaceholders}, p, nil, zap.NewNop())

	res := r.Resolve(context.Background(), models.ImageRecord{Town: "Enniskillen", Filename: "f.jpg"}, models.ModeComposite)

	assert.Equal(t, StatusFound, res.Status)
	assert.Equal(t, "/images/ENNISKILLEN/composite_f.jpg", res.URL)
	assert.Equal(t, 2, res.Attempts)
}
