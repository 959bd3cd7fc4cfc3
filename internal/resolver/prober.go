package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"flag-classifier/internal/metrics"
)

// ErrAssetMiss is returned by a Prober when the candidate does not load.
// It is recoverable: the resolver moves on to the next candidate.
var ErrAssetMiss = errors.New("asset not found")

// Prober answers "does this URL load".
type Prober interface {
	Probe(ctx context.Context, candidate string) error
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, candidate string) error

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context, candidate string) error {
	return f(ctx, candidate)
}

// HTTPProberConfig configures an HTTPProber.
type HTTPProberConfig struct {
	Origin   string        // base URL for origin-relative candidates
	Timeout  time.Duration // per request
	CacheTTL time.Duration // zero or negative disables caching
}

// HTTPProber checks candidates with HEAD requests against the asset origin
// and remembers outcomes for CacheTTL.
type HTTPProber struct {
	origin     *url.URL
	httpClient *http.Client
	cache      *cache.Cache
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewHTTPProber creates a prober. An empty origin only allows absolute candidates.
func NewHTTPProber(cfg HTTPProberConfig, m *metrics.Metrics, logger *zap.Logger) (*HTTPProber, error) {
	p := &HTTPProber{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		metrics:    m,
		logger:     logger,
	}

	if cfg.Origin != "" {
		origin, err := url.Parse(cfg.Origin)
		if err != nil {
			return nil, fmt.Errorf("invalid asset origin: %w", err)
		}
		p.origin = origin
	}

	if cfg.CacheTTL > 0 {
		p.cache = cache.New(cfg.CacheTTL, cfg.CacheTTL*2)
	}

	return p, nil
}

// HTTPClient exposes the underlying client, mainly for tests.
func (p *HTTPProber) HTTPClient() *http.Client {
	return p.httpClient
}

// Probe implements Prober.
func (p *HTTPProber) Probe(ctx context.Context, candidate string) error {
	target, err := p.absolute(candidate)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAssetMiss, err)
	}

	if p.cache != nil {
		if found, ok := p.cache.Get(target); ok {
			p.metrics.IncrementProbeCacheHits()
			if found.(bool) {
				return nil
			}
			return ErrAssetMiss
		}
	}

	start := time.Now()
	err = p.check(ctx, target)
	p.metrics.ObserveProbe(err == nil, time.Since(start).Seconds())

	// Cancellation says nothing about the asset, so it is not cached.
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if p.cache != nil {
		p.cache.Set(target, err == nil, cache.DefaultExpiration)
	}

	if err != nil {
		p.logger.Debug("Asset candidate did not load", zap.String("url", target), zap.Error(err))
	}
	return err
}

// Flush forgets all cached probe outcomes.
func (p *HTTPProber) Flush() {
	if p.cache != nil {
		p.cache.Flush()
	}
}

func (p *HTTPProber) absolute(candidate string) (string, error) {
	ref, err := url.Parse(candidate)
	if err != nil {
		return "", err
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	if p.origin == nil {
		return "", fmt.Errorf("relative candidate %q without asset origin", candidate)
	}
	return p.origin.ResolveReference(ref).String(), nil
}

func (p *HTTPProber) check(ctx context.Context, target string) error {
	status, err := p.do(ctx, http.MethodHead, target)
	if err != nil {
		return err
	}

	// Some object stores reject HEAD; ask for the first byte instead.
	if status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented {
		status, err = p.do(ctx, http.MethodGet, target)
		if err != nil {
			return err
		}
	}

	if status >= 200 && status < 300 {
		return nil
	}
	return fmt.Errorf("%w: status %d", ErrAssetMiss, status)
}

func (p *HTTPProber) do(ctx context.Context, method, target string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrAssetMiss, err)
	}
	if method == http.MethodGet {
		req.Header.Set("Range", "bytes=0-0")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("%w: %v", ErrAssetMiss, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	return resp.StatusCode, nil
}
