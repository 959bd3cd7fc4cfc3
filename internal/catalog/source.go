package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

// FileSource reads a catalog from a JSON file.
type FileSource struct {
	Path string
}

// Load implements Source.
func (s FileSource) Load(_ context.Context) (*Catalog, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return Decode(data)
}

// HTTPSource fetches a catalog from a read endpoint.
type HTTPSource struct {
	URL        string
	httpClient *http.Client
}

// NewHTTPSource creates an HTTP catalog source.
func NewHTTPSource(url string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		URL:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// HTTPClient exposes the underlying client, mainly for tests.
func (s *HTTPSource) HTTPClient() *http.Client {
	return s.httpClient
}

// Load implements Source.
func (s *HTTPSource) Load(ctx context.Context) (*Catalog, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog endpoint returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Decode(data)
}

// MultiSource merges several sources. A failing source is logged and skipped;
// Load fails only when every source fails.
type MultiSource struct {
	Sources []Source
	Logger  *zap.Logger
}

// NewSources builds a MultiSource from file paths and http(s) URLs.
// Blank entries, such as unset environment variables, are skipped.
func NewSources(locations []string, timeout time.Duration, logger *zap.Logger) *MultiSource {
	m := &MultiSource{Logger: logger}
	for _, loc := range locations {
		loc = strings.TrimSpace(loc)
		if loc == "" {
			continue
		}
		if strings.HasPrefix(loc, "http://") || strings.HasPrefix(loc, "https://") {
			m.Sources = append(m.Sources, NewHTTPSource(loc, timeout))
		} else {
			m.Sources = append(m.Sources, FileSource{Path: loc})
		}
	}
	return m
}

// Load implements Source.
func (m *MultiSource) Load(ctx context.Context) (*Catalog, error) {
	if len(m.Sources) == 0 {
		return nil, fmt.Errorf("no catalog sources configured")
	}

	var loaded []*Catalog
	var lastErr error
	for i, src := range m.Sources {
		c, err := src.Load(ctx)
		if err != nil {
			m.Logger.Warn("Catalog source failed", zap.Int("source", i), zap.Error(err))
			lastErr = err
			continue
		}
		loaded = append(loaded, c)
	}

	if len(loaded) == 0 {
		return nil, fmt.Errorf("all catalog sources failed: %w", lastErr)
	}

	merged := Merge(loaded...)
	m.Logger.Info("Catalog loaded",
		zap.Int("sources", len(loaded)),
		zap.Int("images", merged.Len()))
	return merged, nil
}
