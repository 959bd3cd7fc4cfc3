// Package resolver maps catalog entries to loadable image URLs.
//
// A record is turned into an ordered list of candidate locations (see
// Candidates) which are probed one at a time. The first candidate that loads
// wins; when none does, a placeholder chosen from the record identity is
// returned so the same record always falls back to the same image.
package resolver

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"

	"go.uber.org/zap"

	"flag-classifier/internal/metrics"
	"flag-classifier/internal/models"
)

// Status describes how a Result was obtained.
type Status string

const (
	StatusFound       Status = "found"
	StatusPlaceholder Status = "placeholder" // recoverable asset miss
	StatusCanceled    Status = "canceled"
)

// Result is the outcome of a resolution. URL is never empty.
type Result struct {
	URL      string             `json:"url"`
	Genuine  bool               `json:"genuine"`
	Status   Status             `json:"status"`
	Mode     models.DisplayMode `json:"mode"`
	Attempts int                `json:"attempts"`
}

// Config configures a Resolver.
type Config struct {
	Roots        []string
	Placeholders []string
}

// Resolver resolves image records to URLs. It is safe for concurrent use.
type Resolver struct {
	roots        []string
	placeholders []string
	prober       Prober
	metrics      *metrics.Metrics
	logger       *zap.Logger
}

// lastResortPlaceholder is used when no placeholders are configured.
const lastResortPlaceholder = "/placeholder.jpg"

// New creates a resolver.
func New(cfg Config, prober Prober, m *metrics.Metrics, logger *zap.Logger) *Resolver {
	placeholders := cfg.Placeholders
	if len(placeholders) == 0 {
		placeholders = []string{lastResortPlaceholder}
	}
	return &Resolver{
		roots:        append([]string(nil), cfg.Roots...),
		placeholders: append([]string(nil), placeholders...),
		prober:       prober,
		metrics:      m,
		logger:       logger,
	}
}

// Candidates returns the probe order for rec in mode.
func (r *Resolver) Candidates(rec models.ImageRecord, mode models.DisplayMode) []string {
	return Candidates(rec, mode, r.roots)
}

// Placeholder returns the deterministic fallback for rec.
func (r *Resolver) Placeholder(rec models.ImageRecord) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(identityKey(rec)))
	return r.placeholders[h.Sum32()%uint32(len(r.placeholders))]
}

// Resolve probes the candidates for rec sequentially and returns the first
// that loads. It never fails: exhaustion yields StatusPlaceholder and a
// canceled context yields StatusCanceled, both with the placeholder URL.
func (r *Resolver) Resolve(ctx context.Context, rec models.ImageRecord, mode models.DisplayMode) Result {
	if !mode.Valid() {
		mode = models.ModeCropped
	}

	candidates := r.Candidates(rec, mode)
	result := Result{Mode: mode}

	for _, candidate := range candidates {
		if ctx.Err() != nil {
			return r.fallback(rec, result, StatusCanceled)
		}

		result.Attempts++
		err := r.prober.Probe(ctx, candidate)
		if err == nil {
			result.URL = candidate
			result.Genuine = true
			result.Status = StatusFound
			return result
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return r.fallback(rec, result, StatusCanceled)
		}
	}

	if ctx.Err() != nil {
		return r.fallback(rec, result, StatusCanceled)
	}

	r.logger.Info("No candidate location holds the asset, using placeholder",
		zap.String("image", rec.Identity()),
		zap.String("mode", string(mode)),
		zap.Int("attempts", result.Attempts))
	r.metrics.IncrementPlaceholders()

	return r.fallback(rec, result, StatusPlaceholder)
}

func (r *Resolver) fallback(rec models.ImageRecord, result Result, status Status) Result {
	return Result{
		URL:      r.Placeholder(rec),
		Genuine:  false,
		Status:   status,
		Mode:     result.Mode,
		Attempts: result.Attempts,
	}
}

// View tracks the resolution currently on screen. Starting a new one cancels
// the previous, so a mode switch never waits behind stale probes.
type View struct {
	resolver *Resolver
	mu       sync.Mutex
	cancel   context.CancelFunc
	gen      uint64
}

// NewView creates a view backed by r.
func (r *Resolver) NewView() *View {
	return &View{resolver: r}
}

// Show cancels any in-flight resolution and resolves rec in mode. A call
// that is superseded before finishing returns StatusCanceled.
func (v *View) Show(ctx context.Context, rec models.ImageRecord, mode models.DisplayMode) Result {
	v.mu.Lock()
	if v.cancel != nil {
		v.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	v.cancel = cancel
	v.gen++
	gen := v.gen
	v.mu.Unlock()

	result := v.resolver.Resolve(ctx, rec, mode)

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.gen != gen {
		result = v.resolver.fallback(rec, result, StatusCanceled)
	} else {
		v.cancel = nil
	}
	cancel()

	return result
}

// Close cancels any in-flight resolution.
func (v *View) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
}
