// Package resolver composes the fetch chain and the extractor registry into a
// single per-URL operation.
package resolver

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/patchtrace/patchtrace/internal/advisory"
	"github.com/patchtrace/patchtrace/internal/extract"
)

// Config controls resolver behavior.
type Config struct {
	// CourtesyDelayMin/Max bound the randomized pause after every resolution,
	// independent of the per-domain rate window.
	CourtesyDelayMin time.Duration
	CourtesyDelayMax time.Duration
}

// Resolver fetches, extracts, and summarizes one advisory URL.
type Resolver struct {
	chain    advisory.Fetcher
	registry *extract.Registry
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Resolver.
func New(chain advisory.Fetcher, registry *extract.Registry, cfg Config, logger *zap.Logger) *Resolver {
	if cfg.CourtesyDelayMin <= 0 {
		cfg.CourtesyDelayMin = 500 * time.Millisecond
	}
	if cfg.CourtesyDelayMax < cfg.CourtesyDelayMin {
		cfg.CourtesyDelayMax = cfg.CourtesyDelayMin + time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{chain: chain, registry: registry, cfg: cfg, logger: logger}
}

// Resolve runs fetch then extraction for one URL and records per-stage
// timings. The courtesy delay follows every attempt, success or failure.
func (r *Resolver) Resolve(
	ctx context.Context,
	rawURL string,
	caps advisory.CapabilitySet,
) advisory.Result {
	start := time.Now()
	defer r.courtesyPause(ctx)

	fetched := r.chain.Fetch(ctx, rawURL, caps)

	result := advisory.Result{
		URL:     rawURL,
		Timings: advisory.Timings{Fetch: fetched.Elapsed},
	}

	if !fetched.Success {
		result.Status = advisory.StatusFailed
		if fetched.Kind == advisory.ErrorBotBlocked {
			result.Status = advisory.StatusBlocked
		}
		result.Kind = fetched.Kind
		result.ErrorText = fetched.ErrorText
		result.Timings.Total = time.Since(start)
		r.logger.Debug("resolution failed",
			zap.String("url", rawURL),
			zap.String("status", string(result.Status)),
			zap.String("error", result.ErrorText),
		)
		return result
	}

	extractStart := time.Now()
	rec := r.registry.Extract(fetched.Body, rawURL)
	if fetched.ThinContent && rec.QualityScore > 0 {
		// Thin pages keep whatever was recovered but cannot claim full
		// confidence.
		rec.QualityScore /= 2
	}
	result.Timings.Extract = time.Since(extractStart)
	result.Timings.Total = time.Since(start)
	result.Remediation = &rec

	// A fetch that succeeded never downgrades to failed; a page that yielded
	// nothing at all is reported as empty instead.
	if rec.QualityScore == 0 {
		result.Status = advisory.StatusEmpty
	} else {
		result.Status = advisory.StatusSuccess
	}

	r.logger.Debug("resolution complete",
		zap.String("url", rawURL),
		zap.String("status", string(result.Status)),
		zap.String("strategy", string(fetched.StrategyUsed)),
		zap.Int("quality", rec.QualityScore),
		zap.Int("links", len(rec.DownloadLinks)),
	)
	return result
}

// courtesyPause sleeps a random duration within the configured bounds,
// honoring cancellation.
func (r *Resolver) courtesyPause(ctx context.Context) {
	span := r.cfg.CourtesyDelayMax - r.cfg.CourtesyDelayMin
	delay := r.cfg.CourtesyDelayMin
	if span > 0 {
		delay += time.Duration(rand.Int63n(int64(span)))
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
