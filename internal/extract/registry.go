package extract

import (
	"net/url"

	"go.uber.org/zap"

	"github.com/patchtrace/patchtrace/internal/advisory"
)

// Registry holds the closed set of extractors in match priority order, ending
// with the generic fallback.
type Registry struct {
	extractors []advisory.Extractor
	fallback   advisory.Extractor
	logger     *zap.Logger
}

// NewRegistry builds the default registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		extractors: []advisory.Extractor{MSRC{}, IBM{}, RedHat{}},
		fallback:   Generic{},
		logger:     logger,
	}
}

// Select returns the extractor responsible for the URL; the generic fallback
// serves everything unmatched.
func (r *Registry) Select(rawURL string) advisory.Extractor {
	u, err := url.Parse(rawURL)
	if err != nil {
		return r.fallback
	}
	for _, e := range r.extractors {
		if e.Match(u) {
			return e
		}
	}
	return r.fallback
}

// Extract runs the selected extractor, then the URL-identifier pass that
// always runs in addition to it, and finally scores the record.
func (r *Registry) Extract(content []byte, rawURL string) advisory.RemediationRecord {
	extractor := r.Select(rawURL)
	rec := extractor.Extract(content, rawURL)
	rec.SourceUsed = extractor.Name()

	if rec.PatchID == "" {
		if id := IdentifierFromURL(rawURL); id != "" {
			rec.PatchID = id
			r.logger.Debug("patch id recovered from url",
				zap.String("url", rawURL),
				zap.String("patch_id", id),
			)
		}
	}

	rec.QualityScore = Score(rec)
	return rec
}

// Score is a deterministic quality measure in [0, 100]: 25 points per
// populated optional field plus 25 when at least one download link was found.
// Diagnostics only; it never gates success.
func Score(rec advisory.RemediationRecord) int {
	score := 0
	if rec.PatchID != "" {
		score += 25
	}
	if rec.AffectedVersions != "" {
		score += 25
	}
	if rec.RemediationText != "" {
		score += 25
	}
	if len(rec.DownloadLinks) > 0 {
		score += 25
	}
	return score
}
