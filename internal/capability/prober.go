// Package capability detects which optional fetch strategies are usable on
// this machine.
package capability

import (
	"context"
	"os"
	"os/exec"
	"sync"

	"go.uber.org/zap"

	"github.com/patchtrace/patchtrace/internal/advisory"
)

// Names and well-known paths chromedp's allocator searches for a browser.
var browserCandidates = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"headless-shell",
	"chrome",
}

var browserPathCandidates = []string{
	"/usr/bin/google-chrome",
	"/usr/bin/chromium",
	"/usr/bin/chromium-browser",
	"/opt/google/chrome/chrome",
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
}

// Config controls what the prober looks for.
type Config struct {
	// HeadlessEnabled gates dynamic rendering regardless of binary presence.
	HeadlessEnabled bool
	// VendorAPIBaseURL enables the vendor API strategy when non-empty.
	VendorAPIBaseURL string
	// BrowserPath overrides discovery with an explicit binary.
	BrowserPath string
}

// Prober inspects the environment once per batch run. Probing performs only
// read-only checks and never spawns a browser.
type Prober struct {
	cfg    Config
	logger *zap.Logger

	once   sync.Once
	cached advisory.CapabilitySet
}

// New constructs a Prober.
func New(cfg Config, logger *zap.Logger) *Prober {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{cfg: cfg, logger: logger}
}

// Probe returns the capability set, computing it on first call and caching it
// for the lifetime of the prober (one batch run).
func (p *Prober) Probe(_ context.Context) advisory.CapabilitySet {
	p.once.Do(func() {
		p.cached = advisory.CapabilitySet{
			DynamicRenderAvailable: p.cfg.HeadlessEnabled && p.browserPresent(),
			VendorAPIAvailable:     p.cfg.VendorAPIBaseURL != "",
		}
		p.logger.Debug("capability probe complete",
			zap.Bool("dynamic_render", p.cached.DynamicRenderAvailable),
			zap.Bool("vendor_api", p.cached.VendorAPIAvailable),
		)
	})
	return p.cached
}

// RecommendedStrategy returns a human-readable hint for onboarding flows.
func (p *Prober) RecommendedStrategy(ctx context.Context) string {
	caps := p.Probe(ctx)
	switch {
	case caps.DynamicRenderAvailable:
		return "dynamic rendering available; JavaScript-only advisory pages will resolve fully"
	case caps.VendorAPIAvailable:
		return "no browser found; vendor API and static HTTP will be used (install Chrome or Chromium for full coverage)"
	default:
		return "static HTTP only; install Chrome or Chromium and configure the vendor API for best results"
	}
}

func (p *Prober) browserPresent() bool {
	if p.cfg.BrowserPath != "" {
		return fileExecutable(p.cfg.BrowserPath)
	}
	for _, name := range browserCandidates {
		if _, err := exec.LookPath(name); err == nil {
			return true
		}
	}
	for _, path := range browserPathCandidates {
		if fileExecutable(path) {
			return true
		}
	}
	return false
}

func fileExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}
