package fetch

import (
	"bytes"
	"context"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/patchtrace/patchtrace/internal/advisory"
	"github.com/patchtrace/patchtrace/internal/ratelimit"
)

// ChainConfig controls chain-level behavior.
type ChainConfig struct {
	UserAgent string
	// MinContentBytes is the threshold below which a successful response is
	// checked for expected markers and possibly flagged thin.
	MinContentBytes int
}

const defaultMinContentBytes = 1024

// Markers that a real advisory page or API document is expected to carry.
// A small body without any of them is flagged as thin content.
var contentMarkers = [][]byte{
	[]byte("<html"),
	[]byte("<body"),
	[]byte("cve"),
	[]byte("advisory"),
	[]byte("security"),
	[]byte("vulnerability"),
	[]byte("{"),
}

// Chain tries fetch strategies in priority order per URL, each attempt wrapped
// by the rate/retry controller keyed by the URL's domain.
type Chain struct {
	cfg        ChainConfig
	controller *ratelimit.Controller
	static     advisory.FetchStrategy
	headless   advisory.FetchStrategy
	vendorAPI  *VendorAPIFetcher
	logger     *zap.Logger
}

// NewChain assembles the chain. headless and vendorAPI may be nil when the
// corresponding capability was never configured.
func NewChain(
	cfg ChainConfig,
	controller *ratelimit.Controller,
	static advisory.FetchStrategy,
	headless advisory.FetchStrategy,
	vendorAPI *VendorAPIFetcher,
	logger *zap.Logger,
) *Chain {
	if cfg.MinContentBytes <= 0 {
		cfg.MinContentBytes = defaultMinContentBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{
		cfg:        cfg,
		controller: controller,
		static:     static,
		headless:   headless,
		vendorAPI:  vendorAPI,
		logger:     logger,
	}
}

// Fetch runs the strategy chain for one URL. It always returns a FetchResult;
// exhausting every strategy yields Success=false with the last error kept.
func (c *Chain) Fetch(
	ctx context.Context,
	rawURL string,
	caps advisory.CapabilitySet,
) advisory.FetchResult {
	start := time.Now()

	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return advisory.FetchResult{
			Kind:      advisory.ErrorMalformedURL,
			ErrorText: "malformed url: " + rawURL,
			Elapsed:   time.Since(start),
		}
	}

	strategies := c.order(parsed, caps)
	domain := advisory.Domain(rawURL)

	var (
		lastKind    advisory.ErrorKind
		lastText    string
		lastUsed    advisory.StrategyKind
		blockedText string
	)
	for _, strategy := range strategies {
		resp, kind, attemptErr := c.controller.Execute(ctx, domain,
			func(ctx context.Context) (advisory.FetchResponse, error) {
				return strategy.Fetch(ctx, advisory.FetchRequest{
					URL:       rawURL,
					UserAgent: c.cfg.UserAgent,
				})
			})

		if kind == advisory.ErrorNone {
			return advisory.FetchResult{
				Success:      true,
				Body:         resp.Body,
				StatusCode:   resp.StatusCode,
				StrategyUsed: strategy.Kind(),
				Elapsed:      time.Since(start),
				ThinContent:  c.thin(resp.Body),
			}
		}

		lastKind = kind
		lastUsed = strategy.Kind()
		if attemptErr != nil {
			lastText = attemptErr.Error()
		} else {
			lastText = string(kind)
		}
		c.logger.Debug("strategy failed",
			zap.String("url", rawURL),
			zap.String("strategy", string(strategy.Kind())),
			zap.String("kind", string(kind)),
		)

		// A bot challenge is terminal for this strategy but the next one may
		// pass it: a renderer executes the javascript a static client cannot.
		// Remember the challenge so an exhausted chain still reports blocked.
		if kind == advisory.ErrorBotBlocked {
			blockedText = lastText
		}
		if ctx.Err() != nil {
			break
		}
	}

	if blockedText != "" {
		lastKind = advisory.ErrorBotBlocked
		lastText = blockedText
	}
	return advisory.FetchResult{
		Success:      false,
		StrategyUsed: lastUsed,
		Kind:         lastKind,
		ErrorText:    lastText,
		Elapsed:      time.Since(start),
	}
}

// order intersects URL shape preferences with the capability set. Unavailable
// capabilities are skipped, never attempted.
func (c *Chain) order(u *url.URL, caps advisory.CapabilitySet) []advisory.FetchStrategy {
	host := strings.ToLower(u.Hostname())

	var out []advisory.FetchStrategy
	add := func(s advisory.FetchStrategy) {
		if s != nil {
			out = append(out, s)
		}
	}

	switch {
	case strings.Contains(host, "msrc.microsoft.com"):
		// MSRC pages are JavaScript-only; the rendered DOM or the CVRF API
		// are the only useful sources, with a static attempt as last resort.
		if caps.DynamicRenderAvailable {
			add(c.headless)
		}
		if caps.VendorAPIAvailable && c.vendorAPI != nil && c.vendorAPI.Supports(u) {
			add(c.vendorAPI)
		}
		add(c.static)
	default:
		add(c.static)
		if caps.DynamicRenderAvailable {
			add(c.headless)
		}
	}
	return out
}

func (c *Chain) thin(body []byte) bool {
	if len(body) >= c.cfg.MinContentBytes {
		return false
	}
	lower := bytes.ToLower(body)
	for _, marker := range contentMarkers {
		if bytes.Contains(lower, marker) {
			return false
		}
	}
	return true
}
