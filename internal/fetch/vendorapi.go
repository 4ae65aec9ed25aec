package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/patchtrace/patchtrace/internal/advisory"
)

// maxAPIBody caps vendor API responses; CVRF documents run large but bounded.
const maxAPIBody = 10 << 20

var msrcIDPattern = regexp.MustCompile(`(?i)(CVE-\d{4}-\d{4,}|ADV\d{6})`)

// VendorAPIConfig controls the vendor API strategy.
type VendorAPIConfig struct {
	// BaseURL is the CVRF endpoint root, e.g.
	// https://api.msrc.microsoft.com/cvrf/v3.0/cvrf
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// VendorAPIFetcher resolves MSRC advisory pages through the documented CVRF
// JSON API instead of scraping the rendered page.
type VendorAPIFetcher struct {
	cfg    VendorAPIConfig
	client *http.Client
}

// NewVendorAPI builds the API fetcher with a pooled transport.
func NewVendorAPI(cfg VendorAPIConfig) *VendorAPIFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 25 * time.Second
	}
	return &VendorAPIFetcher{
		cfg: cfg,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: newHTTPTransport(),
		},
	}
}

// Kind identifies this strategy in fetch results.
func (f *VendorAPIFetcher) Kind() advisory.StrategyKind {
	return advisory.StrategyVendorAPI
}

// Supports reports whether the strategy can serve the URL at all: it needs a
// recognizable advisory identifier in the path or query.
func (f *VendorAPIFetcher) Supports(u *url.URL) bool {
	if f.cfg.BaseURL == "" || u == nil {
		return false
	}
	return msrcIDPattern.MatchString(u.Path) || msrcIDPattern.MatchString(u.RawQuery)
}

// Fetch translates the page URL into an API document request.
func (f *VendorAPIFetcher) Fetch(
	ctx context.Context,
	request advisory.FetchRequest,
) (advisory.FetchResponse, error) {
	id, err := advisoryID(request.URL)
	if err != nil {
		return advisory.FetchResponse{Strategy: f.Kind()}, err
	}

	endpoint := strings.TrimRight(f.cfg.BaseURL, "/") + "/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return advisory.FetchResponse{Strategy: f.Kind()}, fmt.Errorf("build api request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if request.UserAgent != "" {
		req.Header.Set("User-Agent", request.UserAgent)
	} else if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return advisory.FetchResponse{Strategy: f.Kind(), Duration: time.Since(start)},
			fmt.Errorf("vendor api fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIBody))
	if err != nil {
		return advisory.FetchResponse{Strategy: f.Kind(), Duration: time.Since(start)},
			fmt.Errorf("read api body: %w", err)
	}

	result := advisory.FetchResponse{
		URL:        request.URL,
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
		Body:       body,
		Duration:   time.Since(start),
		Strategy:   f.Kind(),
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return result, fmt.Errorf("vendor api status %d", resp.StatusCode)
	}
	return result, nil
}

// advisoryID pulls the CVE or ADV identifier out of an MSRC page URL.
func advisoryID(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse advisory url: %w", err)
	}
	if m := msrcIDPattern.FindString(u.Path); m != "" {
		return strings.ToUpper(m), nil
	}
	if m := msrcIDPattern.FindString(u.RawQuery); m != "" {
		return strings.ToUpper(m), nil
	}
	return "", fmt.Errorf("no advisory id in %q", rawURL)
}
