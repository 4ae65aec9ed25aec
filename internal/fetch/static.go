// Package fetch implements the fetch strategies and the chain that orders
// them per URL.
package fetch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/patchtrace/patchtrace/internal/advisory"
)

// StaticConfig controls the static HTTP strategy.
type StaticConfig struct {
	UserAgent string
	Timeout   time.Duration
}

// StaticFetcher retrieves pages with a plain HTTP GET via the Colly collector.
type StaticFetcher struct {
	cfg           StaticConfig
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

// NewStatic builds a StaticFetcher with a pooled transport.
func NewStatic(cfg StaticConfig) *StaticFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true

	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &StaticFetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}
}

// Kind identifies this strategy in fetch results.
func (f *StaticFetcher) Kind() advisory.StrategyKind {
	return advisory.StrategyStaticHTTP
}

// Fetch executes a single GET. Non-2xx responses are returned with their
// status and body so the caller can classify them; the error describes the
// HTTP-level failure.
func (f *StaticFetcher) Fetch(
	ctx context.Context,
	request advisory.FetchRequest,
) (advisory.FetchResponse, error) {
	var (
		result   advisory.FetchResponse
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(request, start, &result, &fetchErr)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(request.URL)
	}()

	select {
	case <-ctx.Done():
		return advisory.FetchResponse{Strategy: f.Kind()}, fmt.Errorf("static fetch canceled: %w", ctx.Err())
	case err := <-done:
		result.Strategy = f.Kind()
		if result.Duration == 0 {
			result.Duration = time.Since(start)
		}
		if fetchErr != nil {
			return result, fmt.Errorf("static fetch: %w", fetchErr)
		}
		if err != nil {
			return result, fmt.Errorf("static visit: %w", err)
		}
		return result, nil
	}
}

func (f *StaticFetcher) buildCollector(
	request advisory.FetchRequest,
	start time.Time,
	result *advisory.FetchResponse,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.IgnoreRobotsTxt = true
	if request.UserAgent != "" {
		collector.UserAgent = request.UserAgent
	} else if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)
	collector.WithTransport(f.transport)

	collector.OnRequest(func(r *colly.Request) {
		for key, values := range request.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})

	collector.OnResponse(func(r *colly.Response) {
		*result = advisory.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	collector.OnError(func(r *colly.Response, err error) {
		// Keep status and body around even on failure: bot-block detection
		// needs the 403 body.
		if r != nil {
			result.StatusCode = r.StatusCode
			result.Body = append([]byte(nil), r.Body...)
			if r.Request != nil && r.Request.URL != nil {
				result.URL = r.Request.URL.String()
			}
		}
		result.Duration = time.Since(start)
		*fetchErr = err
	})

	return collector
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
