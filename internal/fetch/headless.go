package fetch

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/patchtrace/patchtrace/internal/advisory"
)

// settleDelay gives client-side rendering a moment to populate the DOM after
// the ready state fires. MSRC's advisory pages hydrate asynchronously.
const settleDelay = 500 * time.Millisecond

// HeadlessConfig controls the dynamic-render strategy.
type HeadlessConfig struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	BrowserPath       string
}

// HeadlessFetcher renders pages with headless Chrome via chromedp and returns
// the hydrated DOM. Advisory sources that hide content behind client-side
// rendering (notably MSRC) need this strategy.
type HeadlessFetcher struct {
	cfg         HeadlessConfig
	slots       chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewHeadless creates the chromedp-backed fetcher. It prepares the exec
// allocator but does not launch a browser until the first Fetch.
func NewHeadless(cfg HeadlessConfig) (*HeadlessFetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.BrowserPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.BrowserPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	f := &HeadlessFetcher{
		cfg:         cfg,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}
	if cfg.MaxParallel > 0 {
		f.slots = make(chan struct{}, cfg.MaxParallel)
	}
	return f, nil
}

// Close tears down the allocator and any browser it spawned.
func (f *HeadlessFetcher) Close() {
	f.allocCancel()
}

// Kind identifies this strategy in fetch results.
func (f *HeadlessFetcher) Kind() advisory.StrategyKind {
	return advisory.StrategyDynamicRender
}

// Fetch navigates with a headless browser and returns the rendered DOM. The
// document response status and headers are captured off the CDP event stream;
// when the browser never reports them (cached or about: navigations) the
// request URL and 200 are assumed.
func (f *HeadlessFetcher) Fetch(
	ctx context.Context,
	request advisory.FetchRequest,
) (advisory.FetchResponse, error) {
	if f.slots != nil {
		select {
		case f.slots <- struct{}{}:
			defer func() { <-f.slots }()
		case <-ctx.Done():
			return advisory.FetchResponse{Strategy: f.Kind()},
				fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
		}
	}

	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()
	taskCtx, cancel := context.WithTimeout(taskCtx, f.cfg.NavigationTimeout)
	defer cancel()

	stop := forwardCancel(ctx, cancel)
	defer stop()

	var doc docResponse
	chromedp.ListenTarget(taskCtx, doc.onEvent)

	var (
		html     string
		finalURL string
	)
	start := time.Now()
	err := chromedp.Run(taskCtx,
		f.prepareNetwork(request),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(settleDelay),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return advisory.FetchResponse{Strategy: f.Kind()}, fmt.Errorf("chromedp run: %w", err)
	}

	status, headers, url := doc.result()
	if url == "" {
		url = finalURL
	}
	if url == "" {
		url = request.URL
	}

	return advisory.FetchResponse{
		URL:        url,
		StatusCode: status,
		Headers:    headers,
		Body:       []byte(html),
		Duration:   time.Since(start),
		Strategy:   f.Kind(),
	}, nil
}

// prepareNetwork enables the network domain and applies the user agent and any
// extra request headers before navigation.
func (f *HeadlessFetcher) prepareNetwork(request advisory.FetchRequest) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		agent := request.UserAgent
		if agent == "" {
			agent = f.cfg.UserAgent
		}
		if agent != "" {
			if err := emulation.SetUserAgentOverride(agent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(request.Headers) == 0 {
			return nil
		}
		extra := network.Headers{}
		for key, values := range request.Headers {
			switch len(values) {
			case 0:
			case 1:
				extra[key] = values[0]
			default:
				extra[key] = append([]string(nil), values...)
			}
		}
		if err := network.SetExtraHTTPHeaders(extra).Do(ctx); err != nil {
			return fmt.Errorf("set extra headers: %w", err)
		}
		return nil
	})
}

// forwardCancel propagates the caller's cancellation into the chromedp task
// context, returning a stop function for the watcher goroutine.
func forwardCancel(ctx context.Context, cancel context.CancelFunc) func() {
	stopCh := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-stopCh:
		}
	}()
	return func() { close(stopCh) }
}

// docResponse records the top-level document response observed on the CDP
// event stream. Subresource responses are ignored.
type docResponse struct {
	mu      sync.Mutex
	status  int
	url     string
	headers http.Header
}

func (d *docResponse) onEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range resp.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []string:
			for _, entry := range v {
				headers.Add(key, entry)
			}
		case []interface{}:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	d.mu.Lock()
	d.status = int(resp.Response.Status)
	d.url = resp.Response.URL
	d.headers = headers
	d.mu.Unlock()
}

func (d *docResponse) result() (int, http.Header, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	status := d.status
	if status == 0 {
		status = http.StatusOK
	}
	headers := d.headers
	if headers == nil {
		headers = http.Header{}
	}
	return status, headers, d.url
}
