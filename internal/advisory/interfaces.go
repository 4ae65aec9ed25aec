package advisory

import (
	"context"
	"net/url"
)

// FetchStrategy retrieves the content of one URL by a single mechanism.
// Implementations return the response even for non-2xx outcomes so callers
// can classify the failure; the error then describes the HTTP-level problem.
type FetchStrategy interface {
	Kind() StrategyKind
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Fetcher runs the full strategy chain for one URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, caps CapabilitySet) FetchResult
}

// Extractor parses structured remediation fields out of raw page content.
type Extractor interface {
	Name() string
	Match(u *url.URL) bool
	Extract(content []byte, pageURL string) RemediationRecord
}

// Prober inspects the local environment for optional fetch capabilities.
// Probing never fails; absence is a normal outcome.
type Prober interface {
	Probe(ctx context.Context) CapabilitySet
}

// Resolver composes fetch and extraction into a single per-URL operation.
type Resolver interface {
	Resolve(ctx context.Context, rawURL string, caps CapabilitySet) Result
}
