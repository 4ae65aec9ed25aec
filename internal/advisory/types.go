// Package advisory defines core types shared across subsystems.
package advisory

import (
	"net/http"
	"time"
)

// Status represents the terminal outcome of resolving one advisory URL.
type Status string

// Status values recorded per resolved URL.
const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusBlocked Status = "blocked"
	StatusEmpty   Status = "empty"
)

// StrategyKind identifies one method of retrieving page content.
type StrategyKind string

// Known fetch strategies, in rough order of cost.
const (
	StrategyDynamicRender StrategyKind = "dynamic_render"
	StrategyVendorAPI     StrategyKind = "vendor_api"
	StrategyStaticHTTP    StrategyKind = "static_http"
)

// ErrorKind classifies fetch failures for retry and reporting decisions.
type ErrorKind string

// Error taxonomy. Capability absence and incomplete extraction are normal
// branches, not errors, and therefore have no kind here.
const (
	ErrorNone             ErrorKind = ""
	ErrorNetworkTransient ErrorKind = "network_transient"
	ErrorNetworkTerminal  ErrorKind = "network_terminal"
	ErrorBotBlocked       ErrorKind = "bot_blocked"
	ErrorMalformedURL     ErrorKind = "malformed_url"
)

// FetchRequest captures everything a strategy needs to fetch one URL.
type FetchRequest struct {
	URL       string
	UserAgent string
	Headers   http.Header
}

// FetchResponse is the raw result returned by a single strategy attempt.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Strategy   StrategyKind
}

// FetchResult is the aggregated outcome of running the strategy chain for one
// URL. It is owned by the resolver call that created it and never mutated
// after construction.
type FetchResult struct {
	Success      bool
	Body         []byte
	StatusCode   int
	StrategyUsed StrategyKind
	Kind         ErrorKind
	ErrorText    string
	Elapsed      time.Duration
	// ThinContent flags responses below the minimum size threshold that also
	// lack expected page markers. Extraction still runs; quality drops.
	ThinContent bool
}

// RemediationRecord holds the structured fields one extractor recovered from a
// page. Every field is optional except DownloadLinks and SourceUsed.
type RemediationRecord struct {
	PatchID          string
	AffectedVersions string
	RemediationText  string
	DownloadLinks    []string
	SourceUsed       string
	QualityScore     int
}

// AddDownloadLink appends a link while preserving set semantics: empty strings
// and duplicates are dropped.
func (r *RemediationRecord) AddDownloadLink(link string) {
	if link == "" {
		return
	}
	for _, existing := range r.DownloadLinks {
		if existing == link {
			return
		}
	}
	r.DownloadLinks = append(r.DownloadLinks, link)
}

// Timings records per-stage latencies for one resolution.
type Timings struct {
	Fetch   time.Duration
	Extract time.Duration
	Total   time.Duration
}

// Result is the per-URL outcome cached for the duration of one batch run and
// consumed by the merge step. Read-only after creation.
type Result struct {
	URL         string
	Status      Status
	Remediation *RemediationRecord
	Kind        ErrorKind
	ErrorText   string
	Timings     Timings
}

// CapabilitySet reports which optional fetch strategies are usable on this
// machine. Computed once at run start and read-only afterwards.
type CapabilitySet struct {
	DynamicRenderAvailable bool `json:"dynamic_render_available"`
	VendorAPIAvailable     bool `json:"vendor_api_available"`
}

// Summary aggregates the outcome of one batch run.
type Summary struct {
	TotalURLs      int           `json:"total_urls"`
	SuccessCount   int           `json:"success_count"`
	FailedCount    int           `json:"failed_count"`
	EmptyCount     int           `json:"empty_count"`
	LinksFound     int           `json:"links_found"`
	Elapsed        time.Duration `json:"elapsed"`
	AlreadyDone    bool          `json:"already_done"`
	ErrorBreakdown map[ErrorKind]int
}
