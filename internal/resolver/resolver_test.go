package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchtrace/patchtrace/internal/advisory"
	"github.com/patchtrace/patchtrace/internal/extract"
)

type fakeChain struct {
	result advisory.FetchResult
	calls  int
}

func (f *fakeChain) Fetch(_ context.Context, _ string, _ advisory.CapabilitySet) advisory.FetchResult {
	f.calls++
	return f.result
}

func newTestResolver(chain advisory.Fetcher) *Resolver {
	return New(chain, extract.NewRegistry(nil), Config{
		CourtesyDelayMin: time.Millisecond,
		CourtesyDelayMax: 2 * time.Millisecond,
	}, nil)
}

func TestResolveSuccess(t *testing.T) {
	t.Parallel()

	chain := &fakeChain{result: advisory.FetchResult{
		Success: true,
		Body: []byte(`<html><body>
<p>RHSA-2024:1234 fixes this issue.</p>
<a href="https://access.redhat.com/downloads/content/errata/RHSA-2024:1234">Packages</a>
</body></html>`),
		StatusCode:   200,
		StrategyUsed: advisory.StrategyStaticHTTP,
	}}

	result := newTestResolver(chain).Resolve(context.Background(),
		"https://access.redhat.com/errata/RHSA-2024:1234", advisory.CapabilitySet{})

	assert.Equal(t, advisory.StatusSuccess, result.Status)
	require.NotNil(t, result.Remediation)
	assert.Equal(t, "RHSA-2024:1234", result.Remediation.PatchID)
	assert.NotEmpty(t, result.Remediation.DownloadLinks)
	assert.Positive(t, result.Remediation.QualityScore)
}

func TestResolveFetchFailure(t *testing.T) {
	t.Parallel()

	chain := &fakeChain{result: advisory.FetchResult{
		Success:   false,
		Kind:      advisory.ErrorNetworkTerminal,
		ErrorText: "404 not found",
	}}

	result := newTestResolver(chain).Resolve(context.Background(),
		"https://example.com/gone", advisory.CapabilitySet{})

	assert.Equal(t, advisory.StatusFailed, result.Status)
	assert.Equal(t, advisory.ErrorNetworkTerminal, result.Kind)
	assert.Equal(t, "404 not found", result.ErrorText)
	assert.Nil(t, result.Remediation)
}

func TestResolveBotBlock(t *testing.T) {
	t.Parallel()

	chain := &fakeChain{result: advisory.FetchResult{
		Success:   false,
		Kind:      advisory.ErrorBotBlocked,
		ErrorText: "challenge page",
	}}

	result := newTestResolver(chain).Resolve(context.Background(),
		"https://example.com/advisory", advisory.CapabilitySet{})

	assert.Equal(t, advisory.StatusBlocked, result.Status)
	assert.Equal(t, advisory.ErrorBotBlocked, result.Kind)
}

func TestResolveEmptyWhenNothingExtracted(t *testing.T) {
	t.Parallel()

	chain := &fakeChain{result: advisory.FetchResult{
		Success:    true,
		Body:       []byte("<html><body></body></html>"),
		StatusCode: 200,
	}}

	result := newTestResolver(chain).Resolve(context.Background(),
		"https://example.com/advisory", advisory.CapabilitySet{})

	// Fetch succeeded, so the URL never reports failed; zero yield is empty.
	assert.Equal(t, advisory.StatusEmpty, result.Status)
	require.NotNil(t, result.Remediation)
	assert.Equal(t, 0, result.Remediation.QualityScore)
}

func TestResolveThinContentHalvesQuality(t *testing.T) {
	t.Parallel()

	body := []byte(`<html><body><p>See KB5034441.</p></body></html>`)

	full := &fakeChain{result: advisory.FetchResult{Success: true, Body: body, StatusCode: 200}}
	thin := &fakeChain{result: advisory.FetchResult{Success: true, Body: body, StatusCode: 200, ThinContent: true}}

	fullResult := newTestResolver(full).Resolve(context.Background(),
		"https://example.com/a", advisory.CapabilitySet{})
	thinResult := newTestResolver(thin).Resolve(context.Background(),
		"https://example.com/a", advisory.CapabilitySet{})

	require.NotNil(t, fullResult.Remediation)
	require.NotNil(t, thinResult.Remediation)
	assert.Equal(t, fullResult.Remediation.QualityScore/2, thinResult.Remediation.QualityScore)
	assert.Equal(t, advisory.StatusSuccess, thinResult.Status)
}

func TestResolveRecordsTimings(t *testing.T) {
	t.Parallel()

	chain := &fakeChain{result: advisory.FetchResult{
		Success:    true,
		Body:       []byte("<html><body>CVE-2024-0001</body></html>"),
		StatusCode: 200,
		Elapsed:    25 * time.Millisecond,
	}}

	result := newTestResolver(chain).Resolve(context.Background(),
		"https://example.com/advisory", advisory.CapabilitySet{})

	assert.Equal(t, 25*time.Millisecond, result.Timings.Fetch)
	assert.Positive(t, result.Timings.Total)
}
