package batch

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchtrace/patchtrace/internal/advisory"
	"github.com/patchtrace/patchtrace/internal/dataset"
	"github.com/patchtrace/patchtrace/internal/progress"
)

type fakeResolver struct {
	mu      sync.Mutex
	calls   []string
	results map[string]advisory.Result
}

func (f *fakeResolver) Resolve(_ context.Context, rawURL string, _ advisory.CapabilitySet) advisory.Result {
	f.mu.Lock()
	f.calls = append(f.calls, rawURL)
	f.mu.Unlock()
	if r, ok := f.results[rawURL]; ok {
		return r
	}
	return advisory.Result{
		URL:    rawURL,
		Status: advisory.StatusSuccess,
		Remediation: &advisory.RemediationRecord{
			PatchID:       "KB5034441",
			DownloadLinks: []string{"https://catalog.update.microsoft.com/Search.aspx?q=KB5034441"},
			QualityScore:  50,
		},
	}
}

func (f *fakeResolver) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeProber struct{ caps advisory.CapabilitySet }

func (f *fakeProber) Probe(context.Context) advisory.CapabilitySet { return f.caps }

type collectEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (c *collectEmitter) Emit(evt progress.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *collectEmitter) byStage(stage progress.Stage) []progress.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []progress.Event
	for _, evt := range c.events {
		if evt.Stage == stage {
			out = append(out, evt)
		}
	}
	return out
}

func writeCSV(t *testing.T, rows [][]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "records.csv")
	f, err := os.Create(path)
	require.NoError(t, err)
	w := csv.NewWriter(f)
	require.NoError(t, w.WriteAll(rows))
	w.Flush()
	require.NoError(t, w.Error())
	require.NoError(t, f.Close())
	return path
}

func testDatasetConfig() dataset.Config {
	return dataset.Config{URLColumn: "advisory_urls", MarkerColumn: "resolved_at", Delimiter: ";"}
}

func newTestOrchestrator(res advisory.Resolver) *Orchestrator {
	return New(res, &fakeProber{}, nil, testDatasetConfig(), nil)
}

func loadRows(t *testing.T, path string) ([]string, [][]string) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	all, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.NotEmpty(t, all)
	return all[0], all[1:]
}

func cellByName(t *testing.T, header []string, row []string, name string) string {
	t.Helper()
	for i, h := range header {
		if h == name {
			require.Less(t, i, len(row))
			return row[i]
		}
	}
	t.Fatalf("column %q not found in %v", name, header)
	return ""
}

func TestRunResolvesEachUniqueURLOnce(t *testing.T) {
	t.Parallel()

	path := writeCSV(t, [][]string{
		{"cve", "advisory_urls"},
		{"CVE-2024-0001", "https://a.example/1;https://b.example/2"},
		{"CVE-2024-0002", "https://a.example/1"},
		{"CVE-2024-0003", "HTTPS://A.example/1#frag"},
	})
	res := &fakeResolver{}

	summary, err := newTestOrchestrator(res).Run(context.Background(), path, Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, res.callCount(), "textual URL variants must share one fetch")
	assert.Equal(t, 2, summary.TotalURLs)
	assert.Equal(t, 2, summary.SuccessCount)
}

func TestRunPreservesRecordCountAndOrder(t *testing.T) {
	t.Parallel()

	path := writeCSV(t, [][]string{
		{"cve", "advisory_urls"},
		{"CVE-2024-0001", "https://a.example/1"},
		{"CVE-2024-0002", "https://b.example/2"},
		{"CVE-2024-0003", ""},
	})

	_, err := newTestOrchestrator(&fakeResolver{}).Run(context.Background(), path, Options{})
	require.NoError(t, err)

	_, rows := loadRows(t, path)
	require.Len(t, rows, 3)
	assert.Equal(t, "CVE-2024-0001", rows[0][0])
	assert.Equal(t, "CVE-2024-0002", rows[1][0])
	assert.Equal(t, "CVE-2024-0003", rows[2][0])
}

func TestRunSharedURLGetsIdenticalMerge(t *testing.T) {
	t.Parallel()

	path := writeCSV(t, [][]string{
		{"cve", "advisory_urls"},
		{"CVE-2024-0001", "https://a.example/1"},
		{"CVE-2024-0002", "https://a.example/1"},
	})

	_, err := newTestOrchestrator(&fakeResolver{}).Run(context.Background(), path, Options{})
	require.NoError(t, err)

	header, rows := loadRows(t, path)
	linksA := cellByName(t, header, rows[0], dataset.ColumnLinks)
	linksB := cellByName(t, header, rows[1], dataset.ColumnLinks)
	assert.NotEmpty(t, linksA)
	assert.Equal(t, linksA, linksB, "records sharing a URL must receive the identical result")
	assert.Equal(t,
		cellByName(t, header, rows[0], dataset.ColumnStatus),
		cellByName(t, header, rows[1], dataset.ColumnStatus))
}

func TestRunMergesLinkUnionWithoutDuplicates(t *testing.T) {
	t.Parallel()

	path := writeCSV(t, [][]string{
		{"cve", "advisory_urls"},
		{"CVE-2024-0001", "https://a.example/1;https://b.example/2"},
	})
	res := &fakeResolver{results: map[string]advisory.Result{
		"https://a.example/1": {
			URL: "https://a.example/1", Status: advisory.StatusSuccess,
			Remediation: &advisory.RemediationRecord{
				DownloadLinks: []string{"https://dl.example/p.rpm", "https://dl.example/q.rpm"},
				QualityScore:  25,
			},
		},
		"https://b.example/2": {
			URL: "https://b.example/2", Status: advisory.StatusSuccess,
			Remediation: &advisory.RemediationRecord{
				DownloadLinks: []string{"https://dl.example/p.rpm"},
				QualityScore:  25,
			},
		},
	}}

	summary, err := newTestOrchestrator(res).Run(context.Background(), path, Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.LinksFound)

	header, rows := loadRows(t, path)
	links := strings.Split(cellByName(t, header, rows[0], dataset.ColumnLinks), ";")
	assert.ElementsMatch(t,
		[]string{"https://dl.example/p.rpm", "https://dl.example/q.rpm"}, links,
		"the merged cell holds the union of both URLs' links, deduplicated")
}

func TestRunIdempotencyShortCircuit(t *testing.T) {
	t.Parallel()

	path := writeCSV(t, [][]string{
		{"cve", "advisory_urls", "resolved_at"},
		{"CVE-2024-0001", "https://a.example/1", "2026-08-29T10:00:00Z"},
	})
	res := &fakeResolver{}

	summary, err := newTestOrchestrator(res).Run(context.Background(), path, Options{})
	require.NoError(t, err)
	assert.True(t, summary.AlreadyDone)
	assert.Equal(t, 0, res.callCount(), "a processed dataset must trigger zero fetches")
}

func TestRunForceRerunOverridesMarker(t *testing.T) {
	t.Parallel()

	path := writeCSV(t, [][]string{
		{"cve", "advisory_urls", "resolved_at"},
		{"CVE-2024-0001", "https://a.example/1", "2026-08-29T10:00:00Z"},
	})
	res := &fakeResolver{}

	summary, err := newTestOrchestrator(res).Run(context.Background(), path, Options{ForceRerun: true})
	require.NoError(t, err)
	assert.False(t, summary.AlreadyDone)
	assert.Equal(t, 1, res.callCount())
}

func TestRunMalformedURLFailsWithoutFetch(t *testing.T) {
	t.Parallel()

	path := writeCSV(t, [][]string{
		{"cve", "advisory_urls"},
		{"CVE-2024-0001", "not a url;https://a.example/1"},
	})
	res := &fakeResolver{}

	summary, err := newTestOrchestrator(res).Run(context.Background(), path, Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, res.callCount(), "malformed URLs are cached as failed, never fetched")
	assert.Equal(t, 1, summary.FailedCount)
	assert.Equal(t, 1, summary.ErrorBreakdown[advisory.ErrorMalformedURL])

	header, rows := loadRows(t, path)
	status := cellByName(t, header, rows[0], dataset.ColumnStatus)
	assert.Equal(t, "failed;success", status,
		"status entries pair up positionally with the URL cell")
}

func TestRunProgressTotalsIncludeMalformedURLs(t *testing.T) {
	t.Parallel()

	path := writeCSV(t, [][]string{
		{"cve", "advisory_urls"},
		{"CVE-2024-0001", "not a url;https://a.example/1;https://b.example/2"},
	})
	emitter := &collectEmitter{}
	orch := New(&fakeResolver{}, &fakeProber{}, emitter, testDatasetConfig(), nil)

	summary, err := orch.Run(context.Background(), path, Options{})
	require.NoError(t, err)
	require.Equal(t, 3, summary.TotalURLs)

	starts := emitter.byStage(progress.StageRunStart)
	require.Len(t, starts, 1)
	assert.Equal(t, 3, starts[0].Total, "announced total covers URLs that never reach a fetch")

	dones := emitter.byStage(progress.StageURLDone)
	require.Len(t, dones, 3, "every URL in the summary gets a completion event")
	maxCurrent := 0
	for _, evt := range dones {
		assert.Equal(t, 3, evt.Total)
		if evt.Current > maxCurrent {
			maxCurrent = evt.Current
		}
	}
	assert.Equal(t, 3, maxCurrent, "a poller sees the counter reach the announced total")
}

func TestRunCanceledLeavesDatasetUntouched(t *testing.T) {
	t.Parallel()

	path := writeCSV(t, [][]string{
		{"cve", "advisory_urls"},
		{"CVE-2024-0001", "https://a.example/1"},
	})
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = newTestOrchestrator(&fakeResolver{}).Run(ctx, path, Options{})
	require.ErrorIs(t, err, ErrRunCanceled)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after, "a canceled run must not merge or persist")
}

func TestRunMissingDatasetIsFatal(t *testing.T) {
	t.Parallel()

	_, err := newTestOrchestrator(&fakeResolver{}).Run(context.Background(),
		filepath.Join(t.TempDir(), "absent.csv"), Options{})
	require.ErrorIs(t, err, dataset.ErrDataset)
}

func TestRunStampsMarker(t *testing.T) {
	t.Parallel()

	path := writeCSV(t, [][]string{
		{"cve", "advisory_urls"},
		{"CVE-2024-0001", "https://a.example/1"},
	})

	start := time.Now().UTC().Add(-time.Second)
	_, err := newTestOrchestrator(&fakeResolver{}).Run(context.Background(), path, Options{})
	require.NoError(t, err)

	header, rows := loadRows(t, path)
	stamp := cellByName(t, header, rows[0], "resolved_at")
	parsed, err := time.Parse(time.RFC3339, stamp)
	require.NoError(t, err)
	assert.True(t, parsed.After(start))
}

func TestRunFailedURLSummaryCounts(t *testing.T) {
	t.Parallel()

	path := writeCSV(t, [][]string{
		{"cve", "advisory_urls"},
		{"CVE-2024-0001", "https://a.example/1;https://b.example/2;https://c.example/3"},
	})
	res := &fakeResolver{results: map[string]advisory.Result{
		"https://a.example/1": {URL: "https://a.example/1", Status: advisory.StatusFailed,
			Kind: advisory.ErrorNetworkTerminal, ErrorText: "404"},
		"https://b.example/2": {URL: "https://b.example/2", Status: advisory.StatusBlocked,
			Kind: advisory.ErrorBotBlocked, ErrorText: "challenge"},
		"https://c.example/3": {URL: "https://c.example/3", Status: advisory.StatusEmpty,
			Remediation: &advisory.RemediationRecord{}},
	}}

	summary, err := newTestOrchestrator(res).Run(context.Background(), path, Options{})
	require.NoError(t, err)

	assert.Equal(t, 3, summary.TotalURLs)
	assert.Equal(t, 0, summary.SuccessCount)
	assert.Equal(t, 2, summary.FailedCount, "failed and blocked both count as not-success")
	assert.Equal(t, 1, summary.EmptyCount)
	assert.Equal(t, 1, summary.ErrorBreakdown[advisory.ErrorNetworkTerminal])
	assert.Equal(t, 1, summary.ErrorBreakdown[advisory.ErrorBotBlocked])
}
