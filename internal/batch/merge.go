package batch

import (
	"strings"

	"github.com/patchtrace/patchtrace/internal/advisory"
	"github.com/patchtrace/patchtrace/internal/dataset"
)

// mergeBack folds the run-scoped result cache into the dataset. Every record
// sharing a URL receives the identical resolution, so the merge is a pure
// function of the cache and never re-fetches. The status cell holds one entry
// per URL-cell entry, in the same order; pairing them up positionally avoids
// embedding URLs (which may contain the delimiter's sibling characters) in
// the cell.
func mergeBack(ds *dataset.Dataset, results map[string]advisory.Result) {
	delim := ds.Delimiter()

	for row := 0; row < ds.Len(); row++ {
		var (
			links     []string
			summaries []string
			statuses  []string
			linkSeen  = make(map[string]struct{})
			sumSeen   = make(map[string]struct{})
		)

		for _, raw := range ds.URLs(row) {
			result, ok := lookup(results, raw)
			if !ok {
				// Keep the slot so statuses stay aligned with the URL cell.
				statuses = append(statuses, "")
				continue
			}
			statuses = append(statuses, string(result.Status))

			if result.Remediation == nil {
				continue
			}
			for _, link := range result.Remediation.DownloadLinks {
				if _, dup := linkSeen[link]; dup {
					continue
				}
				linkSeen[link] = struct{}{}
				links = append(links, link)
			}
			if s := summaryLine(result.Remediation); s != "" {
				if _, dup := sumSeen[s]; !dup {
					sumSeen[s] = struct{}{}
					summaries = append(summaries, s)
				}
			}
		}

		ds.SetCell(row, dataset.ColumnLinks, strings.Join(links, delim))
		ds.SetCell(row, dataset.ColumnSummary, strings.Join(summaries, delim))
		ds.SetCell(row, dataset.ColumnStatus, strings.Join(statuses, delim))
	}
}

// lookup resolves a raw URL cell entry against the cache, which is keyed by
// normalized URL except for entries that failed normalization.
func lookup(results map[string]advisory.Result, raw string) (advisory.Result, bool) {
	if normalized, err := advisory.NormalizeURL(raw); err == nil {
		if r, ok := results[normalized]; ok {
			return r, true
		}
	}
	r, ok := results[raw]
	return r, ok
}

// summaryLine flattens the textual remediation fields into one cell-safe line.
func summaryLine(rec *advisory.RemediationRecord) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{rec.PatchID, rec.AffectedVersions, rec.RemediationText} {
		p = strings.TrimSpace(p)
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " | ")
}
