package extract

import (
	"net/url"

	"github.com/patchtrace/patchtrace/internal/advisory"
)

// Generic is the universal fallback extractor. It makes a best-effort pass
// over any markup: title, identifier patterns in the text, and outbound links
// that look like downloads. Unknown layouts get this, never an error.
type Generic struct{}

// Name labels this extractor in RemediationRecord.SourceUsed.
func (Generic) Name() string { return "generic" }

// Match accepts everything; the registry consults it last.
func (Generic) Match(*url.URL) bool { return true }

// Extract pulls whatever the heuristics can find.
func (g Generic) Extract(content []byte, pageURL string) advisory.RemediationRecord {
	rec := advisory.RemediationRecord{SourceUsed: g.Name()}

	doc, err := parseDocument(content)
	if err != nil {
		// Not HTML; still try the raw bytes for identifiers.
		if id := firstIdentifier(string(content)); id != "" {
			rec.PatchID = id
		}
		return rec
	}

	title := collapse(doc.Find("title").Text())
	text := cleanText(doc)

	if id := firstIdentifier(title); id != "" {
		rec.PatchID = id
	} else if id := firstIdentifier(text); id != "" {
		rec.PatchID = id
	}

	if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
		rec.RemediationText = collapse(desc)
	}
	if section := sectionText(doc, "remediation", "fix", "solution", "patch"); section != "" {
		rec.RemediationText = section
	}
	if rec.RemediationText == "" {
		rec.RemediationText = text
	}

	if section := sectionText(doc, "affected"); section != "" {
		rec.AffectedVersions = section
	}

	for _, link := range absoluteLinks(doc, pageURL) {
		rec.AddDownloadLink(link)
	}
	return rec
}

// IdentifierFromURL recovers a patch identifier embedded in the URL itself,
// e.g. a KB number or CVE in the path. This pass always runs in addition to
// the page extraction so a dead or empty page can still yield an ID.
func IdentifierFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return firstIdentifier(rawURL)
	}
	if id := firstIdentifier(u.Path); id != "" {
		return id
	}
	if id := firstIdentifier(u.RawQuery); id != "" {
		return id
	}
	return ""
}
