package extract

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/patchtrace/patchtrace/internal/advisory"
)

var ibmFixPattern = regexp.MustCompile(`(?i)\b(?:iFix|Fix Pack|APAR)\s*[:#]?\s*([A-Z0-9][A-Z0-9._-]{3,})`)

// IBM extracts remediation data from IBM support security bulletins.
type IBM struct{}

// Name labels this extractor in RemediationRecord.SourceUsed.
func (IBM) Name() string { return "ibm" }

// Match selects this extractor for ibm.com support pages.
func (IBM) Match(u *url.URL) bool {
	if u == nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host == "www.ibm.com" || host == "ibm.com" ||
		strings.HasSuffix(host, ".ibm.com")
}

// Extract reads the bulletin's remediation and affected-products sections.
func (i IBM) Extract(content []byte, pageURL string) advisory.RemediationRecord {
	rec := advisory.RemediationRecord{SourceUsed: i.Name()}

	doc, err := parseDocument(content)
	if err != nil {
		return rec
	}

	remediation := sectionText(doc, "remediation", "fixes", "workarounds")
	if remediation != "" {
		rec.RemediationText = remediation
	}
	rec.AffectedVersions = sectionText(doc, "affected product", "affected version")

	searchSpace := remediation
	if searchSpace == "" {
		searchSpace = cleanText(doc)
		if rec.RemediationText == "" {
			rec.RemediationText = searchSpace
		}
	}
	if m := ibmFixPattern.FindStringSubmatch(searchSpace); len(m) == 2 {
		rec.PatchID = normalizeIdentifier(m[1])
	}

	for _, link := range absoluteLinks(doc, pageURL) {
		rec.AddDownloadLink(link)
	}
	return rec
}
