package extract

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/patchtrace/patchtrace/internal/advisory"
)

// MSRC extracts remediation data from Microsoft Security Response Center
// advisories. It understands both the rendered update-guide DOM and the CVRF
// JSON document the vendor API strategy returns.
type MSRC struct{}

// Name labels this extractor in RemediationRecord.SourceUsed.
func (MSRC) Name() string { return "msrc" }

// Match selects this extractor for MSRC update-guide URLs.
func (MSRC) Match(u *url.URL) bool {
	if u == nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return strings.Contains(host, "msrc.microsoft.com") ||
		strings.Contains(host, "portal.msrc.microsoft.com")
}

// Extract is tolerant of missing fields; anything not found stays empty.
func (m MSRC) Extract(content []byte, pageURL string) advisory.RemediationRecord {
	rec := advisory.RemediationRecord{SourceUsed: m.Name()}

	if looksLikeJSON(content) {
		m.extractCVRF(content, &rec)
		return rec
	}

	doc, err := parseDocument(content)
	if err != nil {
		return rec
	}

	text := cleanText(doc)
	if id := kbPattern.FindString(text); id != "" {
		rec.PatchID = normalizeIdentifier(id)
	}
	rec.RemediationText = sectionText(doc, "remediation", "security updates", "mitigations")
	if rec.RemediationText == "" && text != "" {
		rec.RemediationText = text
	}
	rec.AffectedVersions = sectionText(doc, "affected", "applies to")

	for _, link := range absoluteLinks(doc, pageURL) {
		rec.AddDownloadLink(link)
	}
	// An update-guide page always has a catalog search for its KB even when
	// the anchor is rendered late.
	if rec.PatchID != "" {
		rec.AddDownloadLink("https://catalog.update.microsoft.com/Search.aspx?q=" + rec.PatchID)
	}
	return rec
}

// cvrfDocument is the subset of the CVRF JSON schema the extractor reads.
type cvrfDocument struct {
	Vulnerability []struct {
		Remediations []struct {
			Description struct {
				Value string `json:"Value"`
			} `json:"Description"`
			URL             string   `json:"URL"`
			AffectedFiles   []string `json:"AffectedFiles"`
			FixedBuild      string   `json:"FixedBuild"`
			RemediationType int      `json:"Type"`
		} `json:"Remediations"`
	} `json:"Vulnerability"`
	ProductTree struct {
		FullProductName []struct {
			Value string `json:"Value"`
		} `json:"FullProductName"`
	} `json:"ProductTree"`
}

func (m MSRC) extractCVRF(content []byte, rec *advisory.RemediationRecord) {
	var doc cvrfDocument
	if err := json.Unmarshal(content, &doc); err != nil {
		return
	}

	var remediationParts []string
	var fixedBuilds []string
	for _, vuln := range doc.Vulnerability {
		for _, rem := range vuln.Remediations {
			if rec.PatchID == "" {
				if id := kbPattern.FindString(rem.Description.Value); id != "" {
					rec.PatchID = normalizeIdentifier(id)
				} else if kb := rem.Description.Value; strings.HasPrefix(kb, "5") && len(kb) == 7 {
					// CVRF encodes the KB number without its prefix.
					rec.PatchID = "KB" + kb
				}
			}
			if rem.URL != "" {
				rec.AddDownloadLink(rem.URL)
			}
			if rem.FixedBuild != "" {
				fixedBuilds = appendUnique(fixedBuilds, rem.FixedBuild)
			}
			if rem.Description.Value != "" {
				remediationParts = appendUnique(remediationParts, rem.Description.Value)
			}
		}
	}

	if len(fixedBuilds) > 0 {
		rec.AffectedVersions = "fixed in " + strings.Join(fixedBuilds, ", ")
	} else if len(doc.ProductTree.FullProductName) > 0 {
		var products []string
		for _, p := range doc.ProductTree.FullProductName {
			products = appendUnique(products, p.Value)
		}
		rec.AffectedVersions = strings.Join(products, "; ")
	}
	if len(remediationParts) > 0 {
		rec.RemediationText = collapse(strings.Join(remediationParts, "; "))
	}
	if rec.PatchID != "" {
		rec.AddDownloadLink("https://catalog.update.microsoft.com/Search.aspx?q=" + rec.PatchID)
	}
}

func looksLikeJSON(content []byte) bool {
	for _, b := range content {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		case '{', '[':
			return true
		default:
			return false
		}
	}
	return false
}

func appendUnique(list []string, v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return list
	}
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
