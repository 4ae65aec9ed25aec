package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/patchtrace/patchtrace/internal/advisory"
)

// RedHat extracts remediation data from Red Hat errata pages.
type RedHat struct{}

// Name labels this extractor in RemediationRecord.SourceUsed.
func (RedHat) Name() string { return "redhat" }

// Match selects this extractor for access.redhat.com errata URLs.
func (RedHat) Match(u *url.URL) bool {
	if u == nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host != "access.redhat.com" && !strings.HasSuffix(host, ".redhat.com") {
		return false
	}
	return strings.Contains(strings.ToLower(u.Path), "/errata/") ||
		rhsaPattern.MatchString(u.Path)
}

// Extract reads the erratum ID, affected products, and fix description.
func (r RedHat) Extract(content []byte, pageURL string) advisory.RemediationRecord {
	rec := advisory.RemediationRecord{SourceUsed: r.Name()}

	if id := rhsaPattern.FindString(pageURL); id != "" {
		rec.PatchID = normalizeIdentifier(id)
	}

	doc, err := parseDocument(content)
	if err != nil {
		return rec
	}

	if rec.PatchID == "" {
		title := collapse(doc.Find("title").Text())
		if id := rhsaPattern.FindString(title); id != "" {
			rec.PatchID = normalizeIdentifier(id)
		}
	}

	rec.AffectedVersions = r.affectedProducts(doc)
	rec.RemediationText = sectionText(doc, "solution", "fixes", "description")
	if rec.RemediationText == "" {
		rec.RemediationText = cleanText(doc)
	}

	for _, link := range absoluteLinks(doc, pageURL) {
		rec.AddDownloadLink(link)
	}
	if rec.PatchID != "" {
		rec.AddDownloadLink("https://access.redhat.com/downloads/content/errata/" + rec.PatchID)
	}
	return rec
}

func (RedHat) affectedProducts(doc *goquery.Document) string {
	var products []string
	doc.Find("h2, h3").Each(func(_ int, h *goquery.Selection) {
		if !strings.Contains(strings.ToLower(h.Text()), "affected products") {
			return
		}
		h.NextFiltered("ul").Find("li").Each(func(_ int, li *goquery.Selection) {
			products = appendUnique(products, collapse(li.Text()))
		})
	})
	if len(products) == 0 {
		return sectionText(doc, "affected products")
	}
	return strings.Join(products, "; ")
}
