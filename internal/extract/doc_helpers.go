package extract

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// maxTextLen caps extracted free text so one bloated page cannot dominate the
// output columns.
const maxTextLen = 4000

func parseDocument(content []byte) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(bytes.NewReader(content))
}

// cleanText strips boilerplate nodes and collapses whitespace the way every
// extractor wants page text.
func cleanText(doc *goquery.Document) string {
	doc.Find("script, style, nav, header, footer, noscript, iframe").Remove()
	return collapse(doc.Find("body").Text())
}

func collapse(s string) string {
	fields := strings.Fields(strings.TrimSpace(s))
	out := strings.Join(fields, " ")
	if len(out) > maxTextLen {
		out = out[:maxTextLen]
	}
	return out
}

// sectionText returns the collapsed text that follows a heading whose text
// contains any of the given fragments, up to the next heading.
func sectionText(doc *goquery.Document, fragments ...string) string {
	var out string
	doc.Find("h1, h2, h3, h4").EachWithBreak(func(_ int, h *goquery.Selection) bool {
		heading := strings.ToLower(h.Text())
		for _, frag := range fragments {
			if !strings.Contains(heading, frag) {
				continue
			}
			var parts []string
			for n := h.Next(); n.Length() > 0; n = n.Next() {
				if goquery.NodeName(n) == "h1" || goquery.NodeName(n) == "h2" ||
					goquery.NodeName(n) == "h3" || goquery.NodeName(n) == "h4" {
					break
				}
				parts = append(parts, n.Text())
			}
			out = collapse(strings.Join(parts, " "))
			return false
		}
		return true
	})
	return out
}

// absoluteLinks collects hrefs matching the download shapes, resolved against
// the page URL.
func absoluteLinks(doc *goquery.Document, pageURL string) []string {
	base, baseErr := url.Parse(pageURL)
	var links []string
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		if !isDownloadLink(href) {
			return
		}
		if baseErr == nil {
			if ref, err := url.Parse(href); err == nil {
				href = base.ResolveReference(ref).String()
			}
		}
		links = append(links, href)
	})
	return links
}

func normalizeIdentifier(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}
