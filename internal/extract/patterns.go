// Package extract parses structured remediation fields out of raw advisory
// page content. Extractors form a closed set selected by URL pattern, with a
// generic extractor as the universal fallback.
package extract

import "regexp"

// Identifier shapes shared across extractors. These match both page text and
// URL paths, which is what lets the generic URL pass recover a patch ID when
// the page itself yields nothing.
var (
	kbPattern   = regexp.MustCompile(`(?i)\bKB\d{6,7}\b`)
	cvePattern  = regexp.MustCompile(`(?i)\bCVE-\d{4}-\d{4,}\b`)
	rhsaPattern = regexp.MustCompile(`(?i)\bRH[BSE]A-\d{4}:\d{4,}\b`)
	advPattern  = regexp.MustCompile(`(?i)\bADV\d{6}\b`)
)

// Link shapes that count as download or remediation references.
var downloadLinkPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)catalog\.update\.microsoft\.com`),
	regexp.MustCompile(`(?i)fix\s?central|fixcentral`),
	regexp.MustCompile(`(?i)/downloads?/`),
	regexp.MustCompile(`(?i)\.(msu|msp|exe|rpm|deb|tar\.gz|zip|patch)(\?|$)`),
	regexp.MustCompile(`(?i)access\.redhat\.com/downloads`),
	regexp.MustCompile(`(?i)support\.microsoft\.com/.*kb`),
}

// firstIdentifier returns the first recognizable advisory identifier in s,
// preferring vendor patch IDs over CVE numbers.
func firstIdentifier(s string) string {
	for _, p := range []*regexp.Regexp{kbPattern, rhsaPattern, advPattern, cvePattern} {
		if m := p.FindString(s); m != "" {
			return normalizeIdentifier(m)
		}
	}
	return ""
}

func isDownloadLink(href string) bool {
	if href == "" {
		return false
	}
	for _, p := range downloadLinkPatterns {
		if p.MatchString(href) {
			return true
		}
	}
	return false
}
