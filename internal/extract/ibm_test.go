package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIBMMatch(t *testing.T) {
	t.Parallel()

	i := IBM{}
	assert.True(t, i.Match(mustParse(t, "https://www.ibm.com/support/pages/security-bulletin-1")))
	assert.True(t, i.Match(mustParse(t, "https://supportcontent.ibm.com/page")))
	assert.False(t, i.Match(mustParse(t, "https://example.com/ibm")))
	assert.False(t, i.Match(nil))
}

func TestIBMExtract(t *testing.T) {
	t.Parallel()

	page := `<html><body>
<h2>Affected Products and Versions</h2>
<p>IBM WebSphere Application Server 9.0.0.0 - 9.0.5.17</p>
<h2>Remediation/Fixes</h2>
<p>Apply iFix PH56789 from Fix Central.</p>
<a href="https://www.ibm.com/support/fixcentral/swg/selectFixes?fixids=PH56789">Fix Central</a>
</body></html>`

	rec := IBM{}.Extract([]byte(page), "https://www.ibm.com/support/pages/security-bulletin-1")

	assert.Equal(t, "PH56789", rec.PatchID)
	assert.Contains(t, rec.AffectedVersions, "WebSphere Application Server")
	assert.Contains(t, rec.RemediationText, "PH56789")
	assert.Contains(t, rec.DownloadLinks,
		"https://www.ibm.com/support/fixcentral/swg/selectFixes?fixids=PH56789")
}

func TestIBMExtractWithoutFixSection(t *testing.T) {
	t.Parallel()

	page := `<html><body><p>Bulletin: apply APAR IJ45678 when available.</p></body></html>`

	rec := IBM{}.Extract([]byte(page), "https://www.ibm.com/support/pages/security-bulletin-2")
	assert.Equal(t, "IJ45678", rec.PatchID)
	assert.Contains(t, rec.RemediationText, "IJ45678")
}
