package advisory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "lowercases scheme and host",
			in:   "HTTPS://Access.RedHat.COM/errata/RHSA-2024:1234",
			want: "https://access.redhat.com/errata/RHSA-2024:1234",
		},
		{
			name: "strips default https port",
			in:   "https://example.com:443/advisory",
			want: "https://example.com/advisory",
		},
		{
			name: "strips default http port",
			in:   "http://example.com:80/advisory",
			want: "http://example.com/advisory",
		},
		{
			name: "keeps non-default port",
			in:   "https://example.com:8443/advisory",
			want: "https://example.com:8443/advisory",
		},
		{
			name: "drops fragment",
			in:   "https://example.com/advisory#section-2",
			want: "https://example.com/advisory",
		},
		{
			name: "sorts query parameters",
			in:   "https://example.com/a?z=1&a=2",
			want: "https://example.com/a?a=2&z=1",
		},
		{
			name: "trims surrounding whitespace",
			in:   "  https://example.com/a  ",
			want: "https://example.com/a",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeURL(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeURLVariantsShareKey(t *testing.T) {
	t.Parallel()

	a, err := NormalizeURL("https://MSRC.microsoft.com/update-guide/vulnerability/CVE-2024-1234#top")
	require.NoError(t, err)
	b, err := NormalizeURL("https://msrc.microsoft.com:443/update-guide/vulnerability/CVE-2024-1234")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestNormalizeURLRejectsRelativeAndEmpty(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "   ", "not a url at all", "/relative/path", "example.com/no-scheme"} {
		_, err := NormalizeURL(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestDomain(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "access.redhat.com", Domain("https://Access.RedHat.com/errata/RHSA-2024:1234"))
	assert.Equal(t, "example.com", Domain("https://example.com:8443/x"))
	assert.Equal(t, "unknown", Domain("::not-a-url::"))
	assert.Equal(t, "unknown", Domain(""))
}
