package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchtrace/patchtrace/internal/advisory"
)

func parseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestVendorAPISupports(t *testing.T) {
	t.Parallel()

	f := NewVendorAPI(VendorAPIConfig{BaseURL: "https://api.example.com/cvrf"})

	assert.True(t, f.Supports(parseURL(t,
		"https://msrc.microsoft.com/update-guide/vulnerability/CVE-2024-21412")))
	assert.True(t, f.Supports(parseURL(t,
		"https://msrc.microsoft.com/update-guide/advisory/ADV240001")))
	assert.True(t, f.Supports(parseURL(t,
		"https://msrc.microsoft.com/update-guide?cve=CVE-2024-21412")))
	assert.False(t, f.Supports(parseURL(t, "https://msrc.microsoft.com/update-guide")))
	assert.False(t, f.Supports(nil))

	unconfigured := NewVendorAPI(VendorAPIConfig{})
	assert.False(t, unconfigured.Supports(parseURL(t,
		"https://msrc.microsoft.com/update-guide/vulnerability/CVE-2024-21412")))
}

func TestVendorAPIFetch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/cvrf/CVE-2024-21412", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Vulnerability":[]}`))
	}))
	defer srv.Close()

	f := NewVendorAPI(VendorAPIConfig{BaseURL: srv.URL + "/cvrf"})
	resp, err := f.Fetch(context.Background(), advisory.FetchRequest{
		URL: "https://msrc.microsoft.com/update-guide/vulnerability/cve-2024-21412",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"Vulnerability":[]}`, string(resp.Body))
	assert.Equal(t, advisory.StrategyVendorAPI, resp.Strategy)
}

func TestVendorAPIFetchErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewVendorAPI(VendorAPIConfig{BaseURL: srv.URL + "/cvrf"})
	resp, err := f.Fetch(context.Background(), advisory.FetchRequest{
		URL: "https://msrc.microsoft.com/update-guide/vulnerability/CVE-2024-21412",
	})
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestVendorAPIFetchNoIdentifier(t *testing.T) {
	t.Parallel()

	f := NewVendorAPI(VendorAPIConfig{BaseURL: "https://api.example.com/cvrf"})
	_, err := f.Fetch(context.Background(), advisory.FetchRequest{
		URL: "https://msrc.microsoft.com/update-guide",
	})
	require.Error(t, err)
}

func TestAdvisoryIDUppercases(t *testing.T) {
	t.Parallel()

	id, err := advisoryID("https://msrc.microsoft.com/update-guide/vulnerability/cve-2024-21412")
	require.NoError(t, err)
	assert.Equal(t, "CVE-2024-21412", id)
}
