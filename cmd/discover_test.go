package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-discovery/internal/config"
	"github.com/JakeFAU/site-discovery/internal/discovery"
)

func quietConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	cfg.Logging.Development = false
	cfg.Logging.Level = "error"
	return cfg, nil
}

func newCrawlSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `<html><body>
<a href="/about">About</a>
<a href="/docs/guide.pdf">Guide</a>
<a href="https://elsewhere.example/page">Elsewhere</a>
</body></html>`)
	})
	mux.HandleFunc("/about", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><a href="/">Home</a></body></html>`)
	})
	mux.HandleFunc("/docs/guide.pdf", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
	})
	site := httptest.NewServer(mux)
	t.Cleanup(site.Close)
	return site
}

func TestDiscoverCommandPrintsJSON(t *testing.T) {
	loadConfig = quietConfig
	t.Cleanup(func() { loadConfig = config.Load })

	site := newCrawlSite(t)

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"discover", site.URL, "--crawl-limit", "10", "--documents"})
	require.NoError(t, root.Execute())

	var got discoverOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	require.Equal(t, site.URL, got.WebsiteURL)
	require.Equal(t, discovery.SourceCrawl, got.Result.Source)
	require.ElementsMatch(t, []string{site.URL + "/about", site.URL + "/"}, got.Result.Pages)
	require.Equal(t, []string{site.URL + "/docs/guide.pdf"}, got.Result.Files)
	require.Len(t, got.Documents, 1)
	require.Equal(t, "/docs/guide.pdf", got.Documents[0].Pathname)
}

func TestDiscoverCommandRejectsInvalidURL(t *testing.T) {
	loadConfig = quietConfig
	t.Cleanup(func() { loadConfig = config.Load })

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"discover", "mailto:someone@example.com"})
	err := root.Execute()
	require.ErrorIs(t, err, discovery.ErrInvalidWebsiteURL)
}

func TestDiscoverCommandRequiresURL(t *testing.T) {
	loadConfig = quietConfig
	t.Cleanup(func() { loadConfig = config.Load })

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"discover"})
	require.Error(t, root.Execute())
}

func TestRootCommandReportsConfigErrors(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"discover", "https://example.com", "--config", "/nonexistent/config.yaml"})
	err := root.Execute()
	require.Error(t, err)
	require.Contains(t, err.Error(), "load config")
}
