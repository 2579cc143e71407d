package discovery

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCrawlBudgetCountsFilesAndPages(t *testing.T) {
	t.Parallel()

	f := newStubFetcher()
	links := make([]string, 0, 21)
	for i := 1; i <= 20; i++ {
		links = append(links, fmt.Sprintf("/p%d", i))
	}
	links = append(links, "/docs/report.pdf")
	f.get["https://example.com/"] = ok200(htmlPage(links...))
	d := New(f, Options{}, nil, nil)

	res := d.Crawl(context.Background(), "https://example.com", 10, 2)
	require.Equal(t, []string{"https://example.com/docs/report.pdf"}, res.Files)
	require.Len(t, res.Pages, 9)
	require.Equal(t, "https://example.com/p1", res.Pages[0])
	require.Equal(t, "https://example.com/p9", res.Pages[8])
	require.Len(t, res.All, 10)
	require.False(t, f.called("HEAD https://example.com/docs/report.pdf"))
	require.False(t, f.called("GET https://example.com/docs/report.pdf"))
}

func TestCrawlFanoutCap(t *testing.T) {
	t.Parallel()

	f := newStubFetcher()
	links := make([]string, 0, 30)
	for i := 1; i <= 30; i++ {
		links = append(links, fmt.Sprintf("/p%d", i))
	}
	f.get["https://example.com/"] = ok200(htmlPage(links...))
	d := New(f, Options{}, nil, nil)

	res := d.Crawl(context.Background(), "https://example.com/", 100, 2)
	require.Len(t, res.Pages, DefaultFanoutCap)
	require.True(t, f.called("GET https://example.com/p15"))
	require.False(t, f.called("GET https://example.com/p16"))
}

func TestCrawlFiltersLinks(t *testing.T) {
	t.Parallel()

	f := newStubFetcher()
	f.get["https://example.com/"] = ok200(htmlPage(
		"https://other.example.org/offsite",
		"http://example.com/wrong-scheme",
		"/about?ref=nav#team",
		"/about",
		"/static/app.js",
		"/img/logo.png",
		"/account/settings",
		"/login",
		"mailto:sales@example.com",
		"/files/terms.docx",
		"/files/terms.docx",
	))
	d := New(f, Options{}, nil, nil)

	res := d.Crawl(context.Background(), "https://example.com", 50, 2)
	require.Equal(t, []string{"https://example.com/about"}, res.Pages)
	require.Equal(t, []string{"https://example.com/files/terms.docx"}, res.Files)
	require.Equal(t, []string{"https://example.com/about", "https://example.com/files/terms.docx"}, res.All)
}

func TestCrawlRespectsMaxDepth(t *testing.T) {
	t.Parallel()

	f := newStubFetcher()
	f.get["https://example.com/"] = ok200(htmlPage("/a"))
	f.get["https://example.com/a"] = ok200(htmlPage("/b", "/"))
	f.get["https://example.com/b"] = ok200(htmlPage("/c"))
	d := New(f, Options{}, nil, nil)

	res := d.Crawl(context.Background(), "https://example.com", 50, 1)
	require.ElementsMatch(t, []string{
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/",
	}, res.Pages)
	require.False(t, f.called("GET https://example.com/b"))
	require.Equal(t, 1, f.exact("GET https://example.com/"))
}

func TestCrawlVisitsEachURLOnce(t *testing.T) {
	t.Parallel()

	f := newStubFetcher()
	f.get["https://example.com/"] = ok200(htmlPage("/a", "/b"))
	f.get["https://example.com/a"] = ok200(htmlPage("/b", "/", "/a"))
	f.get["https://example.com/b"] = ok200(htmlPage("/a", "/"))
	d := New(f, Options{}, nil, nil)

	res := d.Crawl(context.Background(), "https://example.com", 50, 2)
	require.ElementsMatch(t, []string{
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/",
	}, res.Pages)
	for _, u := range []string{"https://example.com/", "https://example.com/a", "https://example.com/b"} {
		require.Equal(t, 1, f.exact("GET "+u), u)
	}
}

func TestCrawlResolvesLinksAgainstFinalURL(t *testing.T) {
	t.Parallel()

	f := newStubFetcher()
	root := ok200(htmlPage("about", "guide.pdf", "/en/"))
	root.URL = "https://example.com/en/"
	f.get["https://example.com/"] = root
	f.get["https://example.com/en/about"] = ok200(htmlPage("./", "contact"))
	d := New(f, Options{}, nil, nil)

	res := d.Crawl(context.Background(), "https://example.com", 50, 2)
	require.Equal(t, []string{
		"https://example.com/en/about",
		"https://example.com/en/",
		"https://example.com/en/contact",
	}, res.Pages)
	require.Equal(t, []string{"https://example.com/en/guide.pdf"}, res.Files)
	require.False(t, f.called("GET https://example.com/about"))
	require.Zero(t, f.exact("GET https://example.com/en/"))
	require.True(t, f.called("GET https://example.com/en/contact"))
}

func TestCrawlDeduplicatesHostCase(t *testing.T) {
	t.Parallel()

	f := newStubFetcher()
	f.get["https://example.com/"] = ok200(htmlPage("https://Example.COM/a", "/a", "HTTPS://EXAMPLE.com/a"))
	d := New(f, Options{}, nil, nil)

	res := d.Crawl(context.Background(), "https://Example.com", 50, 2)
	require.Equal(t, []string{"https://example.com/a"}, res.Pages)
	require.Equal(t, 1, f.exact("GET https://example.com/a"))
}

func TestCrawlRootFailureYieldsNothing(t *testing.T) {
	t.Parallel()

	f := newStubFetcher()
	d := New(f, Options{}, nil, nil)

	res := d.Crawl(context.Background(), "https://example.com", 50, 2)
	require.Empty(t, res.Pages)
	require.Empty(t, res.Files)
	require.Empty(t, res.All)
}

func TestCrawlObserverSeesFetchedPages(t *testing.T) {
	t.Parallel()

	f := newStubFetcher()
	f.get["https://example.com/"] = ok200(htmlPage("/a"))
	f.get["https://example.com/a"] = ok200("<html><body><h1>A</h1></body></html>")

	var mu sync.Mutex
	seen := map[string]string{}
	d := New(f, Options{}, nil, nil).WithPageObserver(func(pageURL string, body []byte) {
		mu.Lock()
		defer mu.Unlock()
		seen[pageURL] = string(body)
	})

	d.Crawl(context.Background(), "https://example.com", 50, 2)
	require.Len(t, seen, 2)
	require.Contains(t, seen["https://example.com/a"], "<h1>A</h1>")
}
