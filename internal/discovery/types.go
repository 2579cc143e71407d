package discovery

import (
	"context"
	"errors"
	"net/http"
)

var (
	// ErrInvalidWebsiteURL is returned when no origin can be derived from the input.
	ErrInvalidWebsiteURL = errors.New("invalid website url")
	// ErrMalformedSitemap is returned when a body is neither a urlset nor a sitemapindex.
	ErrMalformedSitemap = errors.New("malformed sitemap")
)

// Fetcher performs the network calls discovery needs.
//
// Any HTTP status is reported through Response with a nil error; an error means
// no response was obtained at all.
type Fetcher interface {
	// Get follows redirects.
	Get(ctx context.Context, rawURL string) (Response, error)
	// Head never follows redirects so callers can inspect 3xx answers.
	Head(ctx context.Context, rawURL string) (Response, error)
}

// Response is the subset of an HTTP response discovery inspects.
type Response struct {
	// URL is where the request ended up after redirects.
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Success reports whether the status is 2xx.
func (r Response) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Source tags which traversal produced a Result.
type Source string

// Result sources.
const (
	SourceSitemap Source = "sitemap"
	SourceCrawl   Source = "crawl"
)

// Result is the outcome of one Discover call.
type Result struct {
	URLs   []string `json:"urls"`
	Pages  []string `json:"pages"`
	Files  []string `json:"files"`
	Source Source   `json:"source"`
}

// ClassifiedURLSet splits URLs into pages and document files.
type ClassifiedURLSet struct {
	Pages []string
	Files []string
}

// CrawlResult is returned by Crawl.
type CrawlResult struct {
	Pages []string
	Files []string
	All   []string
}

// DocumentDescriptor describes a confirmed downloadable document.
type DocumentDescriptor struct {
	SourceURL          string `json:"source_url"`
	DownloadURL        string `json:"download_url"`
	Pathname           string `json:"pathname"`
	ContentType        string `json:"content_type,omitempty"`
	ContentDisposition string `json:"content_disposition,omitempty"`
}

// PageObserver receives every HTML page the crawler fetched successfully.
type PageObserver func(pageURL string, body []byte)

// Recorder receives discovery outcomes for metrics.
type Recorder interface {
	ObserveFetch(component, outcome string)
	ObserveDiscovery(source string, pages, files int)
	ObserveProbe(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveFetch(string, string) {}

func (nopRecorder) ObserveDiscovery(string, int, int) {}

func (nopRecorder) ObserveProbe(string) {}

// Fetch components and outcomes reported to the Recorder.
const (
	ComponentSitemapProbe = "sitemap_probe"
	ComponentSitemap      = "sitemap"
	ComponentCrawl        = "crawl"
	ComponentDocument     = "document"

	OutcomeOK           = "ok"
	OutcomeHTTPError    = "http_error"
	OutcomeError        = "error"
	OutcomeParseError   = "parse_error"
	OutcomeDownloadable = "downloadable"
	OutcomeForbidden    = "forbidden"
	OutcomeRejected     = "rejected"
)
