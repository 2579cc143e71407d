package discovery

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// stubFetcher serves canned responses keyed by URL. Unknown URLs answer 404.
type stubFetcher struct {
	mu    sync.Mutex
	get   map[string]Response
	head  map[string]Response
	errs  map[string]error
	slow  map[string]bool
	calls []string
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{
		get:  map[string]Response{},
		head: map[string]Response{},
		errs: map[string]error{},
		slow: map[string]bool{},
	}
}

func (f *stubFetcher) Get(ctx context.Context, rawURL string) (Response, error) {
	return f.serve(ctx, http.MethodGet, rawURL, f.get)
}

func (f *stubFetcher) Head(ctx context.Context, rawURL string) (Response, error) {
	return f.serve(ctx, http.MethodHead, rawURL, f.head)
}

func (f *stubFetcher) serve(ctx context.Context, method, rawURL string, table map[string]Response) (Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, method+" "+rawURL)
	slow := f.slow[rawURL]
	err := f.errs[rawURL]
	resp, ok := table[rawURL]
	f.mu.Unlock()

	if slow {
		select {
		case <-ctx.Done():
			return Response{}, fmt.Errorf("stub fetch: %w", ctx.Err())
		case <-time.After(time.Minute):
		}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Response{}, fmt.Errorf("stub fetch: %w", ctxErr)
	}
	if err != nil {
		return Response{}, err
	}
	if !ok {
		return Response{URL: rawURL, StatusCode: http.StatusNotFound, Headers: http.Header{}}, nil
	}
	if resp.URL == "" {
		resp.URL = rawURL
	}
	if resp.Headers == nil {
		resp.Headers = http.Header{}
	}
	return resp, nil
}

func (f *stubFetcher) called(entry string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == entry {
			return true
		}
	}
	return false
}

func (f *stubFetcher) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *stubFetcher) exact(entry string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == entry {
			n++
		}
	}
	return n
}

func ok200(body string) Response {
	return Response{StatusCode: http.StatusOK, Headers: http.Header{}, Body: []byte(body)}
}

func htmlPage(hrefs ...string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, h := range hrefs {
		fmt.Fprintf(&b, `<a href="%s">link</a>`, h)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func urlset(locs ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString(`<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`)
	for _, l := range locs {
		fmt.Fprintf(&b, "<url><loc>%s</loc></url>", l)
	}
	b.WriteString("</urlset>")
	return b.String()
}

func sitemapIndex(children ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString(`<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`)
	for _, c := range children {
		fmt.Fprintf(&b, "<sitemap><loc>%s</loc></sitemap>", c)
	}
	b.WriteString("</sitemapindex>")
	return b.String()
}

type countingRecorder struct {
	mu        sync.Mutex
	fetches   map[string]int
	probes    map[string]int
	discovery []string
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{fetches: map[string]int{}, probes: map[string]int{}}
}

func (r *countingRecorder) ObserveFetch(component, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetches[component+"/"+outcome]++
}

func (r *countingRecorder) ObserveDiscovery(source string, pages, files int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discovery = append(r.discovery, fmt.Sprintf("%s:%d:%d", source, pages, files))
}

func (r *countingRecorder) ObserveProbe(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probes[outcome]++
}
