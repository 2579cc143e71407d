// Package discovery enumerates the crawlable pages and downloadable documents
// of a website.
//
// Discovery prefers the site's sitemap tree and falls back to a bounded,
// same-origin breadth-first crawl when no sitemap answers. Candidate document
// URLs are confirmed separately with HEAD probes via ResolveDocuments.
//
// All network access goes through the Fetcher interface; traversal failures are
// logged and swallowed so that only an invalid website URL fails a run.
package discovery
