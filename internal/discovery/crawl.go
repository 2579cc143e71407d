package discovery

import (
	"bytes"
	"context"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

type frontierEntry struct {
	url   string
	depth int
}

// orderedSet keeps insertion order.
type orderedSet struct {
	items []string
	index map[string]struct{}
}

func newOrderedSet() *orderedSet {
	return &orderedSet{index: make(map[string]struct{})}
}

func (s *orderedSet) Add(v string) bool {
	if _, ok := s.index[v]; ok {
		return false
	}
	s.index[v] = struct{}{}
	s.items = append(s.items, v)
	return true
}

func (s *orderedSet) Has(v string) bool {
	_, ok := s.index[v]
	return ok
}

func (s *orderedSet) Len() int { return len(s.items) }

// Crawl walks same-origin links breadth first from the site root.
//
// Documents are collected as files and never fetched; page links are capped
// per page by the fan-out limit and only followed while depth+1 <= maxDepth.
// pages+files never exceeds limit.
func (d *Discoverer) Crawl(ctx context.Context, websiteURL string, limit, maxDepth int) CrawlResult {
	res := CrawlResult{Pages: []string{}, Files: []string{}, All: []string{}}
	if limit <= 0 {
		return res
	}
	origin := Origin(websiteURL)
	root, ok := ResolveURL(origin, "/")
	if !ok {
		return res
	}

	queue := []frontierEntry{{url: root, depth: 0}}
	queued := map[string]struct{}{root: {}}
	visited := make(map[string]struct{})
	pages := newOrderedSet()
	files := newOrderedSet()
	full := func() bool { return pages.Len()+files.Len() >= limit }

	for len(queue) > 0 && !full() {
		if ctx.Err() != nil {
			break
		}
		entry := queue[0]
		queue = queue[1:]
		if _, ok := visited[entry.url]; ok {
			continue
		}
		visited[entry.url] = struct{}{}

		resp, ok := d.fetch(ctx, ComponentCrawl, entry.url, d.opts.CrawlFetchTimeout)
		if !ok {
			continue
		}
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
		if err != nil {
			d.recorder.ObserveFetch(ComponentCrawl, OutcomeParseError)
			d.logger.Debug("html parse failed", zap.String("url", entry.url), zap.Error(err))
			continue
		}
		// Relative links resolve against where redirects ended.
		base := entry.url
		if resp.URL != "" {
			if final, ok := ResolveURL(resp.URL, ""); ok {
				base = final
			}
		}
		visited[base] = struct{}{}
		if d.observer != nil {
			d.observer(entry.url, resp.Body)
		}

		candidates := d.extractLinks(doc, base, origin, files, pages, limit)
		for _, link := range candidates {
			if full() {
				break
			}
			if !pages.Add(link) {
				continue
			}
			if entry.depth+1 > maxDepth {
				continue
			}
			if _, seen := visited[link]; seen {
				continue
			}
			if _, seen := queued[link]; seen {
				continue
			}
			queued[link] = struct{}{}
			queue = append(queue, frontierEntry{url: link, depth: entry.depth + 1})
		}
	}

	res.Pages = truncate(pages.items, limit)
	res.Files = truncate(files.items, limit-len(res.Pages))
	all := newOrderedSet()
	for _, u := range res.Pages {
		all.Add(u)
	}
	for _, u := range res.Files {
		all.Add(u)
	}
	res.All = append(res.All, all.items...)
	d.logger.Debug("crawl finished",
		zap.String("origin", origin),
		zap.Int("pages", len(res.Pages)),
		zap.Int("files", len(res.Files)),
		zap.Int("visited", len(visited)),
	)
	return res
}

// extractLinks sorts the anchors of one page. Documents go straight into files
// while budget remains; the returned page candidates are deduplicated and cut
// to the fan-out cap.
func (d *Discoverer) extractLinks(
	doc *goquery.Document,
	pageURL, origin string,
	files, pages *orderedSet,
	limit int,
) []string {
	var candidates []string
	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		link, ok := ResolveURL(pageURL, href)
		if !ok || Origin(link) != origin {
			return
		}
		switch {
		case IsDocument(link):
			if !files.Has(link) && files.Len()+pages.Len() < limit {
				files.Add(link)
			}
		case IsAsset(link), IsDisallowedPath(pathOf(link)):
			return
		default:
			if _, dup := seen[link]; dup {
				return
			}
			seen[link] = struct{}{}
			candidates = append(candidates, link)
		}
	})
	if len(candidates) > d.opts.FanoutCap {
		candidates = candidates[:d.opts.FanoutCap]
	}
	return candidates
}

func truncate(in []string, n int) []string {
	if n <= 0 {
		return []string{}
	}
	if len(in) > n {
		in = in[:n]
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
