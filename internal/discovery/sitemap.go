package discovery

import (
	"context"
	"time"

	"go.uber.org/zap"
)

var sitemapPaths = []string{
	"/sitemap.xml",
	"/sitemap_index.xml",
	"/sitemap1.xml",
	"/sitemap-index.xml",
}

// SitemapCandidates returns the conventional sitemap locations of a site in
// probe order.
func SitemapCandidates(websiteURL string) []string {
	origin := Origin(websiteURL)
	out := make([]string, 0, len(sitemapPaths))
	for _, p := range sitemapPaths {
		out = append(out, origin+p)
	}
	return out
}

// LocateSitemap probes the candidates in order and returns the first one that
// answers 2xx. The body is not inspected.
func (d *Discoverer) LocateSitemap(ctx context.Context, websiteURL string) (string, bool) {
	for _, candidate := range SitemapCandidates(websiteURL) {
		if ctx.Err() != nil {
			return "", false
		}
		if _, ok := d.fetch(ctx, ComponentSitemapProbe, candidate, d.opts.SitemapProbeTimeout); ok {
			return candidate, true
		}
	}
	return "", false
}

// WalkSitemap traverses startURL and any nested sitemap indexes breadth first
// and returns up to limit page URLs with query and fragment stripped.
// Entries that fail to fetch or parse are dropped.
func (d *Discoverer) WalkSitemap(ctx context.Context, startURL string, limit int, timeout time.Duration) []string {
	if limit <= 0 {
		return []string{}
	}
	if timeout <= 0 {
		timeout = d.opts.SitemapFetchTimeout
	}

	queue := []string{startURL}
	visited := make(map[string]struct{})
	seen := make(map[string]struct{})
	out := make([]string, 0, limit)

	for len(queue) > 0 && len(out) < limit {
		if ctx.Err() != nil {
			break
		}
		current := queue[0]
		queue = queue[1:]
		if _, ok := visited[current]; ok {
			continue
		}
		visited[current] = struct{}{}

		resp, ok := d.fetch(ctx, ComponentSitemap, current, timeout)
		if !ok {
			continue
		}
		parsed, err := ParseSitemap(resp.Body)
		if err != nil {
			d.recorder.ObserveFetch(ComponentSitemap, OutcomeParseError)
			d.logger.Debug("sitemap parse failed", zap.String("url", current), zap.Error(err))
			continue
		}

		switch sm := parsed.(type) {
		case LeafSitemap:
			for _, loc := range sm.URLs {
				if len(out) >= limit {
					break
				}
				u, ok := ResolveURL(current, loc)
				if !ok {
					continue
				}
				if _, dup := seen[u]; dup {
					continue
				}
				seen[u] = struct{}{}
				out = append(out, u)
			}
		case IndexSitemap:
			for _, child := range sm.Children {
				ref, ok := resolveReference(current, child)
				if !ok {
					continue
				}
				childURL := ref.String()
				if _, done := visited[childURL]; !done {
					queue = append(queue, childURL)
				}
			}
		}
	}
	d.logger.Debug("sitemap walk finished",
		zap.String("start_url", startURL),
		zap.Int("urls", len(out)),
		zap.Int("visited", len(visited)),
	)
	return out
}
