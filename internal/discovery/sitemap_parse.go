package discovery

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/antchfx/xmlquery"
)

// Sitemap is either a LeafSitemap or an IndexSitemap.
type Sitemap interface {
	sitemap()
}

// LeafSitemap is a <urlset> document listing page locations.
type LeafSitemap struct {
	URLs []string
}

// IndexSitemap is a <sitemapindex> document listing child sitemaps.
type IndexSitemap struct {
	Children []string
}

func (LeafSitemap) sitemap()  {}
func (IndexSitemap) sitemap() {}

// maxInflatedSitemap bounds gzip expansion; the sitemaps.org limit is 50MB.
const maxInflatedSitemap = 50 << 20

// ParseSitemap decodes a sitemap body. Gzipped bodies are inflated first.
func ParseSitemap(body []byte) (Sitemap, error) {
	raw, err := inflate(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedSitemap, err)
	}
	doc, err := xmlquery.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedSitemap, err)
	}
	root := rootElement(doc)
	if root == nil {
		return nil, fmt.Errorf("%w: no root element", ErrMalformedSitemap)
	}
	switch strings.ToLower(root.Data) {
	case "urlset":
		return LeafSitemap{URLs: childLocs(root, "url")}, nil
	case "sitemapindex":
		return IndexSitemap{Children: childLocs(root, "sitemap")}, nil
	default:
		return nil, fmt.Errorf("%w: unexpected root <%s>", ErrMalformedSitemap, root.Data)
	}
}

func inflate(body []byte) ([]byte, error) {
	if len(body) < 2 || body[0] != 0x1f || body[1] != 0x8b {
		return body, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gzip header: %w", err)
	}
	defer zr.Close() //nolint:errcheck // read-only
	out, err := io.ReadAll(io.LimitReader(zr, maxInflatedSitemap))
	if err != nil {
		return nil, fmt.Errorf("gzip body: %w", err)
	}
	return out, nil
}

func rootElement(doc *xmlquery.Node) *xmlquery.Node {
	for n := doc.FirstChild; n != nil; n = n.NextSibling {
		if n.Type == xmlquery.ElementNode {
			return n
		}
	}
	return nil
}

// childLocs collects the trimmed <loc> text of every <entry> child of root.
func childLocs(root *xmlquery.Node, entry string) []string {
	var locs []string
	for n := root.FirstChild; n != nil; n = n.NextSibling {
		if n.Type != xmlquery.ElementNode || !strings.EqualFold(n.Data, entry) {
			continue
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != xmlquery.ElementNode || !strings.EqualFold(c.Data, "loc") {
				continue
			}
			if loc := strings.TrimSpace(c.InnerText()); loc != "" {
				locs = append(locs, loc)
			}
		}
	}
	return locs
}
