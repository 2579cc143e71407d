// Package content renders discovered HTML pages into markdown for the
// downstream content converter.
package content

import (
	"bytes"
	"fmt"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/PuerkitoBio/goquery"
)

// boilerplate is stripped before conversion.
var boilerplate = []string{"script", "style", "noscript", "nav", "header", "footer", "iframe", "form"}

// MarkdownConverter implements crawler.ContentConverter.
type MarkdownConverter struct {
	// MaxBytes truncates the markdown output. Zero means unlimited.
	MaxBytes int
}

// NewMarkdownConverter returns a converter capped at maxBytes of output.
func NewMarkdownConverter(maxBytes int) *MarkdownConverter {
	return &MarkdownConverter{MaxBytes: maxBytes}
}

// Convert extracts the main content of a page and converts it to markdown.
// Relative links are resolved against pageURL.
func (c *MarkdownConverter) Convert(pageURL string, html []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find(strings.Join(boilerplate, ",")).Remove()

	root := doc.Find("main").First()
	if root.Length() == 0 {
		root = doc.Find("article").First()
	}
	if root.Length() == 0 {
		root = doc.Find("body")
	}
	fragment, err := goquery.OuterHtml(root)
	if err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}

	md, err := htmltomarkdown.ConvertString(fragment, converter.WithDomain(pageURL))
	if err != nil {
		return "", fmt.Errorf("convert %s: %w", pageURL, err)
	}
	md = strings.TrimSpace(md)
	if c.MaxBytes > 0 && len(md) > c.MaxBytes {
		md = truncateUTF8(md, c.MaxBytes)
	}
	return md, nil
}

func truncateUTF8(s string, n int) string {
	for n > 0 && n < len(s) && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
