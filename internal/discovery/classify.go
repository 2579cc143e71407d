package discovery

import (
	"path"
	"strings"
)

var documentExtensions = []string{
	".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx",
	".txt", ".csv", ".rtf", ".md",
}

var assetExtensions = []string{
	// scripts and styles
	".js", ".mjs", ".css", ".map",
	// images
	".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".ico", ".bmp", ".avif", ".tif", ".tiff",
	// media
	".mp4", ".webm", ".mov", ".avi", ".mkv", ".mp3", ".wav", ".ogg", ".m4a", ".flac",
	// fonts
	".woff", ".woff2", ".ttf", ".otf", ".eot",
}

var disallowedSegments = []string{
	"login", "signin", "signup", "register", "cart", "checkout", "account", "auth",
}

// IsDocument reports whether the URL path ends with a document extension.
func IsDocument(rawURL string) bool {
	return hasExtension(rawURL, documentExtensions)
}

// IsAsset reports whether the URL path ends with a static asset extension.
func IsAsset(rawURL string) bool {
	return hasExtension(rawURL, assetExtensions)
}

// IsDisallowedPath reports whether the path looks like an auth, cart or
// account flow. Matching is a case-insensitive substring test.
func IsDisallowedPath(p string) bool {
	lower := strings.ToLower(p)
	for _, seg := range disallowedSegments {
		if strings.Contains(lower, seg) {
			return true
		}
	}
	return false
}

func hasExtension(rawURL string, exts []string) bool {
	ext := strings.ToLower(path.Ext(pathOf(rawURL)))
	if ext == "" {
		return false
	}
	for _, candidate := range exts {
		if ext == candidate {
			return true
		}
	}
	return false
}

// Classify splits urls into pages and files. Input order is kept and
// duplicates are dropped; assets and disallowed paths land in neither set.
func Classify(urls []string) ClassifiedURLSet {
	out := ClassifiedURLSet{Pages: []string{}, Files: []string{}}
	seen := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		switch {
		case IsDocument(u):
			out.Files = append(out.Files, u)
		case IsAsset(u), IsDisallowedPath(pathOf(u)):
			// dropped
		default:
			out.Pages = append(out.Pages, u)
		}
	}
	return out
}
