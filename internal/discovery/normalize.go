package discovery

import (
	"fmt"
	"net/url"
	"strings"
)

// ResolveURL resolves href against base and strips query and fragment.
// It reports false for malformed input or a non-http(s) result.
func ResolveURL(base, href string) (string, bool) {
	u, ok := resolveReference(base, href)
	if !ok {
		return "", false
	}
	u.RawQuery = ""
	u.ForceQuery = false
	return u.String(), true
}

// resolveReference resolves href against base keeping the query.
func resolveReference(base, href string) (*url.URL, bool) {
	href = strings.TrimSpace(href)
	b, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return nil, false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return nil, false
	}
	u := b.ResolveReference(ref)
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, false
	}
	if u.Host == "" {
		return nil, false
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	return u, true
}

// Origin returns scheme://host[:port] of rawURL. When rawURL has no scheme or
// host it returns the trimmed input without trailing slashes.
func Origin(rawURL string) string {
	trimmed := strings.TrimSpace(rawURL)
	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return strings.TrimRight(trimmed, "/")
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}

// SameOrigin reports whether a and b share scheme, host and port.
func SameOrigin(a, b string) bool {
	return Origin(a) == Origin(b)
}

func pathOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
			return rawURL[:i]
		}
		return rawURL
	}
	return u.Path
}

// escapedPathOf is pathOf with the URL's percent-encoding kept.
func escapedPathOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return pathOf(rawURL)
	}
	return u.EscapedPath()
}

// ValidateWebsiteURL returns ErrInvalidWebsiteURL unless rawURL is an
// absolute http(s) URL with a host.
func ValidateWebsiteURL(rawURL string) error {
	if !validWebsiteURL(rawURL) {
		return fmt.Errorf("%w: %q", ErrInvalidWebsiteURL, rawURL)
	}
	return nil
}

func validWebsiteURL(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Hostname() != ""
}
