// Package sanitize cleans untrusted input before it is echoed, stored or used
// as a redirect target.
package sanitize

import (
	"net/url"
	"slices"
	"strings"
	"unicode"
)

// SafeRedirect returns raw when it is a same-site relative path or an
// absolute http(s) URL on one of allowedHosts, and fallback otherwise.
//
// Relative targets must start with a single "/". Protocol-relative forms
// ("//evil", "/\evil", "/%2f%2fevil"), backslashes, control characters and
// userinfo are refused.
func SafeRedirect(raw, fallback string, allowedHosts ...string) string {
	next := strings.TrimSpace(raw)
	if next == "" || strings.ContainsRune(next, '\\') || hasControl(next) {
		return fallback
	}

	decoded, err := url.PathUnescape(next)
	if err != nil || strings.ContainsRune(decoded, '\\') || hasControl(decoded) {
		return fallback
	}

	parsed, err := url.Parse(next)
	if err != nil || parsed.User != nil {
		return fallback
	}

	if strings.HasPrefix(next, "/") {
		if strings.HasPrefix(next, "//") || strings.HasPrefix(decoded, "//") {
			return fallback
		}
		if parsed.Scheme != "" || parsed.Host != "" {
			return fallback
		}
		return parsed.String()
	}

	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return fallback
	}
	if parsed.Host == "" || !hostAllowed(parsed.Host, allowedHosts) {
		return fallback
	}
	return parsed.String()
}

func hostAllowed(host string, allowed []string) bool {
	host = strings.ToLower(host)
	return slices.ContainsFunc(allowed, func(a string) bool {
		return strings.ToLower(strings.TrimSpace(a)) == host
	})
}

func hasControl(s string) bool {
	return strings.ContainsFunc(s, unicode.IsControl)
}
