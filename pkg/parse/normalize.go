package parse

import (
	"errors"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

var errMissingHost = errors.New("missing host")

// NormalizeURL standardizes a URL for comparison and storage
// It lowercases the scheme and host, removes default ports (80 for http, 443 for https), removes trailing slashes from paths (unless root "/"), ensures empty path becomes "/", and removes fragments and query strings
// Does not modify the input *url.URL
func NormalizeURL(u *url.URL) string {
	return normalize(u, false)
}

// NormalizePageURL is NormalizeURL that keeps the query string, sorted by key.
// Listing pages are addressed by query (?page=2) so it must survive normalization.
func NormalizePageURL(u *url.URL) string {
	return normalize(u, true)
}

func normalize(u *url.URL, keepQuery bool) string {
	if u == nil {
		return ""
	}
	// Work on a copy
	normalized := *u

	normalized.Scheme = strings.ToLower(normalized.Scheme)
	normalized.Host = strings.ToLower(normalized.Host)

	// Remove default ports
	host, port, err := net.SplitHostPort(normalized.Host)
	if err == nil {
		if (normalized.Scheme == "http" && port == "80") ||
			(normalized.Scheme == "https" && port == "443") {
			normalized.Host = host
		}
	}

	if normalized.Path == "" {
		normalized.Path = "/"
	} else if len(normalized.Path) > 1 && strings.HasSuffix(normalized.Path, "/") {
		normalized.Path = strings.TrimRight(normalized.Path, "/")
		if normalized.Path == "" {
			normalized.Path = "/"
		}
	}
	normalized.RawPath = ""

	normalized.Fragment = ""
	normalized.RawFragment = ""
	if keepQuery && normalized.RawQuery != "" {
		normalized.RawQuery = normalized.Query().Encode() // Encode sorts by key
	} else {
		normalized.RawQuery = ""
	}
	normalized.ForceQuery = false

	return normalized.String()
}

// ParseAndNormalize parses a URL string using the stricter url.ParseRequestURI (requiring a scheme) and then normalizes it using NormalizeURL
// A fragment is cut off before parsing. Returns the normalized string, the parsed URL object, and any parse error
func ParseAndNormalize(urlStr string) (string, *url.URL, error) {
	urlStr, _, _ = strings.Cut(strings.TrimSpace(urlStr), "#")
	parsed, err := url.ParseRequestURI(urlStr)
	if err != nil {
		return "", nil, err
	}
	if parsed.Host == "" {
		return "", nil, &url.Error{Op: "parse", URL: urlStr, Err: errMissingHost}
	}
	return NormalizeURL(parsed), parsed, nil
}

// ResolveHref resolves an anchor or image reference found on a page at base.
// Protocol-relative references get https. Returns false for empty, script, mail and fragment-only refs.
func ResolveHref(base *url.URL, href string) (*url.URL, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return nil, false
	}
	lower := strings.ToLower(href)
	for _, prefix := range []string{"javascript:", "mailto:", "tel:", "data:"} {
		if strings.HasPrefix(lower, prefix) {
			return nil, false
		}
	}
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return nil, false
	}
	resolved := ref
	if base != nil {
		resolved = base.ResolveReference(ref)
	}
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return nil, false
	}
	return resolved, true
}

// SameSite reports whether host belongs to the same registrable domain as siteHost
// (www.hasznaltauto.hu and static.hasznaltauto.hu are the same site).
func SameSite(host, siteHost string) bool {
	host, siteHost = hostname(host), hostname(siteHost)
	if host == "" || siteHost == "" {
		return false
	}
	if host == siteHost {
		return true
	}
	a, errA := publicsuffix.EffectiveTLDPlusOne(host)
	b, errB := publicsuffix.EffectiveTLDPlusOne(siteHost)
	if errA != nil || errB != nil {
		return false
	}
	return a == b
}

func hostname(hostport string) string {
	hostport = strings.ToLower(hostport)
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		return h
	}
	return hostport
}
