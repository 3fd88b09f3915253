// -----------------------------------------------------------------------
// URL Normalization - Canonical form for listing identity and dedup
// -----------------------------------------------------------------------

package common

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// trackingParams are query parameters that never change page identity.
var trackingParams = map[string]bool{
	"gclid":    true,
	"fbclid":   true,
	"msclkid":  true,
	"ref":      true,
	"referrer": true,
	"source":   true,
	"gh_src":   true,
	"lever-":   true,
}

// NormalizeURL reduces a URL to its canonical form: lowercased scheme and
// host, default ports stripped, fragment dropped, tracking parameters
// removed, remaining query sorted, and no trailing slash on non-root paths.
// Two listings with equal normalized URLs are the same listing.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty URL")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("failed to parse URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("URL %q has no host", raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	// Strip default ports
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	} else {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.User = nil

	// Drop tracking parameters, sort the rest for stable ordering
	if u.RawQuery != "" {
		values := u.Query()
		keys := make([]string, 0, len(values))
		for key := range values {
			if isTrackingParam(key) {
				continue
			}
			keys = append(keys, key)
		}
		sort.Strings(keys)

		var b strings.Builder
		for _, key := range keys {
			for _, val := range values[key] {
				if b.Len() > 0 {
					b.WriteByte('&')
				}
				b.WriteString(url.QueryEscape(key))
				b.WriteByte('=')
				b.WriteString(url.QueryEscape(val))
			}
		}
		u.RawQuery = b.String()
	}

	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	return u.String(), nil
}

func isTrackingParam(key string) bool {
	key = strings.ToLower(key)
	if strings.HasPrefix(key, "utm_") {
		return true
	}
	for param := range trackingParams {
		if strings.HasSuffix(param, "-") {
			if strings.HasPrefix(key, param) {
				return true
			}
		} else if key == param {
			return true
		}
	}
	return false
}

// URLHost returns the lowercased host of a URL, empty on parse failure.
// Used for per-host rate limiting.
func URLHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}
