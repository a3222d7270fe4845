// Package urlutil holds URL helpers shared by the OAuth flows: origin
// comparison, return path sanitizing and endpoint joining.
package urlutil

import (
	"net/url"
	"path"
	"strings"
)

// JoinPath appends path segments to base, keeping a trailing slash when the
// last segment has one.
func JoinPath(base string, segments ...string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}

	u.Path = path.Join(append([]string{u.Path}, segments...)...)
	if n := len(segments); n > 0 && strings.HasSuffix(segments[n-1], "/") {
		u.Path += "/"
	}
	return u.String(), nil
}

// Origin returns the serialized origin (scheme://host[:port]) of u with the
// scheme and host lowercased and default ports removed. Opaque or hostless
// URLs have no origin and yield "".
func Origin(u *url.URL) string {
	if u == nil || u.Opaque != "" || u.Host == "" {
		return ""
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (scheme == "https" && port == "443") || (scheme == "http" && port == "80") {
		port = ""
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		host += ":" + port
	}
	return scheme + "://" + host
}

// ParseOrigin parses raw and returns its origin, or "" when raw is not an
// absolute URL.
func ParseOrigin(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return ""
	}
	return Origin(u)
}
