package urlutil

import (
	"net/url"
	"strings"
)

// SanitizeReturnPath resolves candidate against trustedOrigin and returns its
// path, query and fragment when the result stays on trustedOrigin. Anything
// else, including unparsable input, yields "/". The returned value is always
// a single-slash relative path, so it can never be read as a
// scheme-relative URL by a browser.
func SanitizeReturnPath(candidate, trustedOrigin string) string {
	base, err := url.Parse(trustedOrigin)
	if err != nil {
		return "/"
	}
	origin := Origin(base)
	if origin == "" {
		return "/"
	}

	if candidate == "" {
		candidate = "/"
	}
	ref, err := url.Parse(candidate)
	if err != nil {
		return "/"
	}

	resolved := base.ResolveReference(ref)
	if Origin(resolved) != origin {
		return "/"
	}

	p := resolved.EscapedPath()
	if p == "" {
		p = "/"
	}
	if strings.HasPrefix(p, "//") || strings.HasPrefix(p, "/\\") {
		p = "/" + strings.TrimLeft(p, "/\\")
	}

	var b strings.Builder
	b.WriteString(p)
	if resolved.RawQuery != "" {
		b.WriteByte('?')
		b.WriteString(resolved.RawQuery)
	}
	if frag := resolved.EscapedFragment(); frag != "" {
		b.WriteByte('#')
		b.WriteString(frag)
	}
	return b.String()
}
