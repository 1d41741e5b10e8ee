package flow

import (
	"net/url"
	"strings"
)

// SafeRedirect returns target when it is relative or has the same origin
// as base. Relative targets are resolved against base and returned as an
// absolute path. Anything else, including scheme-relative and backslash
// forms browsers treat as foreign hosts, is refused.
func SafeRedirect(base *url.URL, target string) (string, bool) {
	target = strings.TrimSpace(target)
	if target == "" || base == nil {
		return "", false
	}
	if strings.ContainsAny(target, "\\\r\n\t") {
		return "", false
	}

	u, err := url.Parse(target)
	if err != nil || u.Opaque != "" || u.User != nil {
		return "", false
	}

	if u.Scheme == "" && u.Host == "" {
		resolved := base.ResolveReference(u)
		resolved.Scheme = ""
		resolved.Host = ""
		out := resolved.String()
		if strings.HasPrefix(out, "//") {
			return "", false
		}
		return out, true
	}

	if !strings.EqualFold(u.Scheme, base.Scheme) || !strings.EqualFold(u.Host, base.Host) {
		return "", false
	}
	return u.String(), true
}
