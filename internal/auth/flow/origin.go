package flow

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
)

var errCrossSite = errors.New("client-side token was not posted from this origin")

// sameOrigin reports whether r is a POST sent by a page on base's origin.
// Fetch metadata is trusted when present; Origin is the fallback. A request
// carrying neither is refused.
func sameOrigin(base *url.URL, r *http.Request) bool {
	if base == nil || r == nil || r.Method != http.MethodPost {
		return false
	}
	if site := r.Header.Get("Sec-Fetch-Site"); site != "" {
		return site == "same-origin"
	}

	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" {
		return false
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Scheme, base.Scheme) && strings.EqualFold(u.Host, base.Host)
}
