package handler

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
)

const (
	flowCookieName  = "oauth_flow"
	flashCookieName = "flash"
	flashMaxAge     = 60
)

// The flow cookie must survive the top-level GET back from the provider,
// so it is Lax rather than Strict.
func (h *Handler) setFlowCookie(c *gin.Context, key string) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     flowCookieName,
		Value:    key,
		Path:     "/oauth/",
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(h.cookies.FlowTTL.Seconds()),
	})
}

func (h *Handler) clearFlowCookie(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     flowCookieName,
		Value:    "",
		Path:     "/oauth/",
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

func (h *Handler) setFlash(c *gin.Context, msg string) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     flashCookieName,
		Value:    url.QueryEscape(msg),
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   flashMaxAge,
	})
}

// takeFlash returns the pending message once.
func (h *Handler) takeFlash(c *gin.Context) string {
	cookie, err := c.Request.Cookie(flashCookieName)
	if err != nil {
		return ""
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     flashCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
	msg, err := url.QueryUnescape(cookie.Value)
	if err != nil {
		return ""
	}
	return msg
}
