package handler

import (
	"context"
	"net/http"
	"time"

	"social-login-service/internal/auth/flow"
	"social-login-service/internal/auth/provider"
	"social-login-service/internal/logger"

	"github.com/gin-gonic/gin"
)

// Flow is the part of the flow controller the HTTP layer drives.
type Flow interface {
	Start(ctx context.Context, req flow.StartRequest) flow.Outcome
	Callback(ctx context.Context, req flow.CallbackRequest) flow.Outcome
}

// Sessions ends sessions on logout.
type Sessions interface {
	LogOut(ctx context.Context, w http.ResponseWriter, r *http.Request)
}

type CookieConfig struct {
	Secure  bool
	FlowTTL time.Duration
}

type Handler struct {
	providers *provider.Registry
	flow      Flow
	sessions  Sessions
	cookies   CookieConfig
}

func NewHandler(
	registry *provider.Registry,
	f Flow,
	sessions Sessions,
	cookies CookieConfig,
) *Handler {
	if cookies.FlowTTL <= 0 {
		cookies.FlowTTL = 10 * time.Minute
	}
	return &Handler{
		providers: registry,
		flow:      f,
		sessions:  sessions,
		cookies:   cookies,
	}
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/oauth/:provider/start", h.start)
	r.POST("/oauth/:provider/start", h.start)
	r.GET("/oauth/:provider/callback", h.callback)
	r.POST("/auth/logout", h.Logout)
	r.GET("/auth/flash", h.flash)
}

func (h *Handler) start(c *gin.Context) {
	providerName := c.Param("provider")
	if _, err := h.providers.Get(providerName); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "unknown oauth provider",
		})
		return
	}

	out := h.flow.Start(c.Request.Context(), flow.StartRequest{
		Provider:    providerName,
		BackURL:     param(c, "BackURL"),
		FormName:    param(c, "FormName"),
		Referer:     c.Request.Referer(),
		Persistent:  isTruthy(param(c, "Remember")),
		AccessToken: c.PostForm("access_token"),
		RequestContext: flow.RequestContext{
			Writer:  c.Writer,
			Request: c.Request,
		},
	})

	if out.Phase == flow.PhaseAwaitingCallback {
		h.setFlowCookie(c, out.StateKey)
	}
	h.finish(c, out)
}

func (h *Handler) callback(c *gin.Context) {
	providerName := c.Param("provider")
	if _, err := h.providers.Get(providerName); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "unknown oauth provider",
		})
		return
	}

	stateKey := ""
	if cookie, err := c.Request.Cookie(flowCookieName); err == nil {
		stateKey = cookie.Value
	}
	h.clearFlowCookie(c)

	out := h.flow.Callback(c.Request.Context(), flow.CallbackRequest{
		Provider: providerName,
		StateKey: stateKey,
		State:    c.Query("state"),
		Referer:  c.Request.Referer(),
		Callback: provider.Callback{
			Code:             c.Query("code"),
			AccessToken:      c.Query("access_token"),
			Error:            c.Query("error"),
			ErrorReason:      c.Query("error_reason"),
			ErrorDescription: c.Query("error_description"),
		},
		RequestContext: flow.RequestContext{
			Writer:  c.Writer,
			Request: c.Request,
		},
	})

	h.finish(c, out)
}

func (h *Handler) finish(c *gin.Context, out flow.Outcome) {
	if out.Message != "" {
		h.setFlash(c, out.Message)
	}

	logger.Debug("oauth redirect", map[string]any{
		"provider": c.Param("provider"),
		"phase":    out.Phase,
		"ip":       c.ClientIP(),
	})

	c.Redirect(http.StatusFound, out.RedirectURL)
}

func (h *Handler) Logout(c *gin.Context) {
	h.sessions.LogOut(c.Request.Context(), c.Writer, c.Request)
	c.Status(http.StatusNoContent)
}

func (h *Handler) flash(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": h.takeFlash(c),
	})
}

// param reads a value from the query string or a posted form.
func param(c *gin.Context, name string) string {
	if v := c.Query(name); v != "" {
		return v
	}
	return c.PostForm(name)
}

func isTruthy(v string) bool {
	switch v {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}
