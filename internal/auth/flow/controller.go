// Package flow runs the redirect OAuth login: it builds the authorization
// link, survives the round trip to the provider in a StateStore, validates
// what comes back, resolves it to an account and hands that account to the
// session issuer.
package flow

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"social-login-service/internal/account"
	"social-login-service/internal/auth"
	"social-login-service/internal/auth/provider"
	"social-login-service/internal/auth/resolver"
	"social-login-service/internal/logger"
	"social-login-service/internal/utils"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultStateTTL = 10 * time.Minute
	defaultLoginURL = "/login"

	callbackPath = "/oauth/%s/callback"

	keyBytes      = 32
	nonceBytes    = 32
	verifierBytes = 32
)

// RequestContext gives the session issuer access to the live request.
type RequestContext struct {
	Writer  http.ResponseWriter
	Request *http.Request
}

// SessionIssuer logs a resolved account in.
type SessionIssuer interface {
	LogIn(ctx context.Context, acct *account.Account, persistent bool, rc RequestContext) error
}

type TokenValidator interface {
	Validate(meta auth.TokenMetadata, expectedAppID string) error
}

type Config struct {
	// PublicBaseURL is the origin callbacks are built on and redirects are
	// checked against.
	PublicBaseURL string

	DefaultDestination  string
	LoginURL            string
	AllowClientSideFlow bool
	StateTTL            time.Duration
}

// StartRequest begins a login.
type StartRequest struct {
	Provider   string
	BackURL    string
	FormName   string
	Referer    string
	Persistent bool

	// AccessToken is a token the browser already obtained from the
	// provider. It is honored only when the client-side flow is enabled.
	AccessToken string

	RequestContext
}

// CallbackRequest carries the provider's redirect back to us.
type CallbackRequest struct {
	Provider string
	StateKey string // from the flow cookie
	State    string // the state query parameter
	Referer  string
	Callback provider.Callback

	RequestContext
}

// Outcome tells the HTTP layer where to send the browser next.
type Outcome struct {
	Phase       Phase
	RedirectURL string

	// StateKey is set when the flow is awaiting the callback and must be
	// bound to the browser.
	StateKey string

	// Message is shown to the user on the next page.
	Message string

	Account *account.Account
	Err     *Error
}

type Controller struct {
	cfg       Config
	base      *url.URL
	providers *provider.Registry
	states    StateStore
	validator TokenValidator
	resolver  resolver.Resolver
	sessions  SessionIssuer
	bus       *Bus
	tracer    trace.Tracer
	now       func() time.Time
}

type Option func(*Controller)

func WithBus(b *Bus) Option {
	return func(c *Controller) {
		c.bus = b
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(c *Controller) {
		c.tracer = t
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

func New(
	cfg Config,
	providers *provider.Registry,
	states StateStore,
	validator TokenValidator,
	res resolver.Resolver,
	sessions SessionIssuer,
	opts ...Option,
) (*Controller, error) {

	base, err := url.Parse(cfg.PublicBaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("flow: public base url %q must be absolute", cfg.PublicBaseURL)
	}
	if providers == nil || states == nil || validator == nil || res == nil || sessions == nil {
		return nil, errors.New("flow: missing dependency")
	}
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = defaultStateTTL
	}
	if cfg.LoginURL == "" {
		cfg.LoginURL = defaultLoginURL
	}
	if cfg.DefaultDestination != "" {
		dest, ok := SafeRedirect(base, cfg.DefaultDestination)
		if !ok {
			return nil, fmt.Errorf("flow: default destination %q is not on %s", cfg.DefaultDestination, cfg.PublicBaseURL)
		}
		cfg.DefaultDestination = dest
	}

	c := &Controller{
		cfg:       cfg,
		base:      base,
		providers: providers,
		states:    states,
		validator: validator,
		resolver:  res,
		sessions:  sessions,
		tracer:    otel.Tracer("social-login-service/flow"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CallbackURL is the redirect_uri registered for a provider.
func (c *Controller) CallbackURL(providerName string) string {
	return c.base.ResolveReference(&url.URL{Path: fmt.Sprintf(callbackPath, providerName)}).String()
}

// Start builds the authorization link and saves the pending flow. When the
// client-side flow is enabled and a token is supplied, the redirect is
// skipped and the token is validated directly.
func (c *Controller) Start(ctx context.Context, req StartRequest) Outcome {
	ctx, span := c.tracer.Start(ctx, "flow.Start", trace.WithAttributes(
		attribute.String("provider", req.Provider),
	))
	defer span.End()

	st := State{
		Provider:   req.Provider,
		FormName:   req.FormName,
		Persistent: req.Persistent,
		CreatedAt:  c.now(),
	}
	if back, ok := SafeRedirect(c.base, req.BackURL); ok {
		st.BackURL = back
	}

	p, err := c.providers.Get(req.Provider)
	if err != nil {
		return c.fail(ctx, span, st, req.RequestContext, newError(PhaseStart, ReasonInvalidCallback, err))
	}

	if req.AccessToken != "" && c.cfg.AllowClientSideFlow {
		span.SetAttributes(attribute.Bool("client_side", true))
		if !sameOrigin(c.base, req.Request) {
			return c.fail(ctx, span, st, req.RequestContext, newError(PhaseStart, ReasonInvalidState, errCrossSite))
		}
		return c.complete(ctx, span, p, auth.AccessToken{Value: req.AccessToken}, st, req.Referer, req.RequestContext)
	}

	key, err := utils.RandomString(keyBytes)
	if err == nil {
		st.Nonce, err = utils.RandomString(nonceBytes)
	}
	if err == nil {
		st.CodeVerifier, err = utils.RandomString(verifierBytes)
	}
	if err != nil {
		return c.fail(ctx, span, st, req.RequestContext, newError(PhaseStart, ReasonStateUnavailable, err))
	}
	st.Key = key

	if err := c.states.Save(ctx, st, c.cfg.StateTTL); err != nil {
		return c.fail(ctx, span, st, req.RequestContext, newError(PhaseStart, ReasonStateUnavailable, err))
	}

	scopes := p.DefaultScopes()
	authURL := p.AuthorizationURL(c.CallbackURL(p.Name()), scopes, st.Nonce, codeChallenge(st.CodeVerifier))

	c.bus.Publish(ctx, LinkBuilt{
		Provider:         p.Name(),
		AuthorizationURL: authURL,
		Scopes:           scopes,
		At:               c.now(),
	})

	logger.Debug("oauth flow started", map[string]any{
		"provider": p.Name(),
		"phase":    PhaseAwaitingCallback,
	})

	return Outcome{
		Phase:       PhaseAwaitingCallback,
		RedirectURL: authURL,
		StateKey:    key,
	}
}

// Callback consumes the pending flow and finishes the login. The stored
// state is removed before anything else happens, so every callback is
// single use.
func (c *Controller) Callback(ctx context.Context, req CallbackRequest) Outcome {
	ctx, span := c.tracer.Start(ctx, "flow.Callback", trace.WithAttributes(
		attribute.String("provider", req.Provider),
	))
	defer span.End()

	stored, err := c.states.Take(ctx, req.StateKey)
	if err != nil {
		return c.fail(ctx, span, State{Provider: req.Provider}, req.RequestContext, newError(PhaseAwaitingCallback, ReasonInvalidState, err))
	}
	st := *stored

	if st.Provider != req.Provider ||
		subtle.ConstantTimeCompare([]byte(st.Nonce), []byte(req.State)) != 1 {
		return c.fail(ctx, span, st, req.RequestContext, newError(PhaseAwaitingCallback, ReasonInvalidState, errors.New("state does not match pending flow")))
	}

	p, err := c.providers.Get(req.Provider)
	if err != nil {
		return c.fail(ctx, span, st, req.RequestContext, newError(PhaseAwaitingCallback, ReasonInvalidCallback, err))
	}

	cb := req.Callback
	if cb.Denied() {
		e := newError(PhaseAwaitingCallback, ReasonProviderDenied, fmt.Errorf("%w: %s", auth.ErrProviderDenied, firstNonEmpty(cb.ErrorDescription, cb.ErrorReason, cb.Error)))
		e.ProviderMessage = cb.ErrorDescription
		return c.fail(ctx, span, st, req.RequestContext, e)
	}

	var token auth.AccessToken
	switch {
	case cb.Code != "":
		cb.RedirectURI = c.CallbackURL(p.Name())
		cb.CodeVerifier = st.CodeVerifier
		token, err = p.ExchangeCode(ctx, cb)
		if err != nil {
			reason := ReasonExchangeFailed
			if errors.Is(err, auth.ErrInvalidCallback) {
				reason = ReasonInvalidCallback
			}
			return c.fail(ctx, span, st, req.RequestContext, newError(PhaseValidating, reason, err))
		}
	case cb.AccessToken != "" && c.cfg.AllowClientSideFlow:
		token = auth.AccessToken{Value: cb.AccessToken}
	default:
		return c.fail(ctx, span, st, req.RequestContext, newError(PhaseValidating, ReasonInvalidCallback, auth.ErrInvalidCallback))
	}

	return c.complete(ctx, span, p, token, st, req.Referer, req.RequestContext)
}

// complete runs everything from VALIDATING to DONE. Nothing is written
// to the account store until the token is validated and the identity has
// been fetched with it.
func (c *Controller) complete(
	ctx context.Context,
	span trace.Span,
	p provider.Client,
	token auth.AccessToken,
	st State,
	referer string,
	rc RequestContext,
) Outcome {

	token, meta, ferr := c.validate(ctx, p, token)
	if ferr != nil {
		return c.fail(ctx, span, st, rc, ferr)
	}

	identity, err := p.FetchIdentity(ctx, token)
	if err != nil {
		return c.fail(ctx, span, st, rc, newError(PhaseResolving, ReasonIdentityFetchFailed, err))
	}
	if identity.ProviderUserID != meta.UserID {
		return c.fail(ctx, span, st, rc, newError(PhaseResolving, ReasonInvalidToken,
			fmt.Errorf("%w: identity subject does not match token subject", auth.ErrInvalidToken)))
	}

	acct, ferr := c.resolve(ctx, identity, token, meta)
	if ferr != nil {
		return c.fail(ctx, span, st, rc, ferr)
	}

	if err := c.sessions.LogIn(ctx, acct, st.Persistent, rc); err != nil {
		return c.fail(ctx, span, st, rc, newError(PhaseDone, ReasonSessionFailed, err))
	}

	c.bus.Publish(ctx, LoginSucceeded{
		Provider:  p.Name(),
		AccountID: acct.ID,
		ClientIP:  clientIP(rc),
		At:        c.now(),
	})
	span.SetAttributes(attribute.String("account_id", acct.ID))

	return Outcome{
		Phase:       PhaseDone,
		RedirectURL: c.destination(st.BackURL, referer),
		Message:     welcome(acct.FirstName),
		Account:     acct,
	}
}

func (c *Controller) validate(ctx context.Context, p provider.Client, token auth.AccessToken) (auth.AccessToken, auth.TokenMetadata, *Error) {
	ctx, span := c.tracer.Start(ctx, "flow.validate")
	defer span.End()

	if !token.IsLongLived {
		upgraded, err := p.UpgradeToLongLived(ctx, token)
		if err != nil {
			return token, auth.TokenMetadata{}, newError(PhaseValidating, ReasonUpgradeFailed, err)
		}
		token = upgraded
	}

	meta, err := p.FetchTokenMetadata(ctx, token)
	if err != nil {
		return token, meta, newError(PhaseValidating, ReasonInvalidToken, err)
	}
	if err := c.validator.Validate(meta, p.AppID()); err != nil {
		return token, meta, newError(PhaseValidating, ReasonInvalidToken, err)
	}
	return token, meta, nil
}

func (c *Controller) resolve(ctx context.Context, identity auth.Identity, token auth.AccessToken, meta auth.TokenMetadata) (*account.Account, *Error) {
	ctx, span := c.tracer.Start(ctx, "flow.resolve")
	defer span.End()

	expiresAt := token.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = meta.ExpiresAt
	}

	acct, err := c.resolver.Resolve(ctx, identity, token, expiresAt)
	switch {
	case err == nil:
		return acct, nil
	case errors.Is(err, resolver.ErrLinkConfirmationRequired):
		return nil, newError(PhaseResolving, ReasonLinkConfirmationRequired, err)
	case errors.Is(err, resolver.ErrAccountConflict):
		return nil, newError(PhaseResolving, ReasonAccountConflict, err)
	default:
		return nil, newError(PhaseResolving, ReasonResolveFailed, err)
	}
}

func (c *Controller) fail(ctx context.Context, span trace.Span, st State, rc RequestContext, e *Error) Outcome {
	span.RecordError(e)
	span.SetStatus(codes.Error, string(e.Reason))
	span.SetAttributes(attribute.String("reason", string(e.Reason)))

	fields := map[string]any{
		"provider": st.Provider,
		"phase":    e.Phase,
		"reason":   e.Reason,
		"error":    e.Error(),
		"ip":       clientIP(rc),
	}
	if e.Security() {
		logger.Warn("oauth login rejected", fields)
	} else {
		logger.Info("oauth login failed", fields)
	}

	c.bus.Publish(ctx, LoginFailed{
		Provider: st.Provider,
		Reason:   e.Reason,
		Security: e.Security(),
		Detail:   e.Error(),
		ClientIP: clientIP(rc),
		At:       c.now(),
	})

	return Outcome{
		Phase:       PhaseError,
		RedirectURL: c.loginRedirect(st),
		Message:     e.Message(),
		Err:         e,
	}
}

// destination picks where a finished login lands.
func (c *Controller) destination(backURL, referer string) string {
	if back, ok := SafeRedirect(c.base, backURL); ok {
		return back
	}
	if c.cfg.DefaultDestination != "" {
		return c.cfg.DefaultDestination
	}
	if ref, ok := SafeRedirect(c.base, referer); ok {
		return ref
	}
	return "/"
}

// loginRedirect points back at the login form, keeping the return URL and
// anchoring on the form that started the flow.
func (c *Controller) loginRedirect(st State) string {
	u, err := url.Parse(c.cfg.LoginURL)
	if err != nil {
		u = &url.URL{Path: defaultLoginURL}
	}
	if st.BackURL != "" {
		q := u.Query()
		q.Set("BackURL", st.BackURL)
		u.RawQuery = q.Encode()
	}
	if st.FormName != "" {
		u.Fragment = st.FormName
	}
	return u.String()
}

func welcome(firstName string) string {
	if firstName = strings.TrimSpace(firstName); firstName == "" {
		return "Welcome Back"
	}
	return "Welcome Back, " + firstName
}

func clientIP(rc RequestContext) string {
	if rc.Request == nil {
		return ""
	}
	return rc.Request.RemoteAddr
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
