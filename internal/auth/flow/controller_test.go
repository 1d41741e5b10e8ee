package flow

import (
	"context"
	"errors"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"social-login-service/internal/account"
	"social-login-service/internal/auth"
	"social-login-service/internal/auth/provider"
	"social-login-service/internal/auth/resolver"
	"social-login-service/internal/auth/validator"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otelcodes "go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const (
	testBase  = "https://app.example.com"
	testAppID = "app-1"
)

type fakeProvider struct {
	mu    sync.Mutex
	calls []string

	exchangeErr error
	upgradeErr  error
	metaErr     error
	identityErr error

	meta     auth.TokenMetadata
	identity auth.Identity

	lastCallback provider.Callback
	lastUpgrade  auth.AccessToken
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		meta: auth.TokenMetadata{
			AppID:     testAppID,
			UserID:    "fb-1",
			ExpiresAt: time.Now().Add(60 * 24 * time.Hour),
			IsValid:   true,
		},
		identity: auth.Identity{
			Provider:       "facebook",
			ProviderUserID: "fb-1",
			Email:          "ada@example.com",
			EmailVerified:  true,
			FirstName:      "Ada",
			LastName:       "Lovelace",
		},
	}
}

func (f *fakeProvider) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeProvider) called(call string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == call {
			return true
		}
	}
	return false
}

func (f *fakeProvider) Name() string            { return "facebook" }
func (f *fakeProvider) AppID() string           { return testAppID }
func (f *fakeProvider) DefaultScopes() []string { return []string{"email", "public_profile"} }

func (f *fakeProvider) AuthorizationURL(returnURL string, _ []string, state string, challenge string) string {
	return "https://provider.test/dialog?" + url.Values{
		"redirect_uri":   {returnURL},
		"state":          {state},
		"code_challenge": {challenge},
	}.Encode()
}

func (f *fakeProvider) ExchangeCode(_ context.Context, cb provider.Callback) (auth.AccessToken, error) {
	f.record("exchange")
	f.lastCallback = cb
	if f.exchangeErr != nil {
		return auth.AccessToken{}, f.exchangeErr
	}
	return auth.AccessToken{Value: "short", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (f *fakeProvider) UpgradeToLongLived(_ context.Context, token auth.AccessToken) (auth.AccessToken, error) {
	f.record("upgrade")
	f.lastUpgrade = token
	if f.upgradeErr != nil {
		return auth.AccessToken{}, f.upgradeErr
	}
	return auth.AccessToken{Value: "long", IsLongLived: true, ExpiresAt: time.Now().Add(60 * 24 * time.Hour)}, nil
}

func (f *fakeProvider) FetchTokenMetadata(context.Context, auth.AccessToken) (auth.TokenMetadata, error) {
	f.record("metadata")
	return f.meta, f.metaErr
}

func (f *fakeProvider) FetchIdentity(context.Context, auth.AccessToken) (auth.Identity, error) {
	f.record("identity")
	return f.identity, f.identityErr
}

type fakeSessions struct {
	mu         sync.Mutex
	calls      int
	last       *account.Account
	persistent bool
	err        error
}

func (s *fakeSessions) LogIn(_ context.Context, acct *account.Account, persistent bool, _ RequestContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.last = acct
	s.persistent = persistent
	return s.err
}

type harness struct {
	ctrl     *Controller
	provider *fakeProvider
	sessions *fakeSessions
	accounts *account.MemoryStore
	redis    *miniredis.Miniredis
	events   []Event
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()

	mr, client := newRedis(t)
	h := &harness{
		provider: newFakeProvider(),
		sessions: &fakeSessions{},
		accounts: account.NewMemoryStore(),
		redis:    mr,
	}

	bus := NewBus()
	bus.SubscribeAll(func(_ context.Context, e Event) {
		h.events = append(h.events, e)
	})

	cfg := Config{
		PublicBaseURL: testBase,
		LoginURL:      "/login",
		StateTTL:      5 * time.Minute,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	ctrl, err := New(
		cfg,
		provider.NewRegistry(h.provider),
		NewRedisStateStore(client),
		validator.New(),
		resolver.NewStoreResolver(h.accounts),
		h.sessions,
		WithBus(bus),
	)
	require.NoError(t, err)
	h.ctrl = ctrl
	return h
}

func (h *harness) start(t *testing.T, back string) (Outcome, string) {
	t.Helper()
	out := h.ctrl.Start(context.Background(), StartRequest{
		Provider: "facebook",
		BackURL:  back,
		FormName: "LoginForm",
		RequestContext: RequestContext{
			Writer:  httptest.NewRecorder(),
			Request: httptest.NewRequest("GET", "/oauth/facebook/start", nil),
		},
	})
	require.Equal(t, PhaseAwaitingCallback, out.Phase, "start failed: %v", out.Err)

	u, err := url.Parse(out.RedirectURL)
	require.NoError(t, err)
	return out, u.Query().Get("state")
}

func (h *harness) callback(key, state string, cb provider.Callback) Outcome {
	return h.ctrl.Callback(context.Background(), CallbackRequest{
		Provider: "facebook",
		StateKey: key,
		State:    state,
		Callback: cb,
		RequestContext: RequestContext{
			Writer:  httptest.NewRecorder(),
			Request: httptest.NewRequest("GET", "/oauth/facebook/callback", nil),
		},
	})
}

// postedFrom is a form POST sent by a page on origin.
func postedFrom(origin string) RequestContext {
	req := httptest.NewRequest("POST", "/oauth/facebook/start", nil)
	req.Header.Set("Origin", origin)
	return RequestContext{Writer: httptest.NewRecorder(), Request: req}
}

func (h *harness) kinds() []Kind {
	out := make([]Kind, 0, len(h.events))
	for _, e := range h.events {
		out = append(out, e.Kind())
	}
	return out
}

func TestStart_BuildsLinkAndSavesState(t *testing.T) {
	h := newHarness(t, nil)

	out, state := h.start(t, "/account")

	assert.NotEmpty(t, out.StateKey)
	assert.NotEmpty(t, state)
	assert.True(t, h.redis.Exists("oauth_flow:"+out.StateKey))

	u, err := url.Parse(out.RedirectURL)
	require.NoError(t, err)
	assert.Equal(t, testBase+"/oauth/facebook/callback", u.Query().Get("redirect_uri"))
	assert.NotEmpty(t, u.Query().Get("code_challenge"))

	require.Len(t, h.events, 1)
	built, ok := h.events[0].(LinkBuilt)
	require.True(t, ok)
	assert.Equal(t, out.RedirectURL, built.AuthorizationURL)
	assert.Equal(t, []string{"email", "public_profile"}, built.Scopes)
}

func TestStart_UnknownProvider(t *testing.T) {
	h := newHarness(t, nil)

	out := h.ctrl.Start(context.Background(), StartRequest{Provider: "myspace"})
	assert.Equal(t, PhaseError, out.Phase)
	assert.Equal(t, ReasonInvalidCallback, out.Err.Reason)
}

func TestCallback_Success(t *testing.T) {
	h := newHarness(t, nil)
	out, state := h.start(t, "/account")
	challenge, _ := url.Parse(out.RedirectURL)

	done := h.callback(out.StateKey, state, provider.Callback{Code: "good-code"})

	require.Equal(t, PhaseDone, done.Phase, "unexpected error: %v", done.Err)
	assert.Equal(t, "/account", done.RedirectURL)
	assert.Equal(t, "Welcome Back, Ada", done.Message)
	require.NotNil(t, done.Account)
	assert.Equal(t, "long", done.Account.ProviderToken)

	assert.Equal(t, testBase+"/oauth/facebook/callback", h.provider.lastCallback.RedirectURI)
	assert.Equal(t, challenge.Query().Get("code_challenge"), codeChallenge(h.provider.lastCallback.CodeVerifier))

	assert.Equal(t, 1, h.sessions.calls)
	assert.Same(t, done.Account, h.sessions.last)
	assert.Equal(t, 1, h.accounts.Len())
	assert.False(t, h.redis.Exists("oauth_flow:"+out.StateKey))
	assert.Equal(t, []Kind{KindLinkBuilt, KindLoginSucceeded}, h.kinds())
}

func TestCallback_ReplayRejected(t *testing.T) {
	h := newHarness(t, nil)
	out, state := h.start(t, "/account")

	first := h.callback(out.StateKey, state, provider.Callback{Code: "good-code"})
	require.Equal(t, PhaseDone, first.Phase)

	second := h.callback(out.StateKey, state, provider.Callback{Code: "good-code"})
	assert.Equal(t, PhaseError, second.Phase)
	assert.Equal(t, ReasonInvalidState, second.Err.Reason)
	assert.Equal(t, 1, h.sessions.calls)
}

func TestCallback_DeniedSkipsExchange(t *testing.T) {
	h := newHarness(t, nil)
	out, state := h.start(t, "/account")

	failed := h.callback(out.StateKey, state, provider.Callback{
		Error:            "access_denied",
		ErrorReason:      "user_denied",
		ErrorDescription: "Permissions error",
	})

	assert.Equal(t, PhaseError, failed.Phase)
	assert.Equal(t, ReasonProviderDenied, failed.Err.Reason)
	assert.ErrorIs(t, failed.Err, auth.ErrProviderDenied)
	assert.False(t, failed.Err.Security())
	assert.Equal(t, "Permissions error", failed.Message)
	assert.Equal(t, "/login?BackURL=%2Faccount#LoginForm", failed.RedirectURL)

	assert.False(t, h.provider.called("exchange"))
	assert.Zero(t, h.sessions.calls)
	assert.False(t, h.redis.Exists("oauth_flow:"+out.StateKey))
	assert.Equal(t, []Kind{KindLinkBuilt, KindLoginFailed}, h.kinds())
}

func TestCallback_StateMismatch(t *testing.T) {
	h := newHarness(t, nil)
	out, _ := h.start(t, "/account")

	failed := h.callback(out.StateKey, "forged", provider.Callback{Code: "good-code"})

	assert.Equal(t, ReasonInvalidState, failed.Err.Reason)
	assert.True(t, failed.Err.Security())
	assert.Equal(t, "Authentication failed.", failed.Message)
	assert.False(t, h.provider.called("exchange"))
}

func TestCallback_MissingFlowCookie(t *testing.T) {
	h := newHarness(t, nil)

	failed := h.callback("", "anything", provider.Callback{Code: "good-code"})

	assert.Equal(t, ReasonInvalidState, failed.Err.Reason)
	assert.Equal(t, "/login", failed.RedirectURL)
	assert.False(t, h.provider.called("exchange"))
}

func TestCallback_ForeignBackURLNeverEchoed(t *testing.T) {
	h := newHarness(t, nil)
	out, state := h.start(t, "https://evil.example/phish")

	failed := h.callback(out.StateKey, state, provider.Callback{Error: "access_denied"})
	assert.Equal(t, "/login#LoginForm", failed.RedirectURL)
}

func TestCallback_ForeignBackURLFallsBackToDefault(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.DefaultDestination = "/home"
	})
	out, state := h.start(t, "https://evil.example/phish")

	done := h.callback(out.StateKey, state, provider.Callback{Code: "good-code"})
	require.Equal(t, PhaseDone, done.Phase)
	assert.Equal(t, "/home", done.RedirectURL)
}

func TestCallback_ValidationFailuresNeverIssueSession(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*fakeProvider)
		reason  Reason
		wantErr error
	}{
		{
			name:    "foreign app",
			mutate:  func(p *fakeProvider) { p.meta.AppID = "other-app" },
			reason:  ReasonInvalidToken,
			wantErr: auth.ErrInvalidAppID,
		},
		{
			name:    "expired",
			mutate:  func(p *fakeProvider) { p.meta.ExpiresAt = time.Now().Add(-time.Second) },
			reason:  ReasonInvalidToken,
			wantErr: auth.ErrExpired,
		},
		{
			name:    "flagged invalid",
			mutate:  func(p *fakeProvider) { p.meta.IsValid = false },
			reason:  ReasonInvalidToken,
			wantErr: auth.ErrInvalidToken,
		},
		{
			name:    "introspection failed",
			mutate:  func(p *fakeProvider) { p.metaErr = auth.ErrProvider },
			reason:  ReasonInvalidToken,
			wantErr: auth.ErrProvider,
		},
		{
			name:    "identity subject differs from token",
			mutate:  func(p *fakeProvider) { p.identity.ProviderUserID = "fb-2" },
			reason:  ReasonInvalidToken,
			wantErr: auth.ErrInvalidToken,
		},
		{
			name:    "exchange failed",
			mutate:  func(p *fakeProvider) { p.exchangeErr = auth.ErrProvider },
			reason:  ReasonExchangeFailed,
			wantErr: auth.ErrProvider,
		},
		{
			name:    "upgrade failed",
			mutate:  func(p *fakeProvider) { p.upgradeErr = auth.ErrProvider },
			reason:  ReasonUpgradeFailed,
			wantErr: auth.ErrProvider,
		},
		{
			name:    "identity fetch failed",
			mutate:  func(p *fakeProvider) { p.identityErr = auth.ErrProvider },
			reason:  ReasonIdentityFetchFailed,
			wantErr: auth.ErrProvider,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			tt.mutate(h.provider)
			out, state := h.start(t, "/account")

			failed := h.callback(out.StateKey, state, provider.Callback{Code: "good-code"})

			require.Equal(t, PhaseError, failed.Phase)
			assert.Equal(t, tt.reason, failed.Err.Reason)
			assert.ErrorIs(t, failed.Err, tt.wantErr)
			assert.Zero(t, h.sessions.calls)
			assert.Zero(t, h.accounts.Len(), "no account may be written for a failed attempt")
		})
	}
}

func TestCallback_TransientFailuresOfferRetry(t *testing.T) {
	h := newHarness(t, nil)
	h.provider.upgradeErr = auth.ErrProvider
	out, state := h.start(t, "/account")

	failed := h.callback(out.StateKey, state, provider.Callback{Code: "good-code"})

	assert.False(t, failed.Err.Security())
	assert.Equal(t, "We could not complete your login. Please try again.", failed.Message)
}

func TestCallback_LinkConfirmationRequired(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.accounts.Create(context.Background(), &account.Account{
		Email:     "ada@example.com",
		FirstName: "Ada",
	}))
	h.provider.identity.EmailVerified = false

	out, state := h.start(t, "/account")
	failed := h.callback(out.StateKey, state, provider.Callback{Code: "good-code"})

	assert.Equal(t, ReasonLinkConfirmationRequired, failed.Err.Reason)
	assert.Zero(t, h.sessions.calls)
}

func TestCallback_EmailAccountLinkedToAnotherUser(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.accounts.Create(context.Background(), &account.Account{
		Email:          "ada@example.com",
		Provider:       "facebook",
		ProviderUserID: "fb-other",
		ProviderToken:  "other-token",
	}))

	out, state := h.start(t, "/account")
	failed := h.callback(out.StateKey, state, provider.Callback{Code: "good-code"})

	require.Equal(t, PhaseError, failed.Phase)
	assert.Equal(t, ReasonAccountConflict, failed.Err.Reason)
	assert.True(t, failed.Err.Security())
	assert.NotEqual(t, "We could not complete your login. Please try again.", failed.Message)
	assert.Zero(t, h.sessions.calls)

	owner, err := h.accounts.FindByProviderUserID(context.Background(), "facebook", "fb-other")
	require.NoError(t, err)
	assert.Equal(t, "other-token", owner.ProviderToken)
}

func TestCallback_SessionFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.sessions.err = errors.New("redis down")
	out, state := h.start(t, "/account")

	failed := h.callback(out.StateKey, state, provider.Callback{Code: "good-code"})

	assert.Equal(t, ReasonSessionFailed, failed.Err.Reason)
	assert.Equal(t, 1, h.sessions.calls)
}

func TestCallback_AccessTokenRequiresClientSideFlow(t *testing.T) {
	h := newHarness(t, nil)
	out, state := h.start(t, "/account")

	failed := h.callback(out.StateKey, state, provider.Callback{AccessToken: "browser-token"})
	assert.Equal(t, ReasonInvalidCallback, failed.Err.Reason)
}

func TestStart_ClientSideToken(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.AllowClientSideFlow = true
	})

	out := h.ctrl.Start(context.Background(), StartRequest{
		Provider:       "facebook",
		BackURL:        "/account",
		Persistent:     true,
		AccessToken:    "browser-token",
		RequestContext: postedFrom(testBase),
	})

	require.Equal(t, PhaseDone, out.Phase, "unexpected error: %v", out.Err)
	assert.Equal(t, "/account", out.RedirectURL)
	assert.Empty(t, out.StateKey)
	assert.False(t, h.provider.called("exchange"))
	assert.Equal(t, "browser-token", h.provider.lastUpgrade.Value)
	assert.True(t, h.sessions.persistent)
	assert.Equal(t, []Kind{KindLoginSucceeded}, h.kinds())
}

func TestStart_ClientSideTokenFromForeignSiteRejected(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.AllowClientSideFlow = true
	})

	out := h.ctrl.Start(context.Background(), StartRequest{
		Provider:       "facebook",
		Referer:        "https://evil.example/page",
		AccessToken:    "attacker-token",
		RequestContext: postedFrom("https://evil.example"),
	})

	require.Equal(t, PhaseError, out.Phase)
	assert.Equal(t, ReasonInvalidState, out.Err.Reason)
	assert.True(t, out.Err.Security())
	assert.Nil(t, out.Account)
	assert.Zero(t, h.sessions.calls)
	assert.False(t, h.provider.called("upgrade"))
	assert.Zero(t, h.accounts.Len())
	assert.Equal(t, []Kind{KindLoginFailed}, h.kinds())
}

func TestStart_ClientSideTokenRequiresPost(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.AllowClientSideFlow = true
	})
	req := httptest.NewRequest("GET", "/oauth/facebook/start?access_token=attacker-token", nil)
	req.Header.Set("Sec-Fetch-Site", "same-origin")

	out := h.ctrl.Start(context.Background(), StartRequest{
		Provider:       "facebook",
		AccessToken:    "attacker-token",
		RequestContext: RequestContext{Writer: httptest.NewRecorder(), Request: req},
	})

	assert.Equal(t, PhaseError, out.Phase)
	assert.Zero(t, h.sessions.calls)
}

func TestStart_ClientSideTokenIgnoredWhenDisabled(t *testing.T) {
	h := newHarness(t, nil)

	out := h.ctrl.Start(context.Background(), StartRequest{
		Provider:    "facebook",
		AccessToken: "browser-token",
	})

	assert.Equal(t, PhaseAwaitingCallback, out.Phase)
	assert.False(t, h.provider.called("upgrade"))
}

func TestStart_ClientSideTokenFailureIsTerminal(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.AllowClientSideFlow = true
	})
	h.provider.meta.AppID = "other-app"

	out := h.ctrl.Start(context.Background(), StartRequest{
		Provider:       "facebook",
		FormName:       "LoginForm",
		AccessToken:    "browser-token",
		RequestContext: postedFrom(testBase),
	})

	assert.Equal(t, PhaseError, out.Phase)
	assert.Equal(t, ReasonInvalidToken, out.Err.Reason)
	assert.Equal(t, "/login#LoginForm", out.RedirectURL)
	assert.Zero(t, h.sessions.calls)
}

func TestDestination(t *testing.T) {
	h := newHarness(t, nil)

	assert.Equal(t, "/account", h.ctrl.destination("/account", testBase+"/from"))
	assert.Equal(t, testBase+"/from", h.ctrl.destination("https://evil.example", testBase+"/from"))
	assert.Equal(t, "/", h.ctrl.destination("", "https://evil.example/from"))
	assert.Equal(t, "/", h.ctrl.destination("", ""))

	withDefault := newHarness(t, func(c *Config) { c.DefaultDestination = "/home" })
	assert.Equal(t, "/home", withDefault.ctrl.destination("//evil.example", testBase+"/from"))
}

func TestNew_RejectsForeignDefaultDestination(t *testing.T) {
	_, client := newRedis(t)
	_, err := New(
		Config{PublicBaseURL: testBase, DefaultDestination: "https://evil.example/landing"},
		provider.NewRegistry(newFakeProvider()),
		NewRedisStateStore(client),
		validator.New(),
		resolver.NewStoreResolver(account.NewMemoryStore()),
		&fakeSessions{},
	)
	assert.Error(t, err)
}

func TestWelcome(t *testing.T) {
	assert.Equal(t, "Welcome Back, Ada", welcome("Ada"))
	assert.Equal(t, "Welcome Back", welcome(" "))
}

func TestNew_RequiresAbsoluteBase(t *testing.T) {
	_, err := New(Config{PublicBaseURL: "/relative"}, provider.NewRegistry(), nil, nil, nil, nil)
	assert.Error(t, err)
}

func TestCallback_RecordsSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	h := newHarness(t, nil)
	WithTracer(tp.Tracer("test"))(h.ctrl)
	h.provider.meta.AppID = "other-app"

	out, state := h.start(t, "/account")
	h.callback(out.StateKey, state, provider.Callback{Code: "good-code"})

	byName := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range sr.Ended() {
		byName[s.Name()] = s
	}
	require.Contains(t, byName, "flow.Start")
	require.Contains(t, byName, "flow.validate")
	require.Contains(t, byName, "flow.Callback")

	cb := byName["flow.Callback"]
	assert.Equal(t, otelcodes.Error, cb.Status().Code)
	assert.Equal(t, string(ReasonInvalidToken), cb.Status().Description)
	assert.Equal(t, cb.SpanContext().TraceID(), byName["flow.validate"].Parent().TraceID())
}
