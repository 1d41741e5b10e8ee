package facebook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"social-login-service/internal/auth"
	"social-login-service/internal/auth/provider"
	"social-login-service/internal/logger"

	"golang.org/x/oauth2"
)

const (
	providerName = "facebook"

	defaultGraphVersion = "v19.0"
	defaultGraphURL     = "https://graph.facebook.com"
	defaultDialogURL    = "https://www.facebook.com"

	// Tokens living longer than this are already long-lived.
	longLivedThreshold = 2 * time.Hour

	// Horizon assumed for tokens the provider reports as never expiring.
	nonExpiringHorizon = 60 * 24 * time.Hour
)

var defaultScopes = []string{"email", "public_profile"}

// Client implements provider.Client against the Facebook Graph API.
// It returns tokens and identity facts only; no account decisions are made here.
type Client struct {
	appID     string
	appSecret string

	graphVersion string
	graphURL     string
	dialogURL    string
	scopes       []string

	oauthConfig *oauth2.Config
	httpClient  *http.Client
	now         func() time.Time
}

var _ provider.Client = (*Client)(nil)

type Option func(*Client)

func WithGraphVersion(v string) Option {
	return func(c *Client) {
		if v != "" {
			c.graphVersion = v
		}
	}
}

// WithGraphURL points Graph API calls at a different host.
func WithGraphURL(u string) Option {
	return func(c *Client) {
		c.graphURL = strings.TrimRight(u, "/")
	}
}

// WithDialogURL points the browser-facing login dialog at a different host.
func WithDialogURL(u string) Option {
	return func(c *Client) {
		c.dialogURL = strings.TrimRight(u, "/")
	}
}

func WithScopes(scopes []string) Option {
	return func(c *Client) {
		if len(scopes) > 0 {
			c.scopes = scopes
		}
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.httpClient = h
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

func New(appID, appSecret string, opts ...Option) (*Client, error) {
	if appID == "" || appSecret == "" {
		return nil, errors.New("facebook oauth config missing required fields")
	}

	c := &Client{
		appID:        appID,
		appSecret:    appSecret,
		graphVersion: defaultGraphVersion,
		graphURL:     defaultGraphURL,
		dialogURL:    defaultDialogURL,
		scopes:       defaultScopes,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.oauthConfig = &oauth2.Config{
		ClientID:     appID,
		ClientSecret: appSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.dialogURL + "/" + c.graphVersion + "/dialog/oauth",
			TokenURL:  c.graphURL + "/" + c.graphVersion + "/oauth/access_token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	return c, nil
}

// Name returns the provider identifier used by the registry.
func (c *Client) Name() string {
	return providerName
}

func (c *Client) AppID() string {
	return c.appID
}

func (c *Client) DefaultScopes() []string {
	return append([]string(nil), c.scopes...)
}

// AuthorizationURL builds the login dialog URL. Facebook takes a
// comma-separated scope list; PKCE is not used with the app-secret flow.
func (c *Client) AuthorizationURL(returnURL string, scopes []string, state string, _ string) string {
	if len(scopes) == 0 {
		scopes = c.scopes
	}
	return c.oauthConfig.AuthCodeURL(
		state,
		oauth2.SetAuthURLParam("redirect_uri", returnURL),
		oauth2.SetAuthURLParam("scope", strings.Join(scopes, ",")),
	)
}

func (c *Client) ExchangeCode(ctx context.Context, cb provider.Callback) (auth.AccessToken, error) {
	if cb.Denied() {
		return auth.AccessToken{}, fmt.Errorf("%w: %s", auth.ErrProviderDenied, firstNonEmpty(cb.ErrorDescription, cb.ErrorReason, cb.Error))
	}
	if cb.Code == "" || cb.RedirectURI == "" {
		return auth.AccessToken{}, auth.ErrInvalidCallback
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	token, err := c.oauthConfig.Exchange(
		ctx,
		cb.Code,
		oauth2.SetAuthURLParam("redirect_uri", cb.RedirectURI),
	)
	if err != nil {
		logger.Error("facebook token exchange failed", map[string]any{
			"error": err.Error(),
		})
		return auth.AccessToken{}, fmt.Errorf("%w: facebook token exchange: %v", auth.ErrProvider, err)
	}

	return c.accessToken(token.AccessToken, token.Expiry), nil
}

func (c *Client) UpgradeToLongLived(ctx context.Context, token auth.AccessToken) (auth.AccessToken, error) {
	if token.IsLongLived {
		return token, nil
	}

	var resp struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	err := c.graphGet(ctx, "/oauth/access_token", url.Values{
		"grant_type":        {"fb_exchange_token"},
		"client_id":         {c.appID},
		"client_secret":     {c.appSecret},
		"fb_exchange_token": {token.Value},
	}, &resp)
	if err != nil {
		return auth.AccessToken{}, fmt.Errorf("facebook long-lived exchange: %w", err)
	}
	if resp.AccessToken == "" {
		return auth.AccessToken{}, fmt.Errorf("%w: facebook long-lived exchange returned no token", auth.ErrProvider)
	}

	upgraded := auth.AccessToken{Value: resp.AccessToken, IsLongLived: true}
	if resp.ExpiresIn > 0 {
		upgraded.ExpiresAt = c.now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	return upgraded, nil
}

func (c *Client) FetchTokenMetadata(ctx context.Context, token auth.AccessToken) (auth.TokenMetadata, error) {
	var resp struct {
		Data struct {
			AppID     string `json:"app_id"`
			Type      string `json:"type"`
			UserID    string `json:"user_id"`
			ExpiresAt int64  `json:"expires_at"`
			IsValid   bool   `json:"is_valid"`
		} `json:"data"`
	}
	err := c.graphGet(ctx, "/debug_token", url.Values{
		"input_token":  {token.Value},
		"access_token": {c.appID + "|" + c.appSecret},
	}, &resp)
	if err != nil {
		return auth.TokenMetadata{}, fmt.Errorf("facebook debug_token: %w", err)
	}

	meta := auth.TokenMetadata{
		AppID:   resp.Data.AppID,
		UserID:  resp.Data.UserID,
		IsValid: resp.Data.IsValid,
	}
	if resp.Data.ExpiresAt > 0 {
		meta.ExpiresAt = time.Unix(resp.Data.ExpiresAt, 0)
	} else if resp.Data.IsValid {
		// expires_at 0 means the token does not expire
		meta.ExpiresAt = c.now().Add(nonExpiringHorizon)
	}
	return meta, nil
}

func (c *Client) FetchIdentity(ctx context.Context, token auth.AccessToken) (auth.Identity, error) {
	var me struct {
		ID        string `json:"id"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Email     string `json:"email"`
	}
	err := c.graphGet(ctx, "/me", url.Values{
		"fields":          {"id,first_name,last_name,email"},
		"access_token":    {token.Value},
		"appsecret_proof": {appSecretProof(c.appSecret, token.Value)},
	}, &me)
	if err != nil {
		return auth.Identity{}, fmt.Errorf("facebook /me: %w", err)
	}
	if me.ID == "" {
		return auth.Identity{}, fmt.Errorf("%w: facebook /me returned no id", auth.ErrProvider)
	}

	logger.Info("facebook identity fetched", map[string]any{
		"subject_present": me.ID != "",
		"email_present":   me.Email != "",
	})

	return auth.Identity{
		Provider:       providerName,
		ProviderUserID: me.ID,
		Email:          me.Email,
		// Graph only exposes a confirmed primary email.
		EmailVerified: me.Email != "",
		FirstName:     me.FirstName,
		LastName:      me.LastName,
	}, nil
}

func (c *Client) accessToken(value string, expiry time.Time) auth.AccessToken {
	return auth.AccessToken{
		Value:       value,
		ExpiresAt:   expiry,
		IsLongLived: !expiry.IsZero() && expiry.After(c.now().Add(longLivedThreshold)),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
