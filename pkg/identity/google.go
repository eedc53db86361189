package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/tendant/simple-fittrack/pkg/domain"
	"golang.org/x/oauth2"
)

const (
	// GoogleIssuer is Google's OpenID Connect issuer.
	GoogleIssuer = "https://accounts.google.com"

	// popupRedirectURI is the redirect URI Google expects for codes obtained through
	// a popup code client.
	popupRedirectURI = "postmessage"

	stateTTL          = 10 * time.Minute
	pendingResultTTL  = 5 * time.Minute
	defaultSessionTTL = 30 * 24 * time.Hour
)

// GoogleConfig holds Google OAuth configuration.
type GoogleConfig struct {
	ClientID        string
	ClientSecret    string
	RedirectURI     string
	Issuer          string
	StateSigningKey []byte
	SessionTTL      time.Duration
	HTTPClient      *http.Client
	Logger          *slog.Logger
}

// googleClaims are the ID token claims the provider reads.
type googleClaims struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Nonce         string `json:"nonce"`
}

// Google is the Google OpenID Connect identity provider shared by all client sessions.
type Google struct {
	oauth      *oauth2.Config
	verifier   *gooidc.IDTokenVerifier
	tokens     TokenStore
	hub        *Hub
	stateKey   []byte
	sessionTTL time.Duration
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// NewGoogle discovers the issuer's endpoints and keys and creates the provider.
func NewGoogle(ctx context.Context, cfg GoogleConfig, tokens TokenStore, hub *Hub) (*Google, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("client ID is required")
	}
	if cfg.ClientSecret == "" {
		return nil, errors.New("client secret is required")
	}
	if cfg.RedirectURI == "" {
		return nil, errors.New("redirect URI is required")
	}
	if cfg.Issuer == "" {
		cfg.Issuer = GoogleIssuer
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}

	op, err := gooidc.NewProvider(gooidc.ClientContext(ctx, cfg.HTTPClient), cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc new provider: %w", err)
	}
	verifier := op.Verifier(&gooidc.Config{ClientID: cfg.ClientID})
	return NewGoogleWithVerifier(cfg, op.Endpoint(), verifier, tokens, hub)
}

// NewGoogleWithVerifier creates the provider from known endpoints and an ID token verifier.
func NewGoogleWithVerifier(cfg GoogleConfig, endpoint oauth2.Endpoint, verifier *gooidc.IDTokenVerifier, tokens TokenStore, hub *Hub) (*Google, error) {
	if len(cfg.StateSigningKey) == 0 {
		return nil, errors.New("state signing key is required")
	}
	if tokens == nil || hub == nil {
		return nil, errors.New("token store and hub are required")
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Google{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       []string{gooidc.ScopeOpenID, "email", "profile"},
			Endpoint:     endpoint,
		},
		verifier:   verifier,
		tokens:     tokens,
		hub:        hub,
		stateKey:   cfg.StateSigningKey,
		sessionTTL: cfg.SessionTTL,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
		now:        time.Now,
	}, nil
}

// Client binds the provider to one client session.
func (g *Google) Client(sid string) Provider {
	return &googleClient{g: g, sid: sid}
}

// CompleteRedirect finishes a redirect sign-in from the OAuth callback for the client
// session sid. The state must have been issued to sid; otherwise nothing is exchanged
// or stored. The principal becomes both the session's signed-in state and its pending
// redirect result.
func (g *Google) CompleteRedirect(ctx context.Context, sid, state, code string) error {
	stateSID, nonce, err := parseState(g.stateKey, state)
	if err != nil {
		return &AuthError{Kind: KindInvalidState, Err: err}
	}
	if sid == "" || stateSID != sid {
		return &AuthError{Kind: KindInvalidState, Message: "state was issued to another client session"}
	}
	if code == "" {
		return &AuthError{Kind: KindInvalidCredential, Message: "missing authorization code"}
	}

	p, err := g.exchange(ctx, g.oauth, code, nonce)
	if err != nil {
		return err
	}
	if err := g.tokens.SavePending(ctx, sid, *p, pendingResultTTL); err != nil {
		return &AuthError{Kind: KindNetworkError, Message: "save redirect result", Err: err}
	}
	return g.signIn(ctx, sid, *p)
}

func (g *Google) signIn(ctx context.Context, sid string, p domain.Principal) error {
	if err := g.tokens.Save(ctx, sid, p, g.sessionTTL); err != nil {
		return &AuthError{Kind: KindNetworkError, Message: "save sign-in state", Err: err}
	}
	g.hub.Publish(sid, &p)
	return nil
}

func (g *Google) exchange(ctx context.Context, cfg *oauth2.Config, code, expectedNonce string) (*domain.Principal, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)

	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			return nil, &AuthError{Kind: KindInvalidCredential, Message: "exchange code for token", Err: err}
		}
		return nil, &AuthError{Kind: KindNetworkError, Message: "exchange code for token", Err: err}
	}

	rawID, ok := token.Extra("id_token").(string)
	if !ok || rawID == "" {
		return nil, &AuthError{Kind: KindInvalidCredential, Message: "missing id_token in token response"}
	}
	idTok, err := g.verifier.Verify(ctx, rawID)
	if err != nil {
		return nil, &AuthError{Kind: KindInvalidCredential, Message: "verify id_token", Err: err}
	}

	var claims googleClaims
	if err := idTok.Claims(&claims); err != nil {
		return nil, &AuthError{Kind: KindInvalidCredential, Message: "parse id_token claims", Err: err}
	}
	if expectedNonce != "" && claims.Nonce != expectedNonce {
		return nil, &AuthError{Kind: KindInvalidCredential, Message: "invalid nonce"}
	}

	return &domain.Principal{
		ID:          claims.Subject,
		DisplayName: claims.Name,
		Email:       claims.Email,
	}, nil
}

// googleClient is the Provider view of Google for one client session.
type googleClient struct {
	g   *Google
	sid string
}

func (c *googleClient) SignInInteractive(ctx context.Context, cfg ProviderConfig) (*domain.Principal, error) {
	if cfg.Popup == nil {
		return nil, &AuthError{Kind: KindPopupBlocked, Message: "no popup channel"}
	}
	if cfg.Popup.Error != "" {
		return nil, PopupError(cfg.Popup.Error, cfg.Popup.Message)
	}
	if cfg.Popup.Code == "" {
		return nil, &AuthError{Kind: KindInvalidCredential, Message: "missing authorization code"}
	}

	popupCfg := *c.g.oauth
	popupCfg.RedirectURL = popupRedirectURI

	p, err := c.g.exchange(ctx, &popupCfg, cfg.Popup.Code, "")
	if err != nil {
		return nil, err
	}
	if err := c.g.signIn(ctx, c.sid, *p); err != nil {
		return nil, err
	}
	return p, nil
}

func (c *googleClient) SignInInteractiveRedirect(_ context.Context, cfg ProviderConfig) (string, error) {
	nonce, err := randomString(24)
	if err != nil {
		return "", &AuthError{Kind: KindInternalError, Message: "generate nonce", Err: err}
	}
	state, err := signState(c.g.stateKey, c.sid, nonce, stateTTL, c.g.now())
	if err != nil {
		return "", &AuthError{Kind: KindInternalError, Message: "sign state", Err: err}
	}

	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("nonce", nonce),
		oauth2.SetAuthURLParam("prompt", "select_account"),
	}
	if cfg.LoginHint != "" {
		opts = append(opts, oauth2.SetAuthURLParam("login_hint", cfg.LoginHint))
	}
	return c.g.oauth.AuthCodeURL(state, opts...), nil
}

func (c *googleClient) PendingRedirectResult(ctx context.Context) (*domain.Principal, error) {
	p, err := c.g.tokens.TakePending(ctx, c.sid)
	if err != nil {
		return nil, &AuthError{Kind: KindNetworkError, Message: "read redirect result", Err: err}
	}
	return p, nil
}

func (c *googleClient) Subscribe(fn func(*domain.Principal)) func() {
	return c.g.hub.Subscribe(c.sid, c.current, fn)
}

func (c *googleClient) current() *domain.Principal {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p, err := c.g.tokens.Get(ctx, c.sid)
	if err != nil {
		c.g.logger.Warn("failed to read sign-in state, treating as signed out", "error", err)
		return nil
	}
	return p
}

func (c *googleClient) SignOut(ctx context.Context) error {
	if err := c.g.tokens.Delete(ctx, c.sid); err != nil {
		return &AuthError{Kind: KindNetworkError, Message: "clear sign-in state", Err: err}
	}
	c.g.hub.Publish(c.sid, nil)
	return nil
}
