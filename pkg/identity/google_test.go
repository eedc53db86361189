package identity

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-fittrack/pkg/domain"
	"golang.org/x/oauth2"
)

const (
	testIssuer   = "https://issuer.test"
	testClientID = "client-123"
)

// fakeGoogle is a token endpoint that answers with RSA-signed ID tokens.
type fakeGoogle struct {
	t   *testing.T
	key *rsa.PrivateKey
	srv *httptest.Server

	mu           sync.Mutex
	nonce        string
	fail         bool
	lastRedirect string
	exchanges    int
}

func newFakeGoogle(t *testing.T) *fakeGoogle {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	f := &fakeGoogle{t: t, key: key}
	f.srv = httptest.NewServer(http.HandlerFunc(f.token))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeGoogle) setNonce(nonce string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nonce = nonce
}

func (f *fakeGoogle) redirect() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastRedirect
}

func (f *fakeGoogle) exchangeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exchanges
}

func (f *fakeGoogle) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.exchanges++
	f.lastRedirect = r.PostForm.Get("redirect_uri")
	fail := f.fail
	nonce := f.nonce
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if fail || r.PostForm.Get("code") != "good-code" {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
		return
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss":            testIssuer,
		"aud":            testClientID,
		"sub":            "google-user-1",
		"email":          "bob@example.com",
		"email_verified": true,
		"name":           "Bob Smith",
		"iat":            now.Unix(),
		"exp":            now.Add(time.Hour).Unix(),
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}
	idToken, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(f.key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token": "access-token",
		"token_type":   "Bearer",
		"expires_in":   3600,
		"id_token":     idToken,
	})
}

func (f *fakeGoogle) provider(t *testing.T, tokens TokenStore, hub *Hub) *Google {
	t.Helper()
	verifier := gooidc.NewVerifier(testIssuer,
		&gooidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&f.key.PublicKey}},
		&gooidc.Config{ClientID: testClientID},
	)
	g, err := NewGoogleWithVerifier(GoogleConfig{
		ClientID:        testClientID,
		ClientSecret:    "secret",
		RedirectURI:     "http://localhost:8080/v1/auth/google/callback",
		StateSigningKey: []byte("state-key-for-tests-0123456789"),
	}, oauth2.Endpoint{
		AuthURL:   "https://accounts.test/auth",
		TokenURL:  f.srv.URL + "/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}, verifier, tokens, hub)
	require.NoError(t, err)
	return g
}

func TestGoogle_PopupSignIn(t *testing.T) {
	fake := newFakeGoogle(t)
	tokens := NewMemoryTokenStore()
	g := fake.provider(t, tokens, NewHub())
	ctx := context.Background()

	cfg := GoogleProviderConfig()
	cfg.Popup = &PopupResponse{Code: "good-code"}

	p, err := g.Client("sid-1").SignInInteractive(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "google-user-1", p.ID)
	assert.Equal(t, "Bob Smith", p.DisplayName)
	assert.Equal(t, "bob@example.com", p.Email)
	assert.Equal(t, popupRedirectURI, fake.redirect())

	stored, err := tokens.Get(ctx, "sid-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "google-user-1", stored.ID)
}

func TestGoogle_PopupErrors(t *testing.T) {
	fake := newFakeGoogle(t)
	g := fake.provider(t, NewMemoryTokenStore(), NewHub())
	client := g.Client("sid-1")
	ctx := context.Background()

	tests := []struct {
		name  string
		popup *PopupResponse
		want  AuthErrorKind
	}{
		{name: "no popup channel", popup: nil, want: KindPopupBlocked},
		{name: "closed", popup: &PopupResponse{Error: "popup_closed"}, want: KindPopupClosedByUser},
		{name: "missing code", popup: &PopupResponse{}, want: KindInvalidCredential},
		{name: "rejected code", popup: &PopupResponse{Code: "bad-code"}, want: KindInvalidCredential},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GoogleProviderConfig()
			cfg.Popup = tt.popup
			p, err := client.SignInInteractive(ctx, cfg)
			assert.Nil(t, p)
			assert.Equal(t, tt.want, KindOf(err))
		})
	}
}

func TestGoogle_RedirectRoundTrip(t *testing.T) {
	fake := newFakeGoogle(t)
	tokens := NewMemoryTokenStore()
	hub := NewHub()
	g := fake.provider(t, tokens, hub)
	client := g.Client("sid-1")
	ctx := context.Background()

	cfg := GoogleProviderConfig()
	cfg.LoginHint = "bob@example.com"
	rawURL, err := client.SignInInteractiveRedirect(ctx, cfg)
	require.NoError(t, err)

	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "https://accounts.test/auth", u.Scheme+"://"+u.Host+u.Path)
	assert.Equal(t, testClientID, q.Get("client_id"))
	assert.Equal(t, "select_account", q.Get("prompt"))
	assert.Equal(t, "bob@example.com", q.Get("login_hint"))
	require.NotEmpty(t, q.Get("nonce"))
	require.NotEmpty(t, q.Get("state"))

	fake.setNonce(q.Get("nonce"))
	require.NoError(t, g.CompleteRedirect(ctx, "sid-1", q.Get("state"), "good-code"))

	pending, err := client.PendingRedirectResult(ctx)
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, "google-user-1", pending.ID)

	again, err := client.PendingRedirectResult(ctx)
	require.NoError(t, err)
	assert.Nil(t, again)

	got := make(chan *domain.Principal, 2)
	unsubscribe := client.Subscribe(func(p *domain.Principal) { got <- p })
	defer unsubscribe()
	current := recv(t, got)
	require.NotNil(t, current)
	assert.Equal(t, "google-user-1", current.ID)

	require.NoError(t, client.SignOut(ctx))
	assert.Nil(t, recv(t, got))
}

func TestGoogle_CompleteRedirectRejects(t *testing.T) {
	fake := newFakeGoogle(t)
	g := fake.provider(t, NewMemoryTokenStore(), NewHub())
	client := g.Client("sid-1")
	ctx := context.Background()

	err := g.CompleteRedirect(ctx, "sid-1", "forged-state", "good-code")
	assert.Equal(t, KindInvalidState, KindOf(err))

	rawURL, err := client.SignInInteractiveRedirect(ctx, GoogleProviderConfig())
	require.NoError(t, err)
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	state := u.Query().Get("state")

	fake.setNonce("a-different-nonce")
	err = g.CompleteRedirect(ctx, "sid-1", state, "good-code")
	assert.Equal(t, KindInvalidCredential, KindOf(err))

	err = g.CompleteRedirect(ctx, "sid-1", state, "")
	assert.Equal(t, KindInvalidCredential, KindOf(err))

	pending, err := client.PendingRedirectResult(ctx)
	require.NoError(t, err)
	assert.Nil(t, pending)
}

func TestGoogle_CompleteRedirectForAnotherSession(t *testing.T) {
	fake := newFakeGoogle(t)
	tokens := NewMemoryTokenStore()
	hub := NewHub()
	g := fake.provider(t, tokens, hub)
	ctx := context.Background()

	// a redirect URL started by one browser and finished in another
	rawURL, err := g.Client("attacker-sid").SignInInteractiveRedirect(ctx, GoogleProviderConfig())
	require.NoError(t, err)
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	fake.setNonce(u.Query().Get("nonce"))

	published := make(chan *domain.Principal, 2)
	unsubscribe := hub.Subscribe("attacker-sid", nil, func(p *domain.Principal) { published <- p })
	defer unsubscribe()

	err = g.CompleteRedirect(ctx, "victim-sid", u.Query().Get("state"), "good-code")
	assert.Equal(t, KindInvalidState, KindOf(err))
	assert.Zero(t, fake.exchangeCount(), "code must not be exchanged")

	for _, sid := range []string{"attacker-sid", "victim-sid"} {
		p, err := tokens.Get(ctx, sid)
		require.NoError(t, err)
		assert.Nil(t, p, "%s must stay signed out", sid)
		pending, err := tokens.TakePending(ctx, sid)
		require.NoError(t, err)
		assert.Nil(t, pending, "%s must have no redirect result", sid)
	}

	// the initial nil delivery is the only notification
	assert.Nil(t, recv(t, published))
	select {
	case p := <-published:
		t.Fatalf("unexpected notification %+v", p)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNewGoogleWithVerifier_Validation(t *testing.T) {
	_, err := NewGoogleWithVerifier(GoogleConfig{}, oauth2.Endpoint{}, nil, NewMemoryTokenStore(), NewHub())
	assert.Error(t, err)

	_, err = NewGoogleWithVerifier(GoogleConfig{StateSigningKey: []byte("k")}, oauth2.Endpoint{}, nil, nil, nil)
	assert.Error(t, err)
}
