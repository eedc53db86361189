// Package identitytest provides an in-memory identity.Provider for tests of code
// that drives session managers.
package identitytest

import (
	"context"
	"sync"

	"github.com/tendant/simple-fittrack/pkg/domain"
	"github.com/tendant/simple-fittrack/pkg/identity"
)

// Provider is an identity.Provider whose outcomes are set by the test.
type Provider struct {
	mu sync.Mutex

	current  *domain.Principal
	pending  *domain.Principal
	popup    *domain.Principal
	popupErr error

	// RedirectURL is returned by SignInInteractiveRedirect.
	RedirectURL string
	// SignOutErr is returned by SignOut after the local state is cleared.
	SignOutErr error
	// Hold delays the initial notification until Release is called, leaving
	// subscribers in their loading state.
	Hold bool

	held        []func(*domain.Principal)
	subscribers map[int]func(*domain.Principal)
	nextID      int
}

var _ identity.Provider = (*Provider)(nil)

// New returns a signed-out provider.
func New() *Provider {
	return &Provider{
		RedirectURL: "https://accounts.google.test/o/oauth2/v2/auth",
		subscribers: make(map[int]func(*domain.Principal)),
	}
}

// SetPopup sets the outcome of the next popup sign-in.
func (p *Provider) SetPopup(principal *domain.Principal, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.popup, p.popupErr = principal, err
}

// SetPending stores a completed redirect sign-in for PendingRedirectResult.
func (p *Provider) SetPending(principal *domain.Principal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = principal
}

// SignIn makes principal the signed-in user and notifies subscribers.
func (p *Provider) SignIn(principal domain.Principal) {
	p.publish(&principal)
}

// Release delivers held initial notifications.
func (p *Provider) Release() {
	p.mu.Lock()
	held := p.held
	p.held = nil
	current := p.current
	p.Hold = false
	p.mu.Unlock()

	for _, fn := range held {
		fn(current)
	}
}

// SignInInteractive follows the popup outcome reported in cfg, then the one set by
// SetPopup.
func (p *Provider) SignInInteractive(_ context.Context, cfg identity.ProviderConfig) (*domain.Principal, error) {
	if cfg.Popup == nil {
		return nil, identity.PopupError("popup_failed_to_open", "no popup channel")
	}
	if cfg.Popup.Error != "" {
		return nil, identity.PopupError(cfg.Popup.Error, cfg.Popup.Message)
	}

	p.mu.Lock()
	principal, err := p.popup, p.popupErr
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if principal == nil {
		return nil, identity.PopupError("popup_closed", "")
	}
	p.publish(principal)
	out := *principal
	return &out, nil
}

func (p *Provider) SignInInteractiveRedirect(context.Context, identity.ProviderConfig) (string, error) {
	return p.RedirectURL, nil
}

func (p *Provider) PendingRedirectResult(context.Context) (*domain.Principal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	principal := p.pending
	p.pending = nil
	return principal, nil
}

func (p *Provider) Subscribe(fn func(*domain.Principal)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subscribers[id] = fn
	current := p.current
	hold := p.Hold
	if hold {
		p.held = append(p.held, fn)
	}
	p.mu.Unlock()

	if !hold {
		fn(current)
	}
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subscribers, id)
	}
}

func (p *Provider) SignOut(context.Context) error {
	p.publish(nil)
	return p.SignOutErr
}

func (p *Provider) publish(principal *domain.Principal) {
	p.mu.Lock()
	if principal != nil {
		c := *principal
		p.current = &c
	} else {
		p.current = nil
	}
	current := p.current
	fns := make([]func(*domain.Principal), 0, len(p.subscribers))
	for _, fn := range p.subscribers {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(current)
	}
}
