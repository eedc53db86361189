package session

import (
	"context"
	"errors"

	"github.com/tendant/simple-fittrack/internal/observability"
	"github.com/tendant/simple-fittrack/pkg/domain"
	"github.com/tendant/simple-fittrack/pkg/identity"
)

const (
	StrategyPopup    = "popup"
	StrategyRedirect = "redirect"
)

// SignInResult is the outcome of SignInWithGoogle. Exactly one field is set: Profile
// when the popup completed, RedirectURL when the client must navigate to the provider.
type SignInResult struct {
	Profile     *domain.UserProfile `json:"profile,omitempty"`
	RedirectURL string              `json:"redirectUrl,omitempty"`
}

// signInStrategy is one way of signing in. Failures for which next reports true advance
// to the following strategy; any other failure ends the attempt.
type signInStrategy struct {
	name string
	run  func(ctx context.Context, cfg identity.ProviderConfig) (SignInResult, error)
	next func(err error) bool
}

func (m *Manager) signInStrategies() []signInStrategy {
	return []signInStrategy{
		{name: StrategyPopup, run: m.signInPopup, next: identity.IsPopupFallback},
		{name: StrategyRedirect, run: m.signInRedirect},
	}
}

// SignInWithGoogle tries the popup flow and falls back to the redirect flow when the
// popup was dismissed, blocked, superseded or stopped by a cross-origin policy.
// Other failures are returned as *identity.AuthError.
func (m *Manager) SignInWithGoogle(ctx context.Context, cfg identity.ProviderConfig) (SignInResult, error) {
	if cfg.ProviderID == "" {
		cfg.ProviderID = identity.ProviderGoogle
	}

	strategies := m.signInStrategies()
	for i, s := range strategies {
		res, err := s.run(ctx, cfg)
		if err == nil {
			observability.RecordSignInAttempt(s.name, "success")
			return res, nil
		}

		if s.next != nil && s.next(err) && i < len(strategies)-1 {
			observability.RecordSignInAttempt(s.name, "fallback")
			m.logger.Info("sign-in strategy failed, trying next",
				"strategy", s.name,
				"next", strategies[i+1].name,
				"error", err,
			)
			continue
		}

		observability.RecordSignInAttempt(s.name, "error")
		m.logger.Error("sign-in failed", "strategy", s.name, "error", err)
		return SignInResult{}, asAuthError(err)
	}

	// unreachable: the last strategy never advances
	return SignInResult{}, &identity.AuthError{Kind: identity.KindInternalError, Message: "no sign-in strategy left"}
}

func (m *Manager) signInPopup(ctx context.Context, cfg identity.ProviderConfig) (SignInResult, error) {
	cctx, cancel := m.callContext(ctx)
	p, err := m.idp.SignInInteractive(cctx, cfg)
	cancel()
	if err != nil {
		return SignInResult{}, err
	}
	if p == nil {
		return SignInResult{}, &identity.AuthError{Kind: identity.KindInternalError, Message: "provider returned no principal"}
	}

	profile, _ := m.Reconcile(ctx, *p)
	return SignInResult{Profile: &profile}, nil
}

func (m *Manager) signInRedirect(ctx context.Context, cfg identity.ProviderConfig) (SignInResult, error) {
	cfg.Popup = nil

	cctx, cancel := m.callContext(ctx)
	defer cancel()
	url, err := m.idp.SignInInteractiveRedirect(cctx, cfg)
	if err != nil {
		return SignInResult{}, err
	}
	return SignInResult{RedirectURL: url}, nil
}

// SignOut clears the current user at once and then signs out of the provider.
// A provider failure is logged and returned; the local state stays signed out.
func (m *Manager) SignOut(ctx context.Context) error {
	m.update(func(s *domain.Session) {
		s.CurrentUser = nil
		m.signOutGen++
	})

	cctx, cancel := m.callContext(ctx)
	defer cancel()
	if err := m.idp.SignOut(cctx); err != nil {
		observability.RecordSignOut("error")
		m.logger.Error("error signing out", "error", err)
		return asAuthError(err)
	}

	observability.RecordSignOut("success")
	return nil
}

// asAuthError passes AuthErrors through and classifies anything else.
func asAuthError(err error) error {
	var aerr *identity.AuthError
	if errors.As(err, &aerr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &identity.AuthError{Kind: identity.KindNetworkError, Message: "identity provider timed out", Err: err}
	}
	return &identity.AuthError{Kind: identity.KindInternalError, Err: err}
}
