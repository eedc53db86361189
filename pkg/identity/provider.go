// Package identity is the identity provider boundary: federated sign-in through a
// popup or a full-page redirect, redirect result pickup, sign-in state change
// notifications and sign-out.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tendant/simple-fittrack/pkg/domain"
)

// ProviderGoogle is the only federated provider.
const ProviderGoogle = "google"

// Provider is the identity provider contract for one client.
type Provider interface {
	// SignInInteractive completes a popup sign-in and returns the principal.
	SignInInteractive(ctx context.Context, cfg ProviderConfig) (*domain.Principal, error)
	// SignInInteractiveRedirect starts a full-page redirect sign-in and returns the URL
	// the client must navigate to. The result is picked up by PendingRedirectResult
	// after the next page load.
	SignInInteractiveRedirect(ctx context.Context, cfg ProviderConfig) (string, error)
	// PendingRedirectResult returns and clears the principal of a completed redirect
	// sign-in, or nil if there is none.
	PendingRedirectResult(ctx context.Context) (*domain.Principal, error)
	// Subscribe calls fn with the current principal (nil when signed out) and again on
	// every change, from a separate goroutine, until the returned func is called.
	Subscribe(fn func(*domain.Principal)) (unsubscribe func())
	// SignOut ends the provider's sign-in state.
	SignOut(ctx context.Context) error
}

// ProviderConfig selects and parameterises the federated provider.
type ProviderConfig struct {
	ProviderID string
	Scopes     []string
	LoginHint  string
	// Popup is what the client's popup channel reported. Nil means no popup channel.
	Popup *PopupResponse
}

// GoogleProviderConfig returns the default Google configuration.
func GoogleProviderConfig() ProviderConfig {
	return ProviderConfig{
		ProviderID: ProviderGoogle,
		Scopes:     []string{"openid", "email", "profile"},
	}
}

// PopupResponse is the outcome of a popup window: an authorization code, or an error type.
type PopupResponse struct {
	Code    string `json:"code,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// AuthErrorKind classifies identity provider failures.
type AuthErrorKind string

const (
	KindPopupClosedByUser     AuthErrorKind = "popup-closed-by-user"
	KindPopupBlocked          AuthErrorKind = "popup-blocked"
	KindCancelledPopupRequest AuthErrorKind = "cancelled-popup-request"
	KindCrossOriginPolicy     AuthErrorKind = "cross-origin-opener-policy"
	KindNetworkError          AuthErrorKind = "network-error"
	KindInvalidCredential     AuthErrorKind = "invalid-credential"
	KindInvalidState          AuthErrorKind = "invalid-state"
	KindInternalError         AuthErrorKind = "internal-error"
)

const coopMarker = "Cross-Origin-Opener-Policy"

// AuthError is a sign-in or sign-out failure.
type AuthError struct {
	Kind    AuthErrorKind
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		return "auth/" + string(e.Kind)
	}
	return fmt.Sprintf("auth/%s: %s", e.Kind, msg)
}

func (e *AuthError) Unwrap() error { return e.Err }

// IsPopupFallback reports whether err is a popup failure that should fall back to
// the redirect flow.
func IsPopupFallback(err error) bool {
	var aerr *AuthError
	if !errors.As(err, &aerr) {
		return false
	}
	switch aerr.Kind {
	case KindPopupClosedByUser, KindPopupBlocked, KindCancelledPopupRequest, KindCrossOriginPolicy:
		return true
	}
	return strings.Contains(aerr.Message, coopMarker)
}

// KindOf returns the kind of an AuthError in err's chain, or KindInternalError.
func KindOf(err error) AuthErrorKind {
	var aerr *AuthError
	if errors.As(err, &aerr) {
		return aerr.Kind
	}
	return KindInternalError
}

// PopupError maps an error type reported by the popup channel to an AuthError.
func PopupError(errType, message string) *AuthError {
	if strings.Contains(message, coopMarker) {
		return &AuthError{Kind: KindCrossOriginPolicy, Message: message}
	}

	var kind AuthErrorKind
	switch errType {
	case "popup_closed", string(KindPopupClosedByUser):
		kind = KindPopupClosedByUser
	case "popup_failed_to_open", string(KindPopupBlocked):
		kind = KindPopupBlocked
	case "popup_cancelled", string(KindCancelledPopupRequest):
		kind = KindCancelledPopupRequest
	case string(KindCrossOriginPolicy):
		kind = KindCrossOriginPolicy
	case "network_error", string(KindNetworkError):
		kind = KindNetworkError
	case "access_denied", string(KindInvalidCredential):
		kind = KindInvalidCredential
	default:
		kind = KindInternalError
	}
	if message == "" {
		message = errType
	}
	return &AuthError{Kind: kind, Message: message}
}
