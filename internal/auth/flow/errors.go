package flow

import (
	"fmt"

	"social-login-service/internal/auth"
)

type Phase string

const (
	PhaseStart            Phase = "start"
	PhaseAwaitingCallback Phase = "awaiting_callback"
	PhaseValidating       Phase = "validating"
	PhaseResolving        Phase = "resolving"
	PhaseDone             Phase = "done"
	PhaseError            Phase = "error"
)

// Reason says why a flow ended in PhaseError.
type Reason string

const (
	ReasonProviderDenied           Reason = "provider_denied"
	ReasonInvalidCallback          Reason = "invalid_callback"
	ReasonInvalidState             Reason = "invalid_state"
	ReasonStateUnavailable         Reason = "state_unavailable"
	ReasonExchangeFailed           Reason = "exchange_failed"
	ReasonUpgradeFailed            Reason = "upgrade_failed"
	ReasonInvalidToken             Reason = "invalid_token"
	ReasonIdentityFetchFailed      Reason = "identity_fetch_failed"
	ReasonResolveFailed            Reason = "resolve_failed"
	ReasonLinkConfirmationRequired Reason = "link_confirmation_required"
	ReasonAccountConflict          Reason = "account_conflict"
	ReasonSessionFailed            Reason = "session_failed"
)

const (
	msgDenied    = "Login was cancelled."
	msgRetry     = "We could not complete your login. Please try again."
	msgAuthFail  = "Authentication failed."
	msgLinkFirst = "An account with this email address already exists. Log in to it first to connect this provider."
	msgConflict  = "This login belongs to a different account. Please contact support."
)

// Error is the terminal failure of a flow.
type Error struct {
	Phase  Phase
	Reason Reason
	Err    error

	// ProviderMessage is the provider's own description of a denial.
	ProviderMessage string
}

func newError(phase Phase, reason Reason, err error) *Error {
	return &Error{Phase: phase, Reason: reason, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("flow: %s during %s", e.Reason, e.Phase)
	}
	return fmt.Sprintf("flow: %s during %s: %v", e.Reason, e.Phase, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Security reports whether the failure may indicate tampering and must be
// audited rather than offered a retry.
func (e *Error) Security() bool {
	switch e.Reason {
	case ReasonInvalidToken, ReasonInvalidCallback, ReasonInvalidState, ReasonAccountConflict:
		return true
	}
	return auth.IsSecurityFailure(e.Err)
}

// Message is the text shown to the user.
func (e *Error) Message() string {
	switch e.Reason {
	case ReasonProviderDenied:
		if e.ProviderMessage != "" {
			return e.ProviderMessage
		}
		return msgDenied
	case ReasonInvalidToken, ReasonInvalidCallback, ReasonInvalidState:
		return msgAuthFail
	case ReasonLinkConfirmationRequired:
		return msgLinkFirst
	case ReasonAccountConflict:
		return msgConflict
	default:
		return msgRetry
	}
}
