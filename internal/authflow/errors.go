package authflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/nordgo/nordgo/internal/browser"
)

var (
	// ErrNetwork is a transient transport failure. The caller may retry the
	// whole attempt.
	ErrNetwork = errors.New("network error")

	// ErrProtocolMismatch means a provider response did not match any
	// expected shape. Not retried automatically: it indicates the emulated
	// browser logic needs updating, not a user-fixable condition.
	ErrProtocolMismatch = errors.New("provider protocol mismatch")

	// ErrRejected means the user declined the approval or cancelled the
	// attempt. Terminal, no retry.
	ErrRejected = errors.New("authentication rejected")

	// ErrTimedOut means the approval poll exceeded its configured bound. The
	// caller may start a fresh attempt.
	ErrTimedOut = errors.New("approval wait timed out")
)

// State names one position in the login state machine.
type State string

const (
	StateInit                   State = "init"
	StateAuthorizationRequested State = "authorization-requested"
	StateProviderLoginPage      State = "provider-login-page"
	StateIdentityLinking        State = "identity-linking"
	StateAppApprovalPending     State = "app-approval-pending"
	StateCallbackExchange       State = "callback-exchange"
	StateAuthenticated          State = "authenticated"
)

// FlowError is a terminal login failure carrying the state in which the
// attempt died. Unwraps to one of the sentinel errors above.
type FlowError struct {
	State State
	Err   error
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("login failed in state %s: %v", e.State, e.Err)
}

func (e *FlowError) Unwrap() error { return e.Err }

// fail converts an arbitrary step error into a terminal FlowError,
// classifying untyped errors: cancellation counts as rejection, unrecognized
// page shapes as protocol mismatch, anything else as a transient network
// failure.
func fail(state State, err error) error {
	switch {
	case errors.Is(err, ErrRejected), errors.Is(err, ErrTimedOut),
		errors.Is(err, ErrProtocolMismatch), errors.Is(err, ErrNetwork):
		// Already classified.
	case errors.Is(err, context.Canceled):
		err = fmt.Errorf("%w: cancelled: %s", ErrRejected, err)
	case errors.Is(err, browser.ErrRedirectCeiling), errors.Is(err, browser.ErrUnexpectedPage):
		err = fmt.Errorf("%w: %w", ErrProtocolMismatch, err)
	default:
		err = fmt.Errorf("%w: %s", ErrNetwork, err)
	}
	return &FlowError{State: state, Err: err}
}
