package driven

import (
	"errors"
	"fmt"
	"time"
)

// ProviderErrorKind classifies a provider failure.
type ProviderErrorKind string

const (
	ErrKindAuthenticationFailed ProviderErrorKind = "authentication_failed"
	ErrKindTokenExpired         ProviderErrorKind = "token_expired"
	ErrKindRateLimited          ProviderErrorKind = "rate_limited"
	ErrKindNotFound             ProviderErrorKind = "not_found"
	ErrKindAPI                  ProviderErrorKind = "api_error"
	ErrKindNetwork              ProviderErrorKind = "network_error"
	ErrKindInvalidResponse      ProviderErrorKind = "invalid_response"
	ErrKindConfiguration        ProviderErrorKind = "configuration_error"
)

// ProviderError is the error type returned by every ExpenseProvider method.
// Message never contains credentials.
type ProviderError struct {
	Kind       ProviderErrorKind
	Message    string
	RetryAfter time.Duration // set only for ErrKindRateLimited, zero when unknown
	Err        error
}

// NewProviderError returns a ProviderError of the given kind.
func NewProviderError(kind ProviderErrorKind, format string, args ...any) *ProviderError {
	return &ProviderError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (e *ProviderError) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether repeating the call may succeed without user action.
func (e *ProviderError) Retryable() bool {
	switch e.Kind {
	case ErrKindNetwork, ErrKindRateLimited, ErrKindTokenExpired:
		return true
	}
	return false
}

// RequiresReauth reports whether the user must re-authorize the connection
// unless a credential refresh succeeds.
func (e *ProviderError) RequiresReauth() bool {
	return e.Kind == ErrKindAuthenticationFailed || e.Kind == ErrKindTokenExpired
}

// IsRetryable reports whether err is a retryable ProviderError.
func IsRetryable(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Retryable()
}

// RequiresReauth reports whether err is a ProviderError that needs re-authorization.
func RequiresReauth(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.RequiresReauth()
}

// IsProviderError reports whether err is, or wraps, a ProviderError.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
