package llm

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind is the provider-neutral category of a failure. Every vendor failure is
// mapped to exactly one kind at the client boundary.
type ErrorKind string

const (
	KindAuthentication         ErrorKind = "authentication"
	KindUnsupportedModel       ErrorKind = "unsupported_model"
	KindCapabilityNotSupported ErrorKind = "capability_not_supported"
	KindRateLimit              ErrorKind = "rate_limit"
	KindTransient              ErrorKind = "transient"
	KindPermanent              ErrorKind = "permanent"
)

// Error represents a provider-neutral LLM error.
type Error struct {
	Kind        ErrorKind
	Provider    string
	Message     string
	StatusCode  int
	RetryAfter  *time.Duration
	ProviderErr error // Original provider-specific error
}

// Sentinels for errors.Is. Each one matches any *Error of the same kind.
var (
	ErrAuthentication         = &Error{Kind: KindAuthentication, Message: "authentication failed"}
	ErrUnsupportedModel       = &Error{Kind: KindUnsupportedModel, Message: "unsupported model"}
	ErrCapabilityNotSupported = &Error{Kind: KindCapabilityNotSupported, Message: "capability not supported"}
	ErrRateLimit              = &Error{Kind: KindRateLimit, Message: "rate limited"}
	ErrTransient              = &Error{Kind: KindTransient, Message: "transient provider error"}
	ErrPermanent              = &Error{Kind: KindPermanent, Message: "permanent provider error"}
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Provider != "" {
		msg = e.Provider + ": " + msg
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.ProviderErr != nil {
		return msg + ": " + e.ProviderErr.Error()
	}
	return msg
}

// Unwrap returns the underlying provider error.
func (e *Error) Unwrap() error {
	return e.ProviderErr
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Retryable reports whether a caller-side retry policy may retry the failed call.
func (e *Error) Retryable() bool {
	return e.Kind == KindRateLimit || e.Kind == KindTransient
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) ErrorKind {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Kind
	}
	return ""
}

// IsRateLimitError checks if an error is a rate limit error.
func IsRateLimitError(err error) bool {
	return KindOf(err) == KindRateLimit
}

// IsRetryableError checks if an error is retryable.
func IsRetryableError(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Retryable()
	}
	return false
}

// ExtractRetryAfter extracts the retry-after duration from an error.
func ExtractRetryAfter(err error) *time.Duration {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.RetryAfter
	}
	return nil
}

// NewAuthenticationError creates a new authentication error.
func NewAuthenticationError(provider, message string, providerErr error) *Error {
	return &Error{
		Kind:        KindAuthentication,
		Provider:    provider,
		Message:     message,
		ProviderErr: providerErr,
	}
}

// NewUnsupportedModelError creates an error for a model unknown to provider.
func NewUnsupportedModelError(provider, model string, providerErr error) *Error {
	return &Error{
		Kind:        KindUnsupportedModel,
		Provider:    provider,
		Message:     fmt.Sprintf("unsupported model %q", model),
		ProviderErr: providerErr,
	}
}

// NewCapabilityNotSupportedError creates an error for an operation the provider can never perform.
func NewCapabilityNotSupportedError(provider, capability string) *Error {
	return &Error{
		Kind:     KindCapabilityNotSupported,
		Provider: provider,
		Message:  capability + " is not supported by this provider",
	}
}

// NewRateLimitError creates a new rate limit error.
func NewRateLimitError(provider, message string, retryAfter *time.Duration, providerErr error) *Error {
	return &Error{
		Kind:        KindRateLimit,
		Provider:    provider,
		Message:     message,
		StatusCode:  429,
		RetryAfter:  retryAfter,
		ProviderErr: providerErr,
	}
}

// NewTransientError creates a new transient (retry-safe) provider error.
func NewTransientError(provider, message string, providerErr error) *Error {
	return &Error{
		Kind:        KindTransient,
		Provider:    provider,
		Message:     message,
		ProviderErr: providerErr,
	}
}

// NewPermanentError creates a new permanent provider error.
func NewPermanentError(provider, message string, providerErr error) *Error {
	return &Error{
		Kind:        KindPermanent,
		Provider:    provider,
		Message:     message,
		ProviderErr: providerErr,
	}
}
