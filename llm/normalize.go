package llm

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ClassifyStatus maps a vendor HTTP status to the error taxonomy.
// header may be nil; when present it is consulted for a retry-after hint on 429.
func ClassifyStatus(provider string, status int, message string, header http.Header, providerErr error) *Error {
	if message == "" {
		message = http.StatusText(status)
	}
	var e *Error
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e = NewAuthenticationError(provider, message, providerErr)
	case status == http.StatusTooManyRequests:
		e = NewRateLimitError(provider, message, RetryAfterFromHeader(header), providerErr)
	case status == http.StatusNotFound && strings.Contains(strings.ToLower(message), "model"):
		e = &Error{Kind: KindUnsupportedModel, Provider: provider, Message: message, ProviderErr: providerErr}
	case status == http.StatusRequestTimeout || status == http.StatusConflict || status >= 500:
		e = NewTransientError(provider, message, providerErr)
	case status >= 400:
		e = NewPermanentError(provider, message, providerErr)
	default:
		e = NewTransientError(provider, message, providerErr)
	}
	e.StatusCode = status
	return e
}

// RetryAfterFromHeader extracts a retry-after hint from response headers.
// retry-after-ms takes precedence over Retry-After when both are present.
func RetryAfterFromHeader(header http.Header) *time.Duration {
	if header == nil {
		return nil
	}
	if ms := header.Get("retry-after-ms"); ms != "" {
		if v, err := strconv.ParseFloat(ms, 64); err == nil && v > 0 {
			d := time.Duration(v * float64(time.Millisecond))
			return &d
		}
	}
	return ParseRetryAfter(header.Get("Retry-After"))
}

// ParseRetryAfter parses a Retry-After value given either as delay-seconds or as an HTTP date.
func ParseRetryAfter(value string) *time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		if seconds < 0 {
			return nil
		}
		d := time.Duration(seconds * float64(time.Second))
		return &d
	}
	if retryTime, err := http.ParseTime(value); err == nil {
		d := time.Until(retryTime)
		if d < 0 {
			d = 0
		}
		return &d
	}
	return nil
}

// Normalize converts any failure that is not already an *Error into one.
// Vendor clients translate SDK errors with status codes themselves and call
// Normalize for everything else (transport failures, context errors).
func Normalize(provider string, err error) error {
	if err == nil {
		return nil
	}

	var llmErr *Error
	if errors.As(err, &llmErr) {
		if llmErr.Provider == "" {
			cp := *llmErr
			cp.Provider = provider
			return &cp
		}
		return llmErr
	}

	switch {
	case errors.Is(err, context.Canceled):
		return NewPermanentError(provider, "request canceled", err)
	case errors.Is(err, context.DeadlineExceeded):
		return NewTransientError(provider, "request timed out", err)
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return NewTransientError(provider, "connection closed unexpectedly", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return NewTransientError(provider, "network error", err)
	}

	return NewTransientError(provider, "provider request failed", err)
}
