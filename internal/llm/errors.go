package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorKind classifies provider failures for the fallback policy.
type ErrorKind string

const (
	KindTransport ErrorKind = "transport"
	KindTimeout   ErrorKind = "timeout"
	KindStatus    ErrorKind = "status"
	KindEmpty     ErrorKind = "empty_response"
	KindCanceled  ErrorKind = "canceled"
)

// maxErrorBody bounds how much of an error response is kept for logs.
const maxErrorBody = 200

// ProviderError is the only error type provider adapters return.
type ProviderError struct {
	Provider   string
	Kind       ErrorKind
	StatusCode int
	Body       string
	// Unavailable is set when the provider declared itself unavailable
	// with a status code below 500.
	Unavailable bool
	Err         error
}

func (e *ProviderError) Error() string {
	switch e.Kind {
	case KindStatus:
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Body)
	case KindEmpty:
		if e.Err != nil {
			return fmt.Sprintf("%s: empty response: %v", e.Provider, e.Err)
		}
		return fmt.Sprintf("%s: empty response", e.Provider)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
	}
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ServerSide reports whether the failure is the provider's fault, which makes
// a retry against another provider worthwhile.
func (e *ProviderError) ServerSide() bool {
	switch e.Kind {
	case KindTimeout, KindEmpty:
		return true
	case KindStatus:
		return e.StatusCode >= 500 || e.Unavailable
	default:
		return false
	}
}

// IsServerSide reports whether err is a ProviderError of the server-side class.
func IsServerSide(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.ServerSide()
}

// NewStatusError builds a KindStatus error from a non-2xx response.
func NewStatusError(provider string, code int, body []byte) *ProviderError {
	text := string(body)
	return &ProviderError{
		Provider:    provider,
		Kind:        KindStatus,
		StatusCode:  code,
		Body:        truncate(text, maxErrorBody),
		Unavailable: declaresUnavailable(text),
	}
}

// NewEmptyError builds a KindEmpty error, optionally wrapping a decode failure.
func NewEmptyError(provider string, cause error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: KindEmpty, Err: cause}
}

// ClassifyTransport maps an error raised while talking to the provider.
// ctx is the per-call context; parent is the caller's context.
func ClassifyTransport(provider string, parent, ctx context.Context, err error) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}

	switch {
	case parent.Err() != nil:
		return &ProviderError{Provider: provider, Kind: KindCanceled, Err: err}
	case errors.Is(context.Cause(ctx), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded), isNetTimeout(err):
		return &ProviderError{Provider: provider, Kind: KindTimeout, Err: err}
	default:
		return &ProviderError{Provider: provider, Kind: KindTransport, Err: err}
	}
}

func isNetTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func declaresUnavailable(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "service unavailable") ||
		strings.Contains(lower, `"unavailable"`) ||
		strings.Contains(lower, "service_unavailable")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
