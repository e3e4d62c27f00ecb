package generation

import (
	"errors"
	"fmt"

	"github.com/aiox-platform/personachat/internal/llm"
)

// QuotaExceededError is returned instead of a result when the quota gate
// refuses the request. Nothing else ran. Limit and Used refer to Window,
// either the daily allowance or the per-minute guard.
type QuotaExceededError struct {
	Reason string
	Window string
	Limit  int
	Used   int
}

func (e *QuotaExceededError) Error() string {
	return e.Reason
}

// IsQuotaExceeded reports whether err carries a quota refusal.
func IsQuotaExceeded(err error) (*QuotaExceededError, bool) {
	var qe *QuotaExceededError
	if errors.As(err, &qe) {
		return qe, true
	}
	return nil, false
}

type ErrorKind string

const (
	// KindRejected means the provider refused the request itself; retrying
	// elsewhere would not help.
	KindRejected ErrorKind = "rejected"
	// KindUnavailable means no provider produced a reply.
	KindUnavailable ErrorKind = "unavailable"
)

// GenerationError is a provider failure as seen by callers. The underlying
// provider error is kept for logs only.
type GenerationError struct {
	Kind     ErrorKind
	Provider string
	Err      error
}

func (e *GenerationError) Error() string {
	switch e.Kind {
	case KindRejected:
		return "AI provider rejected the request"
	default:
		return "AI service temporarily unavailable"
	}
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

func (e *GenerationError) detail() string {
	return fmt.Sprintf("%s: %v", e.Error(), e.Err)
}

// providerFailure converts an orchestrator error. Caller cancellation is
// returned as the context error so it is never reported as a provider fault.
func providerFailure(err error) error {
	var pe *llm.ProviderError
	if !errors.As(err, &pe) {
		return &GenerationError{Kind: KindUnavailable, Err: err}
	}
	switch {
	case pe.Kind == llm.KindCanceled:
		return fmt.Errorf("generation canceled: %w", pe.Err)
	case pe.ServerSide(), pe.Kind == llm.KindTransport:
		return &GenerationError{Kind: KindUnavailable, Provider: pe.Provider, Err: pe}
	default:
		return &GenerationError{Kind: KindRejected, Provider: pe.Provider, Err: pe}
	}
}
