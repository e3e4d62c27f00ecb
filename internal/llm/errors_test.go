package llm

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestProviderError_ServerSide(t *testing.T) {
	tests := []struct {
		name string
		err  *ProviderError
		want bool
	}{
		{"500", NewStatusError("p", 500, nil), true},
		{"503", NewStatusError("p", 503, []byte("oops")), true},
		{"400", NewStatusError("p", 400, []byte(`{"error":"bad"}`)), false},
		{"401", NewStatusError("p", 401, nil), false},
		{"429 unavailable status", NewStatusError("p", 429, []byte(`{"error":{"status":"UNAVAILABLE"}}`)), true},
		{"403 service unavailable text", NewStatusError("p", 403, []byte("Service Unavailable")), true},
		{"empty", NewEmptyError("p", nil), true},
		{"timeout", &ProviderError{Provider: "p", Kind: KindTimeout}, true},
		{"transport", &ProviderError{Provider: "p", Kind: KindTransport}, false},
		{"canceled", &ProviderError{Provider: "p", Kind: KindCanceled}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.ServerSide())
			assert.Equal(t, tt.want, IsServerSide(tt.err))
		})
	}
}

func TestIsServerSide_Wrapped(t *testing.T) {
	err := errors.Join(errors.New("context"), NewStatusError("p", 502, nil))
	assert.True(t, IsServerSide(err))
	assert.False(t, IsServerSide(errors.New("plain")))
	assert.False(t, IsServerSide(nil))
}

func TestNewStatusError_TruncatesBody(t *testing.T) {
	err := NewStatusError("p", 500, []byte(strings.Repeat("x", 1000)))
	assert.Len(t, err.Body, maxErrorBody+3)
	assert.Contains(t, err.Error(), "status 500")
}

func TestClassifyTransport(t *testing.T) {
	t.Run("caller canceled", func(t *testing.T) {
		parent, cancel := context.WithCancel(context.Background())
		cancel()
		pe := ClassifyTransport("p", parent, parent, context.Canceled)
		assert.Equal(t, KindCanceled, pe.Kind)
	})

	t.Run("call deadline", func(t *testing.T) {
		parent := context.Background()
		ctx, cancel := context.WithTimeout(parent, 0)
		defer cancel()
		<-ctx.Done()
		pe := ClassifyTransport("p", parent, ctx, errors.New("read body"))
		assert.Equal(t, KindTimeout, pe.Kind)
	})

	t.Run("idle deadline", func(t *testing.T) {
		parent := context.Background()
		ctx, cancel := context.WithCancelCause(parent)
		cancel(context.DeadlineExceeded)
		pe := ClassifyTransport("p", parent, ctx, context.Canceled)
		assert.Equal(t, KindTimeout, pe.Kind)
	})

	t.Run("net timeout", func(t *testing.T) {
		ctx := context.Background()
		pe := ClassifyTransport("p", ctx, ctx, timeoutErr{})
		assert.Equal(t, KindTimeout, pe.Kind)
	})

	t.Run("other", func(t *testing.T) {
		ctx := context.Background()
		pe := ClassifyTransport("p", ctx, ctx, errors.New("connection refused"))
		assert.Equal(t, KindTransport, pe.Kind)
		assert.EqualError(t, errors.Unwrap(pe), "connection refused")
	})

	t.Run("already classified", func(t *testing.T) {
		ctx := context.Background()
		orig := NewStatusError("p", 503, nil)
		assert.Same(t, orig, ClassifyTransport("p", ctx, ctx, orig))
	})
}

func TestTokensOrEstimate(t *testing.T) {
	assert.Equal(t, 42, TokensOrEstimate(42, "abcd"))
	assert.Equal(t, 2, TokensOrEstimate(0, "abcdefgh"))
	assert.Equal(t, 0, EstimateTokens("abc"))
}
