package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiox-platform/personachat/internal/config"
	"github.com/aiox-platform/personachat/internal/llm"
)

func newTestGemini(t *testing.T, handler http.HandlerFunc, timeout time.Duration) *Gemini {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewGemini(config.ProviderConfig{
		Name:    "gemini",
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Model:   "gemini-test",
	}, timeout)
}

func sampleRequest() *llm.Request {
	return &llm.Request{
		System: "You are Ada.",
		History: []llm.Message{
			{Role: llm.RoleUser, Content: "hi"},
			{Role: llm.RoleAssistant, Content: "hello"},
		},
		UserText:    "how are you?",
		Temperature: 0.9,
		MaxTokens:   256,
	}
}

func TestGemini_CompleteRequestShape(t *testing.T) {
	var got map[string]any
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-test:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		fmt.Fprint(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"I am "},{"text":"well."}]}}],
			"usageMetadata":{"totalTokenCount":17}}`)
	}, time.Second)

	comp, err := g.Complete(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "I am well.", comp.Text)
	assert.Equal(t, 17, comp.Tokens)

	contents := got["contents"].([]any)
	require.Len(t, contents, 3)
	assert.Equal(t, "user", contents[0].(map[string]any)["role"])
	assert.Equal(t, "model", contents[1].(map[string]any)["role"])
	last := contents[2].(map[string]any)
	assert.Equal(t, "user", last["role"])
	assert.Equal(t, "how are you?", last["parts"].([]any)[0].(map[string]any)["text"])

	sys := got["systemInstruction"].(map[string]any)
	assert.Equal(t, "You are Ada.", sys["parts"].([]any)[0].(map[string]any)["text"])

	gen := got["generationConfig"].(map[string]any)
	assert.Equal(t, 0.9, gen["temperature"])
	assert.Equal(t, float64(256), gen["maxOutputTokens"])
}

func TestGemini_CompleteEstimatesTokens(t *testing.T) {
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"twelve chars"}]}}]}`)
	}, time.Second)

	comp, err := g.Complete(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, 3, comp.Tokens)
}

func TestGemini_CompleteFailures(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		kind       llm.ErrorKind
		serverSide bool
	}{
		{"server error", http.StatusServiceUnavailable, `{"error":{"code":503}}`, llm.KindStatus, true},
		{"unauthorized", http.StatusUnauthorized, `{"error":{"code":401,"status":"UNAUTHENTICATED"}}`, llm.KindStatus, false},
		{"declared unavailable", http.StatusTooManyRequests, `{"error":{"code":429,"status":"UNAVAILABLE"}}`, llm.KindStatus, true},
		{"empty body", http.StatusOK, ``, llm.KindEmpty, true},
		{"no candidates", http.StatusOK, `{"candidates":[]}`, llm.KindEmpty, true},
		{"garbage", http.StatusOK, `not json`, llm.KindEmpty, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}, time.Second)

			_, err := g.Complete(context.Background(), sampleRequest())
			var pe *llm.ProviderError
			require.True(t, errors.As(err, &pe), "expected ProviderError, got %v", err)
			assert.Equal(t, tt.kind, pe.Kind)
			assert.Equal(t, tt.serverSide, pe.ServerSide())
			if tt.kind == llm.KindStatus {
				assert.Equal(t, tt.status, pe.StatusCode)
			}
		})
	}
}

func TestGemini_Timeout(t *testing.T) {
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}, 50*time.Millisecond)

	_, err := g.Complete(context.Background(), sampleRequest())
	var pe *llm.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, llm.KindTimeout, pe.Kind)
	assert.True(t, pe.ServerSide())
}

func TestGemini_CallerCancellation(t *testing.T) {
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := g.Complete(ctx, sampleRequest())
	var pe *llm.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, llm.KindCanceled, pe.Kind)
	assert.False(t, pe.ServerSide())
}

func TestGemini_Stream(t *testing.T) {
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-test:streamGenerateContent", r.URL.Path)
		assert.Equal(t, "sse", r.URL.Query().Get("alt"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"Hel\"}]}}]}\r\n\r\n")
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"lo\"},{\"text\":\"!\"}]}}]}\n\n")
		fmt.Fprint(w, "data: {\"candidates\":[],\"usageMetadata\":{\"totalTokenCount\":9}}\n\n")
	}, time.Second)

	s, err := g.Stream(context.Background(), sampleRequest())
	require.NoError(t, err)
	defer s.Close()

	var deltas []string
	for s.Next() {
		deltas = append(deltas, s.Delta())
	}
	require.NoError(t, s.Err())
	assert.Equal(t, []string{"Hel", "lo!"}, deltas)
	assert.Equal(t, 9, s.Tokens())
}

func TestGemini_StreamStatusError(t *testing.T) {
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, time.Second)

	_, err := g.Stream(context.Background(), sampleRequest())
	assert.True(t, llm.IsServerSide(err))
}

func TestGemini_StreamInBandError(t *testing.T) {
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"par\"}]}}]}\n\n")
		fmt.Fprint(w, "data: {\"error\":{\"code\":500,\"message\":\"internal\"}}\n\n")
	}, time.Second)

	s, err := g.Stream(context.Background(), sampleRequest())
	require.NoError(t, err)
	defer s.Close()

	require.True(t, s.Next())
	assert.Equal(t, "par", s.Delta())
	assert.False(t, s.Next())
	assert.True(t, llm.IsServerSide(s.Err()))
}

func TestGemini_StreamOutlivesTimeoutWhileProducing(t *testing.T) {
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for i := 0; i < 6; i++ {
			fmt.Fprintf(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"%d\"}]}}]}\n\n", i)
			flusher.Flush()
			time.Sleep(40 * time.Millisecond)
		}
	}, 150*time.Millisecond)

	s, err := g.Stream(context.Background(), sampleRequest())
	require.NoError(t, err)
	defer s.Close()

	var deltas []string
	for s.Next() {
		deltas = append(deltas, s.Delta())
	}
	require.NoError(t, s.Err())
	assert.Equal(t, []string{"0", "1", "2", "3", "4", "5"}, deltas)
}

func TestGemini_StreamStallTimesOut(t *testing.T) {
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"Hel\"}]}}]}\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}, 80*time.Millisecond)

	s, err := g.Stream(context.Background(), sampleRequest())
	require.NoError(t, err)
	defer s.Close()

	require.True(t, s.Next())
	assert.Equal(t, "Hel", s.Delta())
	assert.False(t, s.Next())

	var pe *llm.ProviderError
	require.True(t, errors.As(s.Err(), &pe))
	assert.Equal(t, llm.KindTimeout, pe.Kind)
}

func TestGemini_StreamHeadersTimeout(t *testing.T) {
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}, 50*time.Millisecond)

	_, err := g.Stream(context.Background(), sampleRequest())
	var pe *llm.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, llm.KindTimeout, pe.Kind)
}
