package generation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/aiox-platform/personachat/internal/config"
	"github.com/aiox-platform/personachat/internal/llm"
	"github.com/aiox-platform/personachat/internal/personas"
	"github.com/aiox-platform/personachat/internal/prompt"
	"github.com/aiox-platform/personachat/internal/sentiment"
	"github.com/aiox-platform/personachat/internal/usage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var genCfg = config.GenerationConfig{DefaultTemperature: 0.9, HistoryLimit: 20}

type harness struct {
	quota     *fakeQuota
	personas  *fakePersonas
	gen       *fakeGenerator
	publisher *fakePublisher
	svc       *Service
	personaID uuid.UUID
	userID    uuid.UUID
}

func newHarness(gen *fakeGenerator) *harness {
	personaID := uuid.New()
	h := &harness{
		quota:     allowAll(),
		personas:  newFakePersonas(personaID),
		gen:       gen,
		publisher: &fakePublisher{},
		personaID: personaID,
		userID:    uuid.New(),
	}
	h.svc = NewService(h.quota, h.personas, h.gen, genCfg, WithPublisher(h.publisher))
	return h
}

func (h *harness) request(msg string) *Request {
	return &Request{UserID: h.userID, PersonaID: h.personaID, UserMessage: msg}
}

func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("stream did not close")
			return out
		}
	}
}

func TestGenerate_Success(t *testing.T) {
	h := newHarness(&fakeGenerator{provider: "gemini", deltas: []string{"Hello, ", "great to meet you!"}, tokens: 11})

	temp := 0.3
	req := h.request("hi")
	req.Temperature = &temp
	req.History = []prompt.Turn{{SenderType: "user", Text: "earlier", CreatedAt: time.Now()}}

	res, err := h.svc.Generate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "Hello, great to meet you!", res.Text)
	assert.Equal(t, 11, res.TokensUsed)
	assert.Equal(t, sentiment.Positive, res.Sentiment)
	assert.Equal(t, "gemini", res.ProviderUsed)
	assert.Equal(t, 4, res.Usage.MessagesToday)
	require.NotNil(t, res.Usage.Limit)
	assert.Equal(t, 25, *res.Usage.Limit)

	assert.Equal(t, []commit{{userID: h.userID, tokens: 11}}, h.quota.committed())
	assert.Equal(t, 1, h.personas.bumped())
	assert.Len(t, h.publisher.completed, 1)

	sent := h.gen.request()
	assert.Equal(t, 0.3, sent.Temperature)
	assert.Equal(t, "hi", sent.UserText)
	assert.Len(t, sent.History, 1)
	assert.Contains(t, sent.System, "You are Ada.")
}

func TestGenerate_DefaultsAndGreeting(t *testing.T) {
	h := newHarness(&fakeGenerator{provider: "gemini", deltas: []string{"Hi, I'm Ada."}})

	req := h.request(prompt.GreetingSentinel)
	req.History = []prompt.Turn{{SenderType: "user", Text: "earlier", CreatedAt: time.Now()}}

	res, err := h.svc.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, llm.EstimateTokens("Hi, I'm Ada."), res.TokensUsed)

	sent := h.gen.request()
	assert.Equal(t, 0.9, sent.Temperature)
	assert.Zero(t, sent.MaxTokens)
	assert.Empty(t, sent.History)
	assert.NotEqual(t, prompt.GreetingSentinel, sent.UserText)
}

func TestGenerate_UnlimitedHasNoLimit(t *testing.T) {
	h := newHarness(&fakeGenerator{provider: "gemini", deltas: []string{"ok"}})
	h.quota.decision = usage.Decision{Allowed: true, Used: 300, Unlimited: true}

	res, err := h.svc.Generate(context.Background(), h.request("hi"))
	require.NoError(t, err)
	assert.Nil(t, res.Usage.Limit)
	assert.Equal(t, 301, res.Usage.MessagesToday)
	assert.Len(t, h.quota.committed(), 1)
}

func TestGenerate_QuotaExceeded(t *testing.T) {
	h := newHarness(&fakeGenerator{provider: "gemini", deltas: []string{"never"}})
	h.quota.decision = usage.Decision{Allowed: false, Reason: "Daily message limit reached", Window: usage.WindowDay, Limit: 25, Used: 25}

	_, err := h.svc.Generate(context.Background(), h.request("hi"))

	qe, ok := IsQuotaExceeded(err)
	require.True(t, ok)
	assert.Equal(t, usage.WindowDay, qe.Window)
	assert.Equal(t, 25, qe.Limit)
	assert.Equal(t, 25, qe.Used)
	assert.Nil(t, h.gen.request(), "provider must not be called")
	assert.Empty(t, h.quota.committed())
	assert.Len(t, h.publisher.denied, 1)
}

func TestGenerate_QuotaStorageError(t *testing.T) {
	h := newHarness(&fakeGenerator{provider: "gemini", deltas: []string{"never"}})
	h.quota.checkErr = errors.New("db down")

	_, err := h.svc.Generate(context.Background(), h.request("hi"))
	require.Error(t, err)
	_, isQuota := IsQuotaExceeded(err)
	assert.False(t, isQuota)
	assert.Nil(t, h.gen.request())
}

func TestGenerate_PersonaNotFound(t *testing.T) {
	h := newHarness(&fakeGenerator{provider: "gemini", deltas: []string{"never"}})
	req := h.request("hi")
	req.PersonaID = uuid.New()

	_, err := h.svc.Generate(context.Background(), req)
	assert.ErrorIs(t, err, personas.ErrPersonaNotFound)
	assert.Nil(t, h.gen.request())
}

func TestGenerate_ProviderFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind ErrorKind
	}{
		{"both down", llm.NewStatusError("openai", http.StatusServiceUnavailable, nil), KindUnavailable},
		{"rejected", llm.NewStatusError("gemini", http.StatusUnauthorized, nil), KindRejected},
		{"transport", &llm.ProviderError{Provider: "gemini", Kind: llm.KindTransport, Err: errors.New("refused")}, KindUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(&fakeGenerator{provider: "gemini", err: tt.err})

			_, err := h.svc.Generate(context.Background(), h.request("hi"))
			var ge *GenerationError
			require.True(t, errors.As(err, &ge))
			assert.Equal(t, tt.kind, ge.Kind)
			assert.Empty(t, h.quota.committed(), "failed generations are not committed")
			assert.Zero(t, h.personas.bumped())
			assert.Len(t, h.publisher.failed, 1)
		})
	}
}

func TestGenerate_CommitFailureStillReturnsReply(t *testing.T) {
	h := newHarness(&fakeGenerator{provider: "gemini", deltas: []string{"ok"}})
	h.quota.commitErr = errors.New("db down")

	res, err := h.svc.Generate(context.Background(), h.request("hi"))
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text)
}

func TestGenerateStream_Success(t *testing.T) {
	h := newHarness(&fakeGenerator{provider: "openai", deltas: []string{"So", "rry, ", "bad news"}, tokens: 9})

	events, err := h.svc.GenerateStream(context.Background(), h.request("hi"))
	require.NoError(t, err)
	got := collect(t, events)

	require.Len(t, got, 4)
	assert.Equal(t, "So", got[0].Chunk)
	assert.Equal(t, "rry, ", got[1].Chunk)
	assert.Equal(t, "bad news", got[2].Chunk)

	done := got[3]
	assert.True(t, done.Done)
	assert.Equal(t, 9, done.TokensUsed)
	assert.Equal(t, sentiment.Negative, done.Sentiment)
	assert.Equal(t, "openai", done.ProviderUsed)

	assert.Equal(t, []commit{{userID: h.userID, tokens: 9}}, h.quota.committed())
	assert.Equal(t, 1, h.personas.bumped())
}

func TestGenerateStream_MatchesBuffered(t *testing.T) {
	gen := &fakeGenerator{provider: "gemini", deltas: []string{"Good ", "morning", "!"}}

	buffered := newHarness(gen)
	res, err := buffered.svc.Generate(context.Background(), buffered.request("hi"))
	require.NoError(t, err)

	streamed := newHarness(gen)
	events, err := streamed.svc.GenerateStream(context.Background(), streamed.request("hi"))
	require.NoError(t, err)
	got := collect(t, events)

	var text string
	var done Event
	for _, ev := range got {
		if ev.Done {
			done = ev
			continue
		}
		text += ev.Chunk
	}

	assert.Equal(t, res.Text, text)
	assert.Equal(t, res.TokensUsed, done.TokensUsed)
	assert.Equal(t, res.Sentiment, done.Sentiment)
	assert.Equal(t, res.ProviderUsed, done.ProviderUsed)
	assert.Equal(t, buffered.quota.committed()[0].tokens, streamed.quota.committed()[0].tokens)
}

func TestGenerateStream_QuotaExceededIsSynchronous(t *testing.T) {
	h := newHarness(&fakeGenerator{provider: "gemini", deltas: []string{"never"}})
	h.quota.decision = usage.Decision{Allowed: false, Reason: "limit", Limit: 25, Used: 25}

	events, err := h.svc.GenerateStream(context.Background(), h.request("hi"))
	assert.Nil(t, events)
	_, ok := IsQuotaExceeded(err)
	assert.True(t, ok)
}

func TestGenerateStream_OpenFailureEmitsErrorEvent(t *testing.T) {
	h := newHarness(&fakeGenerator{provider: "gemini", err: llm.NewStatusError("openai", http.StatusBadGateway, nil)})

	events, err := h.svc.GenerateStream(context.Background(), h.request("hi"))
	require.NoError(t, err)
	got := collect(t, events)

	require.Len(t, got, 1)
	assert.Equal(t, "AI service temporarily unavailable", got[0].Error)
	assert.Empty(t, h.quota.committed())
}

func TestGenerateStream_MidStreamFailure(t *testing.T) {
	h := newHarness(&fakeGenerator{
		provider: "gemini",
		deltas:   []string{"partial"},
		midErr:   llm.NewStatusError("gemini", http.StatusInternalServerError, nil),
	})

	events, err := h.svc.GenerateStream(context.Background(), h.request("hi"))
	require.NoError(t, err)
	got := collect(t, events)

	require.Len(t, got, 2)
	assert.Equal(t, "partial", got[0].Chunk)
	assert.NotEmpty(t, got[1].Error)
	assert.Empty(t, h.quota.committed(), "failed streams are not committed")
}

func TestGenerateStream_CancellationDoesNotCommit(t *testing.T) {
	h := newHarness(&fakeGenerator{provider: "gemini", deltas: []string{"a", "b"}, block: true})

	ctx, cancel := context.WithCancel(context.Background())
	events, err := h.svc.GenerateStream(ctx, h.request("hi"))
	require.NoError(t, err)

	first := <-events
	assert.Equal(t, "a", first.Chunk)
	cancel()

	for ev := range events {
		assert.False(t, ev.Terminal(), "no terminal event after cancellation")
	}
	assert.Empty(t, h.quota.committed())
	assert.Zero(t, h.personas.bumped())
}

func TestEvent_MarshalJSON(t *testing.T) {
	tests := []struct {
		ev   Event
		want string
	}{
		{Event{Chunk: "hi"}, `{"chunk":"hi"}`},
		{Event{Done: true, TokensUsed: 3, Sentiment: sentiment.Neutral, ProviderUsed: "gemini"},
			`{"done":true,"tokens_used":3,"sentiment":"neutral","provider_used":"gemini"}`},
		{Event{Error: "boom", Chunk: "ignored"}, `{"error":"boom"}`},
	}
	for _, tt := range tests {
		b, err := json.Marshal(tt.ev)
		require.NoError(t, err)
		assert.JSONEq(t, tt.want, string(b))
	}
}
