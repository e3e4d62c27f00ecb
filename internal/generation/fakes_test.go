package generation

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/aiox-platform/personachat/internal/llm"
	inats "github.com/aiox-platform/personachat/internal/nats"
	"github.com/aiox-platform/personachat/internal/personas"
	"github.com/aiox-platform/personachat/internal/prompt"
	"github.com/aiox-platform/personachat/internal/usage"
)

type commit struct {
	userID uuid.UUID
	tokens int
}

type fakeQuota struct {
	mu        sync.Mutex
	decision  usage.Decision
	checkErr  error
	commitErr error
	commits   []commit
}

func allowAll() *fakeQuota {
	return &fakeQuota{decision: usage.Decision{Allowed: true, Limit: 25, Used: 3}}
}

func (q *fakeQuota) Check(_ context.Context, _ uuid.UUID) (*usage.Decision, error) {
	if q.checkErr != nil {
		return nil, q.checkErr
	}
	d := q.decision
	return &d, nil
}

func (q *fakeQuota) Commit(_ context.Context, userID uuid.UUID, tokens int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.commits = append(q.commits, commit{userID: userID, tokens: tokens})
	return q.commitErr
}

func (q *fakeQuota) committed() []commit {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]commit(nil), q.commits...)
}

type fakePersonas struct {
	mu      sync.Mutex
	sources map[uuid.UUID]*prompt.Source
	bumps   int
}

func newFakePersonas(id uuid.UUID) *fakePersonas {
	return &fakePersonas{sources: map[uuid.UUID]*prompt.Source{
		id: {Name: "Ada", Bio: "Mathematician."},
	}}
}

func (p *fakePersonas) GetPromptSource(_ context.Context, id uuid.UUID) (*prompt.Source, error) {
	src, ok := p.sources[id]
	if !ok {
		return nil, personas.ErrPersonaNotFound
	}
	return src, nil
}

func (p *fakePersonas) IncrementConversationCount(_ context.Context, _ uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bumps++
	return nil
}

func (p *fakePersonas) bumped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bumps
}

// fakeGenerator replays a scripted reply for both modes.
type fakeGenerator struct {
	provider string
	deltas   []string
	tokens   int
	err      error // returned before any output
	midErr   error // reported after all deltas
	// block makes the stream wait for cancellation after the deltas.
	block bool

	mu      sync.Mutex
	lastReq *llm.Request
}

func (g *fakeGenerator) Complete(ctx context.Context, req *llm.Request) (*llm.Outcome, error) {
	g.record(req)
	if g.err != nil {
		return nil, g.err
	}
	if g.midErr != nil {
		return nil, g.midErr
	}
	text := ""
	for _, d := range g.deltas {
		text += d
	}
	return &llm.Outcome{
		Completion:   llm.Completion{Text: text, Tokens: llm.TokensOrEstimate(g.tokens, text)},
		ProviderUsed: g.provider,
	}, nil
}

func (g *fakeGenerator) Stream(ctx context.Context, req *llm.Request) (llm.DeltaStream, string, error) {
	g.record(req)
	if g.err != nil {
		return nil, "", g.err
	}
	return &scriptedStream{ctx: ctx, g: g}, g.provider, nil
}

func (g *fakeGenerator) record(req *llm.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastReq = req
}

func (g *fakeGenerator) request() *llm.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastReq
}

type scriptedStream struct {
	ctx context.Context
	g   *fakeGenerator
	pos int
	cur string
	err error
}

func (s *scriptedStream) Next() bool {
	if s.pos < len(s.g.deltas) {
		s.cur = s.g.deltas[s.pos]
		s.pos++
		return true
	}
	s.cur = ""
	if s.g.block {
		<-s.ctx.Done()
		s.err = &llm.ProviderError{Provider: s.g.provider, Kind: llm.KindCanceled, Err: s.ctx.Err()}
		return false
	}
	s.err = s.g.midErr
	return false
}

func (s *scriptedStream) Delta() string { return s.cur }
func (s *scriptedStream) Err() error    { return s.err }
func (s *scriptedStream) Tokens() int   { return s.g.tokens }
func (s *scriptedStream) Close() error  { return nil }

type fakePublisher struct {
	mu        sync.Mutex
	completed []inats.GenerationEvent
	failed    []inats.GenerationEvent
	denied    []inats.QuotaDeniedEvent
}

func (p *fakePublisher) PublishGenerationCompleted(_ context.Context, e inats.GenerationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed = append(p.completed, e)
	return nil
}

func (p *fakePublisher) PublishGenerationFailed(_ context.Context, e inats.GenerationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed = append(p.failed, e)
	return nil
}

func (p *fakePublisher) PublishQuotaDenied(_ context.Context, e inats.QuotaDeniedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.denied = append(p.denied, e)
	return nil
}
