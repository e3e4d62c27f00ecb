package llm

import "context"

// fakeProvider scripts one provider's behavior and counts calls.
type fakeProvider struct {
	name string

	completion *Completion
	err        error

	deltas    []string
	tokens    int
	streamErr error
	// midErr is reported after all deltas were delivered.
	midErr error

	completeCalls int
	streamCalls   int
	lastStream    *fakeStream
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Complete(_ context.Context, _ *Request) (*Completion, error) {
	p.completeCalls++
	if p.err != nil {
		return nil, p.err
	}
	return p.completion, nil
}

func (p *fakeProvider) Stream(_ context.Context, _ *Request) (DeltaStream, error) {
	p.streamCalls++
	if p.streamErr != nil {
		return nil, p.streamErr
	}
	p.lastStream = &fakeStream{deltas: p.deltas, tokens: p.tokens, err: p.midErr}
	return p.lastStream, nil
}

type fakeStream struct {
	deltas []string
	pos    int
	cur    string
	tokens int
	err    error
	failed bool
	closed bool
}

func (s *fakeStream) Next() bool {
	if s.pos < len(s.deltas) {
		s.cur = s.deltas[s.pos]
		s.pos++
		return true
	}
	s.cur = ""
	s.failed = s.err != nil
	return false
}

func (s *fakeStream) Delta() string { return s.cur }

func (s *fakeStream) Err() error {
	if s.failed {
		return s.err
	}
	return nil
}

func (s *fakeStream) Tokens() int { return s.tokens }

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

func drain(t interface{ Helper() }, s DeltaStream) ([]string, error) {
	t.Helper()
	var out []string
	for s.Next() {
		out = append(out, s.Delta())
	}
	return out, s.Err()
}
