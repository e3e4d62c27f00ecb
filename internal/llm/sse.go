package llm

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
)

const (
	sseInitialBuffer = 64 * 1024
	sseMaxLine       = 1024 * 1024
)

// SSEReader yields the payload of each "data:" line of a server-sent event body.
// Comments, event names and blank separators are skipped.
type SSEReader struct {
	scanner *bufio.Scanner
	data    string
}

func NewSSEReader(r io.Reader) *SSEReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, sseInitialBuffer), sseMaxLine)
	return &SSEReader{scanner: s}
}

func (r *SSEReader) Next() bool {
	for r.scanner.Scan() {
		line := strings.TrimRight(r.scanner.Text(), "\r")
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		r.data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if r.data == "" {
			continue
		}
		return true
	}
	return false
}

func (r *SSEReader) Data() string {
	return r.data
}

func (r *SSEReader) Err() error {
	return r.scanner.Err()
}

// Chunk is one decoded SSE payload.
type Chunk struct {
	Text   string
	Tokens int
	Done   bool
}

// ChunkDecoder turns one SSE data payload into a Chunk. Returning a
// *ProviderError ends the stream with that error; any other error skips the line.
type ChunkDecoder func(data string) (Chunk, error)

// SSEStreamConfig wires an HTTP response body into a DeltaStream.
type SSEStreamConfig struct {
	Provider string
	Body     io.ReadCloser
	// Parent is the caller's context, Ctx the per-call context derived from it.
	Parent, Ctx context.Context
	Cancel      context.CancelFunc
	Decode      ChunkDecoder
	// RequireDone makes an end of body without a Done chunk a transport failure.
	RequireDone bool
}

type sseStream struct {
	cfg    SSEStreamConfig
	reader *SSEReader
	delta  string
	tokens int
	err    error
	done   bool
	closed bool
}

// NewSSEStream returns a DeltaStream reading cfg.Body lazily.
func NewSSEStream(cfg SSEStreamConfig) DeltaStream {
	return &sseStream{cfg: cfg, reader: NewSSEReader(cfg.Body)}
}

func (s *sseStream) Next() bool {
	if s.done || s.err != nil {
		return false
	}

	for s.reader.Next() {
		chunk, err := s.cfg.Decode(s.reader.Data())
		var pe *ProviderError
		if errors.As(err, &pe) {
			s.err = pe
			s.finish()
			return false
		}
		if err != nil {
			slog.Debug("llm: skipping undecodable stream chunk", "provider", s.cfg.Provider, "error", err)
			continue
		}
		if chunk.Tokens > 0 {
			s.tokens = chunk.Tokens
		}
		if chunk.Done {
			s.finish()
			return false
		}
		if chunk.Text == "" {
			continue
		}
		s.delta = chunk.Text
		return true
	}

	if err := s.reader.Err(); err != nil {
		s.err = ClassifyTransport(s.cfg.Provider, s.cfg.Parent, s.cfg.Ctx, err)
	} else if err := s.cfg.Ctx.Err(); err != nil {
		s.err = ClassifyTransport(s.cfg.Provider, s.cfg.Parent, s.cfg.Ctx, err)
	} else if s.cfg.RequireDone {
		s.err = &ProviderError{Provider: s.cfg.Provider, Kind: KindTransport, Err: io.ErrUnexpectedEOF}
	}
	s.finish()
	return false
}

func (s *sseStream) Delta() string { return s.delta }

func (s *sseStream) Err() error { return s.err }

func (s *sseStream) Tokens() int { return s.tokens }

func (s *sseStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.cfg.Body.Close()
	if s.cfg.Cancel != nil {
		s.cfg.Cancel()
	}
	return err
}

func (s *sseStream) finish() {
	s.done = true
	s.delta = ""
}
