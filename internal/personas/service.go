// Package personas reads persona definitions and their knowledge entries.
// Personas are authored elsewhere; this service only reads them and bumps
// the conversation counter.
package personas

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/aiox-platform/personachat/internal/prompt"
)

var ErrPersonaNotFound = errors.New("persona not found")

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*Persona, error) {
	row, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if row == nil || row.Status != StatusActive {
		return nil, ErrPersonaNotFound
	}
	return row.toPersona(), nil
}

// GetPromptSource loads an active persona together with its active knowledge.
func (s *Service) GetPromptSource(ctx context.Context, id uuid.UUID) (*prompt.Source, error) {
	p, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	knowledge, err := s.repo.ListActiveKnowledge(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading knowledge for persona %s: %w", id, err)
	}
	return p.PromptSource(knowledge), nil
}

func (s *Service) IncrementConversationCount(ctx context.Context, id uuid.UUID) error {
	return s.repo.IncrementConversationCount(ctx, id)
}
