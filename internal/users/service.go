package users

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrUserNotFound = errors.New("user not found")

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// IsUnlimited resolves whether the user's plan bypasses the daily message limit.
func (s *Service) IsUnlimited(ctx context.Context, id uuid.UUID) (bool, error) {
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	return user.IsPremium(s.now()), nil
}
