package auth

import (
	"context"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Service wraps token authentication rules.
type Service struct {
	repo Repository
}

// NewService constructs a new Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Authenticate validates a raw "<id>.<secret>" credential and returns the
// owning user id.
func (s *Service) Authenticate(ctx context.Context, raw string) (int64, error) {
	id, secret, ok := strings.Cut(raw, ".")
	if !ok || id == "" || secret == "" {
		return 0, ErrInvalidToken
	}
	token, err := s.repo.FindToken(ctx, id)
	if err != nil {
		return 0, ErrInvalidToken
	}
	if !token.IsActive || token.Expired(time.Now()) {
		return 0, ErrInvalidToken
	}
	if err := bcrypt.CompareHashAndPassword([]byte(token.SecretHash), []byte(secret)); err != nil {
		return 0, ErrInvalidToken
	}
	_ = s.repo.TouchToken(ctx, token.ID, time.Now())
	return token.UserID, nil
}
