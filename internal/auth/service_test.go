package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/atlas-wms/atlas-wms/internal/shared"
)

type fakeRepo struct {
	tokens  map[string]*Token
	touched []string
}

func (f *fakeRepo) FindToken(_ context.Context, id string) (*Token, error) {
	token, ok := f.tokens[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return token, nil
}

func (f *fakeRepo) TouchToken(_ context.Context, id string, _ time.Time) error {
	f.touched = append(f.touched, id)
	return nil
}

func seedToken(t *testing.T, repo *fakeRepo, id, secret string) *Token {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	require.NoError(t, err)
	token := &Token{ID: id, UserID: 42, SecretHash: string(hash), IsActive: true}
	repo.tokens[id] = token
	return token
}

func TestAuthenticate(t *testing.T) {
	repo := &fakeRepo{tokens: map[string]*Token{}}
	seedToken(t, repo, "tok1", "s3cret")
	service := NewService(repo)

	userID, err := service.Authenticate(context.Background(), "tok1.s3cret")
	require.NoError(t, err)
	require.Equal(t, int64(42), userID)
	require.Equal(t, []string{"tok1"}, repo.touched)
}

func TestAuthenticateRejections(t *testing.T) {
	repo := &fakeRepo{tokens: map[string]*Token{}}
	seedToken(t, repo, "tok1", "s3cret")

	inactive := seedToken(t, repo, "tok2", "s3cret")
	inactive.IsActive = false

	expired := seedToken(t, repo, "tok3", "s3cret")
	past := time.Now().Add(-time.Hour)
	expired.ExpiresAt = &past

	service := NewService(repo)
	for _, raw := range []string{
		"",
		"tok1",
		"tok1.wrong",
		"unknown.s3cret",
		"tok2.s3cret",
		"tok3.s3cret",
	} {
		_, err := service.Authenticate(context.Background(), raw)
		require.ErrorIs(t, err, ErrInvalidToken, "credential %q", raw)
	}
	require.Empty(t, repo.touched)
}
