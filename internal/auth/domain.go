// Package auth authenticates API requests with bearer tokens. A token is
// issued as "<id>.<secret>"; only the bcrypt hash of the secret is stored.
package auth

import (
	"errors"
	"time"
)

// Token is one issued API credential.
type Token struct {
	ID         string
	UserID     int64
	Name       string
	SecretHash string
	IsActive   bool
	ExpiresAt  *time.Time
	CreatedAt  time.Time
	LastUsedAt *time.Time
}

// Expired reports whether the token is past its expiry, if one is set.
func (t Token) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}

// ErrInvalidToken covers every authentication failure so that callers
// cannot distinguish unknown, inactive and expired tokens.
var ErrInvalidToken = errors.New("auth: invalid token")
