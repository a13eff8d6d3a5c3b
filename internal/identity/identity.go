// Package identity issues and validates account credentials. Profiles live in
// the record store; this package only knows account ids.
package identity

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrWeakPassword       = errors.New("password must be at least 6 characters")
	ErrUnauthenticated    = errors.New("invalid or expired token")
	ErrUnsupported        = errors.New("operation not supported by identity provider")
)

// MinPasswordLength matches the managed provider's own floor.
const MinPasswordLength = 6

// Metadata is stored alongside the account where the provider supports it.
type Metadata struct {
	Name string
	Role string
}

type Provider interface {
	CreateAccount(ctx context.Context, email, password string, meta Metadata) (string, error)
	VerifyToken(ctx context.Context, token string) (string, error)
	DeleteAccount(ctx context.Context, accountID string) error
}

// Session is a freshly issued credential pair.
type Session struct {
	AccountID    string    `json:"-"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// PasswordAuthenticator is implemented by providers that sign users in
// themselves rather than through a client SDK.
type PasswordAuthenticator interface {
	SignIn(ctx context.Context, email, password string) (Session, error)
	Refresh(ctx context.Context, refreshToken string) (Session, error)
	SignOut(ctx context.Context, accessToken, refreshToken string) error
}
