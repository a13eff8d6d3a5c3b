package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"agileflow/api/internal/auth"
	"agileflow/api/internal/session"
	"agileflow/api/internal/store"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// AccountStore persists the credential half of local accounts.
type AccountStore interface {
	CreateAccount(ctx context.Context, account store.Account) error
	GetAccountByEmail(ctx context.Context, email string) (store.Account, error)
	DeleteAccount(ctx context.Context, id string) error
}

// SessionStore keeps refresh sessions and the access token denylist.
type SessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, accountID, email string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (session.TokenData, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, tokenID string, expiresAt time.Time) error
	IsAccessTokenRevoked(ctx context.Context, tokenID string) (bool, error)
}

type LocalConfig struct {
	Secret     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
}

// LocalProvider stores bcrypt password hashes in Postgres and issues its own
// JWT access tokens with Redis-backed refresh sessions.
type LocalProvider struct {
	accounts AccountStore
	sessions SessionStore
	cfg      LocalConfig
}

func NewLocalProvider(accounts AccountStore, sessions SessionStore, cfg LocalConfig) *LocalProvider {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 30 * 24 * time.Hour
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	return &LocalProvider{accounts: accounts, sessions: sessions, cfg: cfg}
}

func (p *LocalProvider) CreateAccount(ctx context.Context, email, password string, _ Metadata) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if len(password) < MinPasswordLength {
		return "", ErrWeakPassword
	}
	if _, err := p.accounts.GetAccountByEmail(ctx, email); err == nil {
		return "", ErrEmailTaken
	} else if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("lookup account: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cfg.BcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	id := uuid.NewString()
	err = p.accounts.CreateAccount(ctx, store.Account{ID: id, Email: email, PasswordHash: string(hash)})
	if errors.Is(err, store.ErrDuplicate) {
		return "", ErrEmailTaken
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func (p *LocalProvider) VerifyToken(ctx context.Context, token string) (string, error) {
	claims, err := auth.ParseToken([]byte(p.cfg.Secret), token)
	if err != nil {
		return "", ErrUnauthenticated
	}
	revoked, err := p.sessions.IsAccessTokenRevoked(ctx, claims.ID)
	if err != nil {
		return "", err
	}
	if revoked {
		return "", ErrUnauthenticated
	}
	return claims.Subject, nil
}

func (p *LocalProvider) DeleteAccount(ctx context.Context, accountID string) error {
	return p.accounts.DeleteAccount(ctx, accountID)
}

func (p *LocalProvider) SignIn(ctx context.Context, email, password string) (Session, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return Session{}, ErrInvalidCredentials
	}
	account, err := p.accounts.GetAccountByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, fmt.Errorf("lookup account: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return Session{}, ErrInvalidCredentials
	}
	return p.issue(ctx, account.ID, account.Email)
}

// Refresh rotates a refresh token: the presented one is revoked and a new
// pair issued.
func (p *LocalProvider) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	hash := auth.HashToken(refreshToken)
	data, err := p.sessions.LookupRefreshSession(ctx, hash)
	if errors.Is(err, session.ErrSessionNotFound) {
		return Session{}, ErrUnauthenticated
	}
	if err != nil {
		return Session{}, err
	}
	if err := p.sessions.RevokeRefreshSession(ctx, hash); err != nil {
		return Session{}, err
	}
	return p.issue(ctx, data.AccountID, data.Email)
}

func (p *LocalProvider) SignOut(ctx context.Context, accessToken, refreshToken string) error {
	if refreshToken != "" {
		if err := p.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			return err
		}
	}
	if accessToken == "" {
		return nil
	}
	claims, err := auth.ParseToken([]byte(p.cfg.Secret), accessToken)
	if err != nil {
		// Already unusable.
		return nil
	}
	return p.sessions.RevokeAccessToken(ctx, claims.ID, claims.ExpiresAt.Time)
}

func (p *LocalProvider) issue(ctx context.Context, accountID, email string) (Session, error) {
	access, claims, err := auth.IssueAccessToken([]byte(p.cfg.Secret), accountID, email, p.cfg.AccessTTL)
	if err != nil {
		return Session{}, err
	}
	refresh := auth.NewRefreshToken()
	if err := p.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), accountID, email, time.Now().Add(p.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}
	slog.Debug("session issued", "account_id", accountID)
	return Session{
		AccountID:    accountID,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    claims.ExpiresAt.Time,
	}, nil
}
