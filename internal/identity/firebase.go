package identity

import (
	"context"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

// FirebaseAuth is the subset of *auth.Client the provider uses.
type FirebaseAuth interface {
	CreateUser(ctx context.Context, user *auth.UserToCreate) (*auth.UserRecord, error)
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
	DeleteUser(ctx context.Context, uid string) error
}

// NewFirebaseAuth initialises the Admin SDK from a service account file.
func NewFirebaseAuth(ctx context.Context, credentialsPath string) (*auth.Client, error) {
	if strings.TrimSpace(credentialsPath) == "" {
		return nil, fmt.Errorf("firebase credentials path is required")
	}
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsPath))
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firebase auth: %w", err)
	}
	return client, nil
}

// FirebaseProvider delegates accounts to Firebase Authentication. Clients
// sign in with the Firebase SDK and present ID tokens.
type FirebaseProvider struct {
	client FirebaseAuth
}

func NewFirebaseProvider(client FirebaseAuth) *FirebaseProvider {
	return &FirebaseProvider{client: client}
}

func (p *FirebaseProvider) CreateAccount(ctx context.Context, email, password string, meta Metadata) (string, error) {
	if len(password) < MinPasswordLength {
		return "", ErrWeakPassword
	}
	params := (&auth.UserToCreate{}).
		Email(strings.TrimSpace(email)).
		EmailVerified(false).
		Password(password).
		Disabled(false)
	if meta.Name != "" {
		params = params.DisplayName(meta.Name)
	}
	record, err := p.client.CreateUser(ctx, params)
	if auth.IsEmailAlreadyExists(err) {
		return "", ErrEmailTaken
	}
	if err != nil {
		return "", fmt.Errorf("create firebase user: %w", err)
	}
	return record.UID, nil
}

func (p *FirebaseProvider) VerifyToken(ctx context.Context, token string) (string, error) {
	verified, err := p.client.VerifyIDToken(ctx, token)
	if err != nil || verified == nil || verified.UID == "" {
		return "", ErrUnauthenticated
	}
	return verified.UID, nil
}

func (p *FirebaseProvider) DeleteAccount(ctx context.Context, accountID string) error {
	err := p.client.DeleteUser(ctx, accountID)
	if auth.IsUserNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete firebase user: %w", err)
	}
	return nil
}
