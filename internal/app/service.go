package app

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"agileflow/api/internal/config"
	"agileflow/api/internal/email"
	"agileflow/api/internal/identity"
	"agileflow/api/internal/lifecycle"
	"agileflow/api/internal/rbac"
	"agileflow/api/internal/realtime"
	"agileflow/api/internal/search"
	"agileflow/api/internal/store"
)

type dataStore interface {
	Ping(ctx context.Context) error

	CreateUser(context.Context, store.User) (store.User, error)
	GetUser(context.Context, string) (store.User, error)
	ListUsers(context.Context) ([]store.User, error)
	ListUsersByRole(context.Context, rbac.Role) ([]store.User, error)
	UpdateUser(context.Context, string, store.UserChanges) (store.User, error)
	SetPresence(context.Context, string, bool, time.Time) (store.User, error)
	DeleteUser(context.Context, string) error

	ListTasks(context.Context, store.TaskFilter) ([]store.Task, error)
	GetTask(context.Context, string) (store.Task, error)
	CreateTask(context.Context, store.Task) (store.Task, error)
	UpdateTask(context.Context, string, lifecycle.Patch) (store.Task, error)
	DeleteTask(context.Context, string) error

	ListPrivateMessages(context.Context, string, string) ([]store.PrivateMessage, error)
	GetPrivateMessage(context.Context, string) (store.PrivateMessage, error)
	CreatePrivateMessage(context.Context, store.PrivateMessage) (store.PrivateMessage, error)
	MarkPrivateMessageRead(context.Context, string) (store.PrivateMessage, error)
	CountUnread(context.Context, string) (int, error)
	ListCommunityMessages(context.Context, int) ([]store.CommunityMessage, error)
	CreateCommunityMessage(context.Context, store.CommunityMessage) (store.CommunityMessage, error)
}

type publisher interface {
	Publish(ctx context.Context, e realtime.Event) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

type assignmentNotifier interface {
	NotifyTaskAssigned(a email.TaskAssignment)
}

// Dependencies are the collaborators behind a Service. Only Store and
// Identity are required.
type Dependencies struct {
	Store    dataStore
	Identity identity.Provider
	Events   publisher
	Mailer   assignmentNotifier
	Search   *search.Service
	// Cache is the Redis connection behind sessions and the event feed.
	Cache pinger
}

type Service struct {
	cfg       config.Config
	store     dataStore
	identity  identity.Provider
	passwords identity.PasswordAuthenticator
	events    publisher
	mailer    assignmentNotifier
	search    *search.Service
	cache     pinger
	validator *requestValidator
	now       func() time.Time
}

func New(cfg config.Config, deps Dependencies) *Service {
	s := &Service{
		cfg:       cfg,
		store:     deps.Store,
		identity:  deps.Identity,
		events:    deps.Events,
		mailer:    deps.Mailer,
		search:    deps.Search,
		cache:     deps.Cache,
		validator: newRequestValidator(),
		now:       time.Now,
	}
	if pw, ok := deps.Identity.(identity.PasswordAuthenticator); ok {
		s.passwords = pw
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PingCache reports whether Redis is reachable. It is a no-op when no cache
// is configured.
func (s *Service) PingCache(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Ping(ctx)
}

// Authenticate resolves a bearer token to the actor behind it.
func (s *Service) Authenticate(ctx context.Context, token string) (rbac.Actor, error) {
	if token == "" {
		return rbac.Actor{}, domainError(http.StatusUnauthorized, codeUnauthorized, "No token provided", nil)
	}
	accountID, err := s.identity.VerifyToken(ctx, token)
	if err != nil {
		return rbac.Actor{}, err
	}
	user, err := s.store.GetUser(ctx, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.Actor{}, domainError(http.StatusUnauthorized, codeUnauthorized, "User profile not found", nil)
	}
	if err != nil {
		return rbac.Actor{}, err
	}
	return user.Actor(), nil
}

// Me returns the caller's profile. Unlike Authenticate a missing profile is a
// 404, so clients can tell a deleted profile from a bad token.
func (s *Service) Me(ctx context.Context, token string) (store.User, error) {
	if token == "" {
		return store.User{}, domainError(http.StatusUnauthorized, codeUnauthorized, "No token provided", nil)
	}
	accountID, err := s.identity.VerifyToken(ctx, token)
	if err != nil {
		return store.User{}, err
	}
	user, err := s.store.GetUser(ctx, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, notFound("User profile not found")
	}
	return user, err
}

// Register creates the identity account and then the profile. If the profile
// insert fails the account is deleted again.
func (s *Service) Register(ctx context.Context, in RegisterInput) (store.User, error) {
	in.Email = normalizeEmail(in.Email)
	if err := s.validator.check(in, "All fields are required"); err != nil {
		return store.User{}, err
	}
	role, err := rbac.ParseRole(in.Role)
	if err != nil {
		return store.User{}, validationError("Invalid role")
	}
	user, err := s.createAccountAndProfile(ctx, in.Email, in.Password, in.Name, role, nil)
	if err != nil {
		return store.User{}, err
	}
	s.publish(ctx, realtime.TableUsers, realtime.EventInsert, user, "")
	return user, nil
}

// normalizeEmail runs before validation so padded or mixed-case addresses
// are accepted and stored in one form.
func normalizeEmail(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

func (s *Service) createAccountAndProfile(ctx context.Context, emailAddr, password, name string, role rbac.Role, createdBy *string) (store.User, error) {
	accountID, err := s.identity.CreateAccount(ctx, emailAddr, password, identity.Metadata{Name: name, Role: role.String()})
	if err != nil {
		return store.User{}, err
	}

	user, err := s.store.CreateUser(ctx, store.User{
		ID:        accountID,
		Email:     emailAddr,
		Name:      name,
		Role:      role,
		CreatedBy: createdBy,
	})
	if err != nil {
		if rbErr := s.identity.DeleteAccount(ctx, accountID); rbErr != nil {
			slog.Error("rollback identity account failed", "account_id", accountID, "error", rbErr)
		}
		return store.User{}, err
	}
	return user, nil
}

// Login is only available when the identity provider handles passwords
// itself.
func (s *Service) Login(ctx context.Context, in LoginInput) (identity.Session, store.User, error) {
	if s.passwords == nil {
		return identity.Session{}, store.User{}, identity.ErrUnsupported
	}
	in.Email = normalizeEmail(in.Email)
	if err := s.validator.check(in, "Email and password are required"); err != nil {
		return identity.Session{}, store.User{}, err
	}
	session, err := s.passwords.SignIn(ctx, in.Email, in.Password)
	if err != nil {
		return identity.Session{}, store.User{}, err
	}
	user, err := s.store.GetUser(ctx, session.AccountID)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Session{}, store.User{}, notFound("User profile not found")
	}
	if err != nil {
		return identity.Session{}, store.User{}, err
	}
	return session, user, nil
}

func (s *Service) Refresh(ctx context.Context, in RefreshInput) (identity.Session, error) {
	if s.passwords == nil {
		return identity.Session{}, identity.ErrUnsupported
	}
	if err := s.validator.check(in, "refresh_token is required"); err != nil {
		return identity.Session{}, err
	}
	return s.passwords.Refresh(ctx, in.RefreshToken)
}

// Logout is best effort and always succeeds for the caller.
func (s *Service) Logout(ctx context.Context, accessToken, refreshToken string) {
	if s.passwords == nil {
		return
	}
	if err := s.passwords.SignOut(ctx, accessToken, refreshToken); err != nil {
		slog.Warn("sign out failed", "error", err)
	}
}

func (s *Service) publish(ctx context.Context, table string, typ realtime.EventType, record any, clientRef string, participants ...string) {
	if s.events == nil {
		return
	}
	e, err := realtime.NewEvent(table, typ, record, clientRef, participants...)
	if err != nil {
		slog.Warn("realtime event not built", "table", table, "error", err)
		return
	}
	if err := s.events.Publish(ctx, e); err != nil {
		slog.Warn("realtime publish failed", "table", table, "type", typ, "error", err)
	}
}
