package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"agileflow/api/internal/rbac"
	"agileflow/api/internal/realtime"
	"agileflow/api/internal/store"
)

// ListUsers is open to every signed-in user: assignment pickers and the
// message composer need the directory.
func (s *Service) ListUsers(ctx context.Context, _ rbac.Actor) ([]store.User, error) {
	return s.store.ListUsers(ctx)
}

func (s *Service) ListUsersByRole(ctx context.Context, _ rbac.Actor, role string) ([]store.User, error) {
	parsed, err := rbac.ParseRole(role)
	if err != nil {
		return nil, validationError("Invalid role")
	}
	return s.store.ListUsersByRole(ctx, parsed)
}

func (s *Service) GetUser(ctx context.Context, _ rbac.Actor, id string) (store.User, error) {
	user, err := s.store.GetUser(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, notFound("User not found")
	}
	return user, err
}

// CreateUser provisions an account on behalf of actor. HOD may create any
// role; Professors only Students and Supporting Staff.
func (s *Service) CreateUser(ctx context.Context, actor rbac.Actor, in CreateUserInput) (store.User, error) {
	if !rbac.Can(actor.Role, rbac.CapCreateUser) {
		return store.User{}, forbidden("Access denied. Admin privileges required.")
	}
	in.Email = normalizeEmail(in.Email)
	if err := s.validator.check(in, "All fields are required"); err != nil {
		return store.User{}, err
	}
	role, err := rbac.ParseRole(in.Role)
	if err != nil {
		return store.User{}, validationError("Invalid role")
	}
	if !rbac.CanCreateUser(actor, role) {
		return store.User{}, forbidden("Professors can only create Students and Supporting Staff")
	}

	createdBy := actor.ID
	user, err := s.createAccountAndProfile(ctx, in.Email, in.Password, in.Name, role, &createdBy)
	if err != nil {
		return store.User{}, err
	}
	s.publish(ctx, realtime.TableUsers, realtime.EventInsert, user, "")
	return user, nil
}

func (s *Service) UpdateUser(ctx context.Context, actor rbac.Actor, id string, in UpdateUserInput) (store.User, error) {
	if !rbac.CanUpdateUser(actor, id, in.Role != nil) {
		return store.User{}, forbidden("Access denied")
	}
	if err := s.validator.check(in, "Invalid request"); err != nil {
		return store.User{}, err
	}
	var changes store.UserChanges
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return store.User{}, validationError("Name cannot be empty")
		}
		changes.Name = &name
	}
	if in.Role != nil {
		role, err := rbac.ParseRole(*in.Role)
		if err != nil {
			return store.User{}, validationError("Invalid role")
		}
		changes.Role = &role
	}
	changes.OnlineStatus = in.OnlineStatus

	if changes.Name == nil && changes.Role == nil && changes.OnlineStatus == nil {
		return s.GetUser(ctx, actor, id)
	}

	user, err := s.store.UpdateUser(ctx, id, changes)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, notFound("User not found")
	}
	if err != nil {
		return store.User{}, err
	}
	s.publish(ctx, realtime.TableUsers, realtime.EventUpdate, user, "")
	return user, nil
}

// DeleteUser removes the identity account before the profile so that a
// failure leaves a profile that can still be retried rather than an orphan
// login.
func (s *Service) DeleteUser(ctx context.Context, actor rbac.Actor, id string) error {
	if !rbac.CanDeleteUser(actor) {
		return forbidden("Access denied. HOD privileges required.")
	}
	user, err := s.store.GetUser(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("User not found")
	}
	if err != nil {
		return err
	}
	if err := s.identity.DeleteAccount(ctx, id); err != nil {
		return err
	}
	if err := s.store.DeleteUser(ctx, id); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	s.publish(ctx, realtime.TableUsers, realtime.EventDelete, user.Summary(), "")
	return nil
}

// SetOnlineStatus records the caller's presence. last_seen_at moves with
// every call so the presence sweeper can expire silent clients.
func (s *Service) SetOnlineStatus(ctx context.Context, actor rbac.Actor, in OnlineStatusInput) (store.User, error) {
	if err := s.validator.check(in, "online_status is required"); err != nil {
		return store.User{}, err
	}
	user, err := s.store.SetPresence(ctx, actor.ID, *in.OnlineStatus, s.now().UTC())
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, notFound("User profile not found")
	}
	if err != nil {
		return store.User{}, err
	}
	s.publish(ctx, realtime.TableUsers, realtime.EventUpdate, user, "")
	return user, nil
}
