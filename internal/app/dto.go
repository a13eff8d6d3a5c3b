package app

import "agileflow/api/internal/lifecycle"

type RegisterInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	Name     string `json:"name" validate:"notblank,max=120"`
	Role     string `json:"role" validate:"required"`
}

type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type RefreshInput struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type LogoutInput struct {
	RefreshToken string `json:"refresh_token"`
}

// CreateUserInput is RegisterInput submitted by an existing user.
type CreateUserInput = RegisterInput

type UpdateUserInput struct {
	Name         *string `json:"name" validate:"omitempty,max=120"`
	Role         *string `json:"role"`
	OnlineStatus *bool   `json:"online_status"`
}

type OnlineStatusInput struct {
	OnlineStatus *bool `json:"online_status" validate:"required"`
}

type CreateTaskInput struct {
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Deadline    lifecycle.Deadline `json:"deadline"`
	AssignedTo  string             `json:"assigned_to"`
}

// TaskQuery holds the optional list filters from the query string.
type TaskQuery struct {
	Status     string
	AssignedTo string
	AssignedBy string
}

type SendPrivateMessageInput struct {
	ReceiverID string `json:"receiver_id" validate:"notblank"`
	Message    string `json:"message" validate:"notblank,max=5000"`
	ClientRef  string `json:"client_ref" validate:"omitempty,max=64"`
}

type SendCommunityMessageInput struct {
	Message   string `json:"message" validate:"notblank,max=5000"`
	ClientRef string `json:"client_ref" validate:"omitempty,max=64"`
}
