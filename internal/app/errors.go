package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"agileflow/api/internal/identity"
	"agileflow/api/internal/lifecycle"
	"agileflow/api/internal/store"
	"github.com/go-playground/validator/v10"
)

const (
	codeValidation   = "VALIDATION_ERROR"
	codeNotFound     = "NOT_FOUND"
	codeForbidden    = "FORBIDDEN"
	codeUnauthorized = "UNAUTHORIZED"
	codeConflict     = "CONFLICT"
	codeUnsupported  = "UNSUPPORTED"
	codeUnavailable  = "UNAVAILABLE"
	codeServer       = "SERVER_ERROR"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(message string) *DomainError {
	return domainError(http.StatusBadRequest, codeValidation, message, nil)
}

func forbidden(message string) *DomainError {
	return domainError(http.StatusForbidden, codeForbidden, message, nil)
}

func notFound(message string) *DomainError {
	return domainError(http.StatusNotFound, codeNotFound, message, nil)
}

// lifecycleErrors carries the user-facing wording for task rule violations.
var lifecycleErrors = []struct {
	err     error
	status  int
	code    string
	message string
}{
	{lifecycle.ErrTaskFieldsRequired, http.StatusBadRequest, codeValidation, "Title and assigned_to are required"},
	{lifecycle.ErrEmptyTitle, http.StatusBadRequest, codeValidation, "Title cannot be empty"},
	{lifecycle.ErrInvalidStatus, http.StatusBadRequest, codeValidation, "Status must be one of Pending, In Progress, Completed"},
	{lifecycle.ErrInvalidDeadline, http.StatusBadRequest, codeValidation, "Deadline must be an ISO 8601 date or timestamp"},
	{lifecycle.ErrCreateForbidden, http.StatusForbidden, codeForbidden, "Only HOD and Professors can create tasks"},
	{lifecycle.ErrAssigneeRole, http.StatusForbidden, codeForbidden, "Professors can only assign tasks to Students and Supporting Staff"},
	{lifecycle.ErrAccessDenied, http.StatusForbidden, codeForbidden, "Access denied"},
	{lifecycle.ErrStatusOnly, http.StatusForbidden, codeForbidden, "You can only update task status"},
	{lifecycle.ErrDeleteForbidden, http.StatusForbidden, codeForbidden, "Only task creator or HOD can delete tasks"},
}

// mapError turns any service error into a response. Messages of unexpected
// errors are only passed through when exposeInternal is set.
func mapError(err error, exposeInternal bool) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	for _, le := range lifecycleErrors {
		if errors.Is(err, le.err) {
			return le.status, le.code, le.message, nil
		}
	}
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		return http.StatusBadRequest, codeValidation, "Invalid request", fieldErrors(validationErrs)
	}
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound, codeNotFound, "Not found", nil
	case errors.Is(err, identity.ErrUnauthenticated):
		return http.StatusUnauthorized, codeUnauthorized, "Invalid token", nil
	case errors.Is(err, identity.ErrInvalidCredentials):
		return http.StatusUnauthorized, codeUnauthorized, "Invalid email or password", nil
	case errors.Is(err, identity.ErrEmailTaken), errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict, codeConflict, "Email already registered", nil
	case errors.Is(err, identity.ErrWeakPassword):
		return http.StatusBadRequest, codeValidation, "Password must be at least 6 characters", nil
	case errors.Is(err, identity.ErrUnsupported):
		return http.StatusNotImplemented, codeUnsupported, "Not supported by the configured identity provider", nil
	}
	if exposeInternal {
		return http.StatusInternalServerError, codeServer, err.Error(), nil
	}
	return http.StatusInternalServerError, codeServer, "Internal server error", nil
}
