package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnreachable indicates that no response was received from the backend.
	ErrUnreachable = errors.New("backend unreachable")
	// ErrUnauthorized indicates that the backend rejected the bearer token.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrRoleMismatch indicates an account of a different user type.
	ErrRoleMismatch = errors.New("account role not allowed")
	// ErrMissingToken indicates a success response without token or user id.
	ErrMissingToken = errors.New("token information missing from response")
	// ErrMissingCredentials indicates an empty token or user id.
	ErrMissingCredentials = errors.New("token and user id are required")
	// ErrNotAuthenticated indicates that no session is active.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrLoginSuperseded indicates a login result that arrived after a logout
	// or a newer login and was discarded.
	ErrLoginSuperseded = errors.New("login superseded")
)

// APIError is a response from the backend that signals failure.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: status %d", e.Status)
	}
	return fmt.Sprintf("api error: status %d: %s", e.Status, e.Message)
}

// Is lets errors.Is(err, ErrUnauthorized) match a 401 response.
func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == 401
}
