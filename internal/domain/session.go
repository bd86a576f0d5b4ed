// Package domain contains the core entities and the ports the client core
// talks to.
package domain

import (
	"context"
)

// Persisted credential keys.
const (
	KeyAuthToken    = "auth_token"
	KeyRefreshToken = "refresh_token"
	KeyUserID       = "user_id"
	KeyUserData     = "user_data"
	KeyAppTheme     = "app_theme"
)

// SessionKeys lists every key that belongs to the signed-in session.
var SessionKeys = []string{KeyAuthToken, KeyRefreshToken, KeyUserID, KeyUserData}

// RoleDriver is the only account type this client accepts.
const RoleDriver = "driver"

// Profile is a loosely typed snapshot of the account profile.
type Profile map[string]any

// Session is the current authentication context.
type Session struct {
	Token           string  `json:"token,omitempty"`
	UserID          string  `json:"userId,omitempty"`
	RefreshToken    string  `json:"-"`
	User            Profile `json:"user,omitempty"`
	IsAuthenticated bool    `json:"isAuthenticated"`
	IsLoading       bool    `json:"isLoading"`
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	UserType string `json:"userType"`
}

// LoginResponse is the canonical login answer, whatever shape the server used.
type LoginResponse struct {
	UserID       string
	Token        string
	RefreshToken string
	UserType     string
	User         Profile
	Message      string
}

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Email            string   `json:"email"`
	Password         string   `json:"password"`
	Name             string   `json:"name"`
	Surname          string   `json:"surname"`
	Phone            string   `json:"phone"`
	UserType         string   `json:"userType"`
	SelectedServices []string `json:"selectedServices,omitempty"`
}

// RegisterResponse is the server acknowledgement of a registration.
type RegisterResponse struct {
	Message string
}

// Result is what session operations hand back to the UI layer.
// Err carries the underlying cause for errors.Is checks; Message is user facing.
type Result struct {
	Success bool
	Message string
	Err     error
}

// CredentialStore is the port for persisted key/value pairs that survive a
// process restart. Get returns "" for a missing key.
type CredentialStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, keys ...string) error
}

// AuthAPI is the port for the backend authentication endpoints.
type AuthAPI interface {
	Login(ctx context.Context, req LoginRequest) (*LoginResponse, error)
	Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error)
	ValidateToken(ctx context.Context, token string) error
	FetchProfile(ctx context.Context, token string) (Profile, error)
}
