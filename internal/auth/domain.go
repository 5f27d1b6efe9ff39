// internal/auth/domain.go
package auth

import (
	"errors"
	"time"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenInvalid       = errors.New("token invalid")
	ErrRateLimited        = errors.New("too many login attempts")
	ErrNotFound           = errors.New("user not found")
)

// User is a registered account.
type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Credential holds the stored password hash for a user.
type Credential struct {
	UserID       int64
	PasswordHash string
	Salt         string
}

// Session is the result of a successful login.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      User      `json:"user"`
}
