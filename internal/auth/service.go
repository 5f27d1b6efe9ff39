// internal/auth/service.go
package auth

import "context"

// Service defines the identity operations other services rely on.
type Service interface {
	Register(ctx context.Context, name, email, password string) (*User, error)
	Login(ctx context.Context, email, password string) (*Session, error)
	Validate(ctx context.Context, token string) (*User, error)
	Logout(ctx context.Context, token string) error
}
