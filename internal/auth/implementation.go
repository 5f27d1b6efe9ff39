// internal/auth/implementation.go
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"bookstore/internal/obs"
)

// service implements the Service interface.
type service struct {
	users   UserStore
	tokens  *Tokens
	revoked RevocationStore
	limiter *loginLimiter
}

// NewService creates a new auth service instance.
func NewService(users UserStore, tokens *Tokens, revoked RevocationStore, loginsPerMinute int) Service {
	return &service{
		users:   users,
		tokens:  tokens,
		revoked: revoked,
		limiter: newLoginLimiter(loginsPerMinute),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a new account.
func (s *service) Register(ctx context.Context, name, email, password string) (*User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrValidation)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: invalid email %q", ErrValidation, email)
	}

	hash, salt, err := hashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	u, err := s.users.CreateUser(ctx, strings.TrimSpace(name), email, Credential{PasswordHash: hash, Salt: salt})
	if err != nil {
		return nil, err
	}
	obs.Logger.Info("user registered", "user_id", u.ID)
	return u, nil
}

// Login verifies a user's credentials and issues a session token.
func (s *service) Login(ctx context.Context, email, password string) (*Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrValidation)
	}
	if !s.limiter.Allow(email) {
		return nil, ErrRateLimited
	}

	u, cred, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	ok, err := verifyPassword(password, cred.Salt, cred.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	token, claims, err := s.tokens.Issue(*u)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, ExpiresAt: claims.ExpiresAt.Time, User: *u}, nil
}

// Validate resolves a token to its user. Expired, revoked or forged tokens
// and tokens for deleted users yield ErrTokenInvalid.
func (s *service) Validate(ctx context.Context, token string) (*User, error) {
	claims, err := s.claims(ctx, token)
	if err != nil {
		return nil, err
	}
	id, _ := claims.UserID()
	u, err := s.users.GetUser(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown user", ErrTokenInvalid)
	}
	return u, err
}

// Logout revokes the token until it would have expired anyway.
func (s *service) Logout(ctx context.Context, token string) error {
	claims, err := s.claims(ctx, token)
	if err != nil {
		return err
	}
	if err := s.revoked.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return err
	}
	obs.Logger.Info("token revoked", "jti", claims.ID, "until", claims.ExpiresAt.Time.Format(time.RFC3339))
	return nil
}

func (s *service) claims(ctx context.Context, token string) (*Claims, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	revoked, err := s.revoked.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, fmt.Errorf("%w: revoked", ErrTokenInvalid)
	}
	return claims, nil
}
