// internal/clients/auth_client.go
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

var (
	// ErrUnauthorized means the auth service rejected the token.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrUpstreamUnavailable means the auth service could not be reached in time.
	ErrUpstreamUnavailable = errors.New("auth service unavailable")
)

// User is the identity behind a validated token.
type User struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

type AuthClient struct {
	baseURL string
	http    *http.Client
	cb      *gobreaker.CircuitBreaker
}

// NewAuthClient returns a client for the auth service at baseURL. Every call is
// bounded by timeout. Five consecutive transport failures open the circuit for
// ten seconds; rejected tokens do not count.
func NewAuthClient(baseURL string, timeout time.Duration) *AuthClient {
	return &AuthClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "auth",
			MaxRequests: 1,
			Timeout:     10 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrUnauthorized)
			},
		}),
	}
}

// Validate resolves token to a user. It fails with ErrUnauthorized on any
// non-200 answer and with ErrUpstreamUnavailable on transport failure, timeout
// or an open circuit.
func (c *AuthClient) Validate(ctx context.Context, token string) (*User, error) {
	out, err := c.cb.Execute(func() (interface{}, error) {
		return c.validate(ctx, token)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	if err != nil {
		return nil, err
	}
	return out.(*User), nil
}

func (c *AuthClient) validate(ctx context.Context, token string) (*User, error) {
	body, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/validate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: auth service answered %d", ErrUnauthorized, resp.StatusCode)
	}

	var out struct {
		User User `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode validate response: %v", ErrUpstreamUnavailable, err)
	}
	if out.User.ID == 0 {
		return nil, fmt.Errorf("%w: validate response has no user", ErrUnauthorized)
	}
	return &out.User, nil
}
