package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestTokensRoundTrip(t *testing.T) {
	tokens := NewTokens(testSecret, time.Hour)
	raw, issued, err := tokens.Issue(User{ID: 42, Email: "ada@example.com"})
	require.NoError(t, err)
	assert.NotEmpty(t, issued.ID)

	claims, err := tokens.Parse(raw)
	require.NoError(t, err)
	id, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, "ada@example.com", claims.Email)
	assert.Equal(t, issued.ID, claims.ID)

	_, second, err := tokens.Issue(User{ID: 42})
	require.NoError(t, err)
	assert.NotEqual(t, issued.ID, second.ID)
}

func TestTokensRejectBadTokens(t *testing.T) {
	tokens := NewTokens(testSecret, time.Hour)

	expired := NewTokens(testSecret, time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	old, _, err := expired.Issue(User{ID: 1})
	require.NoError(t, err)

	forged, _, err := NewTokens("another-secret-of-enough-length", time.Hour).Issue(User{ID: 1})
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, raw := range map[string]string{
		"expired": old,
		"forged":  forged,
		"none":    none,
		"garbage": "not.a.token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := tokens.Parse(raw)
			require.ErrorIs(t, err, ErrTokenInvalid)
		})
	}
}
