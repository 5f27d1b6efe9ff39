package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, salt, err := hashPassword("correct horse")
	require.NoError(t, err)

	ok, err := verifyPassword("correct horse", salt, hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = verifyPassword("wrong horse", salt, hash)
	require.NoError(t, err)
	assert.False(t, ok)

	_, salt2, err := hashPassword("correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, salt, salt2, "salts are random")

	_, err = verifyPassword("x", "%%%", hash)
	require.Error(t, err)
}
