package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPurchaseDefaults(t *testing.T) {
	t.Setenv("AUTH_TIMEOUT", "")
	t.Setenv("RABBITMQ_QUEUE", "")

	cfg := LoadPurchase()
	assert.Equal(t, "book_updates", cfg.Queue)
	assert.Equal(t, 5*time.Second, cfg.AuthTimeout)
	assert.Equal(t, 3, cfg.PublishRetries)
	require.NoError(t, cfg.Validate())
}

func TestDurationEnvFormats(t *testing.T) {
	t.Setenv("RECONNECT_INTERVAL", "750ms")
	assert.Equal(t, 750*time.Millisecond, LoadCatalog().ReconnectInterval)

	t.Setenv("RECONNECT_INTERVAL", "7")
	assert.Equal(t, 7*time.Second, LoadCatalog().ReconnectInterval)

	t.Setenv("RECONNECT_INTERVAL", "soon")
	assert.Equal(t, 3*time.Second, LoadCatalog().ReconnectInterval)
}

func TestAuthValidateRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "short")
	err := LoadAuth().Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")

	t.Setenv("JWT_SECRET", "0123456789abcdef0123")
	require.NoError(t, LoadAuth().Validate())
}

func TestPurchaseValidateRejectsZeroRetries(t *testing.T) {
	t.Setenv("PUBLISH_RETRIES", "0")
	require.Error(t, LoadPurchase().Validate())
}
