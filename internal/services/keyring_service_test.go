package services

import (
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyringService(t *testing.T) {
	svc := NewKeyringService(keyring.NewArrayKeyring(nil))

	_, err := svc.GetApiKey("deepseek")
	assert.ErrorIs(t, err, ErrAPIKeyNotFound)

	assert.Error(t, svc.StoreApiKey("deepseek", nil))
	assert.Error(t, svc.StoreApiKey(" ", []byte("k")))

	require.NoError(t, svc.StoreApiKey("DeepSeek", []byte("sk-123")))
	key, err := svc.GetApiKey("deepseek")
	require.NoError(t, err)
	assert.Equal(t, "sk-123", key)

	providers, err := svc.ListProviders()
	require.NoError(t, err)
	assert.Equal(t, []string{"deepseek"}, providers)

	require.NoError(t, svc.DeleteApiKey("deepseek"))
	assert.ErrorIs(t, svc.DeleteApiKey("deepseek"), ErrAPIKeyNotFound)
}
