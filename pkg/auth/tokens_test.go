package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/academy-client/pkg/storage"
)

func TestTokens_Persistence(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	_, found, err := LoadTokens(ctx, store)
	require.NoError(t, err)
	assert.False(t, found)

	want := Tokens{AccessToken: "access", RefreshToken: "refresh"}
	require.NoError(t, SaveTokens(ctx, store, want))

	got, found, err := LoadTokens(ctx, store)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, want, got)

	require.NoError(t, ClearTokens(ctx, store))
	_, found, err = LoadTokens(ctx, store)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLoadTokens_Invalid(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	require.NoError(t, store.Set(ctx, TokenStorageKey, []byte("garbage")))
	_, _, err := LoadTokens(ctx, store)
	require.Error(t, err)

	require.NoError(t, store.Set(ctx, TokenStorageKey, []byte(`{"access_token":""}`)))
	_, found, err := LoadTokens(ctx, store)
	require.NoError(t, err)
	assert.False(t, found, "an empty access token is not usable")
}

func TestTokens_Empty(t *testing.T) {
	assert.True(t, Tokens{}.Empty())
	assert.True(t, Tokens{RefreshToken: "r"}.Empty())
	assert.False(t, Tokens{AccessToken: "a"}.Empty())
}
