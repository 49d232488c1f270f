// Package auth holds the client's credentials and reads the claims carried
// by academy access tokens.
package auth

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/txn2/academy-client/pkg/storage"
)

// TokenStorageKey is the store key holding persisted tokens.
const TokenStorageKey = "auth_tokens"

// Tokens are the credentials returned by a successful login.
// RefreshToken is kept for the server's benefit; the client never refreshes.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// Empty reports whether no access token is present.
func (t Tokens) Empty() bool {
	return t.AccessToken == ""
}

// SaveTokens persists t under TokenStorageKey.
func SaveTokens(ctx context.Context, store storage.Store, t Tokens) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encoding tokens: %w", err)
	}
	if err := store.Set(ctx, TokenStorageKey, raw); err != nil {
		return fmt.Errorf("persisting tokens: %w", err)
	}
	return nil
}

// LoadTokens reads persisted tokens. found is false when nothing usable is
// stored.
func LoadTokens(ctx context.Context, store storage.Store) (Tokens, bool, error) {
	raw, found, err := store.Get(ctx, TokenStorageKey)
	if err != nil {
		return Tokens{}, false, fmt.Errorf("loading tokens: %w", err)
	}
	if !found {
		return Tokens{}, false, nil
	}

	var t Tokens
	if err := json.Unmarshal(raw, &t); err != nil {
		return Tokens{}, false, fmt.Errorf("parsing tokens: %w", err)
	}
	return t, !t.Empty(), nil
}

// ClearTokens removes persisted tokens.
func ClearTokens(ctx context.Context, store storage.Store) error {
	if err := store.Remove(ctx, TokenStorageKey); err != nil {
		return fmt.Errorf("removing tokens: %w", err)
	}
	return nil
}
