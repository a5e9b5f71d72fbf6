package coordinator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mcpauth/delegate/internal/storage"
	"github.com/mcpauth/delegate/pkg/oauth"
)

// tokenKey returns the storage key for serverURL under contextID,
// following the "token:" key schema (§3).
func tokenKey(contextID, serverURL string) string {
	return fmt.Sprintf("token:%s:%s", contextID, serverURL)
}

// saveToken persists token for (contextID, serverURL). Unlike the pending
// record, a token has no TTL here: expiry is governed by its own
// ExpiresAt field, checked by the caller before use.
func saveToken(ctx context.Context, store storage.Store, contextID, serverURL string, token *oauth.Token) error {
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	return store.Set(ctx, tokenKey(contextID, serverURL), data, 0)
}

// loadToken returns the stored token for (contextID, serverURL), or
// storage.ErrNotFound if none exists.
func loadToken(ctx context.Context, store storage.Store, contextID, serverURL string) (*oauth.Token, error) {
	data, err := store.Get(ctx, tokenKey(contextID, serverURL))
	if err != nil {
		return nil, err
	}
	var token oauth.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("unmarshal token: %w", err)
	}
	return &token, nil
}

// clearToken removes any stored token for (contextID, serverURL).
func clearToken(ctx context.Context, store storage.Store, contextID, serverURL string) error {
	return store.Delete(ctx, tokenKey(contextID, serverURL))
}

// clientKey returns the storage key for a cached dynamic-client-registration
// record for zone under contextID, following the "client:" key schema (§3).
func clientKey(contextID, zone string) string {
	return fmt.Sprintf("client:%s:%s", contextID, zone)
}

func saveRegisteredClient(ctx context.Context, store storage.Store, contextID, zone string, client *oauth.RegisteredClient) error {
	data, err := json.Marshal(client)
	if err != nil {
		return fmt.Errorf("marshal registered client: %w", err)
	}
	return store.Set(ctx, clientKey(contextID, zone), data, 0)
}

func loadRegisteredClient(ctx context.Context, store storage.Store, contextID, zone string) (*oauth.RegisteredClient, error) {
	data, err := store.Get(ctx, clientKey(contextID, zone))
	if err != nil {
		return nil, err
	}
	var client oauth.RegisteredClient
	if err := json.Unmarshal(data, &client); err != nil {
		return nil, fmt.Errorf("unmarshal registered client: %w", err)
	}
	return &client, nil
}
