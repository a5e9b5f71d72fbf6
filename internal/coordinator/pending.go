package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mcpauth/delegate/internal/storage"
	"github.com/mcpauth/delegate/pkg/oauth"
)

// pendingTombstone replaces a consumed pending record's value so the CAS
// in consumePending has something to swap the live record for: a
// concurrent consumer racing the same state observes a CAS mismatch
// against the (by-then-already-tombstoned) stored value, not a value it
// could mistake for a second valid record.
var pendingTombstone = []byte("consumed")

// pendingRecord is the persisted state of one in-flight authorization-code
// flow, looked up by the state parameter alone when the callback arrives
// (the completion endpoint doesn't know which context started the flow;
// ContextID travels inside the record, the way the teacher's StateStore
// keys by nonce and carries SessionID inside the stored value).
type pendingRecord struct {
	ContextID    string       `json:"context_id"`
	ServerURL    string       `json:"server_url"`
	Issuer       string       `json:"issuer"`
	ClientID     string       `json:"client_id"`
	ClientSecret oauth.Secret `json:"client_secret,omitempty"`
	RedirectURI  string       `json:"redirect_uri"`
	CodeVerifier oauth.Secret `json:"code_verifier"`
	Resource     string       `json:"resource"`
	CreatedAt    time.Time    `json:"created_at"`
}

func (r *pendingRecord) expired() bool {
	return time.Since(r.CreatedAt) > pendingRecordTTL
}

// pendingKey returns the storage key for a state value, following the
// "pending:" key schema (§3). State values are 128 bits of randomness
// (oauth.GenerateState); their secrecy, not the key's namespace, is what
// keeps one context from guessing another's pending record.
func pendingKey(state string) string {
	return fmt.Sprintf("pending:%s", state)
}

// storePending persists a new pending record for state, failing if one
// already exists under that key (state values must never collide).
func storePending(ctx context.Context, store storage.Store, state string, record *pendingRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal pending record: %w", err)
	}
	return store.CompareAndSwap(ctx, pendingKey(state), nil, data, pendingRecordTTL)
}

// consumePending atomically looks up and consumes the pending record for
// state, so a callback can only ever be consumed once (§4.4 "Remote
// profile" consumes the pending record) even when two callbacks race the
// same state: the CompareAndSwap only succeeds for whichever caller holds
// the exact value last read, and a losing racer's ErrCASMismatch is
// returned as storage.ErrNotFound, never as a second copy of the record.
func consumePending(ctx context.Context, store storage.Store, state string) (*pendingRecord, error) {
	key := pendingKey(state)
	data, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	var record pendingRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("unmarshal pending record: %w", err)
	}

	if err := store.CompareAndSwap(ctx, key, data, pendingTombstone, pendingRecordTTL); err != nil {
		if errors.Is(err, storage.ErrCASMismatch) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	// Best-effort cleanup of the tombstone; a failure here just leaves an
	// inert value behind until its TTL expires.
	_ = store.Delete(ctx, key)

	if record.expired() {
		return nil, storage.ErrNotFound
	}
	return &record, nil
}
