package coordinator

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/mcpauth/delegate/internal/storage"
	"github.com/mcpauth/delegate/pkg/oauth"
)

// ClientManagerConfig supplies the shared dependencies every Coordinator a
// ClientManager creates will use; only ContextID varies per Coordinator.
type ClientManagerConfig struct {
	Store       storage.Store
	OAuthClient *oauth.Client
	AppName     string
	Scope       string
	RedirectURI string
}

// ClientManager owns one Coordinator per context_id, so a single process
// (e.g. a Remote-profile MCP gateway serving many users) keeps each
// user's sessions, tokens, and pending flows isolated (§4.4 "Multi-user
// isolation").
type ClientManager struct {
	cfg ClientManagerConfig

	mu           sync.Mutex
	coordinators map[string]*Coordinator
}

// NewClientManager constructs an empty ClientManager.
func NewClientManager(cfg ClientManagerConfig) *ClientManager {
	return &ClientManager{
		cfg:          cfg,
		coordinators: make(map[string]*Coordinator),
	}
}

// NewContextID mints a fresh context_id for an embedding application that
// has no user identity of its own to key sessions by (e.g. an anonymous
// MCP client connecting for the first time).
func (m *ClientManager) NewContextID() string {
	return uuid.New().String()
}

// Get returns the Coordinator for contextID, creating one on first use.
func (m *ClientManager) Get(contextID string) *Coordinator {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.coordinators[contextID]
	if !ok {
		c = New(Config{
			ContextID:   contextID,
			Store:       m.cfg.Store,
			OAuthClient: m.cfg.OAuthClient,
			AppName:     m.cfg.AppName,
			Scope:       m.cfg.Scope,
			RedirectURI: m.cfg.RedirectURI,
		})
		m.coordinators[contextID] = c
	}
	return c
}

// Remove closes and forgets contextID's Coordinator. Callers typically do
// this on logout or session teardown.
func (m *ClientManager) Remove(contextID string) {
	m.mu.Lock()
	c, ok := m.coordinators[contextID]
	delete(m.coordinators, contextID)
	m.mu.Unlock()
	if ok {
		c.Close()
	}
}

// Contexts returns every context_id with a live Coordinator.
func (m *ClientManager) Contexts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.coordinators))
	for id := range m.coordinators {
		out = append(out, id)
	}
	return out
}

// CompleteCallback is the Remote profile's shared completion entry point
// when one process serves many contexts behind a single endpoint: it
// consumes the pending record to learn which context started the flow,
// then routes the exchange to that context's own Coordinator, so token
// storage and Session transitions land in the right place regardless of
// which context's browser redirect arrives.
func (m *ClientManager) CompleteCallback(ctx context.Context, state, code, callbackErr, callbackErrDesc string) (contextID, serverURL string, err error) {
	record, err := consumePending(ctx, m.cfg.Store, state)
	if err != nil {
		return "", "", fmt.Errorf("no matching pending authorization for state: %w", err)
	}

	coordinator := m.Get(record.ContextID)
	serverURL, err = coordinator.exchangeAndStore(ctx, record, code, callbackErr, callbackErrDesc)
	coordinator.bus.Publish(CompletionEvent{
		ContextID: record.ContextID,
		ServerURL: serverURL,
		Success:   err == nil,
		Error:     errString(err),
	})
	return record.ContextID, serverURL, err
}
