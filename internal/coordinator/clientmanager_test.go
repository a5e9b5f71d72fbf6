package coordinator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpauth/delegate/internal/storage"
	"github.com/mcpauth/delegate/pkg/oauth"
)

func newTestClientManager(store storage.Store) *ClientManager {
	return NewClientManager(ClientManagerConfig{
		Store:       store,
		OAuthClient: oauth.NewClient(),
		AppName:     "test-client",
		Scope:       "mcp.read",
		RedirectURI: "https://gateway.example.com/oauth/callback",
	})
}

func TestClientManager_GetIsolatesByContext(t *testing.T) {
	store := storage.NewMemoryStore()
	defer store.Close()
	m := newTestClientManager(store)

	a := m.Get("user-1")
	b := m.Get("user-2")
	assert.NotSame(t, a, b)
	assert.Same(t, a, m.Get("user-1"), "repeated Get for the same context returns the cached Coordinator")
	assert.ElementsMatch(t, []string{"user-1", "user-2"}, m.Contexts())
}

func TestClientManager_Remove(t *testing.T) {
	store := storage.NewMemoryStore()
	defer store.Close()
	m := newTestClientManager(store)

	first := m.Get("user-1")
	m.Remove("user-1")
	assert.Empty(t, m.Contexts())

	second := m.Get("user-1")
	assert.NotSame(t, first, second, "Remove forgets the old Coordinator so Get builds a fresh one")
}

func TestClientManager_CompleteCallback_RoutesToOwningContext(t *testing.T) {
	as := newFakeAuthServer(t)
	store := storage.NewMemoryStore()
	defer store.Close()
	m := newTestClientManager(store)

	owner := m.Get("user-1")
	session := owner.sessionFor("https://mcp.example.com")
	session.toAuthPending(&oauth.AuthChallenge{Issuer: as.Server.URL})

	pending, err := owner.GetAuthChallenges(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	state := mustQueryParam(t, pending[0].AuthURL(), "state")

	contextID, serverURL, err := m.CompleteCallback(context.Background(), state, "test-code", "", "")
	require.NoError(t, err)
	assert.Equal(t, "user-1", contextID)
	assert.Equal(t, session.ServerURL(), serverURL)
	assert.Equal(t, StateConnected, session.State())
}

func TestClientManager_CompleteCallback_UnknownState(t *testing.T) {
	store := storage.NewMemoryStore()
	defer store.Close()
	m := newTestClientManager(store)

	_, _, err := m.CompleteCallback(context.Background(), "never-issued", "code", "", "")
	assert.Error(t, err)
}
