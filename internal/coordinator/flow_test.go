package coordinator

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpauth/delegate/internal/storage"
	"github.com/mcpauth/delegate/pkg/oauth"
)

func TestStartAuthFlow_BuildsAuthorizationURLAndPendingRecord(t *testing.T) {
	as := newFakeAuthServer(t)
	store := storage.NewMemoryStore()
	defer store.Close()
	c := newTestCoordinator("user-1", store)
	defer c.Close()

	session := c.sessionFor("https://mcp.example.com")
	session.toAuthPending(&oauth.AuthChallenge{Issuer: as.Server.URL})

	authURL, err := c.startAuthFlow(context.Background(), session, "http://127.0.0.1:54321/callback")
	require.NoError(t, err)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.Equal(t, "client-abc", parsed.Query().Get("client_id"))
	assert.NotEmpty(t, parsed.Query().Get("state"))
	assert.NotEmpty(t, parsed.Query().Get("code_challenge"))
	assert.Equal(t, "S256", parsed.Query().Get("code_challenge_method"))
	assert.Equal(t, authURL, session.AuthURL())

	state := parsed.Query().Get("state")
	record, err := consumePending(context.Background(), store, state)
	require.NoError(t, err)
	assert.Equal(t, "user-1", record.ContextID)
	assert.Equal(t, session.ServerURL(), record.ServerURL)
}

func TestStartAuthFlow_NoChallengeRecorded(t *testing.T) {
	store := storage.NewMemoryStore()
	defer store.Close()
	c := newTestCoordinator("user-1", store)
	defer c.Close()

	session := c.sessionFor("https://mcp.example.com")
	_, err := c.startAuthFlow(context.Background(), session, "http://127.0.0.1:1/callback")
	assert.Error(t, err)
}

func TestCompleteAuthFlow_Success(t *testing.T) {
	as := newFakeAuthServer(t)
	store := storage.NewMemoryStore()
	defer store.Close()
	c := newTestCoordinator("user-1", store)
	defer c.Close()

	session := c.sessionFor("https://mcp.example.com")
	session.toAuthPending(&oauth.AuthChallenge{Issuer: as.Server.URL})

	authURL, err := c.startAuthFlow(context.Background(), session, "http://127.0.0.1:54321/callback")
	require.NoError(t, err)
	state := mustQueryParam(t, authURL, "state")

	serverURL, err := c.completeAuthFlow(context.Background(), state, "auth-code-123", "", "")
	require.NoError(t, err)
	assert.Equal(t, session.ServerURL(), serverURL)
	assert.Equal(t, StateConnected, session.State())
	assert.Equal(t, "access-token", session.Token().AccessToken.Value())

	stored, err := loadToken(context.Background(), store, "user-1", session.ServerURL())
	require.NoError(t, err)
	assert.Equal(t, "access-token", stored.AccessToken.Value())
}

func TestCompleteAuthFlow_UnknownState(t *testing.T) {
	store := storage.NewMemoryStore()
	defer store.Close()
	c := newTestCoordinator("user-1", store)
	defer c.Close()

	_, err := c.completeAuthFlow(context.Background(), "never-issued", "code", "", "")
	assert.Error(t, err)
}

func TestCompleteAuthFlow_RejectsMismatchedContext(t *testing.T) {
	as := newFakeAuthServer(t)
	store := storage.NewMemoryStore()
	defer store.Close()

	owner := newTestCoordinator("user-1", store)
	defer owner.Close()
	intruder := newTestCoordinator("user-2", store)
	defer intruder.Close()

	session := owner.sessionFor("https://mcp.example.com")
	session.toAuthPending(&oauth.AuthChallenge{Issuer: as.Server.URL})
	authURL, err := owner.startAuthFlow(context.Background(), session, "http://127.0.0.1:54321/callback")
	require.NoError(t, err)
	state := mustQueryParam(t, authURL, "state")

	_, err = intruder.completeAuthFlow(context.Background(), state, "code", "", "")
	assert.Error(t, err)
}

func TestCompleteAuthFlow_AuthorizationDenied(t *testing.T) {
	as := newFakeAuthServer(t)
	store := storage.NewMemoryStore()
	defer store.Close()
	c := newTestCoordinator("user-1", store)
	defer c.Close()

	session := c.sessionFor("https://mcp.example.com")
	session.toAuthPending(&oauth.AuthChallenge{Issuer: as.Server.URL})
	authURL, err := c.startAuthFlow(context.Background(), session, "http://127.0.0.1:54321/callback")
	require.NoError(t, err)
	state := mustQueryParam(t, authURL, "state")

	_, err = c.completeAuthFlow(context.Background(), state, "", "access_denied", "user said no")
	require.Error(t, err)
	assert.Equal(t, StateAuthFailed, session.State())
}

func mustQueryParam(t *testing.T, rawURL, key string) string {
	t.Helper()
	parsed, err := url.Parse(rawURL)
	require.NoError(t, err)
	return parsed.Query().Get(key)
}
