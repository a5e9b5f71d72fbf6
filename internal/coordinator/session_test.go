package coordinator

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpauth/delegate/pkg/oauth"
)

func TestState_String(t *testing.T) {
	cases := map[State]string{
		StateInitializing:    "initializing",
		StateConnecting:      "connecting",
		StateConnected:       "connected",
		StateAuthenticating:  "authenticating",
		StateAuthPending:     "auth_pending",
		StateAuthFailed:      "auth_failed",
		StateConnectionFailed: "connection_failed",
		State(99):            "unknown",
	}
	for state, want := range cases {
		assert.Equal(t, want, state.String())
	}
}

func TestState_Predicates(t *testing.T) {
	assert.True(t, StateConnected.IsOperational())
	assert.False(t, StateAuthPending.IsOperational())

	assert.True(t, StateAuthPending.RequiresUserAction())
	assert.False(t, StateAuthenticating.RequiresUserAction())

	assert.True(t, StateAuthFailed.IsFailed())
	assert.True(t, StateConnectionFailed.IsFailed())
	assert.False(t, StateConnected.IsFailed())

	assert.True(t, StateConnectionFailed.CanRetry())
	assert.True(t, StateAuthFailed.CanRetry())
	assert.False(t, StateInitializing.CanRetry())
	assert.False(t, StateConnected.CanRetry())
}

func TestSession_InitialState(t *testing.T) {
	s := NewSession("https://mcp.example.com")
	assert.Equal(t, StateInitializing, s.State())
	assert.Equal(t, "https://mcp.example.com", s.ServerURL())
	assert.Nil(t, s.Challenge())
	assert.Empty(t, s.AuthURL())
	assert.Nil(t, s.LastError())
}

func TestSession_ToAuthPending(t *testing.T) {
	s := NewSession("https://mcp.example.com")
	challenge := &oauth.AuthChallenge{Issuer: "https://as.example.com"}
	s.toFailed(StateConnectionFailed, errors.New("boom"))

	s.toAuthPending(challenge)
	assert.Equal(t, StateAuthPending, s.State())
	assert.Equal(t, challenge, s.Challenge())
	assert.Nil(t, s.LastError(), "transitioning to auth_pending clears a prior error")
}

func TestSession_ToConnected_ClearsAuthURL(t *testing.T) {
	s := NewSession("https://mcp.example.com")
	s.setAuthURL("https://as.example.com/authorize?state=xyz")
	require.Equal(t, StateAuthPending, s.State())

	token := &oauth.Token{AccessToken: "at"}
	s.toConnected(token)
	assert.Equal(t, StateConnected, s.State())
	assert.Empty(t, s.AuthURL())
	assert.Equal(t, token, s.Token())
}

func TestSession_ToFailed_RecordsError(t *testing.T) {
	s := NewSession("https://mcp.example.com")
	err := errors.New("network unreachable")
	s.toFailed(StateConnectionFailed, err)
	assert.Equal(t, StateConnectionFailed, s.State())
	assert.Equal(t, err, s.LastError())
}

func TestSession_TokenExpiringSoon(t *testing.T) {
	s := NewSession("https://mcp.example.com")
	assert.True(t, s.tokenExpiringSoon(), "no token at all counts as expiring")

	s.setToken(&oauth.Token{AccessToken: "at", ExpiresAt: time.Now().Add(time.Hour)})
	assert.False(t, s.tokenExpiringSoon())

	s.setToken(&oauth.Token{AccessToken: "at", ExpiresAt: time.Now().Add(5 * time.Second)})
	assert.True(t, s.tokenExpiringSoon(), "within DefaultExpiryMargin counts as expiring")
}

func TestSession_ConcurrentAccess(t *testing.T) {
	s := NewSession("https://mcp.example.com")
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			s.transition(StateConnecting)
			_ = s.State()
		}
	}()
	for i := 0; i < 100; i++ {
		_ = s.State()
		_ = s.ServerURL()
	}
	<-done
}
