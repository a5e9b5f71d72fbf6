package coordinator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeServerURL(t *testing.T) {
	assert.Equal(t, "https://mcp.example.com", normalizeServerURL("https://mcp.example.com/"))
	assert.Equal(t, "https://mcp.example.com", normalizeServerURL("https://mcp.example.com/mcp"))
	assert.Equal(t, "https://mcp.example.com", normalizeServerURL("https://mcp.example.com/sse"))
	assert.Equal(t, "https://mcp.example.com", normalizeServerURL("https://mcp.example.com"))
}

func TestProbeServerAuth_NoChallenge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	challenge, err := probeServerAuth(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Nil(t, challenge)
}

func TestProbeServerAuth_401WithChallenge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("WWW-Authenticate", `Bearer realm="mcp", resource_metadata="https://mcp.example.com/.well-known/oauth-protected-resource"`)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	challenge, err := probeServerAuth(context.Background(), srv.URL)
	require.ErrorIs(t, err, errAuthRequired)
	require.NotNil(t, challenge)
	assert.Equal(t, "mcp", challenge.Realm)
}

func TestProbeServerAuth_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(probeTimeout * 2)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	_, err := probeServerAuth(ctx, srv.URL)
	assert.Error(t, err)
}

func TestDiscoverOAuthMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"resource":"https://mcp.example.com","authorization_servers":["https://as.example.com"]}`))
	}))
	defer srv.Close()

	challenge, err := discoverOAuthMetadata(context.Background(), srv.Client(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "https://as.example.com", challenge.GetIssuer())
}

func TestDiscoverOAuthMetadata_NoAuthorizationServers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"resource":"https://mcp.example.com","authorization_servers":[]}`))
	}))
	defer srv.Close()

	_, err := discoverOAuthMetadata(context.Background(), srv.Client(), srv.URL)
	assert.Error(t, err)
}
