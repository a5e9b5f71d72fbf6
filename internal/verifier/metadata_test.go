package verifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpauth/delegate/pkg/oauth"
)

func TestResourceMetadata_Document(t *testing.T) {
	m := NewResourceMetadata(
		"https://mcp.example.com/mcp",
		[]string{"https://idp.example.com"},
		[]string{"mcp.read", "mcp.write"},
		"https://idp.example.com/.well-known/jwks.json",
	)

	doc := m.Document()
	assert.Equal(t, "https://mcp.example.com/mcp", doc.Resource)
	assert.Equal(t, []string{"https://idp.example.com"}, doc.AuthorizationServers)
	assert.Equal(t, []string{"header"}, doc.BearerMethodsSupported)
	assert.Equal(t, []string{"mcp.read", "mcp.write"}, doc.ScopesSupported)
}

func TestResourceMetadata_ServeHTTP(t *testing.T) {
	m := NewResourceMetadata("https://mcp.example.com/mcp/", nil, nil, "")

	req := httptest.NewRequest(http.MethodGet, "/.well-known/oauth-protected-resource/mcp", nil)
	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, req)

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var doc oauth.ProtectedResourceMetadata
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&doc))
	assert.Equal(t, "https://mcp.example.com/mcp", doc.Resource, "trailing slash is stripped")
}

func TestASMetadataMirror_Metadata_FetchesAndCaches(t *testing.T) {
	var hits int
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(oauth.Metadata{
			Issuer:        "https://idp.example.com",
			TokenEndpoint: "https://idp.example.com/oauth/token",
		})
	}))
	defer upstream.Close()

	mirror := NewASMetadataMirror(upstream.Client(), upstream.URL, time.Minute)

	meta, err := mirror.Metadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://idp.example.com", meta.Issuer)

	_, err = mirror.Metadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, hits, "second call within the TTL should be served from cache")
}

func TestASMetadataMirror_ServeHTTP_RendersJSON(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(oauth.Metadata{Issuer: "https://idp.example.com"})
	}))
	defer upstream.Close()

	mirror := NewASMetadataMirror(upstream.Client(), upstream.URL, time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/.well-known/oauth-authorization-server", nil)
	rec := httptest.NewRecorder()
	mirror.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var meta oauth.Metadata
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&meta))
	assert.Equal(t, "https://idp.example.com", meta.Issuer)
}

func TestASMetadataMirror_ServeHTTP_UpstreamDown(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	mirror := NewASMetadataMirror(upstream.Client(), upstream.URL, time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/.well-known/oauth-authorization-server", nil)
	rec := httptest.NewRecorder()
	mirror.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
