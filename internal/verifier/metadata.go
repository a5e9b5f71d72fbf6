package verifier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mcpauth/delegate/pkg/oauth"
	"github.com/mcpauth/delegate/pkg/oautherr"
)

// ResourceMetadata is the RFC 9728 Protected Resource Metadata document
// served at /.well-known/oauth-protected-resource[/<path>].
type ResourceMetadata struct {
	resource               string
	authorizationServers   []string
	scopesSupported        []string
	bearerMethodsSupported []string
	jwksURI                string
}

// NewResourceMetadata builds the metadata document for one protected
// path. Per RFC 9728 §3.3, each protected path on a host gets its own
// document (§4.2 "When multiple protected paths coexist...").
func NewResourceMetadata(resourceURL string, authorizationServers []string, scopesSupported []string, jwksURI string) *ResourceMetadata {
	return &ResourceMetadata{
		resource:               strings.TrimRight(resourceURL, "/"),
		authorizationServers:   authorizationServers,
		scopesSupported:        scopesSupported,
		bearerMethodsSupported: []string{"header"},
		jwksURI:                jwksURI,
	}
}

// Document renders the JSON-serializable metadata body.
func (m *ResourceMetadata) Document() oauth.ProtectedResourceMetadata {
	return oauth.ProtectedResourceMetadata{
		Resource:               m.resource,
		AuthorizationServers:   m.authorizationServers,
		BearerMethodsSupported: m.bearerMethodsSupported,
		ScopesSupported:        m.scopesSupported,
		JWKSURI:                m.jwksURI,
	}
}

// ServeHTTP serves the RFC 9728 document as application/json.
func (m *ResourceMetadata) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(m.Document())
}

// ASMetadataMirror proxies or mirrors an upstream authorization server's
// RFC 8414 discovery document (§4.2 "oauth-authorization-server:
// proxies or mirrors the upstream zone's discovery document").
type ASMetadataMirror struct {
	client     *http.Client
	issuer     string
	ttl        time.Duration
	cached     *oauth.Metadata
	cachedAt   time.Time
}

// NewASMetadataMirror constructs a mirror for the zone at issuer.
func NewASMetadataMirror(client *http.Client, issuer string, ttl time.Duration) *ASMetadataMirror {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if ttl <= 0 {
		ttl = oauth.DefaultDiscoveryTTL
	}
	return &ASMetadataMirror{client: client, issuer: strings.TrimRight(issuer, "/"), ttl: ttl}
}

// Metadata returns the cached (or freshly fetched) upstream document.
func (m *ASMetadataMirror) Metadata(ctx context.Context) (*oauth.Metadata, error) {
	if m.cached != nil && time.Since(m.cachedAt) < m.ttl {
		return m.cached, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.issuer+"/.well-known/oauth-authorization-server", nil)
	if err != nil {
		return nil, oautherr.Config("ASMetadataMirror.Metadata", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, oautherr.Network("ASMetadataMirror.Metadata", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, oautherr.HTTP("ASMetadataMirror.Metadata", resp.StatusCode, fmt.Errorf("upstream metadata endpoint returned status %d", resp.StatusCode))
	}

	var meta oauth.Metadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, oautherr.Config("ASMetadataMirror.Metadata", fmt.Errorf("parse upstream metadata: %w", err))
	}

	m.cached = &meta
	m.cachedAt = time.Now()
	return &meta, nil
}

// ServeHTTP serves the mirrored document, falling back to a 502 if the
// upstream fetch fails and nothing is cached.
func (m *ASMetadataMirror) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	meta, err := m.Metadata(r.Context())
	if err != nil {
		http.Error(w, "upstream authorization server metadata unavailable", http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(meta)
}
