package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mcpauth/delegate/pkg/oauth"
)

// errAuthRequired signals that a probe got a 401; it is always paired with
// a (possibly nil) *oauth.AuthChallenge.
var errAuthRequired = errors.New("coordinator: server requires authentication")

// probeTimeout bounds each probe request. It must stay short because MCP
// transports may hold a GET open indefinitely (SSE, streaming HTTP).
const probeTimeout = 3 * time.Second

// normalizeServerURL strips transport-specific path suffixes so token
// storage and metadata discovery keys are stable regardless of which
// endpoint path a caller connected through.
func normalizeServerURL(serverURL string) string {
	serverURL = strings.TrimSuffix(serverURL, "/")
	serverURL = strings.TrimSuffix(serverURL, "/mcp")
	serverURL = strings.TrimSuffix(serverURL, "/sse")
	return serverURL
}

// probeServerAuth detects whether serverURL requires authentication,
// without blocking on a streaming response body. It tries, in order: a
// minimal JSON-RPC POST to /mcp, a GET against /sse, and a HEAD against the
// base URL, stopping at the first response (§4.4 "Authorization-code
// flow", grounded on the probe strategy an MCP client needs against mixed
// Streamable-HTTP/SSE transports).
func probeServerAuth(ctx context.Context, serverURL string) (*oauth.AuthChallenge, error) {
	baseURL := normalizeServerURL(serverURL)
	client := &http.Client{Timeout: probeTimeout}

	if challenge, err, done := probeOnce(ctx, client, http.MethodPost, baseURL+"/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`), map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
	}); done {
		return challenge, err
	}

	if challenge, err, done := probeOnce(ctx, client, http.MethodGet, baseURL+"/sse", nil, map[string]string{
		"Accept": "text/event-stream",
	}); done {
		return challenge, err
	}

	if challenge, err, done := probeOnce(ctx, client, http.MethodHead, baseURL, nil, nil); done {
		return challenge, err
	}

	return nil, fmt.Errorf("failed to probe server authentication status")
}

// probeOnce issues one probe request. done is false only when the request
// itself could not be constructed or sent, meaning the caller should fall
// through to its next strategy.
func probeOnce(ctx context.Context, client *http.Client, method, url string, body io.Reader, headers map[string]string) (challenge *oauth.AuthChallenge, err error, done bool) {
	req, buildErr := http.NewRequestWithContext(ctx, method, url, body)
	if buildErr != nil {
		return nil, nil, false
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, doErr := client.Do(req)
	if doErr != nil {
		return nil, nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return oauth.ParseWWWAuthenticateFromResponse(resp), errAuthRequired, true
	}
	return nil, nil, true
}

// protectedResourceMetadataDoc mirrors the fields of RFC 9728's response
// that discoverOAuthMetadata needs.
type protectedResourceMetadataDoc struct {
	Resource             string   `json:"resource"`
	AuthorizationServers []string `json:"authorization_servers"`
}

// discoverOAuthMetadata is the fallback used when a 401 carries no
// WWW-Authenticate header, or one without an issuer: it fetches the RFC
// 9728 protected-resource metadata document and picks the first listed
// authorization server.
func discoverOAuthMetadata(ctx context.Context, httpClient *http.Client, serverURL string) (*oauth.AuthChallenge, error) {
	baseURL := normalizeServerURL(serverURL)
	metadataURL := baseURL + "/.well-known/oauth-protected-resource"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadataURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build metadata request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch protected resource metadata: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("protected resource metadata endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read metadata response: %w", err)
	}

	var doc protectedResourceMetadataDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse protected resource metadata: %w", err)
	}
	if len(doc.AuthorizationServers) == 0 {
		return nil, fmt.Errorf("no authorization servers listed in protected resource metadata")
	}

	issuer := doc.AuthorizationServers[0]
	return &oauth.AuthChallenge{Issuer: issuer, Realm: issuer}, nil
}
