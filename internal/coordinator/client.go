package coordinator

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/mcpauth/delegate/internal/metrics"
	"github.com/mcpauth/delegate/internal/storage"
	"github.com/mcpauth/delegate/pkg/logging"
	"github.com/mcpauth/delegate/pkg/oauth"
)

// Config configures one Coordinator instance, bound to a single context
// (§4.4 "Multi-user isolation": every storage key this Coordinator touches
// is prefixed with ContextID).
type Config struct {
	// ContextID isolates this Coordinator's tokens and pending records
	// from every other context sharing the same Store.
	ContextID string

	// Store persists tokens, pending records, and registration cache
	// entries (internal/storage).
	Store storage.Store

	// OAuthClient performs discovery, registration, and token exchange.
	OAuthClient *oauth.Client

	// AppName is the client_name sent on dynamic client registration.
	AppName string

	// Scope is the OAuth scope requested on the authorization URL.
	Scope string

	// RedirectURI is used by the Remote profile, where no loopback
	// listener exists to derive one from. The Local profile overrides
	// this per-flow with its callback server's own URL.
	RedirectURI string
}

// Coordinator drives OAuth on behalf of an MCP client talking to one or
// more upstream MCP servers (§4.4). It owns one Session per server URL,
// persists tokens, and notifies Subscribers when an authorization flow
// completes.
type Coordinator struct {
	cfg Config

	mu       sync.Mutex
	sessions map[string]*Session

	bus *eventBus
}

// New constructs a Coordinator. Call Close when done to stop its event
// dispatch goroutine.
func New(cfg Config) *Coordinator {
	return &Coordinator{
		cfg:      cfg,
		sessions: make(map[string]*Session),
		bus:      newEventBus(),
	}
}

// Subscribe registers sub to receive CompletionEvents.
func (c *Coordinator) Subscribe(sub Subscriber) {
	c.bus.Subscribe(sub)
}

// Close stops the Coordinator's background event dispatch.
func (c *Coordinator) Close() {
	c.bus.Close()
}

// ContextID returns the context this Coordinator is bound to.
func (c *Coordinator) ContextID() string { return c.cfg.ContextID }

// sessionFor returns the Session for serverURL, creating one in
// StateInitializing if this is the first time it's seen.
func (c *Coordinator) sessionFor(serverURL string) *Session {
	serverURL = normalizeServerURL(serverURL)
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[serverURL]
	if !ok {
		s = NewSession(serverURL)
		c.sessions[serverURL] = s
	}
	return s
}

// Sessions returns every Session this Coordinator currently tracks.
func (c *Coordinator) Sessions() []*Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, s)
	}
	return out
}

// EnsureConnected drives serverURL's Session forward: it checks for a
// usable stored token, refreshing it if needed, and otherwise probes the
// server for an auth challenge (§4.4 "Authorization-code flow", "Token
// lifecycle"). It returns the Session in whatever state it reaches;
// callers check Session.State() to decide what to do next (nothing
// further if IsOperational, open AuthURL if RequiresUserAction).
func (c *Coordinator) EnsureConnected(ctx context.Context, serverURL string) (*Session, error) {
	session := c.sessionFor(serverURL)
	normalized := session.ServerURL()

	if token, err := loadToken(ctx, c.cfg.Store, c.cfg.ContextID, normalized); err == nil {
		if !token.IsExpiredWithMargin(oauth.DefaultExpiryMargin) {
			session.toConnected(token)
			return session, nil
		}
		if refreshed, rerr := c.refresh(ctx, normalized, token); rerr == nil {
			session.toConnected(refreshed)
			return session, nil
		}
		// Not refreshable (or refresh failed): fall through to re-probe.
	}

	session.transition(StateConnecting)
	challenge, err := probeServerAuth(ctx, normalized)
	switch {
	case err == nil:
		// No 401: either auth isn't required or the probe endpoints
		// aren't protected. Caller proceeds with a direct connection.
		session.transition(StateConnected)
		return session, nil
	case err == errAuthRequired:
		session.transition(StateAuthenticating)
		if challenge == nil || challenge.GetIssuer() == "" {
			discovered, derr := discoverOAuthMetadata(ctx, c.httpClient(), normalized)
			if derr != nil {
				session.toFailed(StateConnectionFailed, fmt.Errorf("server requires authentication but metadata could not be discovered: %w", derr))
				return session, session.LastError()
			}
			challenge = discovered
		}
		session.toAuthPending(challenge)
		return session, nil
	default:
		session.toFailed(StateConnectionFailed, err)
		return session, err
	}
}

func (c *Coordinator) httpClient() *http.Client {
	return &http.Client{Timeout: probeTimeout}
}

// refresh performs a refresh_token grant and persists the resulting token.
func (c *Coordinator) refresh(ctx context.Context, serverURL string, token *oauth.Token) (*oauth.Token, error) {
	if token.RefreshToken.IsEmpty() {
		return nil, fmt.Errorf("no refresh token available")
	}

	client, err := loadRegisteredClient(ctx, c.cfg.Store, c.cfg.ContextID, token.Issuer)
	if err != nil {
		return nil, fmt.Errorf("no registered client for issuer %s: %w", token.Issuer, err)
	}

	metadata, err := c.cfg.OAuthClient.DiscoverMetadata(ctx, token.Issuer)
	if err != nil {
		return nil, err
	}
	tokenEndpoint, err := c.cfg.OAuthClient.ResolveTokenEndpoint(token.Issuer, metadata)
	if err != nil {
		return nil, err
	}

	result, err := c.cfg.OAuthClient.ExchangeToken(ctx, oauth.ExchangeRequest{
		TokenEndpoint: tokenEndpoint,
		Zone:          token.Issuer,
		GrantType:     "refresh_token",
		RefreshToken:  token.RefreshToken,
		ClientID:      client.ClientID,
	})
	metrics.RecordTokenExchange("refresh_token", err)
	if err != nil {
		logging.Audit(logging.AuditEvent{
			Action:    "token_refresh",
			Outcome:   "failure",
			ContextID: c.cfg.ContextID,
			GrantType: "refresh_token",
			Target:    serverURL,
			Error:     err.Error(),
		})
		return nil, err
	}

	newToken := result.Token
	newToken.Issuer = token.Issuer
	if newToken.RefreshToken.IsEmpty() {
		newToken.RefreshToken = token.RefreshToken
	}
	if err := saveToken(ctx, c.cfg.Store, c.cfg.ContextID, serverURL, &newToken); err != nil {
		return nil, err
	}
	logging.Audit(logging.AuditEvent{
		Action:    "token_refresh",
		Outcome:   "success",
		ContextID: c.cfg.ContextID,
		GrantType: "refresh_token",
		Target:    serverURL,
	})
	return &newToken, nil
}

// GetAccessToken returns a bearer token for serverURL, refreshing it first
// if it's within the expiry safety margin. Returns an error if the session
// isn't connected.
func (c *Coordinator) GetAccessToken(ctx context.Context, serverURL string) (string, error) {
	session := c.sessionFor(serverURL)
	normalized := session.ServerURL()

	if !session.tokenExpiringSoon() {
		return session.Token().AccessToken.Value(), nil
	}

	token, err := loadToken(ctx, c.cfg.Store, c.cfg.ContextID, normalized)
	if err != nil {
		return "", fmt.Errorf("not authenticated: %w", err)
	}
	if !token.IsExpiredWithMargin(oauth.DefaultExpiryMargin) {
		session.setToken(token)
		return token.AccessToken.Value(), nil
	}

	refreshed, err := c.refresh(ctx, normalized, token)
	if err != nil {
		session.transition(StateConnecting)
		return "", err
	}
	session.toConnected(refreshed)
	return refreshed.AccessToken.Value(), nil
}

// ClearToken removes the stored token for serverURL and resets its
// Session to StateInitializing.
func (c *Coordinator) ClearToken(ctx context.Context, serverURL string) error {
	session := c.sessionFor(serverURL)
	normalized := session.ServerURL()
	session.transition(StateInitializing)
	return clearToken(ctx, c.cfg.Store, c.cfg.ContextID, normalized)
}
