package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/mcpauth/delegate/internal/metrics"
	"github.com/mcpauth/delegate/pkg/logging"
	"github.com/mcpauth/delegate/pkg/oauth"
)

// ensureRegisteredClient returns the cached RFC 7591 registration for
// issuer, performing dynamic client registration if none is cached yet
// (§4.4 "ensures a registered client record exists for (zone, app
// name)").
func (c *Coordinator) ensureRegisteredClient(ctx context.Context, issuer, redirectURI string) (*oauth.RegisteredClient, error) {
	if client, err := loadRegisteredClient(ctx, c.cfg.Store, c.cfg.ContextID, issuer); err == nil {
		return client, nil
	}

	metadata, err := c.cfg.OAuthClient.DiscoverMetadata(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("discover metadata for %s: %w", issuer, err)
	}
	registrationEndpoint, err := c.cfg.OAuthClient.ResolveRegistrationEndpoint(issuer, metadata)
	if err != nil {
		return nil, fmt.Errorf("%s does not advertise a registration_endpoint; a client must be pre-registered out of band: %w", issuer, err)
	}

	appName := c.cfg.AppName
	if appName == "" {
		appName = oauth.DefaultClientName
	}

	registered, err := c.cfg.OAuthClient.RegisterClient(ctx, registrationEndpoint, oauth.ClientMetadata{
		ClientName:    appName,
		RedirectURIs:  []string{redirectURI},
		GrantTypes:    []string{"authorization_code", "refresh_token"},
		ResponseTypes: []string{"code"},
	})
	if err != nil {
		return nil, fmt.Errorf("register client with %s: %w", issuer, err)
	}

	if err := saveRegisteredClient(ctx, c.cfg.Store, c.cfg.ContextID, issuer, registered); err != nil {
		return nil, fmt.Errorf("cache registered client: %w", err)
	}
	return registered, nil
}

// startAuthFlow runs the authorization-code-flow setup shared by both
// profiles (§4.4 "Authorization-code flow (both profiles)"): ensure a
// registered client, generate PKCE and state, persist the pending record,
// and build the authorization URL. The caller (Local or Remote profile)
// supplies the redirect URI, since only the Local profile derives one from
// a loopback listener.
func (c *Coordinator) startAuthFlow(ctx context.Context, session *Session, redirectURI string) (authURL string, err error) {
	challenge := session.Challenge()
	if challenge == nil {
		return "", fmt.Errorf("no auth challenge recorded for %s", session.ServerURL())
	}
	issuer := challenge.GetIssuer()
	if issuer == "" {
		return "", fmt.Errorf("auth challenge for %s has no issuer", session.ServerURL())
	}

	registered, err := c.ensureRegisteredClient(ctx, issuer, redirectURI)
	if err != nil {
		return "", err
	}

	metadata, err := c.cfg.OAuthClient.DiscoverMetadata(ctx, issuer)
	if err != nil {
		return "", fmt.Errorf("discover metadata for %s: %w", issuer, err)
	}

	pkce, err := oauth.GeneratePKCE()
	if err != nil {
		return "", err
	}
	state, err := oauth.GenerateState()
	if err != nil {
		return "", err
	}

	record := &pendingRecord{
		ContextID:    c.cfg.ContextID,
		ServerURL:    session.ServerURL(),
		Issuer:       issuer,
		ClientID:     registered.ClientID,
		ClientSecret: registered.ClientSecret,
		RedirectURI:  redirectURI,
		CodeVerifier: pkce.CodeVerifier,
		Resource:     session.ServerURL(),
		CreatedAt:    time.Now(),
	}
	if err := storePending(ctx, c.cfg.Store, state, record); err != nil {
		return "", fmt.Errorf("store pending record: %w", err)
	}

	authURL, err = oauth.BuildAuthorizationURL(metadata.AuthorizationEndpoint, registered.ClientID, redirectURI, state, c.cfg.Scope, session.ServerURL(), pkce)
	if err != nil {
		return "", err
	}

	session.setAuthURL(authURL)
	return authURL, nil
}

// completeAuthFlow consumes the pending record matching state (if any
// belongs to this Coordinator's context) and exchanges the callback's code
// for a token, persisting it and transitioning the matching Session. The
// Local profile calls this directly, since it only ever serves its own
// context; the Remote profile's completion endpoint goes through
// ClientManager.CompleteCallback instead, which resolves the right
// Coordinator from the record before calling exchangeAndStore.
func (c *Coordinator) completeAuthFlow(ctx context.Context, state, code, callbackErr, callbackErrDesc string) (serverURL string, err error) {
	record, err := consumePending(ctx, c.cfg.Store, state)
	if err != nil {
		return "", fmt.Errorf("no matching pending authorization for state: %w", err)
	}
	if record.ContextID != c.cfg.ContextID {
		return "", fmt.Errorf("pending authorization belongs to a different context")
	}
	return c.exchangeAndStore(ctx, record, code, callbackErr, callbackErrDesc)
}

// exchangeAndStore performs the code exchange for an already-consumed
// pending record and persists the result under record.ContextID.
func (c *Coordinator) exchangeAndStore(ctx context.Context, record *pendingRecord, code, callbackErr, callbackErrDesc string) (serverURL string, err error) {
	session := c.sessionFor(record.ServerURL)

	if callbackErr != "" {
		flowErr := fmt.Errorf("authorization denied: %s: %s", callbackErr, callbackErrDesc)
		session.toFailed(StateAuthFailed, flowErr)
		return record.ServerURL, flowErr
	}

	metadata, err := c.cfg.OAuthClient.DiscoverMetadata(ctx, record.Issuer)
	if err != nil {
		session.toFailed(StateAuthFailed, err)
		return record.ServerURL, err
	}
	tokenEndpoint, err := c.cfg.OAuthClient.ResolveTokenEndpoint(record.Issuer, metadata)
	if err != nil {
		session.toFailed(StateAuthFailed, err)
		return record.ServerURL, err
	}

	result, err := c.cfg.OAuthClient.ExchangeToken(ctx, oauth.ExchangeRequest{
		TokenEndpoint: tokenEndpoint,
		Zone:          record.Issuer,
		Code:          code,
		RedirectURI:   record.RedirectURI,
		ClientID:      record.ClientID,
		CodeVerifier:  record.CodeVerifier,
	})
	metrics.RecordTokenExchange("authorization_code", err)
	if err != nil {
		session.toFailed(StateAuthFailed, err)
		logging.Audit(logging.AuditEvent{
			Action:    "token_exchange",
			Outcome:   "failure",
			ContextID: record.ContextID,
			GrantType: "authorization_code",
			Target:    record.ServerURL,
			Error:     err.Error(),
		})
		return record.ServerURL, err
	}

	token := result.Token
	token.Issuer = record.Issuer
	if token.Resource == "" {
		token.Resource = record.Resource
	}

	if err := saveToken(ctx, c.cfg.Store, record.ContextID, record.ServerURL, &token); err != nil {
		session.toFailed(StateAuthFailed, err)
		logging.Audit(logging.AuditEvent{
			Action:    "token_exchange",
			Outcome:   "failure",
			ContextID: record.ContextID,
			GrantType: "authorization_code",
			Target:    record.ServerURL,
			Error:     err.Error(),
		})
		return record.ServerURL, err
	}

	session.toConnected(&token)
	logging.Audit(logging.AuditEvent{
		Action:    "token_exchange",
		Outcome:   "success",
		ContextID: record.ContextID,
		GrantType: "authorization_code",
		Target:    record.ServerURL,
	})
	return record.ServerURL, nil
}
