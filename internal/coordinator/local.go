package coordinator

import (
	"context"
	"fmt"

	"github.com/pkg/browser"

	"github.com/mcpauth/delegate/pkg/logging"
)

// LocalOptions configures one Local-profile authorization attempt (§4.4
// "Local profile").
type LocalOptions struct {
	// Port is the loopback listener port; 0 picks any free port.
	Port int

	// CallbackPath is the path component of the redirect URI, default
	// "/callback".
	CallbackPath string

	// SuppressBrowser skips the automatic browser launch; the caller is
	// expected to have surfaced the URL some other way (e.g. printed it).
	SuppressBrowser bool

	// BlockUntilCallback, when true, awaits the callback synchronously and
	// returns only once the exchange completes. When false (the zero
	// value), Authenticate returns immediately after opening the browser
	// and the caller polls GetAuthPending.
	BlockUntilCallback bool
}

// Authenticate drives a Local-profile authorization-code flow to
// completion for a Session currently in StateAuthPending: it starts a
// loopback callback server, opens the authorization URL in the system
// browser (unless suppressed), and — when BlockUntilCallback is true —
// blocks until the callback arrives and the code exchange finishes.
//
// When BlockUntilCallback is false, Authenticate returns as soon as the
// browser has been opened; callers must poll GetAuthPending(serverURL)
// until it returns false, then inspect the Session's state.
func (c *Coordinator) Authenticate(ctx context.Context, serverURL string, opts LocalOptions) error {
	session := c.sessionFor(serverURL)
	if session.State() != StateAuthPending {
		return fmt.Errorf("session for %s is not awaiting authorization (state: %s)", session.ServerURL(), session.State())
	}

	cb := newCallbackServer(opts.Port, opts.CallbackPath)
	redirectURI, err := cb.start(ctx)
	if err != nil {
		return fmt.Errorf("start callback server: %w", err)
	}

	authURL, err := c.startAuthFlow(ctx, session, redirectURI)
	if err != nil {
		cb.stop()
		session.toFailed(StateAuthFailed, err)
		return err
	}

	if !opts.SuppressBrowser {
		if err := browser.OpenURL(authURL); err != nil {
			logging.Warn("Coordinator", "failed to open browser for %s, user must open the URL manually: %v", session.ServerURL(), err)
		}
	}

	if !opts.BlockUntilCallback {
		go c.awaitAndComplete(context.Background(), cb, session.ServerURL())
		return nil
	}

	return c.awaitAndComplete(ctx, cb, session.ServerURL())
}

// awaitAndComplete waits for the loopback callback and finishes the code
// exchange, publishing a CompletionEvent either way.
func (c *Coordinator) awaitAndComplete(ctx context.Context, cb *callbackServer, serverURL string) error {
	waitCtx, cancel := context.WithTimeout(ctx, CallbackTimeout)
	defer cancel()

	result, err := cb.waitForCallback(waitCtx)
	if err != nil {
		session := c.sessionFor(serverURL)
		session.toFailed(StateAuthFailed, err)
		c.bus.Publish(CompletionEvent{ContextID: c.cfg.ContextID, ServerURL: serverURL, Success: false, Error: err.Error()})
		return err
	}

	_, err = c.completeAuthFlow(ctx, result.State, result.Code, result.Error, result.ErrorDescription)
	c.bus.Publish(CompletionEvent{
		ContextID: c.cfg.ContextID,
		ServerURL: serverURL,
		Success:   err == nil,
		Error:     errString(err),
	})
	return err
}

// GetAuthPending reports whether serverURL's Session is still waiting on
// the user to complete a Local-profile authorization flow started with
// BlockUntilCallback=false (§4.4 "the caller polls get_auth_pending").
func (c *Coordinator) GetAuthPending(serverURL string) bool {
	session := c.sessionFor(serverURL)
	state := session.State()
	return state == StateAuthPending || state == StateAuthenticating
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
