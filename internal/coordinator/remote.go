package coordinator

import (
	"context"
	"html/template"
	"net/http"
)

// GetAuthChallenges returns every Session currently in StateAuthPending,
// generating an authorization URL for any that don't have one yet (§4.4
// "Remote profile": the caller surfaces these URLs to its own users
// instead of opening a browser itself).
func (c *Coordinator) GetAuthChallenges(ctx context.Context) ([]*Session, error) {
	var pending []*Session
	for _, session := range c.Sessions() {
		if session.State() != StateAuthPending {
			continue
		}
		if session.AuthURL() == "" {
			redirectURI := c.cfg.RedirectURI
			if redirectURI == "" {
				return nil, errRemoteRedirectURIRequired
			}
			if _, err := c.startAuthFlow(ctx, session, redirectURI); err != nil {
				session.toFailed(StateAuthFailed, err)
				continue
			}
		}
		pending = append(pending, session)
	}
	return pending, nil
}

var errRemoteRedirectURIRequired = remoteConfigError("Remote profile requires Config.RedirectURI")

type remoteConfigError string

func (e remoteConfigError) Error() string { return string(e) }

// CompleteCallback finishes the authorization-code exchange for a
// completion request addressed to this Coordinator's own context. Hosts
// serving multiple contexts from one process should resolve the owning
// Coordinator from the pending record's ContextID via ClientManager
// instead of calling this directly (see flow.go).
func (c *Coordinator) CompleteCallback(ctx context.Context, state, code, callbackErr, callbackErrDesc string) (serverURL string, err error) {
	serverURL, err = c.completeAuthFlow(ctx, state, code, callbackErr, callbackErrDesc)
	c.bus.Publish(CompletionEvent{
		ContextID: c.cfg.ContextID,
		ServerURL: serverURL,
		Success:   err == nil,
		Error:     errString(err),
	})
	return serverURL, err
}

// HTTPHandler returns an http.HandlerFunc suitable for mounting as the
// Remote profile's completion endpoint: it reads the standard OAuth
// redirect query parameters (code, state, error, error_description),
// completes the exchange, and renders the same human-facing HTML the
// Local profile's loopback server shows.
func (c *Coordinator) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		_, err := c.CompleteCallback(r.Context(), query.Get("state"), query.Get("code"), query.Get("error"), query.Get("error_description"))
		WriteCallbackResult(w, err)
	}
}

// WriteCallbackResult renders the same human-facing HTML page the Local
// profile's loopback server and the Coordinator's own HTTPHandler show,
// for callers (such as internal/httpapi's ClientManager-routed endpoint)
// that complete the exchange through a different entry point but still
// want the shared success/error page.
func WriteCallbackResult(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")

	if err != nil {
		tmpl := template.Must(template.New("error").Parse(callbackErrorHTML))
		_ = tmpl.Execute(w, map[string]string{"Error": "exchange_failed", "Description": err.Error()})
		return
	}
	tmpl := template.Must(template.New("success").Parse(callbackSuccessHTML))
	_ = tmpl.Execute(w, map[string]string{})
}
