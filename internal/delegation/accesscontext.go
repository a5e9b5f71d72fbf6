// Package delegation implements the Delegation Provider (§4.3): bearer-auth
// middleware protecting MCP tool endpoints, per-resource token exchange via
// Grant/GrantMulti, and the AccessContext each tool handler receives.
package delegation

import "github.com/mcpauth/delegate/pkg/oauth"

// resourceResult is one resource's outcome inside an AccessContext: either
// a token was obtained, or an error was recorded. Never both.
type resourceResult struct {
	token *oauth.Token
	err   error
}

// AccessContext carries the outcome of one or more Grant exchanges for a
// single tool invocation. It is an explicit parameter passed to the
// handler, never a decorator or an ambient context.Value (§9 "Context
// variable / ambient delegation token"): a tool reads it, checks
// HasErrors/HasResourceError, and only then uses a resource's token.
type AccessContext struct {
	resources   map[string]resourceResult
	globalError error
}

// newAccessContext returns an empty AccessContext.
func newAccessContext() *AccessContext {
	return &AccessContext{resources: make(map[string]resourceResult)}
}

// setOk records a successful exchange for resource.
func (a *AccessContext) setOk(resource string, token *oauth.Token) {
	a.resources[resource] = resourceResult{token: token}
}

// setErr records a failed exchange for resource.
func (a *AccessContext) setErr(resource string, err error) {
	a.resources[resource] = resourceResult{err: err}
}

// setGlobalError records a failure that isn't attributable to a single
// resource (e.g. the inbound token itself could not be used as a subject
// token at all).
func (a *AccessContext) setGlobalError(err error) {
	a.globalError = err
}

// Token returns the downstream token obtained for resource, and whether
// one is present. Callers must check HasResourceError(resource) before
// treating a missing token as anything other than "never requested".
func (a *AccessContext) Token(resource string) (*oauth.Token, bool) {
	r, ok := a.resources[resource]
	if !ok || r.token == nil {
		return nil, false
	}
	return r.token, true
}

// HasResourceError reports whether the exchange for resource failed.
func (a *AccessContext) HasResourceError(resource string) bool {
	r, ok := a.resources[resource]
	return ok && r.err != nil
}

// GetResourceErrors returns the error recorded for resource, or nil.
func (a *AccessContext) GetResourceErrors(resource string) error {
	return a.resources[resource].err
}

// HasErrors reports whether any resource failed, or a global error was
// recorded.
func (a *AccessContext) HasErrors() bool {
	if a.globalError != nil {
		return true
	}
	for _, r := range a.resources {
		if r.err != nil {
			return true
		}
	}
	return false
}

// GetErrors returns every recorded error: the global error (if any)
// followed by each resource's error, in no particular resource order.
func (a *AccessContext) GetErrors() []error {
	var errs []error
	if a.globalError != nil {
		errs = append(errs, a.globalError)
	}
	for _, r := range a.resources {
		if r.err != nil {
			errs = append(errs, r.err)
		}
	}
	return errs
}
