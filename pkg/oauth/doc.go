// Package oauth implements the OAuth 2.0 Client Layer shared by the
// Delegation Provider and the Auth Coordinator.
//
// It provides the typed request/response records, PKCE and state
// generation, client authentication strategies and HTTP plumbing for
// every operation an OAuth client in this module needs: RFC 8414
// authorization server metadata discovery, RFC 9728 protected resource
// metadata, RFC 7591 dynamic client registration, RFC 8693 token
// exchange, RFC 6749 authorization-code and refresh-token grants,
// RFC 7662 introspection, RFC 7009 revocation and RFC 9126 pushed
// authorization requests.
//
// # Core components
//
//   - Client: the shared HTTP client, wired with an AuthStrategy,
//     endpoint overrides, retry policy and metadata cache
//   - Token: an access/refresh token pair with expiry bookkeeping
//   - Secret: a string wrapper that never round-trips through logs,
//     %v, or JSON in cleartext
//   - AuthStrategy: how the client authenticates itself to an
//     authorization server (none, Basic, Bearer, per-zone Basic)
//
// Errors returned by every operation in this package are
// *oautherr.DomainError values from the sibling oautherr package,
// classified by retriability per the taxonomy both the Delegation
// Provider and the Auth Coordinator rely on.
package oauth
