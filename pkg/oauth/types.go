// Package oauth implements the OAuth 2.0 client layer: typed request and
// response records for discovery, dynamic client registration, token
// exchange, introspection, revocation and PAR, plus the PKCE and redaction
// primitives shared by every other layer of the module.
package oauth

import (
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultExpiryMargin is the safety margin applied when checking token
// expiry, accounting for clock skew and network latency between the check
// and the token's actual use.
const DefaultExpiryMargin = 30 * time.Second

// DefaultPendingTTL is the default lifetime of a pending authorization
// record before it is considered abandoned (§4.4, scenario S6).
const DefaultPendingTTL = 10 * time.Minute

// DefaultDiscoveryTTL is the default lifetime of a cached authorization
// server metadata document.
const DefaultDiscoveryTTL = time.Hour

// DefaultJWKSCacheTTL is the default lifetime of a cached JWKS entry.
const DefaultJWKSCacheTTL = 15 * time.Minute

// DefaultClockSkew is the default tolerance applied to exp/nbf checks.
const DefaultClockSkew = 60 * time.Second

// TokenTypeAccessToken is the RFC 8693 URN for an OAuth 2.0 access token,
// used both as subject_token_type on outbound exchanges and compared against
// issued_token_type on the response.
const TokenTypeAccessToken = "urn:ietf:params:oauth:token-type:access_token"

// GrantTypeTokenExchange is the RFC 8693 token-exchange grant type.
const GrantTypeTokenExchange = "urn:ietf:params:oauth:grant-type:token-exchange"

// Secret wraps a sensitive string (access token, refresh token, client
// secret, PKCE verifier) so that accidental logging, %v/%+v formatting, or
// JSON encoding never leaks the value. Callers that genuinely need the raw
// value (to build an Authorization header, say) must call Value()
// explicitly; that call site is the only place the secret should ever
// surface.
type Secret string

// Value returns the underlying secret. Never pass the result to a logger.
func (s Secret) Value() string { return string(s) }

// IsEmpty reports whether the wrapped secret is the empty string.
func (s Secret) IsEmpty() bool { return s == "" }

// String implements fmt.Stringer, always returning a fixed redaction marker.
func (Secret) String() string { return "[REDACTED]" }

// GoString implements fmt.GoStringer for %#v formatting.
func (Secret) GoString() string { return "oauth.Secret([REDACTED])" }

// MarshalText implements encoding.TextMarshaler.
func (Secret) MarshalText() ([]byte, error) { return []byte("[REDACTED]"), nil }

// MarshalJSON implements json.Marshaler.
func (Secret) MarshalJSON() ([]byte, error) { return []byte(`"[REDACTED]"`), nil }

// Token is an OAuth access token record (§3 "Token record"). It is treated
// as immutable: refresh and re-exchange always produce a new Token rather
// than mutating an existing one.
type Token struct {
	// AccessToken is the bearer token used for authorization.
	AccessToken Secret `json:"access_token"`

	// TokenType is typically "Bearer".
	TokenType string `json:"token_type,omitempty"`

	// RefreshToken is used to obtain new access tokens (optional).
	RefreshToken Secret `json:"refresh_token,omitempty"`

	// ExpiresIn is the token lifetime in seconds, as returned by the token
	// endpoint. ExpiresAt is derived from this the first time it is seen.
	ExpiresIn int `json:"expires_in,omitempty"`

	// ExpiresAt is the absolute expiration instant.
	ExpiresAt time.Time `json:"expires_at,omitempty"`

	// Scope is the granted scope(s), space-separated.
	Scope string `json:"scope,omitempty"`

	// Resource is the audience this token was issued for, when known
	// (typically the resource parameter sent on the exchange that produced
	// it). Empty for tokens obtained via a plain authorization-code flow
	// where no resource indicator was used.
	Resource string `json:"resource,omitempty"`

	// Issuer is the token issuer (authorization server URL).
	Issuer string `json:"issuer,omitempty"`

	// IDToken is the OIDC ID token, if one was returned alongside the
	// access token.
	IDToken Secret `json:"id_token,omitempty"`
}

// IsExpired reports whether the token has expired, or will expire within
// DefaultExpiryMargin.
func (t *Token) IsExpired() bool {
	return t.IsExpiredWithMargin(DefaultExpiryMargin)
}

// IsExpiredWithMargin reports whether the token has expired, or will expire
// within margin.
func (t *Token) IsExpiredWithMargin(margin time.Duration) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().Add(margin).After(t.ExpiresAt)
}

// SetExpiresAtFromExpiresIn derives ExpiresAt from ExpiresIn the first time
// it is called; subsequent calls are no-ops so a stored token is never
// silently re-based off a later "now".
func (t *Token) SetExpiresAtFromExpiresIn() {
	if t.ExpiresIn > 0 && t.ExpiresAt.IsZero() {
		t.ExpiresAt = time.Now().Add(time.Duration(t.ExpiresIn) * time.Second)
	}
}

// Scopes splits Scope into its individual space-separated values.
func (t *Token) Scopes() []string {
	if t.Scope == "" {
		return nil
	}
	return strings.Fields(t.Scope)
}

// ToOAuth2Token converts the Token into an *oauth2.Token for interop with
// code already written against golang.org/x/oauth2.
func (t *Token) ToOAuth2Token() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  t.AccessToken.Value(),
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken.Value(),
		Expiry:       t.ExpiresAt,
	}
	if !t.IDToken.IsEmpty() {
		tok = tok.WithExtra(map[string]interface{}{"id_token": t.IDToken.Value()})
	}
	return tok
}

// Metadata is OAuth 2.0 Authorization Server Metadata (RFC 8414), restricted
// to the fields the core consumes.
type Metadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RegistrationEndpoint              string   `json:"registration_endpoint,omitempty"`
	IntrospectionEndpoint             string   `json:"introspection_endpoint,omitempty"`
	RevocationEndpoint                string   `json:"revocation_endpoint,omitempty"`
	PushedAuthorizationRequestEndpoint string  `json:"pushed_authorization_request_endpoint,omitempty"`
	JWKSURI                           string   `json:"jwks_uri,omitempty"`
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported,omitempty"`
}

// SupportsPKCE reports whether S256 PKCE is advertised. Per OAuth 2.1,
// absence of the field is treated as support.
func (m *Metadata) SupportsPKCE() bool {
	for _, method := range m.CodeChallengeMethodsSupported {
		if method == "S256" {
			return true
		}
	}
	return len(m.CodeChallengeMethodsSupported) == 0
}

// ProtectedResourceMetadata is RFC 9728 Protected Resource Metadata, as
// published by the Delegation Provider for each protected path.
type ProtectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	JWKSURI                string   `json:"jwks_uri,omitempty"`
	BearerMethodsSupported []string `json:"bearer_methods_supported"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
}

// AuthChallenge is the parsed content of a WWW-Authenticate response header.
type AuthChallenge struct {
	Scheme              string
	Realm               string
	Issuer              string
	ResourceMetadataURL string
	Scope               string
	Error               string
	ErrorDescription    string
}

// IsOAuthChallenge reports whether c looks like an OAuth Bearer challenge.
func (c *AuthChallenge) IsOAuthChallenge() bool {
	if c == nil {
		return false
	}
	if !strings.EqualFold(c.Scheme, "Bearer") {
		return false
	}
	return c.Realm != "" || c.ResourceMetadataURL != "" || c.Issuer != ""
}

// GetIssuer returns the challenge's issuer, preferring the explicit Issuer
// field and falling back to Realm when it looks like a URL.
func (c *AuthChallenge) GetIssuer() string {
	if c == nil {
		return ""
	}
	if c.Issuer != "" {
		return c.Issuer
	}
	if strings.HasPrefix(c.Realm, "http://") || strings.HasPrefix(c.Realm, "https://") {
		return c.Realm
	}
	return ""
}

// PKCEChallenge is a generated PKCE verifier/challenge pair (RFC 7636).
type PKCEChallenge struct {
	CodeVerifier        Secret
	CodeChallenge        string
	CodeChallengeMethod string
}

// ClientMetadata is RFC 7591 Dynamic Client Registration request metadata.
type ClientMetadata struct {
	ClientName              string   `json:"client_name,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
	Scope                   string   `json:"scope,omitempty"`
	JWKSURL                 string   `json:"jwks_uri,omitempty"`
}

// RegisteredClient is a dynamic-client-registration result (§3 "Registered
// client record"). ClientSecret is redacted in every representation.
type RegisteredClient struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            Secret   `json:"client_secret,omitempty"`
	RedirectURIs            []string `json:"redirect_uris,omitempty"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
	Scope                   string   `json:"scope,omitempty"`
	JWKSURL                 string   `json:"jwks_uri,omitempty"`
	RegistrationAccessToken Secret   `json:"registration_access_token,omitempty"`
	RegistrationClientURI   string   `json:"registration_client_uri,omitempty"`
}
