package oauth

import (
	"fmt"
	"net/http"

	"github.com/mcpauth/delegate/pkg/oautherr"
)

// AuthStrategy authenticates an outbound request to an OAuth endpoint. It
// mutates request headers only — it never reads response bodies, per §4.1.
type AuthStrategy interface {
	// Apply sets the authentication header(s) on req for the given zone
	// (the authorization server's issuer or base URL). Strategies that are
	// not zone-scoped ignore the zone argument.
	Apply(req *http.Request, zone string) error
}

// NoneStrategy applies no client authentication (public client, e.g. a PKCE
// flow with token_endpoint_auth_method=none).
type NoneStrategy struct{}

// Apply implements AuthStrategy.
func (NoneStrategy) Apply(*http.Request, string) error { return nil }

// BasicCredentials is a client_id/client_secret pair for HTTP Basic auth.
type BasicCredentials struct {
	ClientID     string
	ClientSecret Secret
}

// BasicStrategy authenticates with a single fixed client_id/client_secret
// pair via HTTP Basic auth, regardless of zone.
type BasicStrategy struct {
	Credentials BasicCredentials
}

// Apply implements AuthStrategy.
func (s BasicStrategy) Apply(req *http.Request, _ string) error {
	req.SetBasicAuth(s.Credentials.ClientID, s.Credentials.ClientSecret.Value())
	return nil
}

// BearerStrategy authenticates with a fixed bearer token (used by the
// Delegation Provider's own client credentials against a resource server
// that accepts a pre-provisioned access token instead of Basic auth).
type BearerStrategy struct {
	Token Secret
}

// Apply implements AuthStrategy.
func (s BearerStrategy) Apply(req *http.Request, _ string) error {
	req.Header.Set("Authorization", "Bearer "+s.Token.Value())
	return nil
}

// PerZoneBasicStrategy authenticates with HTTP Basic auth using credentials
// looked up by zone. Selecting a zone with no configured credentials is a
// ConfigError (§4.1 "Selecting a strategy whose zone is not configured is a
// configuration error").
type PerZoneBasicStrategy struct {
	Credentials map[string]BasicCredentials
}

// Apply implements AuthStrategy.
func (s PerZoneBasicStrategy) Apply(req *http.Request, zone string) error {
	creds, ok := s.Credentials[zone]
	if !ok {
		return oautherr.Config("PerZoneBasicStrategy.Apply", fmt.Errorf("no credentials configured for zone %q", zone))
	}
	req.SetBasicAuth(creds.ClientID, creds.ClientSecret.Value())
	return nil
}
