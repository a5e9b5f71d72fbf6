package verifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mcpauth/delegate/pkg/oauth"
	"github.com/mcpauth/delegate/pkg/oautherr"
)

// DefaultDelegationChainClaim is the JWT claim name read and re-threaded
// as an opaque delegation chain when the issuer doesn't specify one
// (§9 open question iii).
const DefaultDelegationChainClaim = "delegation_chain"

// allowedAlgorithms is the RSA/ECDSA signing-algorithm allow-list
// (§4.2: "checked against an explicit allow-list before verification").
var allowedAlgorithms = map[string]bool{
	"RS256": true,
	"RS384": true,
	"RS512": true,
	"ES256": true,
	"ES384": true,
	"ES512": true,
}

// Claims is the validated, extracted subset of an inbound access
// token's claims.
type Claims struct {
	Subject         string
	Issuer          string
	Audience        []string
	Scopes          []string
	ExpiresAt       time.Time
	IssuedAt        time.Time
	JTI             string
	DelegationChain []string
}

// HasScope reports whether scope is present among the token's scopes.
func (c *Claims) HasScope(scope string) bool {
	if c == nil {
		return false
	}
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Validator validates inbound JWT access tokens per §4.2's algorithm.
type Validator struct {
	jwks                *JWKSClient
	jwksURI             string
	issuer              string
	audience            string
	clockSkew           time.Duration
	delegationChainClaim string
}

// NewValidator constructs a Validator for one zone: tokens must be
// signed by the key set at jwksURI, carry iss == issuer, and carry aud
// containing audience (the protected resource's own URL).
func NewValidator(jwks *JWKSClient, jwksURI, issuer, audience string, clockSkew time.Duration) *Validator {
	if clockSkew <= 0 || clockSkew > oauth.DefaultClockSkew {
		clockSkew = oauth.DefaultClockSkew
	}
	return &Validator{
		jwks:                 jwks,
		jwksURI:              jwksURI,
		issuer:                issuer,
		audience:              audience,
		clockSkew:             clockSkew,
		delegationChainClaim:  DefaultDelegationChainClaim,
	}
}

// WithDelegationChainClaim overrides the claim name read for the
// delegation chain.
func (v *Validator) WithDelegationChainClaim(name string) *Validator {
	v.delegationChainClaim = name
	return v
}

// Validate runs the full §4.2 algorithm against tokenString and returns
// the extracted claims, or an *oautherr.DomainError with KindAuthentication
// on any failure.
func (v *Validator) Validate(ctx context.Context, tokenString string) (*Claims, error) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	unverified, _, err := parser.ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return nil, oautherr.Authentication("Validate", "invalid_token", fmt.Sprintf("parse token: %v", err))
	}

	alg, _ := unverified.Header["alg"].(string)
	if alg == "" || !allowedAlgorithms[alg] {
		return nil, oautherr.Authentication("Validate", "invalid_token", fmt.Sprintf("unsupported algorithm %q", alg))
	}

	kid, _ := unverified.Header["kid"].(string)
	if kid == "" {
		return nil, oautherr.Authentication("Validate", "invalid_token", "missing kid in token header")
	}

	key, err := v.jwks.GetKey(ctx, v.jwksURI, kid)
	if err != nil {
		return nil, oautherr.Authentication("Validate", "invalid_token", fmt.Sprintf("resolve signing key: %v", err))
	}

	verified, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != alg {
			return nil, fmt.Errorf("algorithm mismatch")
		}
		return key, nil
	}, jwt.WithLeeway(v.clockSkew))
	if err != nil || !verified.Valid {
		return nil, oautherr.Authentication("Validate", "invalid_token", fmt.Sprintf("signature or claim validation failed: %v", err))
	}

	mapClaims, ok := verified.Claims.(jwt.MapClaims)
	if !ok {
		return nil, oautherr.Authentication("Validate", "invalid_token", "unexpected claims type")
	}

	claims, err := v.extractClaims(mapClaims)
	if err != nil {
		return nil, err
	}

	if claims.Issuer != v.issuer {
		return nil, oautherr.Authentication("Validate", "invalid_token", fmt.Sprintf("issuer %q does not match zone issuer %q", claims.Issuer, v.issuer))
	}
	if !containsString(claims.Audience, v.audience) {
		return nil, oautherr.Authentication("Validate", "invalid_token", fmt.Sprintf("audience does not contain %q", v.audience))
	}

	return claims, nil
}

func (v *Validator) extractClaims(mapClaims jwt.MapClaims) (*Claims, error) {
	claims := &Claims{}

	sub, err := mapClaims.GetSubject()
	if err != nil || sub == "" {
		return nil, oautherr.Authentication("extractClaims", "invalid_token", "missing sub claim")
	}
	claims.Subject = sub

	iss, err := mapClaims.GetIssuer()
	if err != nil || iss == "" {
		return nil, oautherr.Authentication("extractClaims", "invalid_token", "missing iss claim")
	}
	claims.Issuer = iss

	aud, err := mapClaims.GetAudience()
	if err != nil || len(aud) == 0 {
		return nil, oautherr.Authentication("extractClaims", "invalid_token", "missing aud claim")
	}
	claims.Audience = aud

	exp, err := mapClaims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, oautherr.Authentication("extractClaims", "invalid_token", "missing exp claim")
	}
	claims.ExpiresAt = exp.Time

	if iat, err := mapClaims.GetIssuedAt(); err == nil && iat != nil {
		claims.IssuedAt = iat.Time
	}
	if jti, ok := mapClaims["jti"].(string); ok {
		claims.JTI = jti
	}
	if scopeStr, ok := mapClaims["scope"].(string); ok {
		claims.Scopes = parseScopes(scopeStr)
	}
	if v.delegationChainClaim != "" {
		claims.DelegationChain = parseDelegationChain(mapClaims[v.delegationChainClaim])
	}

	return claims, nil
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func parseScopes(scopeStr string) []string {
	if scopeStr == "" {
		return nil
	}
	var scopes []string
	for _, part := range strings.Split(scopeStr, " ") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			scopes = append(scopes, trimmed)
		}
	}
	return scopes
}

// parseDelegationChain reads the claim value verbatim as []string,
// tolerating the JSON-numeric-free shapes a JWT claim can take
// (§9: "mirror whatever the upstream zone emits verbatim").
func parseDelegationChain(raw any) []string {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	chain := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			chain = append(chain, s)
		}
	}
	return chain
}
