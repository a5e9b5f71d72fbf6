package delegation

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mcpauth/delegate/internal/verifier"
	"github.com/mcpauth/delegate/pkg/oautherr"
)

type contextKey int

const (
	claimsContextKey contextKey = iota
	rawTokenContextKey
)

// ClaimsFromContext returns the validated claims attached by the bearer-auth
// middleware, or false if the request was never authenticated.
func ClaimsFromContext(ctx context.Context) (*verifier.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*verifier.Claims)
	return claims, ok
}

// RawTokenFromContext returns the raw bearer token string presented on the
// request, used as subject_token by Grant/GrantMulti.
func RawTokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(rawTokenContextKey).(string)
	return token, ok
}

// Middleware validates inbound bearer tokens per §4.2/§4.3 and rejects
// unauthenticated or invalid requests with a 401 carrying an RFC 6750
// WWW-Authenticate challenge whose resource_metadata points back at
// resourceMetadataURL.
type Middleware struct {
	Validator            *verifier.Validator
	ResourceMetadataURL  string
	Realm                string
}

// Authenticate implements the bearer-auth middleware (§4.3 "Authenticate").
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := extractBearerToken(r)
		if !ok {
			m.challenge(w, "", "")
			return
		}

		claims, err := m.Validator.Validate(r.Context(), token)
		if err != nil {
			code, desc := oautherr.ProtocolCode(err), err.Error()
			if code == "" {
				code = "invalid_token"
			}
			m.challenge(w, code, desc)
			return
		}

		ctx := context.WithValue(r.Context(), claimsContextKey, claims)
		ctx = context.WithValue(ctx, rawTokenContextKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Middleware) challenge(w http.ResponseWriter, code, description string) {
	oe := &oautherr.OAuthError{
		ErrorCode:        code,
		ErrorDescription: description,
		Realm:            m.Realm,
		ResourceMetadata: m.ResourceMetadataURL,
	}
	w.Header().Set("WWW-Authenticate", oe.WWWAuthenticateHeader())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	if code != "" {
		_ = json.NewEncoder(w).Encode(oe)
	}
}

func extractBearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}
