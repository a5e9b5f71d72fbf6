package delegation

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpauth/delegate/internal/verifier"
)

const (
	testIssuer   = "https://idp.example.com"
	testAudience = "https://mcp.example.com"
)

// middlewareJWKSServer serves a single RSA public key under one kid, and
// signs tokens with the matching private key. Kept local to this package
// since internal/verifier's own test helper is unexported to its package.
type middlewareJWKSServer struct {
	*httptest.Server
	key *rsa.PrivateKey
	kid string
}

func newMiddlewareJWKSServer(t *testing.T) *middlewareJWKSServer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	s := &middlewareJWKSServer{key: key, kid: "test-key-1"}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{{
				"kty": "RSA",
				"kid": s.kid,
				"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
			}},
		})
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *middlewareJWKSServer) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.kid
	signed, err := token.SignedString(s.key)
	require.NoError(t, err)
	return signed
}

func newTestMiddleware(jwksServer *middlewareJWKSServer) *Middleware {
	validator := verifier.NewValidator(
		verifier.NewJWKSClient(jwksServer.Client(), time.Minute),
		jwksServer.URL, testIssuer, testAudience, 0,
	)
	return &Middleware{
		Validator:           validator,
		ResourceMetadataURL: "https://mcp.example.com/.well-known/oauth-protected-resource",
		Realm:               "https://mcp.example.com",
	}
}

func recordingHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		token, _ := RawTokenFromContext(r.Context())
		w.Header().Set("X-Subject", claims.Subject)
		w.Header().Set("X-Raw-Token", token)
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddleware_Authenticate_MissingTokenChallenges(t *testing.T) {
	jwksServer := newMiddlewareJWKSServer(t)
	m := newTestMiddleware(jwksServer)

	var called bool
	handler := m.Authenticate(recordingHandler(&called))

	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.False(t, called, "protected handler must not run without a token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	challenge := rec.Header().Get("WWW-Authenticate")
	assert.Contains(t, challenge, `realm="https://mcp.example.com"`)
	assert.Contains(t, challenge, `resource_metadata="https://mcp.example.com/.well-known/oauth-protected-resource"`)
	assert.NotContains(t, challenge, "error=", "the missing-token case omits the error parameter")
	assert.Empty(t, rec.Body.Bytes(), "no JSON body is written for the missing-token case")
}

func TestMiddleware_Authenticate_InvalidTokenChallenges(t *testing.T) {
	jwksServer := newMiddlewareJWKSServer(t)
	m := newTestMiddleware(jwksServer)

	var called bool
	handler := m.Authenticate(recordingHandler(&called))

	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer not-a-real-jwt")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	challenge := rec.Header().Get("WWW-Authenticate")
	assert.Contains(t, challenge, `error="invalid_token"`)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "invalid_token", body["error"])
}

func TestMiddleware_Authenticate_ExpiredTokenChallenges(t *testing.T) {
	jwksServer := newMiddlewareJWKSServer(t)
	m := newTestMiddleware(jwksServer)

	claims := jwt.MapClaims{
		"sub": "user-123",
		"iss": testIssuer,
		"aud": testAudience,
		"exp": time.Now().Add(-time.Hour).Unix(),
	}
	token := jwksServer.sign(t, claims)

	var called bool
	handler := m.Authenticate(recordingHandler(&called))

	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddleware_Authenticate_ValidTokenPopulatesContext(t *testing.T) {
	jwksServer := newMiddlewareJWKSServer(t)
	m := newTestMiddleware(jwksServer)

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   "user-123",
		"iss":   testIssuer,
		"aud":   testAudience,
		"exp":   now.Add(time.Hour).Unix(),
		"iat":   now.Unix(),
		"scope": "mcp.read",
	}
	token := jwksServer.sign(t, claims)

	var called bool
	handler := m.Authenticate(recordingHandler(&called))

	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-123", rec.Header().Get("X-Subject"))
	assert.Equal(t, token, rec.Header().Get("X-Raw-Token"))
}

func TestExtractBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	_, ok := extractBearerToken(req)
	assert.False(t, ok, "no Authorization header")

	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	_, ok = extractBearerToken(req)
	assert.False(t, ok, "wrong scheme")

	req.Header.Set("Authorization", "Bearer   ")
	_, ok = extractBearerToken(req)
	assert.False(t, ok, "empty token after trimming")

	req.Header.Set("Authorization", "bearer abc123")
	token, ok := extractBearerToken(req)
	assert.True(t, ok, "scheme match is case-insensitive")
	assert.Equal(t, "abc123", token)
}
