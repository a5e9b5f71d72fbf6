// Package verifier implements the Token Verifier & Metadata component
// (§4.2): JWKS fetch/cache, JWT validation against an explicit algorithm
// allow-list, and the RFC 9728 / RFC 8414 metadata documents served
// alongside a protected resource.
package verifier

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mcpauth/delegate/internal/metrics"
	"github.com/mcpauth/delegate/pkg/oauth"
	"github.com/mcpauth/delegate/pkg/oautherr"
)

type jwksCacheEntry struct {
	key       any
	expiresAt time.Time
}

// JWKS is a JSON Web Key Set (RFC 7517).
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK is a single JSON Web Key, restricted to the RSA and EC parameters
// this module verifies against.
type JWK struct {
	KeyType   string `json:"kty"`
	Use       string `json:"use,omitempty"`
	KeyID     string `json:"kid"`
	Algorithm string `json:"alg,omitempty"`
	N         string `json:"n,omitempty"`
	E         string `json:"e,omitempty"`
	Curve     string `json:"crv,omitempty"`
	X         string `json:"x,omitempty"`
	Y         string `json:"y,omitempty"`
}

// JWKSClient fetches and caches public keys by key ID, keyed on the
// zone's jwks_uri. It coalesces concurrent refreshes of the same URI
// into a single in-flight fetch (§5, §8 property 7).
type JWKSClient struct {
	httpClient *http.Client
	ttl        time.Duration

	mu      sync.RWMutex
	entries map[string]*jwksCacheEntry // keyID -> entry

	group singleflight.Group
}

// NewJWKSClient constructs a JWKSClient with the given cache TTL.
func NewJWKSClient(httpClient *http.Client, ttl time.Duration) *JWKSClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if ttl <= 0 {
		ttl = oauth.DefaultJWKSCacheTTL
	}
	return &JWKSClient{
		httpClient: httpClient,
		ttl:        ttl,
		entries:    make(map[string]*jwksCacheEntry),
	}
}

func (c *JWKSClient) get(keyID string) any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[keyID]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil
	}
	return entry.key
}

func (c *JWKSClient) set(keyID string, key any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[keyID] = &jwksCacheEntry{key: key, expiresAt: time.Now().Add(c.ttl)}
}

// GetKey returns the public key for keyID, fetching jwksURI if the key
// isn't cached. On a cache miss for an unknown kid, the caller is
// expected to force one refresh and retry once before failing
// invalid_token (§4.2); GetKey itself always attempts a fetch on miss,
// so a single call already performs that refresh.
func (c *JWKSClient) GetKey(ctx context.Context, jwksURI, keyID string) (any, error) {
	if key := c.get(keyID); key != nil {
		metrics.RecordJWKSCacheHit()
		return key, nil
	}

	_, err, _ := c.group.Do(jwksURI, func() (interface{}, error) {
		return nil, c.refresh(ctx, jwksURI)
	})
	if err != nil {
		return nil, err
	}

	if key := c.get(keyID); key != nil {
		metrics.RecordJWKSCacheMiss()
		return key, nil
	}
	return nil, oautherr.Authentication("GetKey", "invalid_token", fmt.Sprintf("unknown key id %q", keyID))
}

// Refresh forces a re-fetch of jwksURI, replacing any cached keys it
// contributed.
func (c *JWKSClient) Refresh(ctx context.Context, jwksURI string) error {
	_, err, _ := c.group.Do(jwksURI, func() (interface{}, error) {
		return nil, c.refresh(ctx, jwksURI)
	})
	return err
}

func (c *JWKSClient) refresh(ctx context.Context, jwksURI string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURI, nil)
	if err != nil {
		return oautherr.Config("JWKSClient.refresh", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return oautherr.Network("JWKSClient.refresh", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return oautherr.Network("JWKSClient.refresh", err)
	}
	if resp.StatusCode != http.StatusOK {
		return oautherr.HTTP("JWKSClient.refresh", resp.StatusCode, fmt.Errorf("jwks endpoint returned status %d", resp.StatusCode))
	}

	var jwks JWKS
	if err := json.Unmarshal(body, &jwks); err != nil {
		return oautherr.Config("JWKSClient.refresh", fmt.Errorf("parse jwks: %w", err))
	}

	for _, jwk := range jwks.Keys {
		if jwk.KeyID == "" {
			continue
		}
		key, err := jwkToPublicKey(&jwk)
		if err != nil {
			continue
		}
		c.set(jwk.KeyID, key)
	}
	return nil
}

func jwkToPublicKey(jwk *JWK) (any, error) {
	switch jwk.KeyType {
	case "RSA":
		return jwkToRSAPublicKey(jwk)
	case "EC":
		return jwkToECDSAPublicKey(jwk)
	default:
		return nil, fmt.Errorf("unsupported key type: %s", jwk.KeyType)
	}
}

func jwkToRSAPublicKey(jwk *JWK) (*rsa.PublicKey, error) {
	if jwk.N == "" || jwk.E == "" {
		return nil, fmt.Errorf("missing RSA key parameters")
	}
	nBytes, err := base64URLDecode(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eBytes, err := base64URLDecode(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

func jwkToECDSAPublicKey(jwk *JWK) (*ecdsa.PublicKey, error) {
	if jwk.X == "" || jwk.Y == "" || jwk.Curve == "" {
		return nil, fmt.Errorf("missing EC key parameters")
	}
	xBytes, err := base64URLDecode(jwk.X)
	if err != nil {
		return nil, fmt.Errorf("decode x coordinate: %w", err)
	}
	yBytes, err := base64URLDecode(jwk.Y)
	if err != nil {
		return nil, fmt.Errorf("decode y coordinate: %w", err)
	}
	curve, err := curveForName(jwk.Curve)
	if err != nil {
		return nil, err
	}
	return &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}, nil
}

func curveForName(name string) (elliptic.Curve, error) {
	switch name {
	case "P-256":
		return elliptic.P256(), nil
	case "P-384":
		return elliptic.P384(), nil
	case "P-521":
		return elliptic.P521(), nil
	default:
		return nil, fmt.Errorf("unsupported curve: %s", name)
	}
}

func base64URLDecode(s string) ([]byte, error) {
	switch len(s) % 4 {
	case 2:
		s += "=="
	case 3:
		s += "="
	}
	s = strings.ReplaceAll(s, "-", "+")
	s = strings.ReplaceAll(s, "_", "/")
	return base64.StdEncoding.DecodeString(s)
}
