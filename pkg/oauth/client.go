package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/singleflight"

	"github.com/mcpauth/delegate/pkg/oautherr"
)

// DefaultHTTPTimeout is the default per-request deadline (§5 "Timeouts").
const DefaultHTTPTimeout = 30 * time.Second

// maxResponseBodyBytes caps how much of an HTTP response body is read, to
// bound memory use against a misbehaving or malicious server.
const maxResponseBodyBytes = 1 << 20 // 1MB

type metadataCacheEntry struct {
	metadata  *Metadata
	fetchedAt time.Time
}

// EndpointOverrides lets a caller pin specific endpoint URLs, taking
// precedence over discovery and over the hard-coded defaults (§4.1
// "Endpoint resolution rule"). Only TokenEndpoint and RegistrationEndpoint
// are consulted, through ResolveTokenEndpoint and
// ResolveRegistrationEndpoint; the other fields are not read by this package.
type EndpointOverrides struct {
	AuthorizationEndpoint string
	TokenEndpoint         string
	RegistrationEndpoint  string
	IntrospectionEndpoint string
	RevocationEndpoint    string
	PAREndpoint           string
}

// RetryPolicy configures the exponential-backoff-with-jitter retry loop
// applied to every retriable error class (§4.1 "Retries").
type RetryPolicy struct {
	MaxAttempts uint
	MaxDelay    time.Duration
}

// DefaultRetryPolicy is used when a Client is constructed without an
// explicit WithRetryPolicy option.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 4, MaxDelay: 10 * time.Second}

// Client implements the OAuth 2.0 Client Layer (§4.1): discovery,
// dynamic client registration, token exchange, introspection, revocation
// and PAR, each going through one shared HTTP-call-and-classify path.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	auth       AuthStrategy
	overrides  EndpointOverrides
	discoverAS bool
	retry      RetryPolicy

	metadataMu    sync.RWMutex
	metadataCache map[string]*metadataCacheEntry
	metadataTTL   time.Duration
	metadataGroup singleflight.Group

	registrationGroup singleflight.Group
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client (e.g. one with a custom
// transport for testing or mTLS).
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithMetadataCacheTTL sets the authorization-server metadata discovery TTL.
func WithMetadataCacheTTL(ttl time.Duration) Option {
	return func(c *Client) { c.metadataTTL = ttl }
}

// WithAuthStrategy sets the client authentication strategy applied to
// registration, token, introspection, revocation and PAR requests.
func WithAuthStrategy(strategy AuthStrategy) Option {
	return func(c *Client) { c.auth = strategy }
}

// WithEndpointOverrides pins explicit endpoint URLs, bypassing discovery
// for the operations they cover.
func WithEndpointOverrides(overrides EndpointOverrides) Option {
	return func(c *Client) { c.overrides = overrides }
}

// WithDiscoveryDisabled records that RFC 8414 discovery is turned off.
// DiscoverMetadata does not consult this setting and still fetches the
// metadata document.
func WithDiscoveryDisabled() Option {
	return func(c *Client) { c.discoverAS = false }
}

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *Client) { c.retry = policy }
}

// NewClient constructs an OAuth Client Layer client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient:    &http.Client{Timeout: DefaultHTTPTimeout},
		logger:        slog.Default(),
		auth:          NoneStrategy{},
		discoverAS:    true,
		retry:         DefaultRetryPolicy,
		metadataCache: make(map[string]*metadataCacheEntry),
		metadataTTL:   DefaultDiscoveryTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DiscoverMetadata fetches and caches RFC 8414 authorization server
// metadata for a zone, falling back to the OpenID Connect discovery
// document when the RFC 8414 document cannot be fetched. Concurrent
// callers for the same issuer coalesce into a single in-flight fetch (§5
// "Shared mutable state").
func (c *Client) DiscoverMetadata(ctx context.Context, issuer string) (*Metadata, error) {
	issuer = strings.TrimSuffix(issuer, "/")

	if m := c.cachedMetadata(issuer); m != nil {
		return m, nil
	}

	result, err, _ := c.metadataGroup.Do(issuer, func() (interface{}, error) {
		if m := c.cachedMetadata(issuer); m != nil {
			return m, nil
		}
		return c.doDiscoverMetadata(ctx, issuer)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Metadata), nil
}

func (c *Client) cachedMetadata(issuer string) *Metadata {
	c.metadataMu.RLock()
	defer c.metadataMu.RUnlock()
	if entry, ok := c.metadataCache[issuer]; ok && time.Since(entry.fetchedAt) < c.metadataTTL {
		return entry.metadata
	}
	return nil
}

func (c *Client) doDiscoverMetadata(ctx context.Context, issuer string) (*Metadata, error) {
	wellKnown := issuer + "/.well-known/oauth-authorization-server"
	metadata, err := retryResult(ctx, c.retry, func() (*Metadata, error) {
		return c.fetchMetadata(ctx, wellKnown)
	})
	if err != nil {
		oidcConfig := issuer + "/.well-known/openid-configuration"
		metadata, err = retryResult(ctx, c.retry, func() (*Metadata, error) {
			return c.fetchMetadata(ctx, oidcConfig)
		})
	}
	if err != nil {
		return nil, oautherr.Config("DiscoverMetadata", fmt.Errorf("discover metadata for %s: %w", issuer, err))
	}
	c.cacheMetadata(issuer, metadata)
	return metadata, nil
}

func (c *Client) fetchMetadata(ctx context.Context, metadataURL string) (*Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadataURL, nil)
	if err != nil {
		return nil, oautherr.Config("fetchMetadata", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, oautherr.Network("fetchMetadata", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		return nil, oautherr.Network("fetchMetadata", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, oautherr.HTTP("fetchMetadata", resp.StatusCode, fmt.Errorf("metadata endpoint returned status %d", resp.StatusCode))
	}

	var metadata Metadata
	if err := json.Unmarshal(body, &metadata); err != nil {
		return nil, oautherr.Config("fetchMetadata", fmt.Errorf("parse metadata: %w", err))
	}
	return &metadata, nil
}

func (c *Client) cacheMetadata(issuer string, metadata *Metadata) {
	c.metadataMu.Lock()
	c.metadataCache[issuer] = &metadataCacheEntry{metadata: metadata, fetchedAt: time.Now()}
	c.metadataMu.Unlock()
	c.logger.Debug("cached authorization server metadata", "issuer", issuer, "token_endpoint", metadata.TokenEndpoint)
}

// ClearMetadataCache empties the discovery cache; used by tests and by
// callers that need to force a re-fetch.
func (c *Client) ClearMetadataCache() {
	c.metadataMu.Lock()
	c.metadataCache = make(map[string]*metadataCacheEntry)
	c.metadataMu.Unlock()
}

// resolveEndpoint implements §4.1's strict precedence: explicit override,
// then discovered metadata, then a default built relative to the zone base
// URL. Returns a ConfigError if nothing resolves.
func (c *Client) resolveEndpoint(op, override, discovered, base, defaultPath string) (string, error) {
	if override != "" {
		return override, nil
	}
	if discovered != "" {
		return discovered, nil
	}
	if base != "" {
		return strings.TrimSuffix(base, "/") + defaultPath, nil
	}
	return "", oautherr.Config(op, fmt.Errorf("no endpoint could be resolved (no override, no discovery result, no base URL)"))
}

// ResolveTokenEndpoint applies §4.1's endpoint-resolution precedence for the
// token endpoint: an explicit WithEndpointOverrides value wins, then the
// endpoint discovered via metadata (if any), then a default path appended to
// zone itself. Callers holding already-discovered Metadata should normally
// prefer metadata.TokenEndpoint directly; this exists for the case where
// no metadata is at hand (metadata is nil) and a caller still wants the
// configured precedence applied rather than hard failing.
func (c *Client) ResolveTokenEndpoint(zone string, metadata *Metadata) (string, error) {
	var discovered string
	if metadata != nil {
		discovered = metadata.TokenEndpoint
	}
	return c.resolveEndpoint("ResolveTokenEndpoint", c.overrides.TokenEndpoint, discovered, zone, "/oauth2/token")
}

// ResolveRegistrationEndpoint applies the same precedence for the dynamic
// client registration endpoint (RFC 7591).
func (c *Client) ResolveRegistrationEndpoint(zone string, metadata *Metadata) (string, error) {
	var discovered string
	if metadata != nil {
		discovered = metadata.RegistrationEndpoint
	}
	return c.resolveEndpoint("ResolveRegistrationEndpoint", c.overrides.RegistrationEndpoint, discovered, zone, "/oauth2/register")
}

// BuildAuthorizationURL constructs an OAuth 2.1 authorization-code-with-PKCE
// request URL.
func BuildAuthorizationURL(authEndpoint, clientID, redirectURI, state, scope, resource string, pkce *PKCEChallenge) (string, error) {
	u, err := url.Parse(authEndpoint)
	if err != nil {
		return "", oautherr.Config("BuildAuthorizationURL", fmt.Errorf("invalid authorization endpoint: %w", err))
	}

	q := u.Query()
	q.Set("response_type", "code")
	q.Set("client_id", clientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("state", state)
	if scope != "" {
		q.Set("scope", scope)
	}
	if resource != "" {
		q.Set("resource", resource)
	}
	if pkce != nil {
		q.Set("code_challenge", pkce.CodeChallenge)
		q.Set("code_challenge_method", pkce.CodeChallengeMethod)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// retryResult runs fn under the configured retry policy, retrying only on
// DomainErrors whose class is retriable (§4.1, §8 property 8). Non-retriable
// errors and context cancellation abort immediately.
func retryResult[T any](ctx context.Context, policy RetryPolicy, fn func() (T, error)) (T, error) {
	op := func() (T, error) {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		var de *oautherr.DomainError
		if !isDomainError(err, &de) || !de.Retriable() {
			return v, backoff.Permanent(err)
		}
		return v, err
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(policy.MaxDelay*time.Duration(policy.MaxAttempts)),
		backoff.WithMaxTries(policy.MaxAttempts),
	)
}

func isDomainError(err error, out **oautherr.DomainError) bool {
	de, ok := err.(*oautherr.DomainError)
	if ok {
		*out = de
	}
	return ok
}
