package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/mcpauth/delegate/pkg/oautherr"
)

// oauthErrorBody is the RFC 6749 §5.2 error response shape.
type oauthErrorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ErrorURI         string `json:"error_uri"`
}

// classifyErrorResponse converts a non-2xx HTTP response into the right
// DomainError class: an RFC 6749 error body becomes a ProtocolError (or
// defaultCode-tagged protocol error if the body doesn't parse), otherwise
// it's an HttpError carrying the status for retriability classification.
func classifyErrorResponse(op string, status int, body []byte, defaultCode string) error {
	var eb oauthErrorBody
	if json.Unmarshal(body, &eb) == nil && eb.Error != "" {
		return oautherr.Protocol(op, eb.Error, eb.ErrorDescription, eb.ErrorURI)
	}
	if defaultCode != "" && (status == http.StatusBadRequest || status == http.StatusUnprocessableEntity) {
		return oautherr.Protocol(op, defaultCode, string(body), "")
	}
	return oautherr.HTTP(op, status, fmt.Errorf("request failed with status %d", status))
}

// ExchangeRequest is the input to ExchangeToken, covering RFC 8693 token
// exchange, RFC 6749 authorization-code, refresh-token and client-credential
// grants through one shared call shape (§2 "Synchronous and asynchronous
// variants share one protocol definition").
type ExchangeRequest struct {
	TokenEndpoint string
	Zone          string // passed to the AuthStrategy

	GrantType string // defaults to token-exchange if SubjectToken is set

	// RFC 8693 token exchange fields.
	SubjectToken       Secret
	SubjectTokenType   string
	ActorToken         Secret
	ActorTokenType     string
	Resource           string
	Audience           string
	Scope              string
	RequestedTokenType string

	// RFC 6749 authorization_code fields.
	Code         string
	RedirectURI  string
	ClientID     string
	CodeVerifier Secret

	// RFC 6749 refresh_token field.
	RefreshToken Secret
}

// ExchangeResult is the response to ExchangeToken, covering both a plain
// Token (for authorization_code/refresh_token) and the RFC 8693
// issued_token_type metadata.
type ExchangeResult struct {
	Token
	IssuedTokenType string `json:"issued_token_type,omitempty"`
}

// ExchangeToken performs a POST to the token endpoint for any of the grant
// types above (§4.1 "exchange_token").
func (c *Client) ExchangeToken(ctx context.Context, req ExchangeRequest) (*ExchangeResult, error) {
	data := url.Values{}
	grantType := req.GrantType
	switch {
	case grantType != "":
	case req.Code != "":
		grantType = "authorization_code"
	case !req.RefreshToken.IsEmpty():
		grantType = "refresh_token"
	case !req.SubjectToken.IsEmpty():
		grantType = GrantTypeTokenExchange
	default:
		return nil, oautherr.Config("ExchangeToken", fmt.Errorf("unable to determine grant_type from request"))
	}
	data.Set("grant_type", grantType)

	switch grantType {
	case "authorization_code":
		data.Set("code", req.Code)
		data.Set("redirect_uri", req.RedirectURI)
		data.Set("client_id", req.ClientID)
		data.Set("code_verifier", req.CodeVerifier.Value())
		if req.Resource != "" {
			data.Set("resource", req.Resource)
		}
	case "refresh_token":
		data.Set("refresh_token", req.RefreshToken.Value())
		if req.ClientID != "" {
			data.Set("client_id", req.ClientID)
		}
	case GrantTypeTokenExchange:
		data.Set("subject_token", req.SubjectToken.Value())
		subjectType := req.SubjectTokenType
		if subjectType == "" {
			subjectType = TokenTypeAccessToken
		}
		data.Set("subject_token_type", subjectType)
		if !req.ActorToken.IsEmpty() {
			data.Set("actor_token", req.ActorToken.Value())
			data.Set("actor_token_type", req.ActorTokenType)
		}
		if req.Resource != "" {
			data.Set("resource", req.Resource)
		}
		if req.Audience != "" {
			data.Set("audience", req.Audience)
		}
		if req.Scope != "" {
			data.Set("scope", req.Scope)
		}
		if req.RequestedTokenType != "" {
			data.Set("requested_token_type", req.RequestedTokenType)
		}
	}

	result, err := retryResult(ctx, c.retry, func() (*ExchangeResult, error) {
		return c.doTokenRequest(ctx, req.TokenEndpoint, req.Zone, data)
	})
	if err != nil {
		if grantType == GrantTypeTokenExchange {
			if code := oautherr.ProtocolCode(err); code != "" {
				return nil, oautherr.TokenExchange("ExchangeToken", code, err.Error(), req.Resource)
			}
		}
		return nil, err
	}
	return result, nil
}

func (c *Client) doTokenRequest(ctx context.Context, tokenEndpoint, zone string, data url.Values) (*ExchangeResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, oautherr.Config("doTokenRequest", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")
	if err := c.auth.Apply(httpReq, zone); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, oautherr.Network("doTokenRequest", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		return nil, oautherr.Network("doTokenRequest", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyErrorResponse("doTokenRequest", resp.StatusCode, body, "invalid_grant")
	}

	var result ExchangeResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, oautherr.Config("doTokenRequest", fmt.Errorf("parse token response: %w", err))
	}
	result.SetExpiresAtFromExpiresIn()
	return &result, nil
}

// IntrospectionResult is an RFC 7662 introspection response, restricted to
// the fields the core consumes.
type IntrospectionResult struct {
	Active    bool     `json:"active"`
	Scope     string   `json:"scope,omitempty"`
	ClientID  string   `json:"client_id,omitempty"`
	Subject   string   `json:"sub,omitempty"`
	Audience  []string `json:"aud,omitempty"`
	Issuer    string   `json:"iss,omitempty"`
	ExpiresAt int64    `json:"exp,omitempty"`
}

// Introspect performs RFC 7662 token introspection.
func (c *Client) Introspect(ctx context.Context, endpoint, zone string, token Secret, hint string) (*IntrospectionResult, error) {
	data := url.Values{"token": {token.Value()}}
	if hint != "" {
		data.Set("token_type_hint", hint)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, oautherr.Config("Introspect", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if err := c.auth.Apply(req, zone); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, oautherr.Network("Introspect", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		return nil, oautherr.Network("Introspect", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, oautherr.HTTP("Introspect", resp.StatusCode, fmt.Errorf("introspection failed with status %d", resp.StatusCode))
	}

	var result IntrospectionResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, oautherr.Config("Introspect", fmt.Errorf("parse introspection response: %w", err))
	}
	return &result, nil
}

// Revoke performs RFC 7009 token revocation. Per §8 property 10, revoking
// an already-revoked or unknown token is success: only a transport-level
// failure or a 5xx response is surfaced as an error.
func (c *Client) Revoke(ctx context.Context, endpoint, zone string, token Secret, hint string) error {
	data := url.Values{"token": {token.Value()}}
	if hint != "" {
		data.Set("token_type_hint", hint)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return oautherr.Config("Revoke", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if err := c.auth.Apply(req, zone); err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return oautherr.Network("Revoke", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBodyBytes))

	// RFC 7009 §2.2: the AS responds 200 whether or not the token was valid.
	if resp.StatusCode >= 500 {
		return oautherr.HTTP("Revoke", resp.StatusCode, fmt.Errorf("revocation endpoint returned status %d", resp.StatusCode))
	}
	return nil
}

// PARRequest is an RFC 9126 Pushed Authorization Request.
type PARRequest struct {
	ClientID            string
	RedirectURI         string
	ResponseType        string
	Scope               string
	State               string
	Resource            string
	CodeChallenge       string
	CodeChallengeMethod string
}

// PARResult is the RFC 9126 response: a request_uri to redirect the user
// agent to in place of the full query string.
type PARResult struct {
	RequestURI string `json:"request_uri"`
	ExpiresIn  int    `json:"expires_in"`
}

// PushAuthorizationRequest performs RFC 9126 PAR.
func (c *Client) PushAuthorizationRequest(ctx context.Context, endpoint, zone string, req PARRequest) (*PARResult, error) {
	responseType := req.ResponseType
	if responseType == "" {
		responseType = "code"
	}
	data := url.Values{
		"client_id":     {req.ClientID},
		"redirect_uri":  {req.RedirectURI},
		"response_type": {responseType},
		"state":         {req.State},
	}
	if req.Scope != "" {
		data.Set("scope", req.Scope)
	}
	if req.Resource != "" {
		data.Set("resource", req.Resource)
	}
	if req.CodeChallenge != "" {
		data.Set("code_challenge", req.CodeChallenge)
		data.Set("code_challenge_method", req.CodeChallengeMethod)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, oautherr.Config("PushAuthorizationRequest", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")
	if err := c.auth.Apply(httpReq, zone); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, oautherr.Network("PushAuthorizationRequest", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		return nil, oautherr.Network("PushAuthorizationRequest", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, classifyErrorResponse("PushAuthorizationRequest", resp.StatusCode, body, "invalid_request")
	}

	var result PARResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, oautherr.Config("PushAuthorizationRequest", fmt.Errorf("parse PAR response: %w", err))
	}
	return &result, nil
}
