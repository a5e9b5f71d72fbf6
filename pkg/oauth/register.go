package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mcpauth/delegate/pkg/oautherr"
)

// DefaultClientName is used when a registration request doesn't specify one.
const DefaultClientName = "MCP Auth Coordinator"

// RegisterClient performs RFC 7591 Dynamic Client Registration against
// endpoint. Concurrent callers registering the same (endpoint, app name)
// pair coalesce into a single in-flight request (§5).
func (c *Client) RegisterClient(ctx context.Context, endpoint string, meta ClientMetadata) (*RegisteredClient, error) {
	if err := validateRegistrationMetadata(&meta); err != nil {
		return nil, err
	}

	key := endpoint + "|" + meta.ClientName
	result, err, _ := c.registrationGroup.Do(key, func() (interface{}, error) {
		return c.doRegisterClient(ctx, endpoint, meta)
	})
	if err != nil {
		return nil, err
	}
	return result.(*RegisteredClient), nil
}

func validateRegistrationMetadata(meta *ClientMetadata) error {
	if len(meta.RedirectURIs) == 0 {
		return oautherr.Config("RegisterClient", fmt.Errorf("at least one redirect URI is required"))
	}
	if meta.ClientName == "" {
		meta.ClientName = DefaultClientName
	}
	if len(meta.GrantTypes) == 0 {
		meta.GrantTypes = []string{"authorization_code"}
	}
	if len(meta.ResponseTypes) == 0 {
		meta.ResponseTypes = []string{"code"}
	}
	if meta.TokenEndpointAuthMethod == "" {
		meta.TokenEndpointAuthMethod = "none"
	}
	return nil
}

func (c *Client) doRegisterClient(ctx context.Context, endpoint string, meta ClientMetadata) (*RegisteredClient, error) {
	body, err := json.Marshal(meta)
	if err != nil {
		return nil, oautherr.Config("RegisterClient", fmt.Errorf("marshal registration request: %w", err))
	}

	resp, err := retryResult(ctx, c.retry, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(body)))
		if err != nil {
			return nil, oautherr.Config("RegisterClient", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if err := c.auth.Apply(req, endpoint); err != nil {
			return nil, err
		}

		r, err := c.httpClient.Do(req)
		if err != nil {
			return nil, oautherr.Network("RegisterClient", err)
		}
		if r.StatusCode != http.StatusOK && r.StatusCode != http.StatusCreated {
			defer r.Body.Close()
			errBody, _ := io.ReadAll(io.LimitReader(r.Body, maxResponseBodyBytes))
			return nil, classifyErrorResponse("RegisterClient", r.StatusCode, errBody, "invalid_client_metadata")
		}
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		return nil, oautherr.Network("RegisterClient", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, classifyErrorResponse("RegisterClient", resp.StatusCode, respBody, "invalid_client_metadata")
	}

	var out RegisteredClient
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, oautherr.Config("RegisterClient", fmt.Errorf("parse registration response: %w", err))
	}
	if out.ClientID == "" {
		return nil, oautherr.Config("RegisterClient", fmt.Errorf("registration response missing client_id"))
	}
	return &out, nil
}
