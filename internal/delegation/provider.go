package delegation

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mcpauth/delegate/internal/verifier"
	"github.com/mcpauth/delegate/pkg/oauth"
)

// Provider implements the server-side Delegation Provider (§4.3): it
// protects an MCP handler with bearer-auth and serves the wellknown
// metadata endpoints a client needs to discover how to authenticate.
type Provider struct {
	Client               *oauth.Client
	TokenEndpoint        string
	Zone                 string
	MaxParallelExchanges int

	Middleware       *Middleware
	ResourcePath     string // mount path for the protected MCP handler, e.g. "/mcp"
	ResourceMetadata *verifier.ResourceMetadata
	ASMirror         *verifier.ASMetadataMirror
}

// App returns an http.Handler composed of the wellknown metadata
// endpoints, the bearer-auth middleware, and mcpHandler mounted on
// ResourcePath (§4.3 "App(mcpHandler)").
func (p *Provider) App(mcpHandler http.Handler) http.Handler {
	r := chi.NewRouter()

	metadataPath := "/.well-known/oauth-protected-resource"
	if trimmed := strings.Trim(p.ResourcePath, "/"); trimmed != "" {
		metadataPath += "/" + trimmed
	}
	r.Get(metadataPath, p.ResourceMetadata.ServeHTTP)
	if p.ASMirror != nil {
		r.Get("/.well-known/oauth-authorization-server", p.ASMirror.ServeHTTP)
	}

	protected := p.Middleware.Authenticate(mcpHandler)
	r.Handle(p.ResourcePath, protected)
	r.Handle(p.ResourcePath+"/*", protected)

	return r
}
