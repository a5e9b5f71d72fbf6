package delegation

import (
	"context"
	"fmt"
	"sync"

	"github.com/mcpauth/delegate/pkg/oauth"
	"github.com/mcpauth/delegate/pkg/oautherr"
)

// DefaultMaxParallelExchanges bounds GrantMulti's worker pool when the
// caller doesn't configure one explicitly.
const DefaultMaxParallelExchanges = 8

// Grant obtains a downstream access token scoped to resource by exchanging
// the inbound bearer token as subject_token (§4.3 "Exchange semantics for
// Grant"). Exchange failures are recorded on the returned AccessContext
// rather than returned as an error: tools must check HasErrors before
// using a token. Only a missing inbound token is a hard error, recorded as
// the AccessContext's global error, since there is then nothing to exchange.
func (p *Provider) Grant(ctx context.Context, rawInboundToken, resource string) *AccessContext {
	ac := newAccessContext()
	p.exchangeInto(ctx, ac, rawInboundToken, resource)
	return ac
}

// GrantMulti runs one exchange per resource with bounded parallelism
// (§4.3 "Concurrency for GrantMulti"). The returned AccessContext is fully
// populated before GrantMulti returns; per-resource failures are
// independent and don't cancel sibling exchanges.
func (p *Provider) GrantMulti(ctx context.Context, rawInboundToken string, resources []string) *AccessContext {
	ac := newAccessContext()
	if rawInboundToken == "" {
		ac.setGlobalError(oautherr.Config("GrantMulti", fmt.Errorf("no inbound token to exchange")))
		return ac
	}

	maxParallel := p.MaxParallelExchanges
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallelExchanges
	}
	if maxParallel > len(resources) {
		maxParallel = len(resources)
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, maxParallel)

	for _, resource := range resources {
		wg.Add(1)
		go func(resource string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			single := newAccessContext()
			p.exchangeInto(ctx, single, rawInboundToken, resource)

			mu.Lock()
			if token, ok := single.Token(resource); ok {
				ac.setOk(resource, token)
			} else {
				ac.setErr(resource, single.GetResourceErrors(resource))
			}
			mu.Unlock()
		}(resource)
	}
	wg.Wait()

	return ac
}

// exchangeInto performs one resource's exchange and records the outcome on
// ac. Retriable transport failures are already retried inside the OAuth
// client; a failure surfacing here is terminal for this call.
func (p *Provider) exchangeInto(ctx context.Context, ac *AccessContext, rawInboundToken, resource string) {
	if rawInboundToken == "" {
		ac.setGlobalError(oautherr.Config("Grant", fmt.Errorf("no inbound token to exchange")))
		return
	}

	result, err := p.Client.ExchangeToken(ctx, oauth.ExchangeRequest{
		TokenEndpoint:    p.TokenEndpoint,
		Zone:             p.Zone,
		GrantType:        oauth.GrantTypeTokenExchange,
		SubjectToken:     oauth.Secret(rawInboundToken),
		SubjectTokenType: oauth.TokenTypeAccessToken,
		Resource:         resource,
	})
	if err != nil {
		ac.setErr(resource, err)
		return
	}
	ac.setOk(resource, &result.Token)
}
