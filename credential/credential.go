// Package credential implements the Credential Resolver described in
// spec.md §4.10: an abstract capability supplying a per-request header
// mutator and optional base URL override for a named provider. The engine
// core never learns how credentials are stored — it only asks a Resolver
// for a Mutator.
package credential

import (
	"context"
	"net/http"
)

// Mutator applies authentication to an outgoing request, e.g. setting an
// Authorization or x-api-key header.
type Mutator func(req *http.Request)

// Credential is what a Resolver hands back for one provider: a header
// mutator and, optionally, a base URL override (used by self-hosted
// gateways and Bedrock-style regional endpoints).
type Credential struct {
	Mutator Mutator
	BaseURL string
}

// Resolver resolves credentials for a provider ID ("anthropic", "openai",
// "bedrock", or a user-defined gateway name from the config file).
type Resolver interface {
	ForProvider(ctx context.Context, providerID string) (Credential, error)
}
