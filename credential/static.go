package credential

import (
	"context"
	"fmt"
	"net/http"
)

// StaticResolver hands back a fixed API key header per provider, with no
// external dependency — the simplest of the three concrete resolvers named
// in spec §4.10.
type StaticResolver struct {
	keys    map[string]string
	header  map[string]string
	baseURL map[string]string
}

// NewStaticResolver builds a StaticResolver from a map of providerID to API
// key. header optionally overrides the default "x-api-key" header name per
// provider (e.g. OpenAI-compatible gateways expect "Authorization: Bearer
// ...").
func NewStaticResolver(keys map[string]string, header map[string]string, baseURL map[string]string) *StaticResolver {
	return &StaticResolver{keys: keys, header: header, baseURL: baseURL}
}

func (r *StaticResolver) ForProvider(_ context.Context, providerID string) (Credential, error) {
	key, ok := r.keys[providerID]
	if !ok {
		return Credential{}, fmt.Errorf("credential: no static key configured for provider %q", providerID)
	}
	headerName := r.header[providerID]
	if headerName == "" {
		headerName = "x-api-key"
	}
	value := key
	if headerName == "Authorization" {
		value = "Bearer " + key
	}
	return Credential{
		Mutator: func(req *http.Request) {
			req.Header.Set(headerName, value)
		},
		BaseURL: r.baseURL[providerID],
	}, nil
}
