package credential

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
)

// OAuthResolver wraps an oauth2.TokenSource per provider, serializing
// concurrent refreshes so at most one refresh is ever in flight per
// provider — spec §5's "exactly one refresh in flight" requirement.
//
// Grounded on ivcap-works-ivcap-cli's cmd/qrlogin.go device-code flow,
// which also layers a refresh-token exchange on top of golang.org/x/oauth2;
// here the token source itself is supplied by the caller (it may be a
// device-code flow, a client-credentials flow, or any other oauth2.TokenSource)
// and this resolver only owns the per-provider single-flight serialization
// and header application.
type OAuthResolver struct {
	mu      sync.Mutex
	sources map[string]oauth2.TokenSource
	baseURL map[string]string

	// inflight guards concurrent Token() calls per provider so a session
	// fork or parallel tool dispatch never triggers two refreshes at once.
	inflight map[string]*sync.Mutex
}

// NewOAuthResolver builds an OAuthResolver from a map of providerID to a
// configured oauth2.TokenSource (already wrapping oauth2.ReuseTokenSource
// as needed by the caller).
func NewOAuthResolver(sources map[string]oauth2.TokenSource, baseURL map[string]string) *OAuthResolver {
	return &OAuthResolver{
		sources:  sources,
		baseURL:  baseURL,
		inflight: make(map[string]*sync.Mutex),
	}
}

func (r *OAuthResolver) ForProvider(ctx context.Context, providerID string) (Credential, error) {
	src, ok := r.sources[providerID]
	if !ok {
		return Credential{}, fmt.Errorf("credential: no oauth token source configured for provider %q", providerID)
	}

	lock := r.providerLock(providerID)
	lock.Lock()
	tok, err := src.Token()
	lock.Unlock()
	if err != nil {
		return Credential{}, fmt.Errorf("credential: oauth refresh for %q: %w", providerID, err)
	}

	return Credential{
		Mutator: func(req *http.Request) {
			tok.SetAuthHeader(req)
		},
		BaseURL: r.baseURL[providerID],
	}, nil
}

func (r *OAuthResolver) providerLock(providerID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.inflight[providerID]
	if !ok {
		lock = &sync.Mutex{}
		r.inflight[providerID] = lock
	}
	return lock
}
