package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedResolver wraps another Resolver with a Redis-backed cache so a
// resolved credential's BaseURL (and, for resolvers whose Mutator is a pure
// function of a cacheable secret, the secret itself) survives process
// restarts in a clustered deployment.
//
// Grounded on the teacher's use of github.com/redis/go-redis/v9 indirectly
// through Pulse's replicated maps (features/model/middleware/ratelimit.go);
// here it is used directly, without pulling in Pulse or the Goa service
// layer it is normally bootstrapped from.
//
// Only the static, provider-scoped API key is cached — not OAuth bearer
// tokens, which are short-lived and already carry their own refresh
// machinery in OAuthResolver. Callers wrap a StaticResolver (or an
// equivalent) with CachedResolver; wrapping an OAuthResolver is a
// programmer error since its tokens would be served stale past expiry.
type CachedResolver struct {
	inner Resolver
	rdb   *redis.Client
	ttl   time.Duration
}

type cachedEntry struct {
	Header  string `json:"header"`
	Value   string `json:"value"`
	BaseURL string `json:"base_url"`
}

// NewCachedResolver wraps inner with a Redis cache keyed by
// "agentcore:credential:<providerID>", expiring entries after ttl.
func NewCachedResolver(inner Resolver, rdb *redis.Client, ttl time.Duration) *CachedResolver {
	return &CachedResolver{inner: inner, rdb: rdb, ttl: ttl}
}

func (r *CachedResolver) ForProvider(ctx context.Context, providerID string) (Credential, error) {
	key := cacheKey(providerID)

	if raw, err := r.rdb.Get(ctx, key).Result(); err == nil {
		var entry cachedEntry
		if jsonErr := json.Unmarshal([]byte(raw), &entry); jsonErr == nil {
			return Credential{
				Mutator: func(req *http.Request) {
					req.Header.Set(entry.Header, entry.Value)
				},
				BaseURL: entry.BaseURL,
			}, nil
		}
	}

	cred, err := r.inner.ForProvider(ctx, providerID)
	if err != nil {
		return Credential{}, err
	}

	probe := &http.Request{Header: make(http.Header)}
	cred.Mutator(probe)
	header, value := firstHeader(probe.Header)
	if header != "" {
		entry := cachedEntry{Header: header, Value: value, BaseURL: cred.BaseURL}
		if payload, err := json.Marshal(entry); err == nil {
			_ = r.rdb.Set(ctx, key, payload, r.ttl).Err()
		}
	}
	return cred, nil
}

func cacheKey(providerID string) string {
	return fmt.Sprintf("agentcore:credential:%s", providerID)
}

func firstHeader(h http.Header) (name, value string) {
	for k, v := range h {
		if len(v) > 0 {
			return k, v[0]
		}
	}
	return "", ""
}
