// Package cache holds the read cache in front of the gateway. Entries are
// grouped by key prefix so a mutation can drop every view it affects.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Cache stores opaque values by key. Get returns nil, nil on a miss.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// DeletePrefix removes every key starting with one of prefixes.
	DeletePrefix(ctx context.Context, prefixes ...string) error
	Close() error
}

// Scope prefixes.
const (
	ScopeFeed      = "feed:"
	ScopeEmergency = "emergency"
	ScopeExchanges = "exchanges:"
	scopeDashboard = "dashboard:"
	scopeProfile   = "profile:"
)

// FeedKey identifies one filtered feed view.
func FeedKey(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(ScopeFeed)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s;", k, strings.ToLower(strings.TrimSpace(params.Get(k))))
	}
	return b.String()
}

// ExchangesScope covers every exchange view of userID.
func ExchangesScope(userID string) string { return ScopeExchanges + userID + ":" }

// DashboardScope covers userID's dashboard.
func DashboardScope(userID string) string { return scopeDashboard + userID + ":" }

// ProfileScope covers userID's profile.
func ProfileScope(userID string) string { return scopeProfile + userID + ":" }

// Load returns the cached value of key or fills it from load. Cache failures
// fall through to load.
func Load[T any](ctx context.Context, c Cache, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	if c != nil {
		if data, err := c.Get(ctx, key); err == nil && data != nil {
			var v T
			if json.Unmarshal(data, &v) == nil {
				return v, nil
			}
		}
	}
	v, err := load(ctx)
	if err != nil {
		return v, err
	}
	if c != nil {
		if data, err := json.Marshal(v); err == nil {
			_ = c.Set(ctx, key, data, ttl)
		}
	}
	return v, nil
}

// Invalidate drops scopes, ignoring a nil cache.
func Invalidate(ctx context.Context, c Cache, scopes ...string) error {
	if c == nil || len(scopes) == 0 {
		return nil
	}
	return c.DeletePrefix(ctx, scopes...)
}
