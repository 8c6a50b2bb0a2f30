package jobs

import (
	"context"
	"time"

	"github.com/R3E-Network/mutualaid/internal/app/metrics"
	"github.com/R3E-Network/mutualaid/internal/app/storage"
)

// Job names.
const (
	NameLimiterCleanup = "limiter-cleanup"
	NameCatalogGauges  = "catalog-gauges"
	NameCacheSweep     = "cache-sweep"
)

// LimiterIdle is how long a caller's rate limiter survives without traffic.
const LimiterIdle = 30 * time.Minute

// LimiterCleaner evicts idle rate limiters.
type LimiterCleaner interface {
	Cleanup(maxIdle time.Duration) int
}

// Sweeper drops expired cache entries.
type Sweeper interface {
	Sweep() int
}

// LimiterCleanup evicts limiters idle for longer than maxIdle.
func LimiterCleanup(rl LimiterCleaner, maxIdle time.Duration) Func {
	return func(context.Context) error {
		rl.Cleanup(maxIdle)
		return nil
	}
}

// CatalogGauges publishes platform-wide counts as gauges.
func CatalogGauges(store storage.StatsStore) Func {
	return func(ctx context.Context) error {
		c, err := store.CatalogCounts(ctx)
		if err != nil {
			return err
		}
		metrics.SetCatalogRows("active_posts", c.ActivePosts)
		metrics.SetCatalogRows("emergency_posts", c.EmergencyPosts)
		metrics.SetCatalogRows("open_exchanges", c.OpenExchanges)
		return nil
	}
}

// CacheSweep drops expired entries from an in-process cache.
func CacheSweep(s Sweeper) Func {
	return func(context.Context) error {
		s.Sweep()
		return nil
	}
}
