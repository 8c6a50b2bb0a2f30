package main

import (
	"context"
	"fmt"
	"io"

	"github.com/R3E-Network/mutualaid/internal/app/cache"
	"github.com/R3E-Network/mutualaid/internal/config"
	"github.com/R3E-Network/mutualaid/internal/gateway"
	"github.com/R3E-Network/mutualaid/internal/gateway/memory"
	"github.com/R3E-Network/mutualaid/internal/gateway/postgres"
	supabasegw "github.com/R3E-Network/mutualaid/internal/gateway/supabase"
	"github.com/R3E-Network/mutualaid/internal/logging"
	"github.com/R3E-Network/mutualaid/supabase/client"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openGateway builds the configured gateway. The closer releases its
// connections. live reports whether the backend can stream changes.
func openGateway(ctx context.Context, cfg config.GatewayConfig, log *logging.Logger) (gw gateway.Gateway, closer io.Closer, live bool, err error) {
	switch cfg.Backend {
	case config.BackendSupabase:
		c, err := client.New(client.Config{
			URL:        cfg.Supabase.URL,
			APIKey:     cfg.Supabase.ServiceKey,
			Timeout:    cfg.Supabase.Timeout,
			Resilience: true,
			Retry:      client.Retry{MaxRetries: cfg.Supabase.MaxRetries},
			Breaker: client.BreakerConfig{
				OnStateChange: func(from, to client.BreakerState) {
					log.WithField("from", from).WithField("to", to).Warn("supabase circuit breaker changed state")
				},
			},
		})
		if err != nil {
			return nil, nil, false, fmt.Errorf("supabase client: %w", err)
		}
		var rt *client.RealtimeClient
		if cfg.Supabase.Realtime {
			rt = client.NewRealtimeClient(cfg.Supabase.URL, cfg.Supabase.ServiceKey)
		}
		g := supabasegw.New(c, rt)
		log.WithField("url", cfg.Supabase.URL).WithField("realtime", rt != nil).Info("using supabase gateway")
		return g, g, rt != nil, nil
	case config.BackendPostgres:
		g, err := postgres.Open(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return nil, nil, false, err
		}
		log.Info("using postgres gateway")
		return g, g, true, nil
	case config.BackendMemory:
		log.Warn("using in-memory gateway; data is lost on exit")
		return memory.New(), nopCloser{}, true, nil
	default:
		return nil, nil, false, fmt.Errorf("unknown gateway backend %q", cfg.Backend)
	}
}

func openCache(ctx context.Context, cfg config.CacheConfig, log *logging.Logger) (cache.Cache, error) {
	switch cfg.Backend {
	case config.CacheRedis:
		c, err := cache.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis cache: %w", err)
		}
		log.Info("using redis cache")
		return c, nil
	case config.CacheMemory, "":
		return cache.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
