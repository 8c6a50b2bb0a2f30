package app

import (
	"context"
	"fmt"
	"time"

	"github.com/R3E-Network/mutualaid/internal/app/cache"
	"github.com/R3E-Network/mutualaid/internal/app/jobs"
	"github.com/R3E-Network/mutualaid/internal/app/metrics"
	"github.com/R3E-Network/mutualaid/internal/app/services/dashboard"
	"github.com/R3E-Network/mutualaid/internal/app/services/exchanges"
	"github.com/R3E-Network/mutualaid/internal/app/services/posts"
	"github.com/R3E-Network/mutualaid/internal/app/services/profiles"
	"github.com/R3E-Network/mutualaid/internal/app/services/trust"
	"github.com/R3E-Network/mutualaid/internal/app/services/verification"
	"github.com/R3E-Network/mutualaid/internal/app/storage"
	"github.com/R3E-Network/mutualaid/internal/app/system"
	"github.com/R3E-Network/mutualaid/internal/app/watch"
	"github.com/R3E-Network/mutualaid/internal/config"
	"github.com/R3E-Network/mutualaid/internal/gateway"
	"github.com/R3E-Network/mutualaid/internal/logging"
)

// Options tune the composed application. The zero value uses an in-process
// cache with a one minute TTL, watches changes and schedules no jobs.
type Options struct {
	Cache    cache.Cache
	CacheTTL time.Duration
	// Limiter, if set, is swept by the limiter cleanup job.
	Limiter jobs.LimiterCleaner
	Jobs    config.JobsConfig
	// DisableWatch skips the change subscription, e.g. for one-shot commands.
	DisableWatch bool
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logging.Logger

	Gateway gateway.Gateway
	Cache   cache.Cache
	Store   *storage.Store

	Posts        *posts.Service
	Exchanges    *exchanges.Service
	Profiles     *profiles.Service
	Dashboard    *dashboard.Service
	Verification *verification.Service
	Trust        *trust.Service

	Scheduler *jobs.Scheduler
	Watcher   *watch.Watcher
}

// New builds a fully initialised application on top of gw.
func New(gw gateway.Gateway, opts Options, log *logging.Logger) (*Application, error) {
	if gw == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if log == nil {
		log = logging.NewDefault("app")
	}
	if opts.Cache == nil {
		opts.Cache = cache.NewMemory()
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Minute
	}

	gw = gateway.Observe(gw, metrics.ObserveGateway)
	store := storage.New(gw)
	c := opts.Cache

	trustService := trust.New(store, log.Component("trust"))
	postService := posts.New(store, store, c, log.Component("posts"))
	postService.WithTTL(opts.CacheTTL)
	exchangeService := exchanges.New(store, store, store, trustService, c, log.Component("exchanges"))
	exchangeService.WithTTL(opts.CacheTTL)
	profileService := profiles.New(store, c, log.Component("profiles"))
	dashboardService := dashboard.New(store, store, c, log.Component("dashboard"))
	verificationService := verification.New(store, log.Component("verification"))

	manager := system.NewManager()

	var watcher *watch.Watcher
	if !opts.DisableWatch {
		watcher = watch.New(gw, c, log.Component("watch"))
		if err := manager.Register(watcher); err != nil {
			return nil, fmt.Errorf("register %s: %w", watcher.Name(), err)
		}
	}

	scheduler := jobs.New(log.Component("jobs"))
	if err := scheduler.Add(jobs.NameCatalogGauges, opts.Jobs.CatalogGauges, jobs.CatalogGauges(store)); err != nil {
		return nil, err
	}
	if opts.Limiter != nil {
		if err := scheduler.Add(jobs.NameLimiterCleanup, opts.Jobs.LimiterCleanup, jobs.LimiterCleanup(opts.Limiter, jobs.LimiterIdle)); err != nil {
			return nil, err
		}
	}
	if sweeper, ok := c.(jobs.Sweeper); ok {
		if err := scheduler.Add(jobs.NameCacheSweep, opts.Jobs.CacheSweep, jobs.CacheSweep(sweeper)); err != nil {
			return nil, err
		}
	}
	if err := manager.Register(scheduler); err != nil {
		return nil, fmt.Errorf("register %s: %w", scheduler.Name(), err)
	}

	return &Application{
		manager:      manager,
		log:          log,
		Gateway:      gw,
		Cache:        c,
		Store:        store,
		Posts:        postService,
		Exchanges:    exchangeService,
		Profiles:     profileService,
		Dashboard:    dashboardService,
		Verification: verificationService,
		Trust:        trustService,
		Scheduler:    scheduler,
		Watcher:      watcher,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Services lists registered lifecycle services in start order.
func (a *Application) Services() []string {
	return a.manager.Names()
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services and closes the cache.
func (a *Application) Stop(ctx context.Context) error {
	err := a.manager.Stop(ctx)
	if cerr := a.Cache.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
