package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	app "github.com/R3E-Network/mutualaid/internal/app"
	"github.com/R3E-Network/mutualaid/internal/app/httpapi"
	"github.com/R3E-Network/mutualaid/internal/config"
	"github.com/R3E-Network/mutualaid/internal/logging"
	"github.com/R3E-Network/mutualaid/internal/middleware"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func serve(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log := logging.New(logging.Config{Service: "mutualaid", Level: cfg.Log.Level, Format: cfg.Log.Format})
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret (SUPABASE_JWT_SECRET) is required to serve")
	}

	gw, closer, live, err := openGateway(ctx, cfg.Gateway, log)
	if err != nil {
		return err
	}
	defer closer.Close()

	c, err := openCache(ctx, cfg.Cache, log)
	if err != nil {
		return err
	}

	limiter := middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst, log.Component("ratelimit"))
	application, err := app.New(gw, app.Options{
		Cache:        c,
		CacheTTL:     cfg.Cache.TTL,
		Limiter:      limiter,
		Jobs:         cfg.Jobs,
		DisableWatch: !live,
	}, log)
	if err != nil {
		return err
	}
	if !live {
		log.Warn("change feed disabled; cached reads rely on TTL and local invalidation")
	}
	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start application: %w", err)
	}

	server := &http.Server{
		Addr: ":" + strconv.Itoa(cfg.Server.Port),
		Handler: httpapi.NewHandler(application, httpapi.Config{
			JWTSecret:   cfg.Auth.JWTSecret,
			SkipPaths:   cfg.Auth.SkipPaths,
			CORSOrigins: cfg.Server.CORSOrigins,
			Limiter:     limiter,
		}, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).WithField("services", application.Services()).Info("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var serveErr error
	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	case serveErr = <-errCh:
		log.WithError(serveErr).Error("server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("stop application")
	}
	return serveErr
}
