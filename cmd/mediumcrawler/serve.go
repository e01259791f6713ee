package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/enzosv/mediumcrawler/internal/api/cache"
	"github.com/enzosv/mediumcrawler/internal/api/handler"
	"github.com/enzosv/mediumcrawler/internal/api/ratelimit"
	"github.com/enzosv/mediumcrawler/internal/api/router"
	"github.com/enzosv/mediumcrawler/internal/crawler"
	"github.com/enzosv/mediumcrawler/internal/events"
	"github.com/enzosv/mediumcrawler/internal/store"
	"github.com/enzosv/mediumcrawler/pkg/health"
	"github.com/enzosv/mediumcrawler/pkg/kafka"
	"github.com/enzosv/mediumcrawler/pkg/metrics"
	pkgredis "github.com/enzosv/mediumcrawler/pkg/redis"
)

func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the popular-posts API",
		Long: `Serve starts the read API, the health endpoints and, when enabled, the
Prometheus metrics server. With --crawl the process also runs a crawl on
start and every crawler.interval afterwards.

When Redis is enabled the popular list is cached there. When Kafka is
enabled as well, walk events that report new posts drop that cache.`,
		RunE: runServeCmd,
	}
	cmd.Flags().Bool("crawl", false, "also run the crawler on crawler.interval")
	return cmd
}

func runServeCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	withCrawl, err := cmd.Flags().GetBool("crawl")
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	if _, err := a.prepare(ctx); err != nil {
		return err
	}

	checker := health.NewChecker()
	checker.Register("database", health.PingCheck(a.store, 2*time.Second, false))
	if withCrawl && cfg.Crawler.Interval > 0 {
		checker.Register("crawl", health.FreshnessCheck(a.store.LastCrawl, 3*cfg.Crawler.Interval, nil))
	}

	var backend cache.Backend
	if cfg.Redis.Enabled {
		rc, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, serving without response cache", "error", err)
		} else {
			a.onClose(rc.Close)
			backend = rc
			checker.Register("redis", health.PingCheck(rc, 2*time.Second, true))
		}
	}
	popular := cache.New(backend, cfg.Redis.CacheTTL, a.metrics)

	var limiter *ratelimit.Limiter
	if cfg.API.ContributeRateLimit > 0 {
		limiter = ratelimit.New(cfg.API.ContributeRateLimit, time.Minute)
		defer limiter.Stop()
	}

	h := handler.New(a.store, popular, handler.Config{
		Policy: store.PopularPolicy{
			ClapThreshold:      cfg.API.ClapThreshold,
			DailyClapThreshold: cfg.API.DailyClapThreshold,
		},
		MaxBodyBytes: cfg.API.MaxBodyBytes,
	}, a.metrics)

	server := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router.New(h, router.Options{
			CacheMaxAge:    cfg.API.CacheMaxAge,
			RequestTimeout: cfg.Server.RequestTimeout,
			Limiter:        limiter,
			Metrics:        a.metrics,
			Health:         checker,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Enabled {
		g.Go(func() error {
			return metrics.Serve(gctx, fmt.Sprintf(":%d", cfg.Metrics.Port), a.registry, cfg.Server.ShutdownTimeout)
		})
	}

	g.Go(func() error {
		slog.Info("api listening", "addr", server.Addr, "crawl", withCrawl)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down api")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if withCrawl {
		orch := a.orchestrator(a.eventSink(gctx))
		g.Go(func() error {
			crawler.NewScheduler(orch, cfg.Crawler.Interval).Start(gctx)
			return nil
		})
	}

	if cfg.Kafka.Enabled && backend != nil {
		consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.CrawlEvents,
			events.TypeWalkFinished, events.InvalidateOnNewPosts(popular),
			kafka.WithHandlerRetry(3, 250*time.Millisecond))
		g.Go(func() error {
			return consumer.Start(gctx)
		})
	}

	err = g.Wait()
	slog.Info("mediumcrawler stopped")
	return err
}
