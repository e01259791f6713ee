package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/enzosv/mediumcrawler/internal/crawler"
	"github.com/enzosv/mediumcrawler/internal/crawler/queue"
	"github.com/enzosv/mediumcrawler/internal/crawler/ratelimit"
	"github.com/enzosv/mediumcrawler/internal/events"
	"github.com/enzosv/mediumcrawler/internal/model"
	"github.com/enzosv/mediumcrawler/internal/store"
	"github.com/enzosv/mediumcrawler/internal/upstream"
	"github.com/enzosv/mediumcrawler/pkg/config"
	"github.com/enzosv/mediumcrawler/pkg/database"
	apperrors "github.com/enzosv/mediumcrawler/pkg/errors"
	"github.com/enzosv/mediumcrawler/pkg/kafka"
	"github.com/enzosv/mediumcrawler/pkg/metrics"
	"github.com/enzosv/mediumcrawler/pkg/resilience"
)

// app holds what every command needs: the database, the store over it and
// the metrics registry.
type app struct {
	cfg      *config.Config
	db       *database.Client
	store    *store.Store
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	closers  []func() error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	var db *database.Client
	err := resilience.Retry(ctx, "database connect", resilience.RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 500 * time.Millisecond,
	}, func(ctx context.Context) error {
		var err error
		db, err = database.Open(ctx, cfg.Storage)
		return err
	})
	if err != nil {
		return nil, err
	}
	slog.Info("connected to database", "driver", db.Driver())

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &app{
		cfg:      cfg,
		db:       db,
		store:    store.New(db),
		registry: reg,
		metrics:  metrics.New(reg),
	}, nil
}

// prepare creates the schema if needed and registers the seed collections.
// Both steps are idempotent.
func (a *app) prepare(ctx context.Context) (int, error) {
	if err := a.store.Migrate(ctx); err != nil {
		return 0, err
	}
	seeds := make([]model.Subject, 0, len(a.cfg.Crawler.SeedCollections))
	for _, id := range a.cfg.Crawler.SeedCollections {
		seeds = append(seeds, model.Subject{ID: id, Kind: model.KindCollection})
	}
	if err := a.store.Seed(ctx, seeds); err != nil {
		return 0, err
	}
	return len(seeds), nil
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close runs registered closers in reverse order, then closes the database.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("close failed", "error", err)
		}
	}
	if err := a.db.Close(); err != nil {
		slog.Warn("closing database failed", "error", err)
	}
}

// eventSink starts a walk-event collector publishing to Kafka, or returns
// nil when Kafka is disabled. The collector is flushed on Close.
func (a *app) eventSink(ctx context.Context) crawler.EventSink {
	if !a.cfg.Kafka.Enabled {
		return nil
	}
	producer := kafka.NewProducer(a.cfg.Kafka, a.cfg.Kafka.Topics.CrawlEvents)
	collector := events.NewCollector(producer, 1000)
	collector.Start(ctx)
	a.onClose(producer.Close)
	a.onClose(func() error {
		collector.Close()
		return nil
	})
	return collector
}

func (a *app) orchestrator(sink crawler.EventSink) *crawler.Orchestrator {
	c := a.cfg.Crawler
	limiter := ratelimit.New(c.SleepDuration, ratelimit.WithObserver(a.metrics.ObserveRateLimitWait))

	clientOpts := []upstream.Option{
		upstream.WithMetrics(a.metrics),
		upstream.WithUserAgent(c.UserAgent),
	}
	if c.Breaker.Enabled {
		cb := resilience.NewCircuitBreaker("upstream", resilience.CircuitBreakerConfig{
			FailureThreshold: c.Breaker.FailureThreshold,
			ResetTimeout:     c.Breaker.ResetTimeout,
			// A 200 with an unparseable body means the upstream is up.
			IsFailure: func(err error) bool {
				return !errors.Is(err, apperrors.ErrMalformedPayload)
			},
			OnStateChange: func(name string, to resilience.State) {
				a.metrics.SetBreakerState(name, int(to))
			},
		})
		clientOpts = append(clientOpts, upstream.WithBreaker(cb))
	}

	opts := []crawler.Option{crawler.WithMetrics(a.metrics)}
	if sink != nil {
		opts = append(opts, crawler.WithEventSink(sink))
	}
	return crawler.New(
		upstream.NewClient(limiter, clientOpts...),
		a.store,
		queue.New(a.store, c.PreferHigherKinds),
		crawler.Config{
			RootURL:   c.RootURL,
			BatchSize: c.BatchSize,
			RunBudget: c.RunBudget,
			MaxPasses: c.MaxPasses,
		},
		opts...,
	)
}

func formatReport(r crawler.Report) string {
	return fmt.Sprintf(
		"crawl run %s: passes=%d walks=%d completed=%d failed=%d fetches=%d posts=%d subjects=%d duration=%s",
		r.RunID, r.Passes, r.Walks, r.Completed, r.Failed, r.Fetches, r.Posts, r.Subjects,
		r.Duration.Round(time.Millisecond),
	)
}
