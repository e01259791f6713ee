// Package crawler drives incremental crawl runs. A run repeatedly takes the
// stalest subjects from the queue and walks each one's paginated stream to
// the end, committing every page as it goes, until its wall-clock budget or
// pass limit is used up.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/enzosv/mediumcrawler/internal/crawler/cursor"
	"github.com/enzosv/mediumcrawler/internal/events"
	"github.com/enzosv/mediumcrawler/internal/model"
	"github.com/enzosv/mediumcrawler/internal/upstream"
	apperrors "github.com/enzosv/mediumcrawler/pkg/errors"
	applog "github.com/enzosv/mediumcrawler/pkg/logger"
	"github.com/enzosv/mediumcrawler/pkg/metrics"
	"github.com/enzosv/mediumcrawler/pkg/tracing"
)

type Fetcher interface {
	FetchPage(ctx context.Context, url string) (*upstream.Payload, error)
}

type BatchStore interface {
	UpsertBatch(ctx context.Context, b model.Batch) error
}

type Queue interface {
	NextBatch(ctx context.Context, n int) ([]model.Subject, error)
	MarkCrawled(ctx context.Context, s model.Subject) error
}

// EventSink receives a summary of every walk. *events.Collector satisfies it.
type EventSink interface {
	Track(event events.WalkEvent)
}

type Config struct {
	RootURL   string
	BatchSize int
	// RunBudget is checked between subjects and between passes. A walk in
	// progress is never interrupted by it.
	RunBudget time.Duration
	// MaxPasses caps the number of queue passes per run; 0 means no cap.
	MaxPasses int
}

// Report summarises a run.
type Report struct {
	RunID     string
	Passes    int
	Walks     int
	Completed int
	Failed    int
	Fetches   int
	Batches   int
	Posts     int
	Subjects  int
	Duration  time.Duration
}

type Orchestrator struct {
	fetcher Fetcher
	store   BatchStore
	queue   Queue
	sink    EventSink
	metrics *metrics.Metrics
	cfg     Config
	now     func() time.Time
	logger  *slog.Logger
}

type Option func(*Orchestrator)

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func WithEventSink(sink EventSink) Option {
	return func(o *Orchestrator) { o.sink = sink }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func New(fetcher Fetcher, store BatchStore, queue Queue, cfg Config, opts ...Option) *Orchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 2
	}
	if cfg.RunBudget <= 0 && cfg.MaxPasses <= 0 {
		cfg.MaxPasses = 1
	}
	o := &Orchestrator{
		fetcher: fetcher,
		store:   store,
		queue:   queue,
		cfg:     cfg,
		now:     time.Now,
		logger:  slog.Default().With("component", "crawl-orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run performs one crawl invocation. The first pass always runs. Each
// subject is walked at most once per run: a failed walk leaves its subject
// stale for the next run and this run moves on to the subjects behind it.
// A subject of unknown kind is logged and skipped; Run keeps going and
// returns an error wrapping ErrUnknownKind once it has finished.
func (o *Orchestrator) Run(ctx context.Context) (Report, error) {
	start := o.now()
	report := Report{RunID: uuid.NewString()}
	ctx = applog.WithRunID(ctx, report.RunID)
	ctx, span := tracing.StartSpan(ctx, "crawl.run", report.RunID)
	logger := o.logger.With("run_id", report.RunID)

	err := o.run(ctx, logger, start, &report)

	report.Duration = o.now().Sub(start)
	span.SetAttr("walks", report.Walks)
	span.SetAttr("posts", report.Posts)
	span.RecordError(err)
	span.End()
	span.Log(logger)
	o.metrics.ObserveRun(err, report.Duration)

	logArgs := []any{
		"passes", report.Passes,
		"walks", report.Walks,
		"completed", report.Completed,
		"failed", report.Failed,
		"fetches", report.Fetches,
		"posts", report.Posts,
		"duration", report.Duration,
	}
	if err != nil {
		logger.Error("crawl run finished with errors", append(logArgs, "error", err)...)
	} else {
		logger.Info("crawl run finished", logArgs...)
	}
	return report, err
}

// subjectKey identifies a subject within a run. The kind is kept raw so a
// row with a corrupt kind is still tracked.
type subjectKey struct {
	id   string
	kind model.Kind
}

func (o *Orchestrator) run(ctx context.Context, logger *slog.Logger, start time.Time, report *Report) error {
	attempted := make(map[subjectKey]bool)
	var kindErrs []error
	for pass := 0; ; pass++ {
		if o.cfg.MaxPasses > 0 && pass >= o.cfg.MaxPasses {
			break
		}
		if pass > 0 && o.budgetSpent(start) {
			break
		}
		if err := ctx.Err(); err != nil {
			return errors.Join(append(kindErrs, err)...)
		}

		subjects, err := o.nextUnattempted(ctx, attempted)
		if err != nil {
			return errors.Join(append(kindErrs, err)...)
		}
		if len(subjects) == 0 {
			logger.Info("no subject left to walk in this run", "attempted", len(attempted))
			break
		}
		report.Passes++

		for i, subject := range subjects {
			if i > 0 && o.budgetSpent(start) {
				break
			}
			attempted[subjectKey{subject.ID, subject.Kind}] = true
			res := o.walk(ctx, subject, report.RunID)
			report.Walks++
			report.Fetches += res.fetches
			report.Batches += res.batches
			report.Posts += res.posts
			report.Subjects += res.subjects
			switch res.outcome {
			case events.OutcomeExhausted, events.OutcomeStalled:
				report.Completed++
			default:
				report.Failed++
			}
			if errors.Is(res.err, apperrors.ErrUnknownKind) {
				kindErrs = append(kindErrs, res.err)
			}
			if err := ctx.Err(); err != nil {
				return errors.Join(append(kindErrs, err)...)
			}
		}
	}
	return errors.Join(kindErrs...)
}

// nextUnattempted returns up to BatchSize of the stalest subjects not yet
// walked in this run. Subjects that failed stay stale in the store, so the
// queue is over-fetched by the number already attempted and filtered.
func (o *Orchestrator) nextUnattempted(ctx context.Context, attempted map[subjectKey]bool) ([]model.Subject, error) {
	candidates, err := o.queue.NextBatch(ctx, o.cfg.BatchSize+len(attempted))
	if err != nil {
		return nil, err
	}
	out := make([]model.Subject, 0, o.cfg.BatchSize)
	for _, s := range candidates {
		if attempted[subjectKey{s.ID, s.Kind}] {
			continue
		}
		out = append(out, s)
		if len(out) == o.cfg.BatchSize {
			break
		}
	}
	return out, nil
}

func (o *Orchestrator) budgetSpent(start time.Time) bool {
	return o.cfg.RunBudget > 0 && o.now().Sub(start) >= o.cfg.RunBudget
}

type walkResult struct {
	outcome  events.Outcome
	fetches  int
	batches  int
	posts    int
	subjects int
	err      error
}

// walk follows one subject's stream until the cursor controller reports a
// terminal state, then marks the subject crawled. Pages committed before a
// failure stay committed.
func (o *Orchestrator) walk(ctx context.Context, subject model.Subject, runID string) (res walkResult) {
	started := o.now()
	ctx, span := tracing.StartChildSpan(ctx, "crawl.walk")
	span.SetAttr("subject", subject.String())
	logger := o.logger.With("run_id", runID, "subject", subject.String())

	defer func() {
		span.SetAttr("outcome", string(res.outcome))
		span.SetAttr("fetches", res.fetches)
		span.RecordError(res.err)
		span.End()
		o.metrics.ObserveWalk(subject.Kind.String(), string(res.outcome))
		if o.sink != nil {
			event := events.WalkEvent{
				SubjectID:  subject.ID,
				Kind:       subject.Kind.String(),
				Outcome:    res.outcome,
				Fetches:    res.fetches,
				Posts:      res.posts,
				Subjects:   res.subjects,
				DurationMs: o.now().Sub(started).Milliseconds(),
				RunID:      runID,
				Timestamp:  o.now().UTC(),
			}
			if res.err != nil {
				event.Error = res.err.Error()
			}
			o.sink.Track(event)
		}
	}()

	ctl := cursor.New()
	for !ctl.State().Terminal() {
		url, err := upstream.BuildURL(o.cfg.RootURL, subject, ctl.Cursor())
		if err != nil {
			logger.Error("cannot crawl subject with corrupt kind", "error", err)
			return walkResult{outcome: events.OutcomeSkipped, err: err}
		}

		payload, err := o.fetcher.FetchPage(ctx, url)
		res.fetches++
		if err != nil {
			logger.Warn("fetch failed, subject stays stale", "url", url, "error", err)
			res.outcome, res.err = events.OutcomeFailed, err
			return res
		}

		batch := payload.References.Batch()
		if err := o.store.UpsertBatch(ctx, batch); err != nil {
			logger.Error("batch rejected, subject stays stale", "url", url, "error", err)
			res.outcome, res.err = events.OutcomeFailed, err
			return res
		}
		res.batches++
		res.posts += len(batch.Posts)
		res.subjects += len(batch.Subjects)
		o.metrics.AddUpserted(len(batch.Posts), len(batch.Subjects))

		state := ctl.Advance(payload.Paging.Next)
		logger.Debug("page committed", "posts", len(batch.Posts), "subjects", len(batch.Subjects), "state", state)
	}

	if err := o.queue.MarkCrawled(ctx, subject); err != nil {
		logger.Error("walk finished but staleness not recorded", "error", err)
		res.outcome, res.err = events.OutcomeFailed, fmt.Errorf("recording walk of %s: %w", subject, err)
		return res
	}
	res.outcome = events.Outcome(ctl.State().String())
	logger.Info("walk finished", "outcome", res.outcome, "fetches", res.fetches, "posts", res.posts)
	return res
}
