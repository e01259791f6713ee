// Package events carries crawl activity onto Kafka. The crawler reports
// each finished walk through a Collector, and the API process consumes the
// same topic to drop its popular-post cache when new posts land.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/enzosv/mediumcrawler/pkg/kafka"
)

// TypeWalkFinished is the event-type header on every WalkEvent message.
const TypeWalkFinished = "walk.finished"

type Outcome string

const (
	OutcomeExhausted Outcome = "exhausted"
	OutcomeStalled   Outcome = "stalled"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// WalkEvent summarises one subject walk.
type WalkEvent struct {
	SubjectID  string    `json:"subject_id"`
	Kind       string    `json:"kind"`
	Outcome    Outcome   `json:"outcome"`
	Fetches    int       `json:"fetches"`
	Posts      int       `json:"posts"`
	Subjects   int       `json:"subjects"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	RunID      string    `json:"run_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher is the subset of *kafka.Producer the collector needs.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Collector buffers walk events and publishes them from a background
// goroutine so a slow broker never holds up the crawl.
type Collector struct {
	publisher Publisher
	eventCh   chan WalkEvent
	logger    *slog.Logger
	done      chan struct{}
}

func NewCollector(publisher Publisher, bufferSize int) *Collector {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &Collector{
		publisher: publisher,
		eventCh:   make(chan WalkEvent, bufferSize),
		logger:    slog.Default().With("component", "walk-event-collector"),
		done:      make(chan struct{}),
	}
}

func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		for {
			select {
			case event, ok := <-c.eventCh:
				if !ok {
					return
				}
				c.publish(ctx, event)
			case <-ctx.Done():
				c.drainRemaining()
				return
			}
		}
	}()
	c.logger.Info("walk event collector started", "buffer_size", cap(c.eventCh))
}

// Track queues an event, dropping it if the buffer is full.
func (c *Collector) Track(event WalkEvent) {
	select {
	case c.eventCh <- event:
	default:
		c.logger.Warn("walk event dropped (buffer full)", "subject", event.SubjectID)
	}
}

// Close stops accepting events and waits for the queue to flush.
func (c *Collector) Close() {
	close(c.eventCh)
	<-c.done
}

func (c *Collector) publish(ctx context.Context, event WalkEvent) {
	if err := c.publisher.Publish(ctx, kafka.Event{
		Key:   event.Kind + ":" + event.SubjectID,
		Type:  TypeWalkFinished,
		Value: event,
	}); err != nil {
		c.logger.Error("failed to publish walk event", "subject", event.SubjectID, "error", err)
	}
}

func (c *Collector) drainRemaining() {
	for {
		select {
		case event, ok := <-c.eventCh:
			if !ok {
				return
			}
			c.publish(context.Background(), event)
		default:
			return
		}
	}
}
