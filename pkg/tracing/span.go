// Package tracing records in-process span trees. A crawl run is the root
// span and each subject walk is a child; at the end of a run the tree is
// summarised to the log.
package tracing

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type spanKey struct{}

// Span is one timed operation. Fields other than Name, TraceID and ID are
// guarded by the span's mutex; read them through the accessor methods.
type Span struct {
	Name     string
	TraceID  string
	ID       string
	ParentID string

	mu       sync.Mutex
	start    time.Time
	duration time.Duration
	ended    bool
	err      error
	attrs    []slog.Attr
	children []*Span
}

// StartSpan begins a root span. An empty traceID gets a random one.
func StartSpan(ctx context.Context, name, traceID string) (context.Context, *Span) {
	if traceID == "" {
		traceID = uuid.NewString()
	}
	s := newSpan(name, traceID, "")
	return context.WithValue(ctx, spanKey{}, s), s
}

// StartChildSpan begins a span under the one carried by ctx. Without a
// parent the span is detached and has no trace id.
func StartChildSpan(ctx context.Context, name string) (context.Context, *Span) {
	parent := SpanFromContext(ctx)
	if parent == nil {
		s := newSpan(name, "", "")
		return context.WithValue(ctx, spanKey{}, s), s
	}
	s := newSpan(name, parent.TraceID, parent.ID)
	parent.mu.Lock()
	parent.children = append(parent.children, s)
	parent.mu.Unlock()
	return context.WithValue(ctx, spanKey{}, s), s
}

func newSpan(name, traceID, parentID string) *Span {
	return &Span{
		Name:     name,
		TraceID:  traceID,
		ID:       uuid.NewString()[:8],
		ParentID: parentID,
		start:    time.Now(),
	}
}

// SpanFromContext returns the span carried by ctx, or nil.
func SpanFromContext(ctx context.Context) *Span {
	s, _ := ctx.Value(spanKey{}).(*Span)
	return s
}

// End fixes the span's duration. Later calls are no-ops.
func (s *Span) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	s.duration = time.Since(s.start)
}

// SetAttr attaches a key/value pair; a repeated key keeps the latest value.
func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.attrs {
		if s.attrs[i].Key == key {
			s.attrs[i].Value = slog.AnyValue(value)
			return
		}
	}
	s.attrs = append(s.attrs, slog.Any(key, value))
}

// RecordError marks the span failed. nil is ignored.
func (s *Span) RecordError(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Err returns the recorded error, if any.
func (s *Span) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Duration is zero until End is called.
func (s *Span) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duration
}

// Attr returns the value stored under key.
func (s *Span) Attr(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.attrs {
		if a.Key == key {
			return a.Value.Any(), true
		}
	}
	return nil, false
}

// Children returns a copy of the direct child spans in start order.
func (s *Span) Children() []*Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Span(nil), s.children...)
}

// Slowest returns up to n ended children ordered by descending duration.
func (s *Span) Slowest(n int) []*Span {
	var ended []*Span
	for _, c := range s.Children() {
		c.mu.Lock()
		if c.ended {
			ended = append(ended, c)
		}
		c.mu.Unlock()
	}
	sort.SliceStable(ended, func(i, j int) bool {
		return ended[i].Duration() > ended[j].Duration()
	})
	if n >= 0 && len(ended) > n {
		ended = ended[:n]
	}
	return ended
}

// Log writes a one-line summary of the span and its children at debug
// level, followed by the three slowest children and every failed one.
func (s *Span) Log(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	ctx := context.Background()
	if !logger.Enabled(ctx, slog.LevelDebug) {
		return
	}

	children := s.Children()
	failed := 0
	for _, c := range children {
		if c.Err() != nil {
			failed++
		}
	}
	logger.LogAttrs(ctx, slog.LevelDebug, "span", append(s.baseAttrs(),
		slog.Int("children", len(children)),
		slog.Int("failed_children", failed),
	)...)

	seen := make(map[*Span]bool)
	for _, c := range s.Slowest(3) {
		seen[c] = true
		logger.LogAttrs(ctx, slog.LevelDebug, "slow child span", c.baseAttrs()...)
	}
	for _, c := range children {
		if c.Err() != nil && !seen[c] {
			logger.LogAttrs(ctx, slog.LevelDebug, "failed child span", c.baseAttrs()...)
		}
	}
}

func (s *Span) baseAttrs() []slog.Attr {
	s.mu.Lock()
	defer s.mu.Unlock()
	attrs := []slog.Attr{
		slog.String("trace_id", s.TraceID),
		slog.String("span_id", s.ID),
		slog.String("span", s.Name),
		slog.Int64("duration_ms", s.duration.Milliseconds()),
	}
	if s.ParentID != "" {
		attrs = append(attrs, slog.String("parent_id", s.ParentID))
	}
	if s.err != nil {
		attrs = append(attrs, slog.String("error", s.err.Error()))
	}
	return append(attrs, s.attrs...)
}
