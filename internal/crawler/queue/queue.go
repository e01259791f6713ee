// Package queue hands out the subjects that have gone longest without a
// completed walk.
package queue

import (
	"context"
	"fmt"

	"github.com/enzosv/mediumcrawler/internal/model"
)

// Store is the part of the persistence layer the queue reads and stamps.
type Store interface {
	NextSubjects(ctx context.Context, n int, preferHigherKinds bool) ([]model.Subject, error)
	RecordLastCrawled(ctx context.Context, id string, kind model.Kind) error
}

type Queue struct {
	store             Store
	preferHigherKinds bool
}

// New returns a queue over store. With preferHigherKinds, ties in staleness
// go to collections, then authors, then tags.
func New(store Store, preferHigherKinds bool) *Queue {
	return &Queue{store: store, preferHigherKinds: preferHigherKinds}
}

// NextBatch returns up to n subjects, never-crawled first.
func (q *Queue) NextBatch(ctx context.Context, n int) ([]model.Subject, error) {
	if n <= 0 {
		return nil, nil
	}
	subjects, err := q.store.NextSubjects(ctx, n, q.preferHigherKinds)
	if err != nil {
		return nil, fmt.Errorf("selecting next subjects: %w", err)
	}
	return subjects, nil
}

// MarkCrawled records that subject's walk finished.
func (q *Queue) MarkCrawled(ctx context.Context, subject model.Subject) error {
	if err := q.store.RecordLastCrawled(ctx, subject.ID, subject.Kind); err != nil {
		return fmt.Errorf("marking %s crawled: %w", subject, err)
	}
	return nil
}
