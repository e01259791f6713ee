package resilience

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/enzosv/mediumcrawler/pkg/errors"
)

// WithTimeout bounds fn by timeout. fn receives the derived context; if it
// ignores cancellation WithTimeout still returns once the deadline passes and
// the late result is discarded. A non-positive timeout runs fn directly.
//
// Deadline errors match both apperrors.ErrTimeout and context.DeadlineExceeded.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	bounded, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := make(chan error, 1)
	go func() { result <- fn(bounded) }()

	select {
	case err := <-result:
		return err
	case <-bounded.Done():
	}
	if cause := ctx.Err(); cause != nil {
		return fmt.Errorf("%s: %w", name, cause)
	}
	return fmt.Errorf("%s: %w after %v: %w", name, apperrors.ErrTimeout, timeout, context.DeadlineExceeded)
}
