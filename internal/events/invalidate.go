package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/enzosv/mediumcrawler/pkg/kafka"
)

// Invalidator drops cached read-API responses.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// InvalidateOnNewPosts returns a Kafka handler that invalidates the cache
// whenever a walk event reports upserted posts.
func InvalidateOnNewPosts(inv Invalidator) kafka.MessageHandler {
	logger := slog.Default().With("component", "cache-invalidator")
	return func(ctx context.Context, key, value []byte) error {
		event, err := kafka.DecodeJSON[WalkEvent](value)
		if err != nil {
			logger.Warn("skipping undecodable walk event", "key", string(key), "error", err)
			return nil
		}
		if event.Posts == 0 {
			return nil
		}
		if err := inv.Invalidate(ctx); err != nil {
			return fmt.Errorf("invalidating after walk of %s: %w", event.SubjectID, err)
		}
		logger.Debug("cache invalidated", "subject", event.SubjectID, "posts", event.Posts)
		return nil
	}
}
