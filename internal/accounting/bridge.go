package accounting

import (
	"context"
	"log/slog"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
)

// DirectBridge posts journal entries synchronously in the request path.
// Errors bubble up to the movement service, which demotes them to warnings;
// the bridge never influences whether stock moves.
type DirectBridge struct {
	poster Poster
	logger *slog.Logger
}

// NewDirectBridge builds DirectBridge.
func NewDirectBridge(poster Poster, logger *slog.Logger) *DirectBridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &DirectBridge{poster: poster, logger: logger}
}

var _ inventory.PostingHandler = (*DirectBridge)(nil)

// HandleMovementPosted posts the journal entry for a committed movement.
func (b *DirectBridge) HandleMovementPosted(ctx context.Context, evt inventory.MovementPostedEvent) error {
	if b == nil || b.poster == nil {
		return nil
	}
	if err := b.poster.PostMovement(ctx, evt.Scope, evt.Ref, evt.PostedAt); err != nil {
		return err
	}
	b.logger.Info("journal entry posted",
		slog.String("document", evt.Ref.String()),
		slog.String("number", evt.Number))
	return nil
}

// Enqueuer hands a movement event to the durable job queue. Implemented by
// the jobs client; declared here to keep the dependency pointing outward.
type Enqueuer interface {
	EnqueueMovementPosted(ctx context.Context, evt inventory.MovementPostedEvent) error
}

// QueueBridge defers journal posting to the background worker. Enqueueing is
// at-least-once; the poster's idempotent source ref absorbs redeliveries.
type QueueBridge struct {
	enqueuer Enqueuer
	logger   *slog.Logger
}

// NewQueueBridge builds QueueBridge.
func NewQueueBridge(enqueuer Enqueuer, logger *slog.Logger) *QueueBridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueBridge{enqueuer: enqueuer, logger: logger}
}

var _ inventory.PostingHandler = (*QueueBridge)(nil)

// HandleMovementPosted enqueues the posting task.
func (b *QueueBridge) HandleMovementPosted(ctx context.Context, evt inventory.MovementPostedEvent) error {
	if b == nil || b.enqueuer == nil {
		return nil
	}
	if err := b.enqueuer.EnqueueMovementPosted(ctx, evt); err != nil {
		return err
	}
	b.logger.Debug("journal posting enqueued",
		slog.String("document", evt.Ref.String()),
		slog.String("number", evt.Number))
	return nil
}
