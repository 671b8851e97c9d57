package inventory

import (
	"context"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// MovementPostedEvent is emitted after a movement transaction has committed,
// so the accounting side can derive its posting without re-reading intent
// from logs.
type MovementPostedEvent struct {
	Scope    shared.RequestContext
	Ref      DocumentRef
	Number   string
	PostedAt time.Time
}

// PostingHandler receives movement events for accounting integration. It is
// invoked strictly after the inventory transaction commits; its failure is
// logged and surfaced as a warning, never as a failure of the movement.
type PostingHandler interface {
	HandleMovementPosted(ctx context.Context, evt MovementPostedEvent) error
}
