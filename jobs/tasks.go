package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/accounting"
	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPostMovement posts the journal entry for a committed stock movement.
	TaskPostMovement = "accounting:post_movement"
	// TaskReconcileStock cross-checks stock aggregates against the ledger.
	TaskReconcileStock = "inventory:reconcile"
	// TaskCleanupIdempotency prunes consumed idempotency keys.
	TaskCleanupIdempotency = "shared:cleanup_idempotency"
)

// PostMovementPayload carries a movement event across the queue.
type PostMovementPayload struct {
	TenantID  int64     `json:"tenant_id"`
	CompanyID int64     `json:"company_id"`
	ActorID   int64     `json:"actor_id"`
	Kind      string    `json:"kind"`
	DocID     int64     `json:"doc_id"`
	Number    string    `json:"number"`
	PostedAt  time.Time `json:"posted_at"`
}

// NewPostMovementTask constructs the posting task for a movement event.
func NewPostMovementTask(evt inventory.MovementPostedEvent) (*asynq.Task, error) {
	data, err := json.Marshal(PostMovementPayload{
		TenantID:  evt.Scope.TenantID,
		CompanyID: evt.Scope.CompanyID,
		ActorID:   evt.Scope.ActorID,
		Kind:      string(evt.Ref.Kind),
		DocID:     evt.Ref.ID,
		Number:    evt.Number,
		PostedAt:  evt.PostedAt,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPostMovement, data), nil
}

// NewPostMovementHandler builds the asynq handler that replays movement
// events into the accounting poster. Redeliveries are harmless: the poster
// skips documents whose source ref already produced an entry.
func NewPostMovementHandler(poster accounting.Poster, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload PostMovementPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("decode post_movement payload: %w", asynq.SkipRetry)
		}
		kind := inventory.DocumentKind(payload.Kind)
		if !kind.Valid() {
			logger.Error("unknown document kind in posting task", slog.String("kind", payload.Kind))
			return asynq.SkipRetry
		}
		rc := shared.RequestContext{TenantID: payload.TenantID, CompanyID: payload.CompanyID, ActorID: payload.ActorID}
		ref := inventory.DocumentRef{Kind: kind, ID: payload.DocID}
		if err := poster.PostMovement(ctx, rc, ref, payload.PostedAt); err != nil {
			logger.Error("journal posting task failed",
				slog.String("document", ref.String()),
				slog.String("number", payload.Number),
				slog.Any("error", err))
			return err
		}
		return nil
	}
}

// NewCleanupIdempotencyTask constructs the retention sweep task.
func NewCleanupIdempotencyTask() *asynq.Task {
	return asynq.NewTask(TaskCleanupIdempotency, nil)
}

// NewCleanupIdempotencyHandler prunes idempotency keys older than the
// retention window.
func NewCleanupIdempotencyHandler(store *shared.IdempotencyStore, retention time.Duration, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		if err := store.Cleanup(ctx, retention); err != nil {
			logger.Error("idempotency cleanup failed", slog.Any("error", err))
			return err
		}
		return nil
	}
}

// ReconcilePayload scopes a reconciliation run.
type ReconcilePayload struct {
	TenantID  int64 `json:"tenant_id"`
	CompanyID int64 `json:"company_id"`
	ProductID int64 `json:"product_id,omitempty"`
}

// NewReconcileTask constructs the nightly reconciliation task.
func NewReconcileTask(payload ReconcilePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReconcileStock, data), nil
}

// NewReconcileHandler builds the asynq handler that runs the reconciler and
// logs any drift between levels and the ledger.
func NewReconcileHandler(recon *inventory.Reconciler, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ReconcilePayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("decode reconcile payload: %w", asynq.SkipRetry)
		}
		rc := shared.RequestContext{TenantID: payload.TenantID, CompanyID: payload.CompanyID}
		if !rc.Valid() {
			return asynq.SkipRetry
		}
		report, err := recon.Run(ctx, rc, payload.ProductID)
		if err != nil {
			return err
		}
		if !report.Clean() {
			logger.Error("scheduled reconciliation found drift",
				slog.Int64("tenant_id", payload.TenantID),
				slog.Int64("company_id", payload.CompanyID),
				slog.Int("discrepancies", len(report.Discrepancies)))
		}
		return nil
	}
}
