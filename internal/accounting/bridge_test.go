package accounting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type fakePoster struct {
	calls int
	err   error
}

func (f *fakePoster) PostMovement(ctx context.Context, rc shared.RequestContext, ref inventory.DocumentRef, postedAt time.Time) error {
	f.calls++
	return f.err
}

type fakeEnqueuer struct {
	events []inventory.MovementPostedEvent
	err    error
}

func (f *fakeEnqueuer) EnqueueMovementPosted(ctx context.Context, evt inventory.MovementPostedEvent) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, evt)
	return nil
}

func testEvent() inventory.MovementPostedEvent {
	return inventory.MovementPostedEvent{
		Scope:    shared.RequestContext{TenantID: 1, CompanyID: 1, ActorID: 9},
		Ref:      inventory.DocumentRef{Kind: inventory.DocumentReceipt, ID: 42},
		Number:   "GRN-2026-0001",
		PostedAt: time.Now(),
	}
}

func TestDirectBridgePostsMovement(t *testing.T) {
	poster := &fakePoster{}
	bridge := NewDirectBridge(poster, nil)

	require.NoError(t, bridge.HandleMovementPosted(context.Background(), testEvent()))
	require.Equal(t, 1, poster.calls)
}

func TestDirectBridgePropagatesPosterError(t *testing.T) {
	boom := errors.New("mapping missing")
	bridge := NewDirectBridge(&fakePoster{err: boom}, nil)

	err := bridge.HandleMovementPosted(context.Background(), testEvent())
	require.ErrorIs(t, err, boom)
}

func TestQueueBridgeEnqueues(t *testing.T) {
	enq := &fakeEnqueuer{}
	bridge := NewQueueBridge(enq, nil)

	require.NoError(t, bridge.HandleMovementPosted(context.Background(), testEvent()))
	require.Len(t, enq.events, 1)
	require.Equal(t, "GRN-2026-0001", enq.events[0].Number)
}

func TestQueueBridgePropagatesEnqueueError(t *testing.T) {
	boom := errors.New("redis down")
	bridge := NewQueueBridge(&fakeEnqueuer{err: boom}, nil)

	err := bridge.HandleMovementPosted(context.Background(), testEvent())
	require.ErrorIs(t, err, boom)
}

func TestAccountPairCoversAllKinds(t *testing.T) {
	pairs := map[inventory.DocumentKind][2]string{
		inventory.DocumentReceipt:        {AccountInventory, AccountGRIR},
		inventory.DocumentPurchaseReturn: {AccountGRIR, AccountInventory},
		inventory.DocumentSalesReturn:    {AccountInventory, AccountCOGS},
		inventory.DocumentAdjustment:     {AccountAdjustmentLoss, AccountInventory},
	}
	for kind, want := range pairs {
		debit, credit, err := accountPair(kind)
		require.NoError(t, err, kind)
		require.Equal(t, want[0], debit, kind)
		require.Equal(t, want[1], credit, kind)
	}

	_, _, err := accountPair(inventory.DocumentKind("transfer"))
	require.Error(t, err)
}

func TestSourceRefIsDeterministic(t *testing.T) {
	ref := inventory.DocumentRef{Kind: inventory.DocumentReceipt, ID: 7}
	require.Equal(t, SourceRefFor(ref.String()), SourceRefFor(ref.String()))
	other := inventory.DocumentRef{Kind: inventory.DocumentSalesReturn, ID: 7}
	require.NotEqual(t, SourceRefFor(ref.String()), SourceRefFor(other.String()))
}

func TestJournalEntryBalanced(t *testing.T) {
	entry := JournalEntry{Lines: []JournalLine{
		{AccountID: 1, Debit: decimal.NewFromInt(100)},
		{AccountID: 2, Credit: decimal.NewFromInt(100)},
	}}
	require.True(t, entry.Balanced())

	entry.Lines[1].Credit = decimal.NewFromInt(90)
	require.False(t, entry.Balanced())
}
