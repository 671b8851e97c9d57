package accounting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

const pgUniqueViolation = "23505"

// Poster turns posted stock movement documents into balanced journal
// entries. Posting the same document twice is a no-op.
type Poster interface {
	PostMovement(ctx context.Context, rc shared.RequestContext, ref inventory.DocumentRef, postedAt time.Time) error
}

// PGPoster posts journal entries straight into PostgreSQL. The document
// total is read back from the movement tables rather than trusted from the
// event payload.
type PGPoster struct {
	pool *pgxpool.Pool
}

// NewPGPoster builds PGPoster.
func NewPGPoster(pool *pgxpool.Pool) *PGPoster {
	return &PGPoster{pool: pool}
}

var _ Poster = (*PGPoster)(nil)

// PostMovement builds and stores the journal entry for one movement
// document. The debit/credit pair is chosen by document kind; the entry is
// skipped silently when the document total is zero.
func (p *PGPoster) PostMovement(ctx context.Context, rc shared.RequestContext, ref inventory.DocumentRef, postedAt time.Time) error {
	total, err := p.documentTotal(ctx, rc, ref)
	if err != nil {
		return err
	}
	if total.IsZero() {
		return nil
	}

	debitKey, creditKey, err := accountPair(ref.Kind)
	if err != nil {
		return err
	}
	debit, err := p.resolveAccount(ctx, rc, debitKey)
	if err != nil {
		return err
	}
	credit, err := p.resolveAccount(ctx, rc, creditKey)
	if err != nil {
		return err
	}
	period, err := p.findOpenPeriod(ctx, rc, postedAt)
	if err != nil {
		return err
	}

	entry := JournalEntry{
		TenantID:  rc.TenantID,
		CompanyID: rc.CompanyID,
		PeriodID:  period.ID,
		SourceRef: SourceRefFor(ref.String()),
		Source:    string(ref.Kind),
		Memo:      fmt.Sprintf("stock movement %s", ref),
		PostedAt:  postedAt,
		CreatedBy: rc.ActorID,
		Lines: []JournalLine{
			{AccountID: debit, Debit: total},
			{AccountID: credit, Credit: total},
		},
	}
	if err := p.insertEntry(ctx, entry); err != nil {
		if errors.Is(err, ErrSourceAlreadyPosted) {
			return nil
		}
		return err
	}
	return nil
}

// accountPair maps a movement kind to its debit/credit account keys.
func accountPair(kind inventory.DocumentKind) (string, string, error) {
	switch kind {
	case inventory.DocumentReceipt:
		return AccountInventory, AccountGRIR, nil
	case inventory.DocumentPurchaseReturn:
		return AccountGRIR, AccountInventory, nil
	case inventory.DocumentSalesReturn:
		// Restocking a sold item reverses its cost of goods sold.
		return AccountInventory, AccountCOGS, nil
	case inventory.DocumentAdjustment:
		return AccountAdjustmentLoss, AccountInventory, nil
	default:
		return "", "", fmt.Errorf("accounting: unknown document kind %q", kind)
	}
}

func (p *PGPoster) documentTotal(ctx context.Context, rc shared.RequestContext, ref inventory.DocumentRef) (decimal.Decimal, error) {
	var query string
	switch ref.Kind {
	case inventory.DocumentReceipt:
		query = `SELECT COALESCE(SUM(l.qty * l.unit_cost), 0)
FROM purchase_receipt_lines l
JOIN purchase_receipts d ON d.id = l.receipt_id
WHERE d.tenant_id=$1 AND d.company_id=$2 AND d.id=$3`
	case inventory.DocumentPurchaseReturn:
		query = `SELECT COALESCE(SUM(l.qty * l.unit_cost), 0)
FROM purchase_return_lines l
JOIN purchase_returns d ON d.id = l.return_id
WHERE d.tenant_id=$1 AND d.company_id=$2 AND d.id=$3`
	case inventory.DocumentSalesReturn:
		query = `SELECT COALESCE(SUM(l.qty * l.unit_cost), 0)
FROM sales_return_lines l
JOIN sales_returns d ON d.id = l.return_id
WHERE d.tenant_id=$1 AND d.company_id=$2 AND d.id=$3`
	case inventory.DocumentAdjustment:
		query = `SELECT COALESCE(SUM(ABS(l.diff_qty) * l.unit_cost), 0)
FROM stock_adjustment_lines l
JOIN stock_adjustments d ON d.id = l.adjustment_id
WHERE d.tenant_id=$1 AND d.company_id=$2 AND d.id=$3`
	default:
		return decimal.Zero, fmt.Errorf("accounting: unknown document kind %q", ref.Kind)
	}
	var total decimal.Decimal
	if err := p.pool.QueryRow(ctx, query, rc.TenantID, rc.CompanyID, ref.ID).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("accounting: document total for %s: %w", ref, err)
	}
	return total, nil
}

func (p *PGPoster) resolveAccount(ctx context.Context, rc shared.RequestContext, key string) (int64, error) {
	var accountID int64
	err := p.pool.QueryRow(ctx, `SELECT account_id FROM account_mappings
WHERE tenant_id=$1 AND company_id=$2 AND key=$3`, rc.TenantID, rc.CompanyID, key).Scan(&accountID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("accounting: mapping %q: %w", key, shared.ErrNotFound)
	}
	return accountID, err
}

func (p *PGPoster) findOpenPeriod(ctx context.Context, rc shared.RequestContext, date time.Time) (Period, error) {
	var period Period
	err := p.pool.QueryRow(ctx, `SELECT id, tenant_id, company_id, starts_at, ends_at, open
FROM accounting_periods
WHERE tenant_id=$1 AND company_id=$2 AND open AND $3 BETWEEN starts_at AND ends_at
ORDER BY starts_at LIMIT 1`, rc.TenantID, rc.CompanyID, date).
		Scan(&period.ID, &period.TenantID, &period.CompanyID, &period.StartsAt, &period.EndsAt, &period.Open)
	if errors.Is(err, pgx.ErrNoRows) {
		return Period{}, fmt.Errorf("%w: %s", ErrNoOpenPeriod, date.Format("2006-01-02"))
	}
	return period, err
}

func (p *PGPoster) insertEntry(ctx context.Context, entry JournalEntry) error {
	if !entry.Balanced() {
		return fmt.Errorf("accounting: unbalanced entry for %s", entry.SourceRef)
	}
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var entryID int64
	err = tx.QueryRow(ctx, `INSERT INTO journal_entries (tenant_id, company_id, period_id, source_ref, source, memo, posted_at, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW()) RETURNING id`,
		entry.TenantID, entry.CompanyID, entry.PeriodID, entry.SourceRef, entry.Source, entry.Memo, entry.PostedAt, entry.CreatedBy).Scan(&entryID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrSourceAlreadyPosted
		}
		return err
	}
	for _, line := range entry.Lines {
		if _, err := tx.Exec(ctx, `INSERT INTO journal_lines (entry_id, account_id, debit, credit)
VALUES ($1,$2,$3,$4)`, entryID, line.AccountID, line.Debit, line.Credit); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}
