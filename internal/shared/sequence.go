package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Sequences hands out monotonically increasing numbers scoped by tenant,
// company and document kind. Implementations must be safe under concurrent
// callers; the naive count(rows)+1 scheme this replaces is not.
type Sequences interface {
	Next(ctx context.Context, rc RequestContext, kind string) (int64, error)
}

// PGSequences implements Sequences on a counter table. The single-statement
// upsert increments and returns atomically, so two concurrent callers can
// never observe the same value.
type PGSequences struct {
	pool *pgxpool.Pool
}

// NewPGSequences constructs PGSequences.
func NewPGSequences(pool *pgxpool.Pool) *PGSequences {
	return &PGSequences{pool: pool}
}

// Next increments and returns the counter for (tenant, company, kind).
func (s *PGSequences) Next(ctx context.Context, rc RequestContext, kind string) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, errors.New("sequences not initialised")
	}
	if kind == "" {
		return 0, errors.New("sequence kind required")
	}
	var value int64
	err := s.pool.QueryRow(ctx, `INSERT INTO document_sequences (tenant_id, company_id, kind, value)
VALUES ($1, $2, $3, 1)
ON CONFLICT (tenant_id, company_id, kind) DO UPDATE SET value = document_sequences.value + 1
RETURNING value`, rc.TenantID, rc.CompanyID, kind).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("sequences: next %s: %w", kind, err)
	}
	return value, nil
}

// FormatDocumentNumber renders a human-readable document number such as
// PRT-2026-0004.
func FormatDocumentNumber(kind string, at time.Time, seq int64) string {
	return fmt.Sprintf("%s-%d-%04d", kind, at.Year(), seq)
}
