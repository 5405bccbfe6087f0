package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Outcome classifies how a delivery was handled. Every inbound webhook leaves
// exactly one ledger row so operators can follow up on misses and mismatches.
type Outcome string

const (
	OutcomeProcessed        Outcome = "processed"
	OutcomeNoop             Outcome = "noop"
	OutcomeIgnoredUnknown   Outcome = "ignored_unknown_type"
	OutcomeUnmatchedOrder   Outcome = "unmatched_order"
	OutcomeMerchantMismatch Outcome = "merchant_mismatch"
	OutcomeError            Outcome = "error"
)

// LedgerEntry is one row of the webhook_events ledger.
type LedgerEntry struct {
	ID         string    `json:"id"`
	EventType  string    `json:"event_type"`
	OriginID   string    `json:"origin_id"`
	OrderID    string    `json:"order_id,omitempty"`
	MerchantID string    `json:"merchant_id,omitempty"`
	Outcome    Outcome   `json:"outcome"`
	Detail     string    `json:"detail,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// Ledger records webhook dispositions for operator review.
type Ledger interface {
	Record(ctx context.Context, e LedgerEntry) error
	List(ctx context.Context, limit, offset int) ([]LedgerEntry, int64, error)
}

// PGLedger persists ledger entries in postgres.
type PGLedger struct {
	pool *pgxpool.Pool
}

func NewPGLedger(pool *pgxpool.Pool) *PGLedger {
	return &PGLedger{pool: pool}
}

func (l *PGLedger) Record(ctx context.Context, e LedgerEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now().UTC()
	}
	const q = `
		INSERT INTO webhook_events (id, event_type, origin_id, order_id, merchant_id, outcome, detail, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := l.pool.Exec(ctx, q,
		e.ID, e.EventType, e.OriginID, e.OrderID, e.MerchantID, string(e.Outcome), e.Detail, e.ReceivedAt)
	if err != nil {
		return fmt.Errorf("record webhook event: %w", err)
	}
	return nil
}

func (l *PGLedger) List(ctx context.Context, limit, offset int) ([]LedgerEntry, int64, error) {
	if limit <= 0 {
		limit = 50
	}
	var total int64
	if err := l.pool.QueryRow(ctx, `SELECT count(*) FROM webhook_events`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count webhook events: %w", err)
	}
	const q = `
		SELECT id, event_type, origin_id, order_id, merchant_id, outcome, detail, received_at
		FROM webhook_events
		ORDER BY received_at DESC
		LIMIT $1 OFFSET $2`
	rows, err := l.pool.Query(ctx, q, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list webhook events: %w", err)
	}
	defer rows.Close()

	var out []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		var outcome string
		if err := rows.Scan(&e.ID, &e.EventType, &e.OriginID, &e.OrderID, &e.MerchantID, &outcome, &e.Detail, &e.ReceivedAt); err != nil {
			return nil, 0, fmt.Errorf("scan webhook event: %w", err)
		}
		e.Outcome = Outcome(outcome)
		out = append(out, e)
	}
	return out, total, rows.Err()
}
