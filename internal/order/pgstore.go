package order

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrStoreUnavailable indicates the order store dependency is not configured.
var ErrStoreUnavailable = errors.New("order: store unavailable")

const orderColumns = `id, merchant_id, amount, currency, status, purchase_session_id,
is_subscription, agreement_id, subscription_status, payment_id, transaction_id,
transaction_hash, chain_id, failure_reason, transfer_id, transfer_hash, wallet_id,
network, cancelled_at, status_note, created_at, updated_at`

// NewPGStore constructs a Store backed by a pgx connection pool.
func NewPGStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool *pgxpool.Pool
}

func (s *pgStore) Create(ctx context.Context, o Order) (Order, error) {
	if s == nil || s.pool == nil {
		return Order{}, ErrStoreUnavailable
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.Status == "" {
		o.Status = StatusPending
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO orders
(id, merchant_id, amount, currency, status, purchase_session_id, is_subscription)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING `+orderColumns,
		o.ID, o.MerchantID, o.Amount, o.Currency, o.Status, o.PurchaseSessionID, o.IsSubscription)
	created, err := scanOrder(row)
	if err != nil {
		if isUniqueViolation(err) {
			return Order{}, ErrDuplicateSession
		}
		return Order{}, err
	}
	return created, nil
}

func (s *pgStore) Get(ctx context.Context, id string) (Order, error) {
	if s == nil || s.pool == nil {
		return Order{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	return o, err
}

func (s *pgStore) FindBySessionID(ctx context.Context, sessionID string) (Order, error) {
	if s == nil || s.pool == nil {
		return Order{}, ErrStoreUnavailable
	}
	if sessionID == "" {
		return Order{}, ErrNotFound
	}
	row := s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE purchase_session_id = $1`, sessionID)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	return o, err
}

func (s *pgStore) RecentSessionIDs(ctx context.Context, limit int) ([]string, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, `SELECT purchase_session_id FROM orders
WHERE purchase_session_id <> '' ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *pgStore) AssignSession(ctx context.Context, id, sessionID string) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.pool.Exec(ctx, `UPDATE orders SET purchase_session_id = $2, updated_at = now()
WHERE id = $1`, id, sessionID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateSession
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgStore) UpdateStatus(ctx context.Context, id string, to Status, note string) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.pool.Exec(ctx, `UPDATE orders SET status = $2, status_note = $3, updated_at = now()
WHERE id = $1`, id, to, note)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordPayment writes payment metadata with write-once guards: a populated
// column keeps its value regardless of what a replayed webhook carries.
func (s *pgStore) RecordPayment(ctx context.Context, id string, p PaymentDetails) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.pool.Exec(ctx, `UPDATE orders SET
payment_id       = CASE WHEN payment_id = ''       THEN $2 ELSE payment_id END,
agreement_id     = CASE WHEN agreement_id = ''     THEN $3 ELSE agreement_id END,
transaction_id   = CASE WHEN transaction_id = ''   THEN $4 ELSE transaction_id END,
transaction_hash = CASE WHEN transaction_hash = '' THEN $5 ELSE transaction_hash END,
chain_id         = CASE WHEN chain_id = ''         THEN $6 ELSE chain_id END,
subscription_status = CASE WHEN is_subscription AND subscription_status = '' THEN 'active' ELSE subscription_status END,
updated_at = now()
WHERE id = $1`, id, p.PaymentID, p.AgreementID, p.TransactionID, p.TransactionHash, p.ChainID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgStore) RecordFailure(ctx context.Context, id, reason string) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.pool.Exec(ctx, `UPDATE orders SET failure_reason = $2, updated_at = now()
WHERE id = $1`, id, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgStore) RecordTransfer(ctx context.Context, id string, t TransferDetails) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.pool.Exec(ctx, `UPDATE orders SET
transfer_id   = CASE WHEN transfer_id = ''   THEN $2 ELSE transfer_id END,
transfer_hash = CASE WHEN transfer_hash = '' THEN $3 ELSE transfer_hash END,
wallet_id     = CASE WHEN wallet_id = ''     THEN $4 ELSE wallet_id END,
network       = CASE WHEN network = ''       THEN $5 ELSE network END,
updated_at = now()
WHERE id = $1`, id, t.TransferID, t.TransferHash, t.WalletID, t.Network)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkSubscriptionCancelled sets the terminal subscription state and stamps
// cancelled_at once; the earliest stamping event wins.
func (s *pgStore) MarkSubscriptionCancelled(ctx context.Context, id string, at time.Time) (time.Time, error) {
	if s == nil || s.pool == nil {
		return time.Time{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `UPDATE orders SET
subscription_status = 'cancelled',
cancelled_at = COALESCE(cancelled_at, $2),
updated_at = now()
WHERE id = $1
RETURNING cancelled_at`, id, at)
	var stamped time.Time
	if err := row.Scan(&stamped); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, ErrNotFound
		}
		return time.Time{}, err
	}
	return stamped, nil
}

func (s *pgStore) List(ctx context.Context, f ListFilter) ([]Order, int64, error) {
	if s == nil || s.pool == nil {
		return nil, 0, ErrStoreUnavailable
	}
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	where := `WHERE ($1::text IS NULL OR status = $1) AND (NOT $2::bool OR is_subscription)`
	var statusArg any
	if f.Status != nil {
		statusArg = string(*f.Status)
	}

	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM orders `+where, statusArg, f.SubscriptionsOnly).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx, `SELECT `+orderColumns+` FROM orders `+where+`
ORDER BY created_at DESC LIMIT $3 OFFSET $4`, statusArg, f.SubscriptionsOnly, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	orders := make([]Order, 0, limit)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, o)
	}
	return orders, total, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (Order, error) {
	var o Order
	var cancelledAt *time.Time
	err := row.Scan(
		&o.ID, &o.MerchantID, &o.Amount, &o.Currency, &o.Status, &o.PurchaseSessionID,
		&o.IsSubscription, &o.AgreementID, &o.SubscriptionStatus, &o.PaymentID, &o.TransactionID,
		&o.TransactionHash, &o.ChainID, &o.FailureReason, &o.TransferID, &o.TransferHash,
		&o.WalletID, &o.Network, &cancelledAt, &o.StatusNote, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return Order{}, err
	}
	o.CancelledAt = cancelledAt
	return o, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
