package order

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no order matches the requested identifier.
var ErrNotFound = errors.New("order: not found")

// ErrDuplicateSession is returned when a purchase session id is already bound
// to another order. Exactly one order maps to a given session id.
var ErrDuplicateSession = errors.New("order: purchase session already assigned")

// Store is the persistence boundary consumed by the webhook processor, the
// checkout flow and the admin views. Implementations must keep the write-once
// semantics of transaction fields and the monotonicity of cancellation.
type Store interface {
	Create(ctx context.Context, o Order) (Order, error)
	Get(ctx context.Context, id string) (Order, error)

	// FindBySessionID performs an exact match on purchase_session_id. The
	// prefix fallback strategy lives in the Resolver, not here.
	FindBySessionID(ctx context.Context, sessionID string) (Order, error)

	// RecentSessionIDs returns the most recently created session ids for
	// resolver miss diagnostics.
	RecentSessionIDs(ctx context.Context, limit int) ([]string, error)

	AssignSession(ctx context.Context, id, sessionID string) error

	// UpdateStatus writes the new status and note. Transition legality is the
	// caller's responsibility (checked under the per-order lock).
	UpdateStatus(ctx context.Context, id string, to Status, note string) error

	// RecordPayment writes payment, agreement and transaction fields with
	// write-once semantics: populated fields are never overwritten.
	RecordPayment(ctx context.Context, id string, p PaymentDetails) error

	RecordFailure(ctx context.Context, id, reason string) error

	// RecordTransfer writes transfer fields if they are still empty.
	RecordTransfer(ctx context.Context, id string, t TransferDetails) error

	// MarkSubscriptionCancelled stamps cancelled_at exactly once (the earliest
	// stamping event wins) and returns the effective timestamp.
	MarkSubscriptionCancelled(ctx context.Context, id string, at time.Time) (time.Time, error)

	List(ctx context.Context, f ListFilter) ([]Order, int64, error)
}
