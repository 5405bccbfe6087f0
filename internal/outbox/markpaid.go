package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// KindMarkPaid is the outbox task kind for provider mark-paid confirmations
// that failed inline during webhook processing.
const KindMarkPaid = "mark-paid"

// MarkPaidPayload identifies the confirmation to replay.
type MarkPaidPayload struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
}

// Confirmer is the provider call the worker replays.
type Confirmer interface {
	MarkOrderPaid(ctx context.Context, paymentID string) error
}

// Scheduler enqueues mark-paid confirmations, deduplicated per payment so a
// storm of webhook replays produces at most one pending task.
type Scheduler struct {
	Enqueuer    Enqueuer
	MaxAttempts int
	Delay       time.Duration
}

func (s Scheduler) ScheduleMarkPaid(ctx context.Context, orderID, paymentID string) error {
	payload, err := json.Marshal(MarkPaidPayload{OrderID: orderID, PaymentID: paymentID})
	if err != nil {
		return err
	}
	return s.Enqueuer.Enqueue(ctx, Task{
		Kind:           KindMarkPaid,
		Payload:        payload,
		IdempotencyKey: paymentID,
		MaxAttempts:    s.MaxAttempts,
		Delay:          s.Delay,
	})
}

// NewMarkPaidHandler returns the worker handler that replays a mark-paid
// confirmation against the provider.
func NewMarkPaidHandler(provider Confirmer, logger zerolog.Logger) func(context.Context, Task) error {
	return func(ctx context.Context, t Task) error {
		var payload MarkPaidPayload
		if err := json.Unmarshal(t.Payload, &payload); err != nil {
			return fmt.Errorf("decode mark-paid payload: %w", err)
		}
		if payload.PaymentID == "" {
			logger.Warn().Str("order_id", payload.OrderID).Msg("mark-paid task without payment id, dropping")
			return nil
		}
		if err := provider.MarkOrderPaid(ctx, payload.PaymentID); err != nil {
			return fmt.Errorf("mark order paid: %w", err)
		}
		logger.Info().
			Str("order_id", payload.OrderID).
			Str("payment_id", payload.PaymentID).
			Msg("mark-paid confirmation delivered")
		return nil
	}
}
