package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/halcyonpay/paybridge/internal/lock"
	"github.com/halcyonpay/paybridge/internal/obs"
	"github.com/halcyonpay/paybridge/internal/order"
	"github.com/halcyonpay/paybridge/internal/tenant"
)

// Confirmer is the provider call issued after a successful payment: telling
// the provider the order is settled on our side.
type Confirmer interface {
	MarkOrderPaid(ctx context.Context, paymentID string) error
}

// ConfirmScheduler durably re-queues a mark-paid confirmation that failed
// inline, so a provider outage does not lose the side effect.
type ConfirmScheduler interface {
	ScheduleMarkPaid(ctx context.Context, orderID, paymentID string) error
}

// URLInvalidator drops the cached pending checkout URL for an order once a
// payment settles it, so the hosted checkout page stops resolving before its
// TTL runs out.
type URLInvalidator interface {
	Delete(ctx context.Context, orderID string) error
}

// Processor applies webhook events to orders. All order mutation for a given
// delivery happens under a per-order redis lock so concurrent re-deliveries
// serialize their read-modify-write sequences.
type Processor struct {
	Store     order.Store
	Resolver  order.Resolver
	Locker    lock.Locker
	LockTTL   time.Duration
	Provider  Confirmer
	Scheduler ConfirmScheduler
	URLs      URLInvalidator
	Ledger    Ledger
	Logger    zerolog.Logger

	ConfirmTimeout time.Duration
	Now            func() time.Time
}

// Process runs one event through the state machine. The returned outcome is
// for the ledger and response semantics; a non-nil error means an internal
// failure the provider should retry (5xx), never a business rejection.
func (p *Processor) Process(ctx context.Context, evt Event) (Outcome, error) {
	outcome, err := p.process(ctx, evt)

	if obs.WebhookEventsTotal != nil {
		obs.WebhookEventsTotal.WithLabelValues(evt.Type, string(outcome)).Inc()
	}
	return outcome, err
}

func (p *Processor) process(ctx context.Context, evt Event) (Outcome, error) {
	logger := p.Logger.With().Str("event_type", evt.Type).Str("origin_id", evt.OriginID).Logger()

	if !evt.KnownType() {
		logger.Info().Msg("ignoring unrecognized webhook event type")
		p.record(ctx, evt, "", OutcomeIgnoredUnknown, "unrecognized event type")
		return OutcomeIgnoredUnknown, nil
	}

	ord, err := p.Resolver.Resolve(ctx, evt.OriginID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			if obs.WebhookUnmatchedOrders != nil {
				obs.WebhookUnmatchedOrders.Inc()
			}
			p.record(ctx, evt, "", OutcomeUnmatchedOrder, "no order for origin_id")
			return OutcomeUnmatchedOrder, nil
		}
		p.record(ctx, evt, "", OutcomeError, err.Error())
		return OutcomeError, fmt.Errorf("resolve order: %w", err)
	}

	var outcome Outcome
	lockErr := p.Locker.WithLock(ctx, lock.OrderKey(ord.ID), p.lockTTL(), func(ctx context.Context) error {
		// re-read under the lock so idempotence checks see the latest state
		fresh, err := p.Store.Get(ctx, ord.ID)
		if err != nil {
			return fmt.Errorf("reload order: %w", err)
		}

		if evt.MerchantID != "" && !tenant.Match(evt.MerchantID, fresh.MerchantID) {
			logger.Warn().
				Str("order_id", fresh.ID).
				Str("claimed_merchant", evt.MerchantID).
				Str("order_merchant", fresh.MerchantID).
				Msg("webhook merchant mismatch, possible spoofing")
			if obs.WebhookMerchantMismatches != nil {
				obs.WebhookMerchantMismatches.Inc()
			}
			outcome = OutcomeMerchantMismatch
			return nil
		}

		out, err := p.apply(ctx, logger, evt, fresh)
		outcome = out
		return err
	})
	if lockErr != nil {
		p.record(ctx, evt, ord.ID, OutcomeError, lockErr.Error())
		return OutcomeError, lockErr
	}

	detail := ""
	if outcome == OutcomeMerchantMismatch {
		detail = "tenant claim does not match order merchant"
	}
	p.record(ctx, evt, ord.ID, outcome, detail)
	return outcome, nil
}

// apply runs the (event type, order status) transition table. Callers hold
// the per-order lock.
func (p *Processor) apply(ctx context.Context, logger zerolog.Logger, evt Event, ord order.Order) (Outcome, error) {
	switch evt.Type {
	case TypePayment:
		return p.applyPayment(ctx, logger, evt, ord)
	case TypeFailedPayment:
		return p.applyFailure(ctx, logger, evt, ord, "payment failed")
	case TypeCancellation:
		return p.applyCancellation(ctx, logger, evt, ord)
	case TypeTransfer:
		return p.applyTransfer(ctx, logger, evt, ord)
	case TypeFailedTransfer:
		return p.applyFailure(ctx, logger, evt, ord, "transfer failed")
	default:
		return OutcomeIgnoredUnknown, nil
	}
}

func (p *Processor) applyPayment(ctx context.Context, logger zerolog.Logger, evt Event, ord order.Order) (Outcome, error) {
	already := ord.Status == order.StatusProcessing || ord.Status == order.StatusCompleted
	if !already && !ord.Status.CanTransition(order.StatusProcessing) {
		logger.Warn().
			Str("order_id", ord.ID).
			Str("order_status", string(ord.Status)).
			Msg("payment event ignored: illegal transition")
		return OutcomeNoop, nil
	}

	if !already {
		if err := p.Store.UpdateStatus(ctx, ord.ID, order.StatusProcessing, "payment webhook received"); err != nil {
			return OutcomeError, fmt.Errorf("transition to processing: %w", err)
		}
	}

	// write-once in the store: replays never overwrite populated fields
	details := order.PaymentDetails{
		PaymentID:   evt.PaymentID,
		AgreementID: evt.AgreementID,
	}
	if evt.Transaction != nil {
		details.TransactionID = evt.Transaction.TransactionID
		details.TransactionHash = evt.Transaction.TransactionHash
		details.ChainID = evt.Transaction.ChainID
	}
	if err := p.Store.RecordPayment(ctx, ord.ID, details); err != nil {
		return OutcomeError, fmt.Errorf("record payment: %w", err)
	}

	p.dropPendingURL(ctx, logger, ord.ID)
	p.confirmPaid(ctx, logger, ord.ID, evt.PaymentID)

	if already {
		return OutcomeNoop, nil
	}
	return OutcomeProcessed, nil
}

// confirmPaid issues the outbound mark-paid call. It is best-effort: a
// failure is logged and handed to the durable scheduler, never rolled back
// into the webhook response.
func (p *Processor) confirmPaid(ctx context.Context, logger zerolog.Logger, orderID, paymentID string) {
	if p.Provider == nil || paymentID == "" {
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, p.confirmTimeout())
	defer cancel()

	if err := p.Provider.MarkOrderPaid(callCtx, paymentID); err != nil {
		logger.Warn().Err(err).
			Str("order_id", orderID).
			Str("payment_id", paymentID).
			Msg("mark-paid confirmation failed, scheduling retry")
		if p.Scheduler != nil {
			if schedErr := p.Scheduler.ScheduleMarkPaid(ctx, orderID, paymentID); schedErr != nil {
				logger.Error().Err(schedErr).Str("order_id", orderID).Msg("failed to schedule mark-paid retry")
			}
		}
	}
}

// dropPendingURL is best-effort: the cached URL carries its own TTL, so a
// failed delete only means it lingers until expiry.
func (p *Processor) dropPendingURL(ctx context.Context, logger zerolog.Logger, orderID string) {
	if p.URLs == nil {
		return
	}
	if err := p.URLs.Delete(ctx, orderID); err != nil {
		logger.Warn().Err(err).
			Str("order_id", orderID).
			Msg("failed to drop pending checkout url")
	}
}

func (p *Processor) applyFailure(ctx context.Context, logger zerolog.Logger, evt Event, ord order.Order, fallbackReason string) (Outcome, error) {
	if ord.Status == order.StatusFailed {
		return OutcomeNoop, nil
	}
	if !ord.Status.CanTransition(order.StatusFailed) {
		logger.Warn().
			Str("order_id", ord.ID).
			Str("order_status", string(ord.Status)).
			Msg("failure event ignored: illegal transition")
		return OutcomeNoop, nil
	}
	reason := evt.FailureReason
	if reason == "" {
		reason = fallbackReason
	}
	if err := p.Store.UpdateStatus(ctx, ord.ID, order.StatusFailed, reason); err != nil {
		return OutcomeError, fmt.Errorf("transition to failed: %w", err)
	}
	if err := p.Store.RecordFailure(ctx, ord.ID, reason); err != nil {
		return OutcomeError, fmt.Errorf("record failure: %w", err)
	}
	return OutcomeProcessed, nil
}

func (p *Processor) applyCancellation(ctx context.Context, logger zerolog.Logger, evt Event, ord order.Order) (Outcome, error) {
	// The subscription columns cache agreement state at the provider, not
	// order state: a provider-side cancellation lands there even when the
	// order itself can no longer move to cancelled.
	stamped := false
	if ord.IsSubscription && ord.SubscriptionStatus != order.SubscriptionCancelled {
		if _, err := p.Store.MarkSubscriptionCancelled(ctx, ord.ID, p.now()); err != nil {
			return OutcomeError, fmt.Errorf("mark subscription cancelled: %w", err)
		}
		stamped = true
	}

	switch {
	case ord.Status.Terminal():
		// nothing further to do on the order
	case !ord.Status.CanTransition(order.StatusCancelled):
		logger.Warn().
			Str("order_id", ord.ID).
			Str("order_status", string(ord.Status)).
			Msg("cancellation left order status unchanged: illegal transition")
	default:
		if err := p.Store.UpdateStatus(ctx, ord.ID, order.StatusCancelled, "cancellation webhook received"); err != nil {
			return OutcomeError, fmt.Errorf("transition to cancelled: %w", err)
		}
		return OutcomeProcessed, nil
	}

	if stamped {
		return OutcomeProcessed, nil
	}
	return OutcomeNoop, nil
}

func (p *Processor) applyTransfer(ctx context.Context, logger zerolog.Logger, evt Event, ord order.Order) (Outcome, error) {
	if ord.TransferID != "" {
		return OutcomeNoop, nil
	}
	already := ord.Status == order.StatusProcessing
	if !already && !ord.Status.CanTransition(order.StatusProcessing) {
		logger.Warn().
			Str("order_id", ord.ID).
			Str("order_status", string(ord.Status)).
			Msg("transfer event ignored: illegal transition")
		return OutcomeNoop, nil
	}
	if !already {
		if err := p.Store.UpdateStatus(ctx, ord.ID, order.StatusProcessing, "transfer webhook received"); err != nil {
			return OutcomeError, fmt.Errorf("transition to processing: %w", err)
		}
	}
	if err := p.Store.RecordTransfer(ctx, ord.ID, order.TransferDetails{
		TransferID:   evt.TransferID,
		TransferHash: evt.Hash,
		WalletID:     evt.WalletID,
		Network:      evt.Network,
	}); err != nil {
		return OutcomeError, fmt.Errorf("record transfer: %w", err)
	}
	return OutcomeProcessed, nil
}

func (p *Processor) record(ctx context.Context, evt Event, orderID string, outcome Outcome, detail string) {
	if p.Ledger == nil {
		return
	}
	entry := LedgerEntry{
		EventType:  evt.Type,
		OriginID:   evt.OriginID,
		OrderID:    orderID,
		MerchantID: evt.MerchantID,
		Outcome:    outcome,
		Detail:     detail,
		ReceivedAt: p.now(),
	}
	if err := p.Ledger.Record(ctx, entry); err != nil {
		p.Logger.Error().Err(err).Str("origin_id", evt.OriginID).Msg("failed to record webhook ledger entry")
	}
}

func (p *Processor) lockTTL() time.Duration {
	if p.LockTTL > 0 {
		return p.LockTTL
	}
	return 30 * time.Second
}

func (p *Processor) confirmTimeout() time.Duration {
	if p.ConfirmTimeout > 0 {
		return p.ConfirmTimeout
	}
	return 5 * time.Second
}

func (p *Processor) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now().UTC()
}
