package webhook

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/halcyonpay/paybridge/internal/lock"
	"github.com/halcyonpay/paybridge/internal/obs"
	"github.com/halcyonpay/paybridge/internal/order"
)

type stubConfirmer struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (s *stubConfirmer) MarkOrderPaid(_ context.Context, paymentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, paymentID)
	return s.err
}

func (s *stubConfirmer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type stubScheduler struct {
	mu        sync.Mutex
	scheduled [][2]string
}

func (s *stubScheduler) ScheduleMarkPaid(_ context.Context, orderID, paymentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled = append(s.scheduled, [2]string{orderID, paymentID})
	return nil
}

type stubURLCache struct {
	mu      sync.Mutex
	deleted []string
	err     error
}

func (s *stubURLCache) Delete(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, orderID)
	return s.err
}

func (s *stubURLCache) deletedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted...)
}

type memLedger struct {
	mu      sync.Mutex
	entries []LedgerEntry
}

func (l *memLedger) Record(_ context.Context, e LedgerEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	return nil
}

func (l *memLedger) List(_ context.Context, limit, offset int) ([]LedgerEntry, int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LedgerEntry(nil), l.entries...), int64(len(l.entries)), nil
}

func (l *memLedger) last(t *testing.T) LedgerEntry {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	require.NotEmpty(t, l.entries)
	return l.entries[len(l.entries)-1]
}

type procFixture struct {
	store     *order.MemStore
	confirmer *stubConfirmer
	scheduler *stubScheduler
	urls      *stubURLCache
	ledger    *memLedger
	proc      *Processor
}

func newProcessor(t *testing.T) *procFixture {
	t.Helper()
	obs.MustRegisterDomainMetrics("test", prometheus.NewRegistry())

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := order.NewMemStore()
	confirmer := &stubConfirmer{}
	scheduler := &stubScheduler{}
	urls := &stubURLCache{}
	ledger := &memLedger{}
	proc := &Processor{
		Store:     store,
		Resolver:  order.Resolver{Store: store, Logger: zerolog.Nop()},
		Locker:    lock.Locker{R: client, RetryBackoff: time.Millisecond},
		Provider:  confirmer,
		Scheduler: scheduler,
		URLs:      urls,
		Ledger:    ledger,
		Logger:    zerolog.Nop(),
	}
	return &procFixture{store: store, confirmer: confirmer, scheduler: scheduler, urls: urls, ledger: ledger, proc: proc}
}

func (f *procFixture) createOrder(t *testing.T, o order.Order) order.Order {
	t.Helper()
	created, err := f.store.Create(context.Background(), o)
	require.NoError(t, err)
	return created
}

func TestPaymentWebhookSettlesOrder(t *testing.T) {
	f := newProcessor(t)
	ctx := context.Background()
	ord := f.createOrder(t, order.Order{
		PurchaseSessionID: "sess_111",
		MerchantID:        "mrch_42",
		Status:            order.StatusPending,
	})

	evt := Event{
		Type:       TypePayment,
		OriginID:   "111",
		MerchantID: "mrch_42",
		PaymentID:  "pay_1",
		Transaction: &TransactionDetails{
			TransactionHash: "0xabc",
		},
	}
	outcome, err := f.proc.Process(ctx, evt)
	require.NoError(t, err)
	require.Equal(t, OutcomeProcessed, outcome)

	got, err := f.store.Get(ctx, ord.ID)
	require.NoError(t, err)
	require.Equal(t, order.StatusProcessing, got.Status)
	require.Equal(t, "0xabc", got.TransactionHash)
	require.Equal(t, "pay_1", got.PaymentID)
	require.Equal(t, 1, f.confirmer.callCount())
}

func TestPaymentWebhookReplayIsNoop(t *testing.T) {
	f := newProcessor(t)
	ctx := context.Background()
	ord := f.createOrder(t, order.Order{
		PurchaseSessionID: "sess_111",
		MerchantID:        "mrch_42",
		Status:            order.StatusPending,
	})

	evt := Event{
		Type:        TypePayment,
		OriginID:    "111",
		MerchantID:  "mrch_42",
		PaymentID:   "pay_1",
		Transaction: &TransactionDetails{TransactionHash: "0xabc"},
	}
	for i := 0; i < 3; i++ {
		_, err := f.proc.Process(ctx, evt)
		require.NoError(t, err)
	}

	got, err := f.store.Get(ctx, ord.ID)
	require.NoError(t, err)
	require.Equal(t, order.StatusProcessing, got.Status)
	require.Equal(t, "0xabc", got.TransactionHash)
	// replays may safely re-attempt the outbound confirmation
	require.Equal(t, 3, f.confirmer.callCount())
	require.Equal(t, OutcomeNoop, f.ledger.last(t).Outcome)
}

func TestPaymentReplayNeverOverwritesTransactionFields(t *testing.T) {
	f := newProcessor(t)
	ctx := context.Background()
	ord := f.createOrder(t, order.Order{
		PurchaseSessionID: "sess_111",
		MerchantID:        "mrch_42",
		Status:            order.StatusPending,
	})

	first := Event{
		Type:        TypePayment,
		OriginID:    "sess_111",
		MerchantID:  "mrch_42",
		PaymentID:   "pay_1",
		Transaction: &TransactionDetails{TransactionHash: "0xabc", TransactionID: "tx-1", ChainID: "1"},
	}
	_, err := f.proc.Process(ctx, first)
	require.NoError(t, err)

	second := first
	second.Transaction = &TransactionDetails{TransactionHash: "0xdef"}
	_, err = f.proc.Process(ctx, second)
	require.NoError(t, err)

	got, err := f.store.Get(ctx, ord.ID)
	require.NoError(t, err)
	require.Equal(t, "0xabc", got.TransactionHash)
	require.Equal(t, "tx-1", got.TransactionID)
}

func TestMerchantMismatchLeavesOrderUntouched(t *testing.T) {
	f := newProcessor(t)
	ctx := context.Background()
	ord := f.createOrder(t, order.Order{
		PurchaseSessionID: "sess_111",
		MerchantID:        "mrch_42",
		Status:            order.StatusPending,
	})

	evt := Event{
		Type:        TypePayment,
		OriginID:    "sess_111",
		MerchantID:  "mrch_99",
		PaymentID:   "pay_1",
		Transaction: &TransactionDetails{TransactionHash: "0xabc"},
	}
	outcome, err := f.proc.Process(ctx, evt)
	require.NoError(t, err)
	require.Equal(t, OutcomeMerchantMismatch, outcome)

	got, err := f.store.Get(ctx, ord.ID)
	require.NoError(t, err)
	require.Equal(t, order.StatusPending, got.Status)
	require.Empty(t, got.TransactionHash)
	require.Zero(t, f.confirmer.callCount())
}

func TestMerchantPrefixConventionTolerated(t *testing.T) {
	f := newProcessor(t)
	ctx := context.Background()
	f.createOrder(t, order.Order{
		PurchaseSessionID: "sess_111",
		MerchantID:        "wl_mrch_42",
		Status:            order.StatusPending,
	})

	evt := Event{
		Type:       TypePayment,
		OriginID:   "sess_111",
		MerchantID: "mrch_42",
		PaymentID:  "pay_1",
	}
	outcome, err := f.proc.Process(ctx, evt)
	require.NoError(t, err)
	require.Equal(t, OutcomeProcessed, outcome)
}

func TestUnknownEventTypeIsAcknowledged(t *testing.T) {
	f := newProcessor(t)
	outcome, err := f.proc.Process(context.Background(), Event{Type: "mystery", OriginID: "sess_1"})
	require.NoError(t, err)
	require.Equal(t, OutcomeIgnoredUnknown, outcome)
	require.Equal(t, OutcomeIgnoredUnknown, f.ledger.last(t).Outcome)
}

func TestUnmatchedOrderIsAcknowledgedAndLedgered(t *testing.T) {
	f := newProcessor(t)
	outcome, err := f.proc.Process(context.Background(), Event{Type: TypePayment, OriginID: "sess_ghost"})
	require.NoError(t, err)
	require.Equal(t, OutcomeUnmatchedOrder, outcome)
	require.Equal(t, OutcomeUnmatchedOrder, f.ledger.last(t).Outcome)
}

func TestFailedPaymentRecordsReason(t *testing.T) {
	f := newProcessor(t)
	ctx := context.Background()
	ord := f.createOrder(t, order.Order{
		PurchaseSessionID: "sess_111",
		MerchantID:        "mrch_42",
		Status:            order.StatusPending,
	})

	evt := Event{Type: TypeFailedPayment, OriginID: "sess_111", MerchantID: "mrch_42", FailureReason: "insufficient funds"}
	outcome, err := f.proc.Process(ctx, evt)
	require.NoError(t, err)
	require.Equal(t, OutcomeProcessed, outcome)

	got, err := f.store.Get(ctx, ord.ID)
	require.NoError(t, err)
	require.Equal(t, order.StatusFailed, got.Status)
	require.Equal(t, "insufficient funds", got.FailureReason)

	// replay is a no-op
	outcome, err = f.proc.Process(ctx, evt)
	require.NoError(t, err)
	require.Equal(t, OutcomeNoop, outcome)
}

func TestCancellationStampsSubscriptionOnce(t *testing.T) {
	f := newProcessor(t)
	ctx := context.Background()
	ord := f.createOrder(t, order.Order{
		PurchaseSessionID:  "sess_111",
		MerchantID:         "mrch_42",
		Status:             order.StatusPending,
		IsSubscription:     true,
		AgreementID:        "agr_9",
		SubscriptionStatus: order.SubscriptionActive,
	})

	evt := Event{Type: TypeCancellation, OriginID: "sess_111", MerchantID: "mrch_42"}
	outcome, err := f.proc.Process(ctx, evt)
	require.NoError(t, err)
	require.Equal(t, OutcomeProcessed, outcome)

	got, err := f.store.Get(ctx, ord.ID)
	require.NoError(t, err)
	require.Equal(t, order.StatusCancelled, got.Status)
	require.Equal(t, order.SubscriptionCancelled, got.SubscriptionStatus)
	require.NotNil(t, got.CancelledAt)
	firstStamp := *got.CancelledAt

	// terminal, second delivery is a no-op and the stamp does not move
	outcome, err = f.proc.Process(ctx, evt)
	require.NoError(t, err)
	require.Equal(t, OutcomeNoop, outcome)
	got, err = f.store.Get(ctx, ord.ID)
	require.NoError(t, err)
	require.Equal(t, firstStamp, *got.CancelledAt)
}

func TestCancellationOnCompletedSubscriptionStampsAgreement(t *testing.T) {
	f := newProcessor(t)
	ctx := context.Background()
	ord := f.createOrder(t, order.Order{
		PurchaseSessionID:  "sess_777",
		MerchantID:         "mrch_42",
		Status:             order.StatusCompleted,
		IsSubscription:     true,
		AgreementID:        "agr_9",
		SubscriptionStatus: order.SubscriptionActive,
	})

	evt := Event{Type: TypeCancellation, OriginID: "sess_777", MerchantID: "mrch_42"}
	outcome, err := f.proc.Process(ctx, evt)
	require.NoError(t, err)
	require.Equal(t, OutcomeProcessed, outcome)

	// the order status cannot legally move to cancelled, but the agreement
	// cache still reflects the provider-side cancellation
	got, err := f.store.Get(ctx, ord.ID)
	require.NoError(t, err)
	require.Equal(t, order.StatusCompleted, got.Status)
	require.Equal(t, order.SubscriptionCancelled, got.SubscriptionStatus)
	require.NotNil(t, got.CancelledAt)

	// replay is a no-op once the stamp is in place
	outcome, err = f.proc.Process(ctx, evt)
	require.NoError(t, err)
	require.Equal(t, OutcomeNoop, outcome)
}

func TestPaymentDropsPendingCheckoutURL(t *testing.T) {
	f := newProcessor(t)
	ctx := context.Background()
	ord := f.createOrder(t, order.Order{
		PurchaseSessionID: "sess_111",
		MerchantID:        "mrch_42",
		Status:            order.StatusPending,
	})

	evt := Event{Type: TypePayment, OriginID: "sess_111", MerchantID: "mrch_42", PaymentID: "pay_1"}
	_, err := f.proc.Process(ctx, evt)
	require.NoError(t, err)
	require.Equal(t, []string{ord.ID}, f.urls.deletedIDs())
}

func TestPaymentSettlesEvenWhenURLDropFails(t *testing.T) {
	f := newProcessor(t)
	f.urls.err = errors.New("redis down")
	ctx := context.Background()
	ord := f.createOrder(t, order.Order{
		PurchaseSessionID: "sess_111",
		MerchantID:        "mrch_42",
		Status:            order.StatusPending,
	})

	outcome, err := f.proc.Process(ctx, Event{Type: TypePayment, OriginID: "sess_111", MerchantID: "mrch_42", PaymentID: "pay_1"})
	require.NoError(t, err)
	require.Equal(t, OutcomeProcessed, outcome)

	got, err := f.store.Get(ctx, ord.ID)
	require.NoError(t, err)
	require.Equal(t, order.StatusProcessing, got.Status)
}

func TestCancelledSubscriptionNeverReactivates(t *testing.T) {
	f := newProcessor(t)
	ctx := context.Background()
	ord := f.createOrder(t, order.Order{
		PurchaseSessionID:  "sess_111",
		MerchantID:         "mrch_42",
		Status:             order.StatusPending,
		IsSubscription:     true,
		SubscriptionStatus: order.SubscriptionActive,
	})

	_, err := f.proc.Process(ctx, Event{Type: TypeCancellation, OriginID: "sess_111", MerchantID: "mrch_42"})
	require.NoError(t, err)

	// later payment webhook must not resurrect the subscription
	outcome, err := f.proc.Process(ctx, Event{Type: TypePayment, OriginID: "sess_111", MerchantID: "mrch_42", PaymentID: "pay_2"})
	require.NoError(t, err)
	require.Equal(t, OutcomeNoop, outcome)

	got, err := f.store.Get(ctx, ord.ID)
	require.NoError(t, err)
	require.Equal(t, order.StatusCancelled, got.Status)
	require.Equal(t, order.SubscriptionCancelled, got.SubscriptionStatus)
}

func TestTransferRecordsFieldsOnce(t *testing.T) {
	f := newProcessor(t)
	ctx := context.Background()
	ord := f.createOrder(t, order.Order{
		PurchaseSessionID: "sess_111",
		MerchantID:        "mrch_42",
		Status:            order.StatusRefundPending,
	})

	evt := Event{
		Type:       TypeTransfer,
		OriginID:   "sess_111",
		MerchantID: "mrch_42",
		TransferID: "tr_1",
		Hash:       "0xfeed",
		WalletID:   "wal_1",
		Network:    "ethereum",
	}
	outcome, err := f.proc.Process(ctx, evt)
	require.NoError(t, err)
	require.Equal(t, OutcomeProcessed, outcome)

	got, err := f.store.Get(ctx, ord.ID)
	require.NoError(t, err)
	require.Equal(t, order.StatusProcessing, got.Status)
	require.Equal(t, "tr_1", got.TransferID)
	require.Equal(t, "0xfeed", got.TransferHash)

	evt.TransferID = "tr_2"
	outcome, err = f.proc.Process(ctx, evt)
	require.NoError(t, err)
	require.Equal(t, OutcomeNoop, outcome)
	got, _ = f.store.Get(ctx, ord.ID)
	require.Equal(t, "tr_1", got.TransferID)
}

func TestMarkPaidFailureDoesNotRollBack(t *testing.T) {
	f := newProcessor(t)
	f.confirmer.err = errors.New("provider down")
	ctx := context.Background()
	ord := f.createOrder(t, order.Order{
		PurchaseSessionID: "sess_111",
		MerchantID:        "mrch_42",
		Status:            order.StatusPending,
	})

	evt := Event{Type: TypePayment, OriginID: "sess_111", MerchantID: "mrch_42", PaymentID: "pay_1"}
	outcome, err := f.proc.Process(ctx, evt)
	require.NoError(t, err)
	require.Equal(t, OutcomeProcessed, outcome)

	got, err := f.store.Get(ctx, ord.ID)
	require.NoError(t, err)
	require.Equal(t, order.StatusProcessing, got.Status, "local transition survives provider failure")

	f.scheduler.mu.Lock()
	defer f.scheduler.mu.Unlock()
	require.Equal(t, [][2]string{{ord.ID, "pay_1"}}, f.scheduler.scheduled)
}

func TestConcurrentPaymentDeliveriesSerialize(t *testing.T) {
	f := newProcessor(t)
	ctx := context.Background()
	ord := f.createOrder(t, order.Order{
		PurchaseSessionID: "sess_111",
		MerchantID:        "mrch_42",
		Status:            order.StatusPending,
	})

	evt := Event{
		Type:        TypePayment,
		OriginID:    "sess_111",
		MerchantID:  "mrch_42",
		PaymentID:   "pay_1",
		Transaction: &TransactionDetails{TransactionHash: "0xabc"},
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.proc.Process(ctx, evt)
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := f.store.Get(ctx, ord.ID)
	require.NoError(t, err)
	require.Equal(t, order.StatusProcessing, got.Status)
	require.Equal(t, "0xabc", got.TransactionHash)
}
