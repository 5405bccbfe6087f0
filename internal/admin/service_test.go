package admin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/halcyonpay/paybridge/internal/agreement"
	"github.com/halcyonpay/paybridge/internal/lock"
	"github.com/halcyonpay/paybridge/internal/obs"
	"github.com/halcyonpay/paybridge/internal/order"
	"github.com/halcyonpay/paybridge/internal/provider"
	"github.com/halcyonpay/paybridge/internal/webhook"
)

type stubProvider struct {
	mu        sync.Mutex
	cancelErr error
	cancelled []string
	agreement provider.Agreement
}

func (s *stubProvider) CancelAgreement(_ context.Context, agreementID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelErr != nil {
		return s.cancelErr
	}
	s.cancelled = append(s.cancelled, agreementID)
	return nil
}

func (s *stubProvider) RetrieveAgreement(_ context.Context, id string) (provider.Agreement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agreement.ID = id
	return s.agreement, nil
}

func (s *stubProvider) MarkOrderPaid(_ context.Context, _ string) error { return nil }

type adminFixture struct {
	store    *order.MemStore
	provider *stubProvider
	svc      *Service
	locker   lock.Locker
}

func newService(t *testing.T) *adminFixture {
	t.Helper()
	obs.MustRegisterDomainMetrics("test", prometheus.NewRegistry())
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := order.NewMemStore()
	prov := &stubProvider{agreement: provider.Agreement{Raw: map[string]any{"status": "active"}}}
	locker := lock.Locker{R: client, RetryBackoff: time.Millisecond}
	svc := &Service{
		Store:    store,
		Provider: prov,
		Views:    agreement.Builder{Provider: prov, Logger: zerolog.Nop()},
		Locker:   locker,
		Logger:   zerolog.Nop(),
	}
	return &adminFixture{store: store, provider: prov, svc: svc, locker: locker}
}

func TestListOrdersFiltersByStatus(t *testing.T) {
	f := newService(t)
	ctx := context.Background()
	_, err := f.store.Create(ctx, order.Order{Status: order.StatusPending})
	require.NoError(t, err)
	_, err = f.store.Create(ctx, order.Order{Status: order.StatusCompleted})
	require.NoError(t, err)

	orders, total, err := f.svc.ListOrders(ctx, "completed", 1, 20)
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Len(t, orders, 1)
	require.Equal(t, order.StatusCompleted, orders[0].Status)

	_, _, err = f.svc.ListOrders(ctx, "bogus", 1, 20)
	require.Error(t, err)
}

func TestListSubscriptionsMergesAgreementViews(t *testing.T) {
	f := newService(t)
	ctx := context.Background()
	f.provider.agreement = provider.Agreement{Raw: map[string]any{
		"status":            "active",
		"next_process_date": "2026-09-15",
		"frequency":         float64(2),
		"interval":          "week",
	}}
	_, err := f.store.Create(ctx, order.Order{
		IsSubscription:     true,
		AgreementID:        "agr_1",
		SubscriptionStatus: order.SubscriptionActive,
	})
	require.NoError(t, err)
	_, err = f.store.Create(ctx, order.Order{Status: order.StatusPending})
	require.NoError(t, err)

	subs, total, err := f.svc.ListSubscriptions(ctx, 1, 20)
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Len(t, subs, 1)
	require.Equal(t, "2026-09-15", subs[0].Agreement.NextProcessingDate)
	require.Equal(t, "Every 2nd Week", subs[0].Agreement.Frequency)
}

func TestCancelSubscription(t *testing.T) {
	f := newService(t)
	ctx := context.Background()
	ord, err := f.store.Create(ctx, order.Order{
		Status:             order.StatusProcessing,
		IsSubscription:     true,
		AgreementID:        "agr_9",
		SubscriptionStatus: order.SubscriptionActive,
	})
	require.NoError(t, err)

	got, err := f.svc.CancelSubscription(ctx, ord.ID)
	require.NoError(t, err)
	require.Equal(t, order.StatusCancelled, got.Status)
	require.Equal(t, order.SubscriptionCancelled, got.SubscriptionStatus)
	require.NotNil(t, got.CancelledAt)
	require.Equal(t, []string{"agr_9"}, f.provider.cancelled)
}

func TestCancelSubscriptionRejectsNonSubscription(t *testing.T) {
	f := newService(t)
	ctx := context.Background()
	ord, err := f.store.Create(ctx, order.Order{Status: order.StatusPending})
	require.NoError(t, err)

	_, err = f.svc.CancelSubscription(ctx, ord.ID)
	require.Error(t, err)
}

func TestCancelSubscriptionUnconfirmedConflicts(t *testing.T) {
	f := newService(t)
	ctx := context.Background()
	ord, err := f.store.Create(ctx, order.Order{Status: order.StatusPending, IsSubscription: true})
	require.NoError(t, err)

	_, err = f.svc.CancelSubscription(ctx, ord.ID)
	require.Error(t, err)
}

func TestCancelSubscriptionProviderFailureLeavesOrder(t *testing.T) {
	f := newService(t)
	f.provider.cancelErr = errors.New("provider down")
	ctx := context.Background()
	ord, err := f.store.Create(ctx, order.Order{
		Status:             order.StatusProcessing,
		IsSubscription:     true,
		AgreementID:        "agr_9",
		SubscriptionStatus: order.SubscriptionActive,
	})
	require.NoError(t, err)

	_, err = f.svc.CancelSubscription(ctx, ord.ID)
	require.Error(t, err)

	got, err := f.store.Get(ctx, ord.ID)
	require.NoError(t, err)
	require.Equal(t, order.StatusProcessing, got.Status)
	require.Equal(t, order.SubscriptionActive, got.SubscriptionStatus)
}

// Admin-initiated cancel and the cancellation webhook may land in either
// order; the final state converges and cancelled_at is stamped exactly once.
func TestCancelConvergesWithWebhook(t *testing.T) {
	for _, adminFirst := range []bool{true, false} {
		f := newService(t)
		ctx := context.Background()
		ord, err := f.store.Create(ctx, order.Order{
			PurchaseSessionID:  "sess_o2",
			MerchantID:         "mrch_42",
			Status:             order.StatusProcessing,
			IsSubscription:     true,
			AgreementID:        "agr_9",
			SubscriptionStatus: order.SubscriptionActive,
		})
		require.NoError(t, err)

		proc := &webhook.Processor{
			Store:    f.store,
			Resolver: order.Resolver{Store: f.store, Logger: zerolog.Nop()},
			Locker:   f.locker,
			Provider: f.provider,
			Logger:   zerolog.Nop(),
		}
		evt := webhook.Event{Type: webhook.TypeCancellation, OriginID: "sess_o2", MerchantID: "mrch_42"}

		if adminFirst {
			_, err = f.svc.CancelSubscription(ctx, ord.ID)
			require.NoError(t, err)
			_, err = proc.Process(ctx, evt)
			require.NoError(t, err)
		} else {
			_, err = proc.Process(ctx, evt)
			require.NoError(t, err)
			_, err = f.svc.CancelSubscription(ctx, ord.ID)
			require.NoError(t, err)
		}

		got, err := f.store.Get(ctx, ord.ID)
		require.NoError(t, err)
		require.Equal(t, order.StatusCancelled, got.Status, "adminFirst=%v", adminFirst)
		require.Equal(t, order.SubscriptionCancelled, got.SubscriptionStatus)
		require.NotNil(t, got.CancelledAt)
	}
}
