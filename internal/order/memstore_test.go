package order_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/halcyonpay/paybridge/internal/order"
)

func TestRecordPaymentWriteOnce(t *testing.T) {
	store := order.NewMemStore()
	o, err := store.Create(context.Background(), order.Order{PurchaseSessionID: "sess_1"})
	require.NoError(t, err)

	err = store.RecordPayment(context.Background(), o.ID, order.PaymentDetails{
		PaymentID:       "pay_1",
		TransactionHash: "0xabc",
		ChainID:         "1",
	})
	require.NoError(t, err)

	// A replay carrying different (or empty) values must not win.
	err = store.RecordPayment(context.Background(), o.ID, order.PaymentDetails{
		PaymentID:       "pay_other",
		TransactionHash: "",
		ChainID:         "137",
	})
	require.NoError(t, err)

	got, err := store.Get(context.Background(), o.ID)
	require.NoError(t, err)
	require.Equal(t, "pay_1", got.PaymentID)
	require.Equal(t, "0xabc", got.TransactionHash)
	require.Equal(t, "1", got.ChainID)
}

func TestRecordPaymentActivatesSubscriptionOnce(t *testing.T) {
	store := order.NewMemStore()
	o, err := store.Create(context.Background(), order.Order{
		PurchaseSessionID: "sess_sub",
		IsSubscription:    true,
	})
	require.NoError(t, err)

	require.NoError(t, store.RecordPayment(context.Background(), o.ID, order.PaymentDetails{AgreementID: "agr_9"}))
	got, _ := store.Get(context.Background(), o.ID)
	require.Equal(t, order.SubscriptionActive, got.SubscriptionStatus)

	// A cancelled subscription never flips back to active on replay.
	_, err = store.MarkSubscriptionCancelled(context.Background(), o.ID, time.Now())
	require.NoError(t, err)
	require.NoError(t, store.RecordPayment(context.Background(), o.ID, order.PaymentDetails{AgreementID: "agr_9"}))
	got, _ = store.Get(context.Background(), o.ID)
	require.Equal(t, order.SubscriptionCancelled, got.SubscriptionStatus)
}

func TestMarkSubscriptionCancelledStampsOnce(t *testing.T) {
	store := order.NewMemStore()
	o, err := store.Create(context.Background(), order.Order{IsSubscription: true})
	require.NoError(t, err)

	first := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)

	stamped, err := store.MarkSubscriptionCancelled(context.Background(), o.ID, first)
	require.NoError(t, err)
	require.Equal(t, first, stamped)

	stamped, err = store.MarkSubscriptionCancelled(context.Background(), o.ID, second)
	require.NoError(t, err)
	require.Equal(t, first, stamped, "earliest stamping event wins")
}

func TestListFilters(t *testing.T) {
	store := order.NewMemStore()
	ctx := context.Background()
	_, err := store.Create(ctx, order.Order{PurchaseSessionID: "sess_a", IsSubscription: true})
	require.NoError(t, err)
	b, err := store.Create(ctx, order.Order{PurchaseSessionID: "sess_b"})
	require.NoError(t, err)
	require.NoError(t, store.UpdateStatus(ctx, b.ID, order.StatusProcessing, "paid"))

	subs, total, err := store.List(ctx, order.ListFilter{SubscriptionsOnly: true})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Len(t, subs, 1)
	require.True(t, subs[0].IsSubscription)

	processing := order.StatusProcessing
	byStatus, total, err := store.List(ctx, order.ListFilter{Status: &processing})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Equal(t, b.ID, byStatus[0].ID)
}
