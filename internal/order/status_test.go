package order_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/halcyonpay/paybridge/internal/order"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to order.Status
		allowed  bool
	}{
		{order.StatusPending, order.StatusProcessing, true},
		{order.StatusPending, order.StatusFailed, true},
		{order.StatusPending, order.StatusCancelled, true},
		{order.StatusPending, order.StatusCompleted, false},
		{order.StatusPending, order.StatusRefunded, false},
		{order.StatusProcessing, order.StatusCompleted, true},
		{order.StatusProcessing, order.StatusRefundPending, true},
		{order.StatusFailed, order.StatusProcessing, true},
		{order.StatusCancelled, order.StatusProcessing, false},
		{order.StatusCancelled, order.StatusPending, false},
		{order.StatusRefunded, order.StatusProcessing, false},
		{order.StatusRefundPending, order.StatusProcessing, true},
		{order.StatusRefundPending, order.StatusRefunded, true},
	}
	for _, tt := range tests {
		require.Equal(t, tt.allowed, tt.from.CanTransition(tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestSelfTransitionIsAllowed(t *testing.T) {
	for _, s := range []order.Status{
		order.StatusPending, order.StatusProcessing, order.StatusCompleted,
		order.StatusFailed, order.StatusCancelled, order.StatusRefundPending,
		order.StatusRefunded,
	} {
		require.True(t, s.CanTransition(s), "%s -> %s", s, s)
	}
}

func TestTerminalStates(t *testing.T) {
	require.True(t, order.StatusCancelled.Terminal())
	require.True(t, order.StatusRefunded.Terminal())
	require.False(t, order.StatusCompleted.Terminal())
	require.False(t, order.StatusFailed.Terminal())
}

func TestStatusValid(t *testing.T) {
	require.True(t, order.StatusRefundPending.Valid())
	require.False(t, order.Status("on-hold").Valid())
}
