package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/halcyonpay/paybridge/internal/agreement"
	"github.com/halcyonpay/paybridge/internal/common"
	"github.com/halcyonpay/paybridge/internal/lock"
	"github.com/halcyonpay/paybridge/internal/order"
)

// AgreementCanceller is the slice of the provider client used for
// admin-initiated cancellation.
type AgreementCanceller interface {
	CancelAgreement(ctx context.Context, agreementID string) error
}

// Service implements the admin operations over orders and subscriptions.
type Service struct {
	Store    order.Store
	Provider AgreementCanceller
	Views    agreement.Builder
	Locker   lock.Locker
	LockTTL  time.Duration
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Subscription is one row of the admin subscriptions list: the order merged
// with its agreement view.
type Subscription struct {
	Order     order.Order    `json:"order"`
	Agreement agreement.View `json:"agreement"`
}

// ListOrders returns a page of orders, optionally filtered by status.
func (s *Service) ListOrders(ctx context.Context, status string, page, perPage int) ([]order.Order, int64, error) {
	filter := order.ListFilter{
		Limit:  perPage,
		Offset: (page - 1) * perPage,
	}
	if status != "" {
		st := order.Status(status)
		if !st.Valid() {
			return nil, 0, common.NewAppError(common.CodeBadRequest, "unknown status filter", http.StatusBadRequest, nil)
		}
		filter.Status = &st
	}
	return s.Store.List(ctx, filter)
}

// ListSubscriptions returns subscription orders merged with their live
// agreement views.
func (s *Service) ListSubscriptions(ctx context.Context, page, perPage int) ([]Subscription, int64, error) {
	orders, total, err := s.Store.List(ctx, order.ListFilter{
		SubscriptionsOnly: true,
		Limit:             perPage,
		Offset:            (page - 1) * perPage,
	})
	if err != nil {
		return nil, 0, err
	}
	subs := make([]Subscription, 0, len(orders))
	for _, ord := range orders {
		subs = append(subs, Subscription{
			Order:     ord,
			Agreement: s.Views.Build(ctx, ord),
		})
	}
	return subs, total, nil
}

// CancelSubscription cancels the provider agreement, then applies the local
// cancellation under the order lock. It converges with the cancellation
// webhook: whichever side lands first stamps cancelled_at, the other is a
// no-op.
func (s *Service) CancelSubscription(ctx context.Context, orderID string) (order.Order, error) {
	ord, err := s.Store.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			return order.Order{}, common.NewAppError(common.CodeNotFound, "order not found", http.StatusNotFound, err)
		}
		return order.Order{}, err
	}
	if !ord.IsSubscription {
		return order.Order{}, common.NewAppError(common.CodeBadRequest, "order is not a subscription", http.StatusBadRequest, nil)
	}
	if ord.AgreementID == "" {
		return order.Order{}, common.NewAppError(common.CodeConflict, "subscription not yet confirmed by the provider", http.StatusConflict, nil)
	}

	if err := s.Provider.CancelAgreement(ctx, ord.AgreementID); err != nil {
		s.Logger.Error().Err(err).
			Str("order_id", ord.ID).
			Str("agreement_id", ord.AgreementID).
			Msg("provider agreement cancellation failed")
		return order.Order{}, common.NewAppError(common.CodeProviderError, "agreement cancellation failed", http.StatusBadGateway, err)
	}

	lockErr := s.Locker.WithLock(ctx, lock.OrderKey(ord.ID), s.lockTTL(), func(ctx context.Context) error {
		fresh, err := s.Store.Get(ctx, ord.ID)
		if err != nil {
			return fmt.Errorf("reload order: %w", err)
		}
		if !fresh.Status.Terminal() && fresh.Status.CanTransition(order.StatusCancelled) {
			if err := s.Store.UpdateStatus(ctx, fresh.ID, order.StatusCancelled, "subscription cancelled by admin"); err != nil {
				return fmt.Errorf("transition to cancelled: %w", err)
			}
		}
		if _, err := s.Store.MarkSubscriptionCancelled(ctx, fresh.ID, s.now()); err != nil {
			return fmt.Errorf("mark subscription cancelled: %w", err)
		}
		return nil
	})
	if lockErr != nil {
		return order.Order{}, lockErr
	}

	return s.Store.Get(ctx, ord.ID)
}

func (s *Service) lockTTL() time.Duration {
	if s.LockTTL > 0 {
		return s.LockTTL
	}
	return 30 * time.Second
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}
