package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/halcyonpay/paybridge/internal/common"
	"github.com/halcyonpay/paybridge/internal/obs"
	"github.com/halcyonpay/paybridge/internal/order"
	"github.com/halcyonpay/paybridge/internal/provider"
)

// Input is the checkout session request body.
type Input struct {
	Amount         int64  `json:"amount" validate:"required,gt=0"`
	Currency       string `json:"currency" validate:"required,len=3,uppercase"`
	IsSubscription bool   `json:"is_subscription"`
	SuccessURL     string `json:"success_url" validate:"omitempty,url"`
	CancelURL      string `json:"cancel_url" validate:"omitempty,url"`
}

// Output is the created checkout session.
type Output struct {
	OrderID     string `json:"order_id"`
	SessionID   string `json:"session_id"`
	RedirectURL string `json:"redirect_url"`
	ExpiresAt   int64  `json:"expires_at,omitempty"`
}

// SessionCreator is the slice of the provider client checkout needs.
type SessionCreator interface {
	CreateSession(ctx context.Context, req provider.SessionRequest) (provider.SessionResponse, error)
}

// Service creates local orders and their provider-hosted checkout sessions.
type Service struct {
	Store      order.Store
	Provider   SessionCreator
	URLs       URLStore
	MerchantID string
	Validate   *validator.Validate
	Logger     zerolog.Logger
}

// Create provisions a pending order, asks the provider for a hosted checkout
// session, binds the returned session id to the order and caches the redirect
// URL with a TTL.
func (s *Service) Create(ctx context.Context, in Input) (Output, error) {
	out, err := s.create(ctx, in)
	result := "ok"
	if err != nil {
		result = "error"
	}
	if obs.CheckoutSessionsTotal != nil {
		obs.CheckoutSessionsTotal.WithLabelValues(result).Inc()
	}
	return out, err
}

func (s *Service) create(ctx context.Context, in Input) (Output, error) {
	if s.Validate != nil {
		if err := s.Validate.Struct(in); err != nil {
			return Output{}, common.NewAppError(common.CodeBadRequest, "invalid checkout request", http.StatusBadRequest, err)
		}
	}

	ord, err := s.Store.Create(ctx, order.Order{
		MerchantID:     s.MerchantID,
		Amount:         in.Amount,
		Currency:       in.Currency,
		Status:         order.StatusPending,
		IsSubscription: in.IsSubscription,
	})
	if err != nil {
		return Output{}, fmt.Errorf("create order: %w", err)
	}

	sess, err := s.Provider.CreateSession(ctx, provider.SessionRequest{
		OrderID:        ord.ID,
		Amount:         in.Amount,
		Currency:       in.Currency,
		IsSubscription: in.IsSubscription,
		SuccessURL:     in.SuccessURL,
		CancelURL:      in.CancelURL,
	})
	if err != nil {
		s.Logger.Error().Err(err).Str("order_id", ord.ID).Msg("provider session creation failed")
		var apiErr *provider.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError {
			return Output{}, common.NewAppError(common.CodeProviderError, apiErr.Message, http.StatusBadGateway, err)
		}
		return Output{}, common.NewAppError(common.CodeProviderError, "checkout session creation failed", http.StatusBadGateway, err)
	}

	if err := s.Store.AssignSession(ctx, ord.ID, sess.SessionID); err != nil {
		return Output{}, fmt.Errorf("assign session: %w", err)
	}
	if err := s.URLs.Put(ctx, ord.ID, sess.RedirectURL); err != nil {
		// the redirect URL is still in the response, losing the cache is not fatal
		s.Logger.Warn().Err(err).Str("order_id", ord.ID).Msg("failed to cache checkout url")
	}

	s.Logger.Info().
		Str("order_id", ord.ID).
		Str("session_id", sess.SessionID).
		Bool("is_subscription", in.IsSubscription).
		Msg("checkout session created")

	return Output{
		OrderID:     ord.ID,
		SessionID:   sess.SessionID,
		RedirectURL: sess.RedirectURL,
		ExpiresAt:   sess.ExpiresAt,
	}, nil
}

// PendingURL returns the cached checkout URL for the order, or NotFound after
// expiry.
func (s *Service) PendingURL(ctx context.Context, orderID string) (string, error) {
	url, err := s.URLs.Get(ctx, orderID)
	if errors.Is(err, ErrURLNotFound) {
		return "", common.NewAppError(common.CodeNotFound, "no pending checkout session", http.StatusNotFound, err)
	}
	if err != nil {
		return "", err
	}
	return url, nil
}
