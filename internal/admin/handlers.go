package admin

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/halcyonpay/paybridge/internal/common"
	"github.com/halcyonpay/paybridge/internal/webhook"
)

// Handler exposes the admin HTTP surface. All routes sit behind Auth and the
// rate limiter.
type Handler struct {
	Svc    *Service
	Ledger webhook.Ledger
}

// ListOrders handles GET /v1/admin/orders.
func (h Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	page, perPage := common.ParsePagination(r, 20, 100)
	orders, total, err := h.Svc.ListOrders(r.Context(), r.URL.Query().Get("status"), page, perPage)
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	w.Header().Set("X-Total-Count", strconv.FormatInt(total, 10))
	common.JSON(w, http.StatusOK, map[string]any{
		"data": orders,
		"meta": common.Pagination{Page: page, PerPage: perPage, TotalItems: int(total)},
	})
}

// ListSubscriptions handles GET /v1/admin/subscriptions.
func (h Handler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	page, perPage := common.ParsePagination(r, 20, 100)
	subs, total, err := h.Svc.ListSubscriptions(r.Context(), page, perPage)
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	w.Header().Set("X-Total-Count", strconv.FormatInt(total, 10))
	common.JSON(w, http.StatusOK, map[string]any{
		"data": subs,
		"meta": common.Pagination{Page: page, PerPage: perPage, TotalItems: int(total)},
	})
}

// CancelSubscription handles POST /v1/admin/subscriptions/{orderID}/cancel.
func (h Handler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	if orderID == "" {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "order id is required", nil)
		return
	}
	ord, err := h.Svc.CancelSubscription(r.Context(), orderID)
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": ord})
}

// ListWebhookEvents handles GET /v1/admin/webhook-events: the ledger of
// recent deliveries, including resolution misses and ownership mismatches.
func (h Handler) ListWebhookEvents(w http.ResponseWriter, r *http.Request) {
	page, perPage := common.ParsePagination(r, 50, 200)
	entries, total, err := h.Ledger.List(r.Context(), perPage, (page-1)*perPage)
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	w.Header().Set("X-Total-Count", strconv.FormatInt(total, 10))
	common.JSON(w, http.StatusOK, map[string]any{
		"data": entries,
		"meta": common.Pagination{Page: page, PerPage: perPage, TotalItems: int(total)},
	})
}

// Routes mounts the admin endpoints on a chi router.
func (h Handler) Routes(auth Auth, limit func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	if limit != nil {
		r.Use(limit)
	}
	r.Use(auth.RequireAuth)
	r.Get("/orders", h.ListOrders)
	r.Get("/subscriptions", h.ListSubscriptions)
	r.Post("/subscriptions/{orderID}/cancel", h.CancelSubscription)
	r.Get("/webhook-events", h.ListWebhookEvents)
	return r
}
