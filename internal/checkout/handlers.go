package checkout

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/halcyonpay/paybridge/internal/common"
)

// Handler exposes the checkout HTTP surface.
type Handler struct {
	Svc *Service
}

// Create handles POST /v1/checkout/sessions.
func (h Handler) Create(w http.ResponseWriter, r *http.Request) {
	var in Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid payload", nil)
		return
	}
	out, err := h.Svc.Create(r.Context(), in)
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": out})
}

// PendingURL handles GET /v1/checkout/sessions/{orderID}.
func (h Handler) PendingURL(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	if orderID == "" {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "order id is required", nil)
		return
	}
	url, err := h.Svc.PendingURL(r.Context(), orderID)
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]string{
		"order_id":     orderID,
		"redirect_url": url,
	}})
}
