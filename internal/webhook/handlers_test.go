package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/halcyonpay/paybridge/internal/common"
	"github.com/halcyonpay/paybridge/internal/order"
	"github.com/rs/zerolog"
)

func newHandler(t *testing.T, secret string) (Handler, *procFixture) {
	t.Helper()
	f := newProcessor(t)
	h := Handler{
		Verifier:  Verifier{Secret: secret, Logger: zerolog.Nop()},
		Processor: f.proc,
		Logger:    zerolog.Nop(),
	}
	return h, f
}

func postWebhook(t *testing.T, h Handler, body []byte, secret string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	if secret != "" {
		r.Header.Set(SignatureHeader, common.HmacSha256Hex(secret, body))
	}
	w := httptest.NewRecorder()
	h.Handle(w, r)
	return w
}

func TestWebhookEndToEndPaymentAndReplay(t *testing.T) {
	h, f := newHandler(t, "topsecret")
	ctx := context.Background()
	ord, err := f.store.Create(ctx, order.Order{
		PurchaseSessionID: "sess_111",
		MerchantID:        "mrch_42",
		Status:            order.StatusPending,
	})
	require.NoError(t, err)

	body := []byte(`{"type":"payment","origin_id":"111","merchant_id":"mrch_42","payment_id":"pay_1","transaction_details":{"transaction_hash":"0xabc"}}`)

	w := postWebhook(t, h, body, "topsecret")
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "success", resp["status"])

	got, err := f.store.Get(ctx, ord.ID)
	require.NoError(t, err)
	require.Equal(t, order.StatusProcessing, got.Status)
	require.Equal(t, "0xabc", got.TransactionHash)

	// identical replay: still 200, order unchanged
	w = postWebhook(t, h, body, "topsecret")
	require.Equal(t, http.StatusOK, w.Code)
	got, err = f.store.Get(ctx, ord.ID)
	require.NoError(t, err)
	require.Equal(t, order.StatusProcessing, got.Status)
	require.Equal(t, "0xabc", got.TransactionHash)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	h, _ := newHandler(t, "topsecret")
	body := []byte(`{"type":"payment","origin_id":"111"}`)

	r := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	r.Header.Set(SignatureHeader, common.HmacSha256Hex("wrongsecret", body))
	w := httptest.NewRecorder()
	h.Handle(w, r)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWebhookRejectsMalformedBody(t *testing.T) {
	h, _ := newHandler(t, "")

	w := postWebhook(t, h, []byte(`not json at all`), "")
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = postWebhook(t, h, []byte(`{"type":"payment"}`), "")
	require.Equal(t, http.StatusBadRequest, w.Code, "missing origin_id is malformed")
}

func TestWebhookAcknowledgesUnknownTypeAndMiss(t *testing.T) {
	h, _ := newHandler(t, "")

	w := postWebhook(t, h, []byte(`{"type":"mystery","origin_id":"sess_1"}`), "")
	require.Equal(t, http.StatusOK, w.Code)

	w = postWebhook(t, h, []byte(`{"type":"payment","origin_id":"sess_ghost"}`), "")
	require.Equal(t, http.StatusOK, w.Code, "resolution miss is acknowledged")
}

func TestWebhookInsecureModeAccepted(t *testing.T) {
	h, f := newHandler(t, "")
	ctx := context.Background()
	ord, err := f.store.Create(ctx, order.Order{
		PurchaseSessionID: "sess_222",
		MerchantID:        "mrch_42",
		Status:            order.StatusPending,
	})
	require.NoError(t, err)

	w := postWebhook(t, h, []byte(`{"type":"payment","origin_id":"sess_222","merchant_id":"mrch_42","payment_id":"pay_9"}`), "")
	require.Equal(t, http.StatusOK, w.Code)

	got, err := f.store.Get(ctx, ord.ID)
	require.NoError(t, err)
	require.Equal(t, order.StatusProcessing, got.Status)
}

func TestWebhookLivenessProbe(t *testing.T) {
	h, _ := newHandler(t, "topsecret")
	r := httptest.NewRequest(http.MethodGet, "/webhook/test", nil)
	w := httptest.NewRecorder()
	h.Test(w, r)
	require.Equal(t, http.StatusOK, w.Code)
}
