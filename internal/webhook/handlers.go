package webhook

import (
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/halcyonpay/paybridge/internal/common"
)

const maxBodyBytes = 1 << 20

// Handler exposes the inbound webhook endpoints.
type Handler struct {
	Verifier  Verifier
	Processor *Processor
	Logger    zerolog.Logger
}

// Handle processes POST /webhook. Only authentication failures and
// unparseable bodies produce non-200 responses; everything the state machine
// classifies as expected-but-uninteresting is still acknowledged so the
// provider does not retry forever.
func (h Handler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "unable to read payload", nil)
		return
	}

	if err := h.Verifier.Verify(r, body); err != nil {
		common.JSONAppError(w, err)
		return
	}

	evt, err := ParseEvent(body)
	if err != nil {
		if errors.Is(err, ErrMalformed) {
			// log payload shape only, the body may carry PII
			h.Logger.Warn().Err(err).Int("body_bytes", len(body)).Msg("malformed webhook payload")
			common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "malformed webhook payload", nil)
			return
		}
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid webhook payload", nil)
		return
	}

	if _, err := h.Processor.Process(r.Context(), evt); err != nil {
		h.Logger.Error().Err(err).Str("origin_id", evt.OriginID).Msg("webhook processing failed")
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "webhook processing failed", nil)
		return
	}

	common.JSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// Test is the liveness probe at GET /webhook/test. Always 200, no side
// effects.
func (h Handler) Test(w http.ResponseWriter, r *http.Request) {
	common.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
