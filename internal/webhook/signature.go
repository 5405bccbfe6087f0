package webhook

import (
	"crypto/hmac"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/halcyonpay/paybridge/internal/common"
	"github.com/halcyonpay/paybridge/internal/obs"
)

// SignatureHeader carries hex(HMAC-SHA256(body, secret)).
const SignatureHeader = "X-Webhook-Signature"

// Verifier checks the provider's HMAC signature over the raw request body.
// An empty Secret disables verification entirely: every request is accepted,
// logged at WARN and counted, so the exposure stays visible.
type Verifier struct {
	Secret string
	Logger zerolog.Logger
}

// Verify returns nil when the request may proceed. Rejections are
// authentication errors and must never reach the processor.
func (v Verifier) Verify(r *http.Request, body []byte) error {
	if strings.TrimSpace(v.Secret) == "" {
		v.Logger.Warn().
			Str("remote_addr", r.RemoteAddr).
			Msg("webhook accepted without signature verification: no secret configured")
		if obs.WebhookInsecureAccepts != nil {
			obs.WebhookInsecureAccepts.Inc()
		}
		return nil
	}

	provided := strings.TrimSpace(r.Header.Get(SignatureHeader))
	if provided == "" {
		return common.NewAppError(common.CodeInvalidSignature, "missing signature header", http.StatusUnauthorized, nil)
	}
	// hex digests compare case-insensitively; normalise before the
	// constant-time check
	expected := common.HmacSha256Hex(v.Secret, body)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(provided))) {
		return common.NewAppError(common.CodeInvalidSignature, "signature verification failed", http.StatusUnauthorized, nil)
	}
	return nil
}
