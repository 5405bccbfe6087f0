package admin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"

	"github.com/halcyonpay/paybridge/internal/webhook"
)

var testSecret = []byte("admin-secret")

func signToken(t *testing.T, issuer, audience string, expiresIn time.Duration) string {
	t.Helper()
	tok, err := jwt.NewBuilder().
		Issuer(issuer).
		Audience([]string{audience}).
		IssuedAt(time.Now()).
		Expiration(time.Now().Add(expiresIn)).
		Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, testSecret))
	require.NoError(t, err)
	return string(signed)
}

func protectedRouter(t *testing.T) http.Handler {
	t.Helper()
	f := newService(t)
	h := Handler{Svc: f.svc, Ledger: noopLedger{}}
	auth := Auth{Secret: testSecret, Issuer: "paybridge", Audience: "admin"}
	return h.Routes(auth, nil)
}

type noopLedger struct{}

func (noopLedger) Record(context.Context, webhook.LedgerEntry) error { return nil }
func (noopLedger) List(context.Context, int, int) ([]webhook.LedgerEntry, int64, error) {
	return nil, 0, nil
}

func TestAuthAcceptsValidToken(t *testing.T) {
	router := protectedRouter(t)
	r := httptest.NewRequest(http.MethodGet, "/orders", nil)
	r.Header.Set("Authorization", "Bearer "+signToken(t, "paybridge", "admin", time.Hour))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestAuthRejectsMissingToken(t *testing.T) {
	router := protectedRouter(t)
	r := httptest.NewRequest(http.MethodGet, "/orders", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthRejectsExpiredToken(t *testing.T) {
	router := protectedRouter(t)
	r := httptest.NewRequest(http.MethodGet, "/orders", nil)
	r.Header.Set("Authorization", "Bearer "+signToken(t, "paybridge", "admin", -time.Hour))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthRejectsWrongIssuerOrAudience(t *testing.T) {
	router := protectedRouter(t)

	r := httptest.NewRequest(http.MethodGet, "/orders", nil)
	r.Header.Set("Authorization", "Bearer "+signToken(t, "someone-else", "admin", time.Hour))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	r = httptest.NewRequest(http.MethodGet, "/orders", nil)
	r.Header.Set("Authorization", "Bearer "+signToken(t, "paybridge", "customers", time.Hour))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, r)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthRejectsGarbageToken(t *testing.T) {
	router := protectedRouter(t)
	r := httptest.NewRequest(http.MethodGet, "/orders", nil)
	r.Header.Set("Authorization", "Bearer not.a.jwt")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
