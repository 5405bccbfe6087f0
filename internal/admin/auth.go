package admin

import (
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/halcyonpay/paybridge/internal/common"
)

// Auth guards the admin surface with bearer JWTs signed with a shared HS256
// secret.
type Auth struct {
	Secret    []byte
	Issuer    string
	Audience  string
	ClockSkew time.Duration
}

// RequireAuth rejects requests without a valid admin token.
func (a Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "missing bearer token", nil)
			return
		}

		options := []jwt.ParseOption{
			jwt.WithKey(jwa.HS256, a.Secret),
			jwt.WithValidate(true),
		}
		if a.Issuer != "" {
			options = append(options, jwt.WithIssuer(a.Issuer))
		}
		if a.Audience != "" {
			options = append(options, jwt.WithAudience(a.Audience))
		}
		if a.ClockSkew > 0 {
			options = append(options, jwt.WithAcceptableSkew(a.ClockSkew))
		}

		if _, err := jwt.Parse([]byte(token), options...); err != nil {
			common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "invalid token", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
