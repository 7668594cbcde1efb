// Package middleware содержит HTTP middleware сервиса приёма платежей.
package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"net/http"
	"strings"
)

// BearerAuth защищает служебные маршруты общим секретом в заголовке Authorization.
type BearerAuth struct {
	secretSum []byte
}

// NewBearerAuth создаёт проверку по секрету. Пустой секрет означает, что маршрут
// не настроен, и все запросы получают 503.
func NewBearerAuth(secret string) *BearerAuth {
	if secret == "" {
		return &BearerAuth{}
	}
	sum := sha256.Sum256([]byte(secret))
	return &BearerAuth{secretSum: sum[:]}
}

// Middleware пропускает запрос дальше только с верным токеном.
func (a *BearerAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.secretSum == nil {
			writeError(w, http.StatusServiceUnavailable, "misconfigured")
			return
		}

		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		sum := sha256.Sum256([]byte(token))
		if !hmac.Equal(sum[:], a.secretSum) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + code + `"}`))
}
