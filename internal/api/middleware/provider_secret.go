package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/go4it/marketplace/internal/api/response"
)

// SecretHeader carries the shared secret on provider callbacks.
const SecretHeader = "X-Provider-Secret"

// ProviderSecret only admits requests presenting the webhook secret.
func ProviderSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(SecretHeader)
			if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				response.WriteError(w, http.StatusUnauthorized, "invalid provider secret")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
