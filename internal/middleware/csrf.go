package middleware

import (
	"net/http"
	"strings"
)

// CSRFHeader es el header custom donde viaja el anti-forgery token.
const CSRFHeader = "x-csrf-token"

// CSRFValidator chequea si un token emitido sigue vivo.
// Lo implementa el servicio de sesión (double-submit con TTL).
type CSRFValidator interface {
	ValidateCSRF(token string) bool
}

// RequireCSRF exige x-csrf-token válido en métodos mutadores. Los GET pasan
// sin chequear. El mensaje de error contiene "csrf" a propósito: es el
// substring con el que el coordinator del cliente decide refetch + retry.
func RequireCSRF(v CSRFValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
				token := strings.TrimSpace(r.Header.Get(CSRFHeader))
				if token == "" || v == nil || !v.ValidateCSRF(token) {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusForbidden)
					_, _ = w.Write([]byte(`{"message":"invalid csrf token"}`))
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
