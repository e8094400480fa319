package session

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"medical-history-wallet/internal/middleware"
	"medical-history-wallet/internal/ports/auth"

	"github.com/go-chi/chi/v5"
)

const refreshCookie = "refresh_token"

// RegisterRoutes monta los endpoints de sesión que consume el coordinator
// del cliente. El refresh token viaja SOLO por cookie HTTP-only: el cliente
// nunca lo lee, solo reenvía la cookie.
func RegisterRoutes(r chi.Router, svc *Service) {
	r.Get("/csrf-token", csrfTokenHandler(svc))
	r.Post("/auth/login", loginHandler(svc))
	r.Post("/auth/refresh-token", refreshHandler(svc))
	r.Post("/auth/logout", logoutHandler(svc))
	r.Put("/admin/users/{userID}/role", setRoleHandler(svc))
}

// csrfTokenHandler godoc
// @Summary Emitir token anti-forgery
// @Description Double-submit: devuelve el token en el body y lo setea en una cookie legible. Los endpoints mutadores exigen el header x-csrf-token.
// @Tags session
// @Produce json
// @Success 200 {object} map[string]string
// @Router /csrf-token [get]
func csrfTokenHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := svc.IssueCSRF()
		if err != nil {
			writeMessage(w, http.StatusInternalServerError, "internal error")
			return
		}

		// Cookie NO HttpOnly a propósito: el front la lee para el header
		http.SetCookie(w, &http.Cookie{
			Name:     "csrf_token",
			Value:    token,
			Path:     "/",
			HttpOnly: false,
			SameSite: http.SameSiteLaxMode,
		})
		w.Header().Set("Cache-Control", "no-store")

		writeJSON(w, http.StatusOK, map[string]string{"csrfToken": token})
	}
}

type loginBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func loginHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginBody
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeMessage(w, http.StatusBadRequest, "invalid json")
			return
		}

		tokens, err := svc.Login(req.Email, req.Password)
		if err != nil {
			writeMessage(w, http.StatusUnauthorized, "invalid credentials")
			return
		}

		setRefreshCookie(w, tokens.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{
			"accessToken": tokens.AccessToken,
			"expiresAt":   tokens.ExpiresAt,
		})
	}
}

// refreshHandler rota el refresh token de la cookie ambiente y devuelve un
// access token nuevo. 401 si la cookie falta o ya fue rotada/invalidada.
func refreshHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(refreshCookie)
		if err != nil || strings.TrimSpace(c.Value) == "" {
			writeMessage(w, http.StatusUnauthorized, "missing refresh token")
			return
		}

		tokens, err := svc.Refresh(c.Value)
		if err != nil {
			clearRefreshCookie(w)
			writeMessage(w, http.StatusUnauthorized, "invalid refresh token")
			return
		}

		setRefreshCookie(w, tokens.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{
			"accessToken": tokens.AccessToken,
			"expiresAt":   tokens.ExpiresAt,
		})
	}
}

func logoutHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie(refreshCookie); err == nil {
			svc.Logout(c.Value)
		}
		clearRefreshCookie(w)
		writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
	}
}

type setRoleBody struct {
	Role string `json:"role" enums:"patient,doctor,admin"`
}

// setRoleHandler cambia el rol de un usuario (solo admin). Si el admin se
// cambió su propio rol, el cliente debe desloguearse: sus claims viejos ya
// no representan su autorización.
func setRoleHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			writeMessage(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		var req setRoleBody
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeMessage(w, http.StatusBadRequest, "invalid json")
			return
		}

		target := chi.URLParam(r, "userID")
		u, err := svc.SetRole(claims.UserID, target, auth.Role(strings.TrimSpace(req.Role)))
		if err != nil {
			switch {
			case errors.Is(err, ErrForbidden):
				writeMessage(w, http.StatusForbidden, "forbidden")
			case errors.Is(err, ErrUserNotFound):
				writeMessage(w, http.StatusNotFound, "user not found")
			default:
				writeMessage(w, http.StatusBadRequest, err.Error())
			}
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"message": "Role updated",
			"user": map[string]string{
				"id":   u.ID,
				"role": string(u.Role),
			},
			// el cliente compara contra su propio id para decidir logout
			"selfDemoted": u.ID == claims.UserID && u.Role != auth.RoleAdmin,
		})
	}
}

func setRefreshCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(DefaultRefreshTTL.Seconds()),
	})
}

func clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

// writeJSON está duplicado intencionalmente en handlers de distintos módulos
// (mismo criterio que en grants).
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
