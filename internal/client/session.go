package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// sessionState son los dos slots compartidos del proceso: access token y
// CSRF token. El refresh token no aparece acá, vive solo en el cookie jar.
type sessionState struct {
	mu          sync.Mutex
	accessToken string
	csrfToken   string
}

func newSessionState() *sessionState {
	return &sessionState{}
}

func (s *sessionState) accessTokenValue() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessToken
}

func (s *sessionState) csrfValue() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.csrfToken
}

func (s *sessionState) setAccess(token string) {
	s.mu.Lock()
	s.accessToken = token
	s.mu.Unlock()
}

func (s *sessionState) setCSRF(token string) {
	s.mu.Lock()
	s.csrfToken = token
	s.mu.Unlock()
}

func (s *sessionState) clear() {
	s.mu.Lock()
	s.accessToken = ""
	s.csrfToken = ""
	s.mu.Unlock()
}

// ensureCSRF devuelve el token del slot, o lo trae si todavía no hay.
// Fetches concurrentes colapsan en uno.
func (c *Client) ensureCSRF(ctx context.Context) (string, error) {
	if t := c.session.csrfValue(); t != "" {
		return t, nil
	}
	if err := c.fetchCSRF(ctx); err != nil {
		return "", err
	}
	return c.session.csrfValue(), nil
}

func (c *Client) fetchCSRF(ctx context.Context) error {
	_, err, _ := c.refreshGroup.Do("csrf", func() (any, error) {
		status, body, err := c.attempt(ctx, http.MethodGet, "/csrf-token", nil)
		if err != nil {
			return nil, err
		}
		if status != http.StatusOK {
			return nil, &APIError{StatusCode: status, Message: messageFrom(body)}
		}
		var out struct {
			CSRFToken string `json:"csrfToken"`
		}
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, fmt.Errorf("decode csrf response: %w", err)
		}
		c.session.setCSRF(out.CSRFToken)
		return nil, nil
	})
	return err
}

type tokenResponse struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// refreshSession intenta rotar la sesión. Todas las llamadas concurrentes
// que pegaron 401 comparten UN solo round-trip de refresh; si falla, los
// slots se limpian y todas reciben ErrSessionExpired.
func (c *Client) refreshSession(ctx context.Context) error {
	_, err, _ := c.refreshGroup.Do("refresh", func() (any, error) {
		status, body, err := c.attempt(ctx, http.MethodPost, "/auth/refresh-token", nil)
		if err != nil {
			return nil, err
		}
		if status != http.StatusOK {
			c.session.clear()
			return nil, ErrSessionExpired
		}
		var out tokenResponse
		if err := json.Unmarshal(body, &out); err != nil {
			c.session.clear()
			return nil, ErrSessionExpired
		}
		c.session.setAccess(out.AccessToken)
		return nil, nil
	})
	return err
}

// Login abre sesión. El refresh token queda en el jar (cookie HTTP-only);
// el access token, en el slot en memoria.
func (c *Client) Login(ctx context.Context, email, password string) error {
	body := map[string]string{"email": email, "password": password}
	var out tokenResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", body, &out, false); err != nil {
		return err
	}
	c.session.setAccess(out.AccessToken)
	return nil
}

// Logout invalida el refresh token del lado servidor y limpia los slots.
// El error del round-trip no impide la limpieza local.
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/auth/logout", nil, nil, false)
	c.session.clear()
	return err
}

// LoggedIn dice si hay access token en el slot. No valida contra el
// servidor; un token vencido se resuelve solo en el próximo request.
func (c *Client) LoggedIn() bool {
	return c.session.accessTokenValue() != ""
}

// Role decodifica el claim "role" del access token SIN verificar la firma.
// Es cosmético (qué menú mostrar): la autorización real siempre la decide
// el servidor con el token verificado.
func (c *Client) Role() string {
	at := c.session.accessTokenValue()
	if at == "" {
		return ""
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(at, claims); err != nil {
		return ""
	}
	role, _ := claims["role"].(string)
	return role
}

// UserID saca el subject del access token, también sin verificar.
func (c *Client) UserID() string {
	at := c.session.accessTokenValue()
	if at == "" {
		return ""
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(at, claims); err != nil {
		return ""
	}
	sub, _ := claims.GetSubject()
	return sub
}

// RoleChange es la respuesta del cambio de rol de un admin.
type RoleChange struct {
	Message     string `json:"message"`
	User        struct {
		ID   string `json:"id"`
		Role string `json:"role"`
	} `json:"user"`
	SelfDemoted bool `json:"selfDemoted"`
}

// SetUserRole cambia el rol de un usuario (solo admin). Si el admin se
// sacó su propio rol, la sesión local se tira: los claims del token ya no
// reflejan lo que el usuario puede hacer.
func (c *Client) SetUserRole(ctx context.Context, userID, role string) (RoleChange, error) {
	var out RoleChange
	err := c.doJSON(ctx, http.MethodPut, "/admin/users/"+userID+"/role",
		map[string]string{"role": role}, &out)
	if err != nil {
		return RoleChange{}, err
	}
	if out.SelfDemoted {
		_ = c.Logout(ctx)
	}
	return out, nil
}
