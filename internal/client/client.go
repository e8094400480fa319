// Package client es el SDK del portal: maneja la sesión (access token en
// memoria, refresh por cookie, CSRF double-submit) y expone operaciones
// tipadas sobre los grants. Pensado para un solo proceso cliente; todos los
// métodos son seguros para goroutines concurrentes.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

var (
	// ErrSessionExpired: el refresh falló, no hay sesión recuperable. Quien
	// llama debe mandar al usuario al login.
	ErrSessionExpired = errors.New("session expired")

	// ErrCSRFRejected: el server rechazó el token anti-forgery incluso
	// después del único refetch+retry.
	ErrCSRFRejected = errors.New("csrf token rejected")
)

// APIError es cualquier respuesta no-2xx que no se pudo recuperar con
// retry (CSRF o refresh).
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error %d", e.StatusCode)
}

type Client struct {
	http    *http.Client
	baseURL string

	session *sessionState

	// colapsa refreshes concurrentes: N requests con 401 simultáneo
	// producen UN solo POST /auth/refresh-token
	refreshGroup singleflight.Group
}

func New(baseURL string, timeout time.Duration) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("client: baseURL required")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	// El jar guarda las cookies ambiente (refresh_token HTTP-only y
	// csrf_token); el código nunca lee el refresh token.
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	return &Client{
		http:    &http.Client{Timeout: timeout, Jar: jar},
		baseURL: baseURL,
		session: newSessionState(),
	}, nil
}

// NewWithHTTPClient permite inyectar el *http.Client (tests). Si el que
// viene no trae Jar, se le pone uno.
func NewWithHTTPClient(baseURL string, hc *http.Client) (*Client, error) {
	c, err := New(baseURL, hc.Timeout)
	if err != nil {
		return nil, err
	}
	if hc.Jar == nil {
		hc.Jar = c.http.Jar
	}
	c.http = hc
	return c, nil
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
		return true
	}
	return false
}

// doJSON ejecuta un request con la coordinación completa:
//   - mutadores llevan x-csrf-token (fetch perezoso la primera vez)
//   - si hay access token, va como Bearer
//   - 403 con "invalid csrf token" => refetch CSRF y UN retry
//   - 401 => refresh colapsado y UN retry; si el refresh falla,
//     ErrSessionExpired y la sesión queda limpia
//
// Los markers de retry son por llamada: dos fallas del mismo tipo en la
// misma llamada ya no se reintentan.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	return c.do(ctx, method, path, in, out, true)
}

// do: authRetry=false para los endpoints de sesión misma (login, refresh),
// donde un 401 significa credenciales malas, no token vencido.
func (c *Client) do(ctx context.Context, method, path string, in, out any, authRetry bool) error {
	csrfRetried := false
	authRetried := !authRetry

	for {
		status, body, err := c.attempt(ctx, method, path, in)
		if err != nil {
			return err
		}

		switch {
		case status >= 200 && status < 300:
			if out == nil || len(body) == 0 {
				return nil
			}
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			return nil

		case status == http.StatusForbidden && !csrfRetried && isCSRFError(body):
			csrfRetried = true
			if err := c.fetchCSRF(ctx); err != nil {
				return err
			}
			continue

		case status == http.StatusUnauthorized && !authRetried:
			authRetried = true
			if err := c.refreshSession(ctx); err != nil {
				return err
			}
			continue

		default:
			if status == http.StatusForbidden && isCSRFError(body) {
				// ya se reintentó una vez: no loopear
				return fmt.Errorf("%w: %s", ErrCSRFRejected, messageFrom(body))
			}
			return &APIError{StatusCode: status, Message: messageFrom(body)}
		}
	}
}

// attempt arma y ejecuta un request. Devuelve status + body; los errores
// son solo de transporte.
func (c *Client) attempt(ctx context.Context, method, path string, in any) (int, []byte, error) {
	var rd io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, nil, err
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return 0, nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if mutating(method) {
		token, err := c.ensureCSRF(ctx)
		if err != nil {
			return 0, nil, err
		}
		req.Header.Set("x-csrf-token", token)
	}

	if at := c.session.accessTokenValue(); at != "" {
		req.Header.Set("Authorization", "Bearer "+at)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

// isCSRFError detecta el contrato del backend: el body del 403 anti-forgery
// siempre contiene "csrf".
func isCSRFError(body []byte) bool {
	return strings.Contains(strings.ToLower(messageFrom(body)), "csrf")
}

func messageFrom(body []byte) string {
	var m struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &m); err == nil && m.Message != "" {
		return m.Message
	}
	return strings.TrimSpace(string(body))
}
