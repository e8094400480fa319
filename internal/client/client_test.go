package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// fakePortal es un backend mínimo con la misma coreografía que el real:
// /csrf-token, /auth/*, y un endpoint mutador que exige csrf + bearer.
type fakePortal struct {
	mu sync.Mutex

	validCSRF    string
	csrfIssued   int
	refreshCalls int
	logoutCalls  int

	// access token que el portal considera vigente
	currentAccess string
	refreshDelay  time.Duration
	refreshFails  bool
	issueBroken   bool

	selfDemoted bool
}

func (f *fakePortal) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /csrf-token", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.csrfIssued++
		token := "csrf-" + strconv.Itoa(f.csrfIssued)
		if f.issueBroken {
			// emite tokens que el validador nunca va a aceptar
			token = "broken"
		} else {
			f.validCSRF = token
		}
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{"csrfToken": token})
	})

	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		if !f.csrfOK(r) {
			writeCSRFError(w)
			return
		}
		f.mu.Lock()
		access := f.currentAccess
		f.mu.Unlock()
		http.SetCookie(w, &http.Cookie{Name: "refresh_token", Value: "rt-1", Path: "/", HttpOnly: true})
		writeJSON(w, http.StatusOK, map[string]any{"accessToken": access})
	})

	mux.HandleFunc("POST /auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		if !f.csrfOK(r) {
			writeCSRFError(w)
			return
		}
		f.mu.Lock()
		f.refreshCalls++
		fails := f.refreshFails
		delay := f.refreshDelay
		f.mu.Unlock()

		time.Sleep(delay)

		if fails {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid refresh token"})
			return
		}
		f.mu.Lock()
		f.currentAccess = "fresh-access"
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"accessToken": "fresh-access"})
	})

	mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.logoutCalls++
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
	})

	mux.HandleFunc("POST /share", func(w http.ResponseWriter, r *http.Request) {
		if !f.csrfOK(r) {
			writeCSRFError(w)
			return
		}
		if !f.bearerOK(r) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "unauthorized"})
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"message": "ok", "shareUrl": "https://x/share/t"})
	})

	mux.HandleFunc("PUT /admin/users/u-3/role", func(w http.ResponseWriter, r *http.Request) {
		if !f.csrfOK(r) {
			writeCSRFError(w)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"message":     "Role updated",
			"user":        map[string]string{"id": "u-3", "role": "patient"},
			"selfDemoted": f.selfDemoted,
		})
	})

	return mux
}

func (f *fakePortal) csrfOK(r *http.Request) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	got := r.Header.Get("x-csrf-token")
	return got != "" && got == f.validCSRF
}

func (f *fakePortal) bearerOK(r *http.Request) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return r.Header.Get("Authorization") == "Bearer "+f.currentAccess
}

func (f *fakePortal) issuedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.csrfIssued
}

func (f *fakePortal) expireCSRF() {
	f.mu.Lock()
	f.validCSRF = ""
	f.mu.Unlock()
}

func writeCSRFError(w http.ResponseWriter) {
	writeJSON(w, http.StatusForbidden, map[string]string{"message": "invalid csrf token"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, portal *fakePortal) (*Client, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(portal.handler())
	t.Cleanup(ts.Close)
	c, err := New(ts.URL, 5*time.Second)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return c, ts
}

func TestClient_LazyCSRFAndRetryOnce(t *testing.T) {
	portal := &fakePortal{currentAccess: "access-1"}
	c, _ := newTestClient(t, portal)
	ctx := context.Background()

	if err := c.Login(ctx, "mgarcia@example.com", "pw"); err != nil {
		t.Fatalf("Login error: %v", err)
	}
	// un solo fetch perezoso alcanzó para el login
	if got := portal.issuedCount(); got != 1 {
		t.Fatalf("expected 1 csrf fetch, got %d", got)
	}

	// el servidor invalida el token emitido: el próximo mutador pega 403,
	// refetchea UNA vez y sale
	portal.expireCSRF()
	if _, err := c.CreateShare(ctx, CreateShareInput{Duration: "1d"}); err != nil {
		t.Fatalf("CreateShare error: %v", err)
	}
	if got := portal.issuedCount(); got != 2 {
		t.Fatalf("expected 2 csrf fetches after retry, got %d", got)
	}
}

func TestClient_CSRFRetryIsBounded(t *testing.T) {
	portal := &fakePortal{currentAccess: "access-1"}
	c, _ := newTestClient(t, portal)
	ctx := context.Background()

	if err := c.Login(ctx, "mgarcia@example.com", "pw"); err != nil {
		t.Fatalf("Login error: %v", err)
	}

	// el server pasa a emitir tokens que su propio validador rechaza:
	// después del único retry, la llamada devuelve el 403 en vez de loopear
	portal.mu.Lock()
	portal.validCSRF = "never-issued"
	portal.issueBroken = true
	portal.mu.Unlock()
	c.session.setCSRF("stale")

	done := make(chan error, 1)
	go func() {
		_, err := c.CreateShare(ctx, CreateShareInput{Duration: "1d"})
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, ErrCSRFRejected) {
			t.Fatalf("expected ErrCSRFRejected, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("call did not terminate: retry loop unbounded")
	}
}

func TestClient_ConcurrentUnauthorizedCollapsesRefresh(t *testing.T) {
	portal := &fakePortal{
		currentAccess: "fresh-access-not-yet", // lo que tiene el cliente NO sirve
		refreshDelay:  150 * time.Millisecond,
	}
	c, _ := newTestClient(t, portal)
	ctx := context.Background()

	// login entrega un access que el portal dejará de aceptar
	if err := c.Login(ctx, "mgarcia@example.com", "pw"); err != nil {
		t.Fatalf("Login error: %v", err)
	}
	portal.mu.Lock()
	portal.currentAccess = "fresh-access" // a partir de acá solo vale el refrescado
	portal.mu.Unlock()

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = c.CreateShare(ctx, CreateShareInput{Duration: "1d"})
		}(i)
	}
	close(start)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("call %d failed: %v", i, err)
		}
	}
	// N llamadas con 401 simultáneo => UN solo refresh
	portal.mu.Lock()
	refreshes := portal.refreshCalls
	portal.mu.Unlock()
	if refreshes != 1 {
		t.Fatalf("expected exactly 1 refresh, got %d", refreshes)
	}
}

func TestClient_RefreshFailureExpiresSession(t *testing.T) {
	portal := &fakePortal{currentAccess: "access-1", refreshFails: true}
	c, _ := newTestClient(t, portal)
	ctx := context.Background()

	if err := c.Login(ctx, "mgarcia@example.com", "pw"); err != nil {
		t.Fatalf("Login error: %v", err)
	}

	// el portal deja de aceptar el access y el refresh también falla:
	// la llamada termina en ErrSessionExpired y los slots quedan limpios
	portal.mu.Lock()
	portal.currentAccess = "rotated-away"
	portal.mu.Unlock()

	_, err := c.CreateShare(ctx, CreateShareInput{Duration: "1d"})
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if c.LoggedIn() {
		t.Fatalf("expected local session torn down")
	}
	if c.session.csrfValue() != "" {
		t.Fatalf("expected csrf slot cleared")
	}
}

func TestClient_RoleFromUnverifiedToken(t *testing.T) {
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "u-1",
		"role": "doctor",
	}).SignedString([]byte("whatever"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	portal := &fakePortal{currentAccess: access}
	c, _ := newTestClient(t, portal)

	if err := c.Login(context.Background(), "drlopez@example.com", "pw"); err != nil {
		t.Fatalf("Login error: %v", err)
	}
	// decode cosmético, sin verificar firma (el secreto de arriba no es el
	// del servidor y aun así se lee)
	if got := c.Role(); got != "doctor" {
		t.Fatalf("Role() = %q, want doctor", got)
	}
	if got := c.UserID(); got != "u-1" {
		t.Fatalf("UserID() = %q, want u-1", got)
	}
}

func TestClient_SelfDemotionTearsDownSession(t *testing.T) {
	portal := &fakePortal{currentAccess: "access-1", selfDemoted: true}
	c, _ := newTestClient(t, portal)
	ctx := context.Background()

	if err := c.Login(ctx, "admin@example.com", "pw"); err != nil {
		t.Fatalf("Login error: %v", err)
	}

	out, err := c.SetUserRole(ctx, "u-3", "patient")
	if err != nil {
		t.Fatalf("SetUserRole error: %v", err)
	}
	if !out.SelfDemoted {
		t.Fatalf("expected selfDemoted in response")
	}
	if c.LoggedIn() {
		t.Fatalf("expected session torn down after self-demotion")
	}
	portal.mu.Lock()
	logouts := portal.logoutCalls
	portal.mu.Unlock()
	if logouts != 1 {
		t.Fatalf("expected server-side logout, got %d calls", logouts)
	}
}
