package router_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	memrecords "medical-history-wallet/internal/adapters/records/memory"
	"medical-history-wallet/internal/domain/session"
	"medical-history-wallet/internal/ports/auth"
	"medical-history-wallet/internal/ports/records"
	"medical-history-wallet/internal/router"
)

const (
	patientID = "u-patient-1"
	doctorID  = "u-doctor-1"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	store := memrecords.NewStore()
	store.SeedPatient("mgarcia", records.PatientSummary{
		ID:         patientID,
		Email:      "mgarcia@example.com",
		BloodGroup: "O+",
		Allergies:  "Penicilina",
	})
	store.AddRecord(patientID, "rec-1", "Consulta general", "consultation",
		time.Date(2026, 5, 10, 15, 0, 0, 0, time.UTC), true)

	ts := httptest.NewServer(router.NewRouter(router.Options{
		AuthVerifier:  nil, // modo dev: identidad por headers X-Debug-*
		PublicBaseURL: "http://wallet.test",
		Records:       store,
		SeedUsers: []session.User{
			{ID: patientID, Username: "mgarcia", Email: "mgarcia@example.com", Role: auth.RolePatient},
			{ID: doctorID, Username: "drlopez", Email: "drlopez@example.com", Role: auth.RoleDoctor},
		},
	}))
	t.Cleanup(ts.Close)
	return ts
}

type caller struct {
	t      *testing.T
	base   string
	userID string
	role   string
	csrf   string
}

func (c *caller) do(method, path string, body map[string]any) (int, map[string]any) {
	c.t.Helper()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.base+path, rd)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userID != "" {
		req.Header.Set("X-Debug-User-ID", c.userID)
		req.Header.Set("X-Debug-Role", c.role)
	}
	if c.csrf != "" {
		req.Header.Set("x-csrf-token", c.csrf)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	out := map[string]any{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	return resp.StatusCode, out
}

func fetchCSRF(t *testing.T, base string) string {
	t.Helper()
	resp, err := http.Get(base + "/csrf-token")
	if err != nil {
		t.Fatalf("get csrf: %v", err)
	}
	defer resp.Body.Close()
	var out struct {
		CSRFToken string `json:"csrfToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode csrf: %v", err)
	}
	return out.CSRFToken
}

func tokenFromURL(t *testing.T, shareURL string) string {
	t.Helper()
	i := strings.LastIndex(shareURL, "/")
	if i < 0 || i == len(shareURL)-1 {
		t.Fatalf("malformed share url %q", shareURL)
	}
	return shareURL[i+1:]
}

func TestHTTP_AccessRequestFlow(t *testing.T) {
	ts := newTestServer(t)
	csrf := fetchCSRF(t, ts.URL)

	doctor := &caller{t: t, base: ts.URL, userID: doctorID, role: "doctor", csrf: csrf}
	patient := &caller{t: t, base: ts.URL, userID: patientID, role: "patient", csrf: csrf}

	// 1) Mutador sin csrf => 403 con el mensaje contractual
	{
		naked := &caller{t: t, base: ts.URL, userID: doctorID, role: "doctor"}
		st, body := naked.do("POST", "/access-requests", map[string]any{
			"patientIdentifier": "mgarcia", "requestType": "view", "durationHours": 24,
		})
		if st != http.StatusForbidden {
			t.Fatalf("expected 403 without csrf, got %d", st)
		}
		if msg, _ := body["message"].(string); !strings.Contains(msg, "csrf") {
			t.Fatalf("expected csrf message, got %q", msg)
		}
	}

	// 2) Doctor pide acceso
	st, body := doctor.do("POST", "/access-requests", map[string]any{
		"patientIdentifier": "mgarcia",
		"requestType":       "view",
		"reason":            "Control anual",
		"durationHours":     24,
	})
	if st != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%v", st, body)
	}
	data := body["data"].(map[string]any)
	requestID := data["id"].(string)
	if data["status"] != "pending" {
		t.Fatalf("expected pending, got %v", data["status"])
	}

	// 3) Duplicado con uno pending vigente => 409
	if st, _ := doctor.do("POST", "/access-requests", map[string]any{
		"patientIdentifier": "mgarcia", "requestType": "view", "durationHours": 24,
	}); st != http.StatusConflict {
		t.Fatalf("expected 409 duplicate, got %d", st)
	}

	// 4) El paciente lo ve en su lista
	st, body = patient.do("GET", "/access-requests/my-requests", nil)
	if st != http.StatusOK {
		t.Fatalf("expected 200 listing, got %d", st)
	}
	if items := body["data"].([]any); len(items) != 1 {
		t.Fatalf("expected 1 request listed, got %d", len(items))
	}

	// 5) Aprueba con duración recortada
	st, body = patient.do("PUT", "/access-requests/"+requestID+"/respond", map[string]any{
		"action": "approve", "customDurationHours": 1,
	})
	if st != http.StatusOK {
		t.Fatalf("expected 200 approve, got %d body=%v", st, body)
	}
	data = body["data"].(map[string]any)
	if data["status"] != "approved" {
		t.Fatalf("expected approved, got %v", data["status"])
	}
	if data["durationLabel"] != "1 Hour" {
		t.Fatalf("expected label for approved duration, got %v", data["durationLabel"])
	}

	// 6) El doctor no puede revocar: el grant gatea registros del paciente
	if st, _ := doctor.do("DELETE", "/access-requests/"+requestID, nil); st != http.StatusForbidden {
		t.Fatalf("expected 403 for doctor revoke, got %d", st)
	}

	// 7) El paciente sí; y repetir el DELETE sigue siendo 200
	if st, _ := patient.do("DELETE", "/access-requests/"+requestID, nil); st != http.StatusOK {
		t.Fatalf("expected 200 revoke, got %d", st)
	}
	st, body = patient.do("DELETE", "/access-requests/"+requestID, nil)
	if st != http.StatusOK {
		t.Fatalf("expected 200 idempotent revoke, got %d", st)
	}
	if data := body["data"].(map[string]any); data["status"] != "revoked" {
		t.Fatalf("expected revoked, got %v", data["status"])
	}
}

func TestHTTP_QRSingleUse(t *testing.T) {
	ts := newTestServer(t)
	csrf := fetchCSRF(t, ts.URL)
	patient := &caller{t: t, base: ts.URL, userID: patientID, role: "patient", csrf: csrf}

	st, body := patient.do("POST", "/qr/generate", map[string]any{
		"durationHours": 1,
		"accessScope":   "emergency",
		"maxUses":       1,
	})
	if st != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%v", st, body)
	}
	data := body["data"].(map[string]any)
	token := tokenFromURL(t, data["shareUrl"].(string))

	// resolución pública: sin login, sin csrf
	anon := &caller{t: t, base: ts.URL}
	st, body = anon.do("GET", "/qr/public/"+token, nil)
	if st != http.StatusOK {
		t.Fatalf("expected 200 resolving qr, got %d body=%v", st, body)
	}
	payload := body["data"].(map[string]any)
	if patientData := payload["patient"].(map[string]any); patientData["bloodGroup"] != "O+" {
		t.Fatalf("expected emergency payload, got %v", patientData)
	}

	// segundo uso: agotado => 410 con mensaje de link vencido
	st, body = anon.do("GET", "/qr/public/"+token, nil)
	if st != http.StatusGone {
		t.Fatalf("expected 410 on exhausted qr, got %d", st)
	}
	if msg, _ := body["message"].(string); !strings.Contains(msg, "expired") {
		t.Fatalf("expected expired message, got %q", msg)
	}
}

func TestHTTP_ShareLifecycle(t *testing.T) {
	ts := newTestServer(t)
	csrf := fetchCSRF(t, ts.URL)
	patient := &caller{t: t, base: ts.URL, userID: patientID, role: "patient", csrf: csrf}
	anon := &caller{t: t, base: ts.URL}

	st, body := patient.do("POST", "/share", map[string]any{"duration": "1d"})
	if st != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%v", st, body)
	}
	token := tokenFromURL(t, body["shareUrl"].(string))

	// el share se puede abrir varias veces: no consume usos
	for i := 0; i < 3; i++ {
		if st, _ := anon.do("GET", "/share/"+token, nil); st != http.StatusOK {
			t.Fatalf("expected 200 resolving share (try %d), got %d", i, st)
		}
	}

	// el dueño lo lista y lo corta desde manage
	st, body = patient.do("GET", "/share/manage", nil)
	if st != http.StatusOK {
		t.Fatalf("expected 200 manage, got %d", st)
	}
	tokens := body["tokens"].([]any)
	if len(tokens) != 1 {
		t.Fatalf("expected 1 share listed, got %d", len(tokens))
	}
	shareID := tokens[0].(map[string]any)["id"].(string)

	if st, _ := patient.do("DELETE", "/share/manage/"+shareID, nil); st != http.StatusOK {
		t.Fatalf("expected 200 revoking share, got %d", st)
	}
	if st, _ := anon.do("GET", "/share/"+token, nil); st != http.StatusGone {
		t.Fatalf("expected 410 after revoke, got %d", st)
	}
}

func TestHTTP_LoginRefreshLogout(t *testing.T) {
	store := memrecords.NewStore()
	ts := httptest.NewServer(router.NewRouter(router.Options{
		PublicBaseURL: "http://wallet.test",
		Records:       store,
		SeedUsers: []session.User{
			{ID: patientID, Username: "mgarcia", Email: "mgarcia@example.com", Password: "pw1", Role: auth.RolePatient},
		},
	}))
	defer ts.Close()

	csrf := fetchCSRF(t, ts.URL)

	// login deja el refresh token en cookie HTTP-only
	body, _ := json.Marshal(map[string]string{"email": "mgarcia@example.com", "password": "pw1"})
	req, _ := http.NewRequest("POST", ts.URL+"/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-csrf-token", csrf)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 login, got %d", resp.StatusCode)
	}

	var refreshCookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == "refresh_token" {
			refreshCookie = c
		}
	}
	if refreshCookie == nil || !refreshCookie.HttpOnly {
		t.Fatalf("expected HttpOnly refresh_token cookie")
	}

	var loginOut struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&loginOut); err != nil || loginOut.AccessToken == "" {
		t.Fatalf("expected access token in login response (err=%v)", err)
	}

	// refresh con la cookie rota el token
	req, _ = http.NewRequest("POST", ts.URL+"/auth/refresh-token", nil)
	req.Header.Set("x-csrf-token", csrf)
	req.AddCookie(refreshCookie)
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 refresh, got %d", resp2.StatusCode)
	}

	// reusar la cookie vieja ya no sirve
	req, _ = http.NewRequest("POST", ts.URL+"/auth/refresh-token", nil)
	req.Header.Set("x-csrf-token", csrf)
	req.AddCookie(refreshCookie)
	resp3, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("refresh reuse: %v", err)
	}
	defer resp3.Body.Close()
	if resp3.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 reusing rotated refresh token, got %d", resp3.StatusCode)
	}
}
