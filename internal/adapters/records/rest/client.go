package rest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"medical-history-wallet/internal/platform/httpclient"
	"medical-history-wallet/internal/ports/records"
)

var (
	ErrNotConfigured = errors.New("records client not configured")
	ErrUpstream      = errors.New("records upstream error")
)

// Config del cliente hacia el servicio de perfiles/registros.
// BaseURL y APIKey normalmente vienen de env vars en quien lo instancia.
type Config struct {
	BaseURL string
	APIKey  string

	// Opcional: header de la API key. Vacío => "X-Api-Key".
	APIKeyHeader string
	Timeout      time.Duration
}

// Client implementa records.Directory y records.Provider contra el
// colaborador de registros médicos por HTTP.
type Client struct {
	http         *httpclient.Client
	apiKey       string
	apiKeyHeader string
}

func NewClient(cfg Config) (*Client, error) {
	h := strings.TrimSpace(cfg.APIKeyHeader)
	if h == "" {
		h = "X-Api-Key"
	}
	hc, err := httpclient.NewWithBaseURL(cfg.BaseURL, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	return &Client{
		http:         hc,
		apiKey:       strings.TrimSpace(cfg.APIKey),
		apiKeyHeader: h,
	}, nil
}

func (c *Client) IsConfigured() bool {
	return c != nil && c.http != nil && c.http.BaseURL != "" && c.apiKey != ""
}

// LookupPrincipal resuelve username/email a id.
func (c *Client) LookupPrincipal(ctx context.Context, identifier string) (string, error) {
	if !c.IsConfigured() {
		return "", ErrNotConfigured
	}
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "", records.ErrPrincipalNotFound
	}

	var out struct {
		UserID string `json:"userId"`
	}
	err := c.http.DoJSON(ctx, "GET",
		"/v1/principals/lookup?identifier="+url.QueryEscape(identifier),
		c.headers(), nil, &out)
	if err != nil {
		var httpErr *httpclient.HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == 404 {
			return "", records.ErrPrincipalNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	out.UserID = strings.TrimSpace(out.UserID)
	if out.UserID == "" {
		return "", records.ErrPrincipalNotFound
	}
	return out.UserID, nil
}

// ScopedRecords trae el bundle ya recortado por el colaborador.
// El scope se pasa tal cual: decidir qué entra en cada scope es SU regla.
func (c *Client) ScopedRecords(ctx context.Context, subjectID string, scope string) (records.Bundle, error) {
	if !c.IsConfigured() {
		return records.Bundle{}, ErrNotConfigured
	}
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return records.Bundle{}, errors.New("subjectID required")
	}

	var out records.Bundle
	err := c.http.DoJSON(ctx, "GET",
		"/v1/patients/"+url.PathEscape(subjectID)+"/records?scope="+url.QueryEscape(scope),
		c.headers(), nil, &out)
	if err != nil {
		return records.Bundle{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if out.Records == nil {
		out.Records = []map[string]any{}
	}
	return out, nil
}

func (c *Client) headers() map[string]string {
	return map[string]string{c.apiKeyHeader: c.apiKey}
}
