package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Grant es la proyección que devuelve el portal. El status ya viene
// efectivo (un grant vencido se lee "expired" aunque nadie lo tocó).
type Grant struct {
	ID                string     `json:"id"`
	Kind              string     `json:"kind"`
	PatientID         string     `json:"patientId"`
	DoctorID          string     `json:"doctorId,omitempty"`
	RequestType       string     `json:"requestType,omitempty"`
	AccessScope       string     `json:"accessScope,omitempty"`
	Status            string     `json:"status"`
	Reason            string     `json:"reason,omitempty"`
	RequestedDuration float64    `json:"requestedDuration"`
	ApprovedDuration  *float64   `json:"approvedDuration,omitempty"`
	DurationLabel     string     `json:"durationLabel"`
	SharedWithEmail   string     `json:"sharedWithEmail,omitempty"`
	UsageCount        int        `json:"usageCount"`
	MaxUses           *int       `json:"maxUses,omitempty"`
	ShareURL          string     `json:"shareUrl,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	RespondedAt       *time.Time `json:"respondedAt,omitempty"`
	ExpiresAt         time.Time  `json:"expiresAt"`
}

type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

type GrantList struct {
	Data       []Grant    `json:"data"`
	Pagination Pagination `json:"pagination"`
}

type grantEnvelope struct {
	Message string `json:"message"`
	Data    Grant  `json:"data"`
}

// RequestAccessInput: lo que un doctor manda para pedir acceso.
type RequestAccessInput struct {
	PatientIdentifier string  `json:"patientIdentifier"`
	RequestType       string  `json:"requestType"`
	Reason            string  `json:"reason,omitempty"`
	DurationHours     float64 `json:"durationHours"`
}

func (c *Client) RequestAccess(ctx context.Context, in RequestAccessInput) (Grant, error) {
	var out grantEnvelope
	err := c.doJSON(ctx, http.MethodPost, "/access-requests", in, &out)
	return out.Data, err
}

func (c *Client) MyRequests(ctx context.Context, page, limit int) (GrantList, error) {
	var out GrantList
	err := c.doJSON(ctx, http.MethodGet, "/access-requests/my-requests"+pageQuery(page, limit), nil, &out)
	return out, err
}

// RespondRequest aprueba o deniega (action: "approve" | "deny").
// customHours opcional: el paciente puede acortar o alargar la ventana.
func (c *Client) RespondRequest(ctx context.Context, requestID, action string, customHours *float64) (Grant, error) {
	body := map[string]any{"action": action}
	if customHours != nil {
		body["customDurationHours"] = *customHours
	}
	var out grantEnvelope
	err := c.doJSON(ctx, http.MethodPut, "/access-requests/"+url.PathEscape(requestID)+"/respond", body, &out)
	return out.Data, err
}

func (c *Client) RevokeRequest(ctx context.Context, requestID string) (Grant, error) {
	var out grantEnvelope
	err := c.doJSON(ctx, http.MethodDelete, "/access-requests/"+url.PathEscape(requestID), nil, &out)
	return out.Data, err
}

// GenerateQRInput: parámetros del QR de emergencia.
type GenerateQRInput struct {
	DurationHours float64 `json:"durationHours"`
	AccessScope   string  `json:"accessScope"`
	MaxUses       *int    `json:"maxUses,omitempty"`
}

func (c *Client) GenerateQR(ctx context.Context, in GenerateQRInput) (Grant, error) {
	var out grantEnvelope
	err := c.doJSON(ctx, http.MethodPost, "/qr/generate", in, &out)
	return out.Data, err
}

func (c *Client) MyQRCodes(ctx context.Context, page, limit int) (GrantList, error) {
	var out GrantList
	err := c.doJSON(ctx, http.MethodGet, "/qr/my-codes"+pageQuery(page, limit), nil, &out)
	return out, err
}

func (c *Client) RevokeQR(ctx context.Context, grantID string) (Grant, error) {
	var out grantEnvelope
	err := c.doJSON(ctx, http.MethodDelete, "/qr/"+url.PathEscape(grantID), nil, &out)
	return out.Data, err
}

// ShareLink es la respuesta de crear un share: la URL es credencial
// portadora, tratarla como secreto.
type ShareLink struct {
	Message   string    `json:"message"`
	ShareURL  string    `json:"shareUrl"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type CreateShareInput struct {
	Duration        string `json:"duration"` // "1h" | "1d" | "7d" | "30d"
	SharedWithEmail string `json:"sharedWithEmail,omitempty"`
}

func (c *Client) CreateShare(ctx context.Context, in CreateShareInput) (ShareLink, error) {
	var out ShareLink
	err := c.doJSON(ctx, http.MethodPost, "/share", in, &out)
	return out, err
}

type shareListEnvelope struct {
	Tokens     []Grant    `json:"tokens"`
	Pagination Pagination `json:"pagination"`
}

func (c *Client) MyShares(ctx context.Context, page, limit int) (GrantList, error) {
	var out shareListEnvelope
	err := c.doJSON(ctx, http.MethodGet, "/share/manage"+pageQuery(page, limit), nil, &out)
	return GrantList{Data: out.Tokens, Pagination: out.Pagination}, err
}

func (c *Client) RevokeShare(ctx context.Context, grantID string) (Grant, error) {
	var out grantEnvelope
	err := c.doJSON(ctx, http.MethodDelete, "/share/manage/"+url.PathEscape(grantID), nil, &out)
	return out.Data, err
}

// PublicAccess es lo que ve quien abre un QR o un share link: la ficha
// del paciente y los registros ya recortados por scope.
type PublicAccess struct {
	AccessInfo struct {
		Scope      string    `json:"scope"`
		ExpiresAt  time.Time `json:"expiresAt"`
		UsageCount int       `json:"usageCount"`
		MaxUses    *int      `json:"maxUses"`
	} `json:"accessInfo"`
	Patient map[string]any   `json:"patient"`
	Records []map[string]any `json:"records"`
}

type publicEnvelope struct {
	Data PublicAccess `json:"data"`
}

// ResolveQR consume un uso del token. No requiere sesión.
func (c *Client) ResolveQR(ctx context.Context, token string) (PublicAccess, error) {
	var out publicEnvelope
	err := c.doJSON(ctx, http.MethodGet, "/qr/public/"+url.PathEscape(token), nil, &out)
	return out.Data, err
}

// ResolveShare tampoco requiere sesión y no consume usos.
func (c *Client) ResolveShare(ctx context.Context, token string) (PublicAccess, error) {
	var out publicEnvelope
	err := c.doJSON(ctx, http.MethodGet, "/share/"+url.PathEscape(token), nil, &out)
	return out.Data, err
}

func pageQuery(page, limit int) string {
	if page <= 0 && limit <= 0 {
		return ""
	}
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return "?" + q.Encode()
}
