package grants

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"medical-history-wallet/internal/middleware"
	"medical-history-wallet/internal/ports/auth"

	"github.com/go-chi/chi/v5"
)

func RegisterRoutes(r chi.Router, svc *Service) {
	// Requests doctor→paciente (direccionados por id + identidad)
	r.Route("/access-requests", func(ar chi.Router) {
		ar.Post("/", issueRequestHandler(svc))
		ar.Get("/my-requests", listMyRequestsHandler(svc))
		ar.Put("/{requestID}/respond", respondRequestHandler(svc))
		ar.Delete("/{requestID}", revokeGrantHandler(svc))
	})

	// QR de emergencia
	r.Route("/qr", func(qr chi.Router) {
		qr.Post("/generate", generateQRHandler(svc))
		qr.Get("/my-codes", listMyQRHandler(svc))
		qr.Delete("/{grantID}", revokeGrantHandler(svc))
	})

	// Share links
	r.Route("/share", func(sr chi.Router) {
		sr.Post("/", createShareHandler(svc))
		sr.Get("/manage", listMySharesHandler(svc))
		sr.Delete("/manage/{grantID}", revokeGrantHandler(svc))
	})
}

// RegisterPublicRoutes monta las rutas resolubles por token portador.
// Van por fuera del middleware de CSRF/claims: el token ES la credencial.
func RegisterPublicRoutes(r chi.Router, svc *Service) {
	r.Get("/qr/public/{token}", publicResolveHandler(svc))
	r.Get("/share/{token}", publicResolveHandler(svc))
}

type issueRequestBody struct {
	PatientIdentifier string  `json:"patientIdentifier"`
	RequestType       string  `json:"requestType" enums:"view,create,both"`
	Reason            string  `json:"reason"`
	DurationHours     float64 `json:"durationHours"`
}

type generateQRBody struct {
	DurationHours float64 `json:"durationHours"`
	AccessScope   string  `json:"accessScope" enums:"emergency,summary,all"`
	MaxUses       *int    `json:"maxUses,omitempty"`
}

type createShareBody struct {
	Duration        string `json:"duration" enums:"1h,1d,7d,30d"`
	SharedWithEmail string `json:"sharedWithEmail,omitempty"`
}

type respondBody struct {
	Action              string   `json:"action" enums:"approve,deny"`
	CustomDurationHours *float64 `json:"customDurationHours,omitempty"`
}

// grantView es la proyección común de un grant hacia el portal.
// status siempre es el estado EFECTIVO al momento de leer.
type grantView struct {
	ID                string     `json:"id"`
	Kind              Kind       `json:"kind"`
	PatientID         string     `json:"patientId"`
	DoctorID          string     `json:"doctorId,omitempty"`
	RequestType       Scope      `json:"requestType,omitempty"`
	AccessScope       Scope      `json:"accessScope,omitempty"`
	Status            Status     `json:"status"`
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

type paginationInfo struct {
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

type listResponse struct {
	Data       []grantView    `json:"data"`
	Pagination paginationInfo `json:"pagination"`
}

// issueRequestHandler godoc
// @Summary Solicitar acceso a la historia de un paciente
// @Description Crea un access request (kind=request) hacia el paciente indicado por username o email. Queda pending hasta que el paciente responda. Un segundo request al mismo paciente con uno pending vigente se rechaza con 409.
// @Tags access-requests
// @Accept json
// @Produce json
// @Param body body issueRequestBody true "request"
// @Success 201 {object} map[string]any
// @Router /access-requests [post]
func issueRequestHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := requireClaims(w, r)
		if !ok {
			return
		}

		var req issueRequestBody
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeMessage(w, http.StatusBadRequest, "invalid json")
			return
		}

		res, err := svc.Issue(r.Context(), IssueInput{
			Kind:              KindRequest,
			IssuerID:          claims.UserID,
			PatientIdentifier: req.PatientIdentifier,
			Scope:             Scope(strings.TrimSpace(req.RequestType)),
			Reason:            req.Reason,
			DurationHours:     req.DurationHours,
		})
		if err != nil {
			writeGrantError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]any{
			"message": res.Message,
			"data":    toGrantView(svc, res.Grant, false),
		})
	}
}

// generateQRHandler godoc
// @Summary Generar QR de emergencia
// @Description Emite un grant qr auto-firmado por el paciente autenticado. Nace active, expira solo y es revocable. La URL devuelta es credencial portadora: tratarla como secreto.
// @Tags qr
// @Accept json
// @Produce json
// @Param body body generateQRBody true "request"
// @Success 201 {object} map[string]any
// @Router /qr/generate [post]
func generateQRHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := requireClaims(w, r)
		if !ok {
			return
		}

		var req generateQRBody
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeMessage(w, http.StatusBadRequest, "invalid json")
			return
		}

		res, err := svc.Issue(r.Context(), IssueInput{
			Kind:          KindQR,
			SubjectID:     claims.UserID,
			Scope:         Scope(strings.TrimSpace(req.AccessScope)),
			DurationHours: req.DurationHours,
			MaxUses:       req.MaxUses,
		})
		if err != nil {
			writeGrantError(w, err)
			return
		}

		view := toGrantView(svc, res.Grant, true)
		writeJSON(w, http.StatusCreated, map[string]any{
			"message": res.Message,
			"data":    view,
		})
	}
}

// createShareHandler godoc
// @Summary Generar link de compartición
// @Description Emite un grant share (historia completa, read-only) con duración relativa ("1h","1d","7d","30d").
// @Tags share
// @Accept json
// @Produce json
// @Param body body createShareBody true "request"
// @Success 201 {object} map[string]any
// @Router /share [post]
func createShareHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := requireClaims(w, r)
		if !ok {
			return
		}

		var req createShareBody
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeMessage(w, http.StatusBadRequest, "invalid json")
			return
		}

		res, err := svc.Issue(r.Context(), IssueInput{
			Kind:             KindShare,
			SubjectID:        claims.UserID,
			RelativeDuration: req.Duration,
			SharedWithEmail:  req.SharedWithEmail,
		})
		if err != nil {
			writeGrantError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]any{
			"message":   res.Message,
			"shareUrl":  res.ShareURL,
			"expiresAt": res.Grant.ExpiresAt,
		})
	}
}

// listMyRequestsHandler godoc
// @Summary Listar mis access requests
// @Description Doctor: requests que emitió. Paciente: requests que recibió. Paginado (?page=&limit=). El status de cada item es el efectivo al momento de leer.
// @Tags access-requests
// @Produce json
// @Success 200 {object} listResponse
// @Router /access-requests/my-requests [get]
func listMyRequestsHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := requireClaims(w, r)
		if !ok {
			return
		}

		role := RoleSubject
		if claims.Role == auth.RoleDoctor {
			role = RoleIssuer
		}

		page, pageSize := pageParams(r)
		res, err := svc.ListFor(r.Context(), claims.UserID, role, KindRequest, page, pageSize)
		if err != nil {
			writeGrantError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toListResponse(svc, res, false))
	}
}

func listMyQRHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := requireClaims(w, r)
		if !ok {
			return
		}

		page, pageSize := pageParams(r)
		res, err := svc.ListFor(r.Context(), claims.UserID, RoleSubject, KindQR, page, pageSize)
		if err != nil {
			writeGrantError(w, err)
			return
		}
		// sin shareUrl: el QR ya impreso no se re-expone en listados
		writeJSON(w, http.StatusOK, toListResponse(svc, res, false))
	}
}

func listMySharesHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := requireClaims(w, r)
		if !ok {
			return
		}

		page, pageSize := pageParams(r)
		res, err := svc.ListFor(r.Context(), claims.UserID, RoleSubject, KindShare, page, pageSize)
		if err != nil {
			writeGrantError(w, err)
			return
		}

		// el dueño sí ve la URL para re-copiarla / revocarla
		out := toListResponse(svc, res, true)
		writeJSON(w, http.StatusOK, map[string]any{
			"tokens":     out.Data,
			"pagination": out.Pagination,
		})
	}
}

// respondRequestHandler godoc
// @Summary Responder un access request (paciente)
// @Description approve o deny. approve admite customDurationHours del menú; la ventana de acceso arranca en la aprobación.
// @Tags access-requests
// @Accept json
// @Produce json
// @Param requestID path string true "request id"
// @Param body body respondBody true "request"
// @Success 200 {object} map[string]any
// @Router /access-requests/{requestID}/respond [put]
func respondRequestHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := requireClaims(w, r)
		if !ok {
			return
		}

		var req respondBody
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeMessage(w, http.StatusBadRequest, "invalid json")
			return
		}

		g, err := svc.Respond(
			r.Context(),
			chi.URLParam(r, "requestID"),
			claims.UserID,
			RespondAction(strings.TrimSpace(req.Action)),
			req.CustomDurationHours,
		)
		if err != nil {
			writeGrantError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"message": "Request " + string(g.Status),
			"data":    toGrantView(svc, g, false),
		})
	}
}

// revokeGrantHandler corta cualquier kind. Idempotente: repetir el DELETE
// devuelve 200 con el mismo estado terminal.
func revokeGrantHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := requireClaims(w, r)
		if !ok {
			return
		}

		id := chi.URLParam(r, "grantID")
		if id == "" {
			id = chi.URLParam(r, "requestID")
		}

		g, err := svc.Revoke(r.Context(), id, claims.UserID)
		if err != nil {
			writeGrantError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"message": "Access revoked",
			"data":    toGrantView(svc, g, false),
		})
	}
}

// publicResolveHandler godoc
// @Summary Resolver un grant público por token portador
// @Description Sin login: el token de la URL es la única credencial. Vencido/revocado/agotado responde 410 con mensaje apto para "this link expired".
// @Tags public
// @Produce json
// @Param token path string true "bearer token"
// @Success 200 {object} map[string]any
// @Failure 410 {object} map[string]string
// @Router /share/{token} [get]
func publicResolveHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := svc.Resolve(r.Context(), ResolveInput{
			Token: chi.URLParam(r, "token"),
		})
		if err != nil {
			writeGrantError(w, err)
			return
		}

		g := view.Grant
		writeJSON(w, http.StatusOK, map[string]any{
			"data": map[string]any{
				"accessInfo": map[string]any{
					"scope":      g.Scope,
					"expiresAt":  g.ExpiresAt,
					"usageCount": g.UsageCount,
					"maxUses":    g.MaxUses,
				},
				"patient": view.Payload.Patient,
				"records": view.Payload.Records,
			},
		})
	}
}

func requireClaims(w http.ResponseWriter, r *http.Request) (auth.Claims, bool) {
	claims, ok := middleware.GetClaims(r.Context())
	if !ok || strings.TrimSpace(claims.UserID) == "" {
		writeMessage(w, http.StatusUnauthorized, "unauthorized")
		return auth.Claims{}, false
	}
	return claims, true
}

func pageParams(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return page, limit
}

func toGrantView(svc *Service, g Grant, withURL bool) grantView {
	v := grantView{
		ID:                g.ID,
		Kind:              g.Kind,
		PatientID:         g.SubjectID,
		DoctorID:          g.IssuerID,
		Status:            g.EffectiveStatus(time.Now()),
		Reason:            g.Reason,
		RequestedDuration: g.RequestedDurationHours,
		ApprovedDuration:  g.ApprovedDurationHours,
		DurationLabel:     Label(g.RequestedDurationHours),
		SharedWithEmail:   g.SharedWithEmail,
		UsageCount:        g.UsageCount,
		MaxUses:           g.MaxUses,
		CreatedAt:         g.CreatedAt,
		RespondedAt:       g.RespondedAt,
		ExpiresAt:         g.ExpiresAt,
	}
	if g.Kind == KindRequest {
		v.RequestType = g.Scope
		if g.ApprovedDurationHours != nil {
			v.DurationLabel = Label(*g.ApprovedDurationHours)
		}
	} else {
		v.AccessScope = g.Scope
	}
	if withURL {
		v.ShareURL = svc.PublicURL(g)
	}
	return v
}

func toListResponse(svc *Service, p Page, withURL bool) listResponse {
	out := make([]grantView, 0, len(p.Items))
	for _, g := range p.Items {
		out = append(out, toGrantView(svc, g, withURL))
	}
	return listResponse{
		Data: out,
		Pagination: paginationInfo{
			Page:       p.Page,
			PageSize:   p.PageSize,
			Total:      p.Total,
			TotalPages: p.TotalPages,
		},
	}
}

func writeGrantError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrInvalidDuration),
		errors.Is(err, ErrInvalidScope),
		errors.Is(err, ErrInvalidAction):
		writeMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrForbidden):
		writeMessage(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, ErrNotFound):
		writeMessage(w, http.StatusNotFound, "not found")
	case errors.Is(err, ErrExpired):
		// distinto de 404 a propósito: la UI muestra "this link expired"
		writeMessage(w, http.StatusGone, "This link has expired or been revoked")
	case errors.Is(err, ErrBadState), errors.Is(err, ErrDuplicateRequest):
		writeMessage(w, http.StatusConflict, err.Error())
	default:
		writeMessage(w, http.StatusInternalServerError, "internal error")
	}
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

// writeJSON está duplicado intencionalmente en handlers de distintos módulos
// para evitar crear paquetes/helpers compartidos demasiado pronto.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
