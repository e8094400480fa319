package grants

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"medical-history-wallet/internal/ports/records"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrInvalidScope     = errors.New("invalid scope")
	ErrInvalidAction    = errors.New("invalid action")
	ErrDuplicateRequest = errors.New("duplicate pending request")
	ErrForbidden        = errors.New("forbidden")
	ErrNotFound         = errors.New("not found")
	ErrExpired          = errors.New("expired")
	ErrBadState         = errors.New("invalid state")
	// ErrExhausted lo devuelve el repo cuando ConsumeUse pierde la carrera
	// contra max_uses. Hacia el caller público se normaliza como ErrExpired.
	ErrExhausted = errors.New("usage limit reached")
)

type Service struct {
	repo      Repository
	directory records.Directory
	provider  records.Provider

	// baseURL pública para componer shareUrl ({base}/qr/public/{token}).
	baseURL string

	now func() time.Time
}

func NewService(repo Repository, dir records.Directory, prov records.Provider, baseURL string) *Service {
	return &Service{
		repo:      repo,
		directory: dir,
		provider:  prov,
		baseURL:   strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		now:       time.Now,
	}
}

type IssueInput struct {
	Kind     Kind
	IssuerID string // request: doctor autenticado; qr/share: el propio paciente

	// request: a quién se le pide (username o email, lo resuelve el directory)
	PatientIdentifier string
	Reason            string

	// qr/share: el emisor ES el sujeto
	SubjectID string

	Scope Scope

	DurationHours    float64 // request/qr
	RelativeDuration string  // share ("1h","1d","7d","30d")

	SharedWithEmail string // share, opcional
	MaxUses         *int   // qr, opcional
}

// IssueResult es la proyección pública del grant recién creado.
type IssueResult struct {
	Grant    Grant
	ShareURL string // solo qr/share
	Message  string
}

// Issue crea un grant del kind pedido. Valida scope y duración antes de
// tocar el store; para request además resuelve el paciente y rechaza
// duplicados efectivamente pending.
func (s *Service) Issue(ctx context.Context, in IssueInput) (IssueResult, error) {
	now := s.now()

	switch in.Kind {
	case KindRequest:
		return s.issueRequest(ctx, in, now)
	case KindQR:
		return s.issueQR(ctx, in, now)
	case KindShare:
		return s.issueShare(ctx, in, now)
	}
	return IssueResult{}, ErrInvalidInput
}

func (s *Service) issueRequest(ctx context.Context, in IssueInput, now time.Time) (IssueResult, error) {
	issuerID := strings.TrimSpace(in.IssuerID)
	identifier := strings.TrimSpace(in.PatientIdentifier)
	if issuerID == "" || identifier == "" {
		return IssueResult{}, ErrInvalidInput
	}
	if !validScope(KindRequest, in.Scope) {
		return IssueResult{}, ErrInvalidScope
	}
	expiresAt, err := ComputeExpiry(now, in.DurationHours)
	if err != nil {
		return IssueResult{}, err
	}

	subjectID, err := s.directory.LookupPrincipal(ctx, identifier)
	if err != nil {
		return IssueResult{}, ErrNotFound
	}
	if subjectID == issuerID {
		// un doctor no se pide acceso a sí mismo
		return IssueResult{}, ErrInvalidInput
	}

	// Anti-spam de aprobaciones: un solo request efectivamente pending por
	// par (doctor, paciente). Los pending ya vencidos no cuentan.
	existing, err := s.repo.FindPending(ctx, issuerID, subjectID)
	if err != nil {
		return IssueResult{}, err
	}
	for _, g := range existing {
		if g.EffectiveStatus(now) == StatusPending {
			return IssueResult{}, ErrDuplicateRequest
		}
	}

	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		reason = "Medical consultation"
	}

	g := Grant{
		ID:                     uuid.NewString(),
		Kind:                   KindRequest,
		SubjectID:              subjectID,
		IssuerID:               issuerID,
		Scope:                  in.Scope,
		Status:                 StatusPending,
		Reason:                 reason,
		RequestedDurationHours: in.DurationHours,
		CreatedAt:              now,
		ExpiresAt:              expiresAt,
	}

	if err := s.repo.Create(ctx, g); err != nil {
		return IssueResult{}, err
	}
	return IssueResult{
		Grant:   g,
		Message: "Access request sent. The patient has " + Label(in.DurationHours) + " to respond.",
	}, nil
}

func (s *Service) issueQR(ctx context.Context, in IssueInput, now time.Time) (IssueResult, error) {
	subjectID := strings.TrimSpace(in.SubjectID)
	if subjectID == "" {
		return IssueResult{}, ErrInvalidInput
	}
	if !validScope(KindQR, in.Scope) {
		return IssueResult{}, ErrInvalidScope
	}
	expiresAt, err := ComputeExpiry(now, in.DurationHours)
	if err != nil {
		return IssueResult{}, err
	}
	if in.MaxUses != nil && *in.MaxUses <= 0 {
		return IssueResult{}, ErrInvalidInput
	}

	token, err := newSecretToken()
	if err != nil {
		return IssueResult{}, err
	}

	g := Grant{
		ID:                     uuid.NewString(),
		Kind:                   KindQR,
		SubjectID:              subjectID,
		Scope:                  in.Scope,
		Status:                 StatusActive,
		RequestedDurationHours: in.DurationHours,
		SecretToken:            token,
		MaxUses:                in.MaxUses,
		CreatedAt:              now,
		ExpiresAt:              expiresAt,
	}

	if err := s.repo.Create(ctx, g); err != nil {
		return IssueResult{}, err
	}
	return IssueResult{
		Grant:    g,
		ShareURL: s.baseURL + "/qr/public/" + token,
		Message:  "Emergency QR code generated.",
	}, nil
}

func (s *Service) issueShare(ctx context.Context, in IssueInput, now time.Time) (IssueResult, error) {
	subjectID := strings.TrimSpace(in.SubjectID)
	if subjectID == "" {
		return IssueResult{}, ErrInvalidInput
	}
	hours, err := ParseRelative(in.RelativeDuration)
	if err != nil {
		return IssueResult{}, err
	}
	expiresAt, err := ComputeExpiry(now, hours)
	if err != nil {
		return IssueResult{}, err
	}

	token, err := newSecretToken()
	if err != nil {
		return IssueResult{}, err
	}

	g := Grant{
		ID:                     uuid.NewString(),
		Kind:                   KindShare,
		SubjectID:              subjectID,
		Scope:                  ScopeAll,
		Status:                 StatusActive,
		RequestedDurationHours: hours,
		SharedWithEmail:        strings.TrimSpace(in.SharedWithEmail),
		SecretToken:            token,
		CreatedAt:              now,
		ExpiresAt:              expiresAt,
	}

	if err := s.repo.Create(ctx, g); err != nil {
		return IssueResult{}, err
	}
	return IssueResult{
		Grant:    g,
		ShareURL: s.baseURL + "/share/" + token,
		Message:  "Share link generated. Expires in " + Label(hours) + ".",
	}, nil
}

type ResolveInput struct {
	// Por id (vía autenticada): CallerID obligatorio.
	ID       string
	CallerID string

	// Por token secreto (vía pública): sin identidad.
	Token string
}

// View es lo que ve quien resuelve: estado efectivo + payload recortado
// (solo si el grant habilita lectura en este momento).
type View struct {
	Grant   Grant
	Status  Status
	Payload *records.Bundle
}

// Resolve deriva el estado efectivo del grant referenciado y, si habilita
// acceso, arma el payload con el colaborador de registros.
//
// Vía pública: expired, revoked y exhausted se reportan igual (ErrExpired),
// "este link venció" en vez de "link inválido", y sin filtrar si fue
// revocación explícita.
func (s *Service) Resolve(ctx context.Context, in ResolveInput) (View, error) {
	now := s.now()

	if token := strings.TrimSpace(in.Token); token != "" {
		return s.resolvePublic(ctx, token, now)
	}

	id := strings.TrimSpace(in.ID)
	callerID := strings.TrimSpace(in.CallerID)
	if id == "" || callerID == "" {
		return View{}, ErrInvalidInput
	}

	g, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return View{}, ErrNotFound
	}
	if g.SubjectID != callerID && g.IssuerID != callerID {
		return View{}, ErrForbidden
	}

	view := View{Grant: g, Status: g.EffectiveStatus(now)}
	if view.Status == StatusApproved || view.Status == StatusActive {
		bundle, err := s.provider.ScopedRecords(ctx, g.SubjectID, string(g.Scope))
		if err != nil {
			return View{}, err
		}
		view.Payload = &bundle
	}
	return view, nil
}

func (s *Service) resolvePublic(ctx context.Context, token string, now time.Time) (View, error) {
	g, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		return View{}, ErrNotFound
	}

	if g.EffectiveStatus(now) != StatusActive {
		return View{}, ErrExpired
	}

	if g.Kind == KindQR {
		// Incremento + chequeo de agotamiento en un solo paso atómico del
		// store: dos resoluciones concurrentes con max_uses=1 no pueden
		// pasar las dos.
		g, err = s.repo.ConsumeUse(ctx, g.ID)
		if err != nil {
			if errors.Is(err, ErrExhausted) {
				return View{}, ErrExpired
			}
			return View{}, err
		}
	}

	bundle, err := s.provider.ScopedRecords(ctx, g.SubjectID, string(g.Scope))
	if err != nil {
		return View{}, err
	}
	return View{Grant: g, Status: StatusActive, Payload: &bundle}, nil
}

type RespondAction string

const (
	ActionApprove RespondAction = "approve"
	ActionDeny    RespondAction = "deny"
)

// Respond es la transición única del paciente sobre un request pending.
// approve puede pisar la duración pedida; el reloj arranca en la aprobación,
// no en la creación del request.
func (s *Service) Respond(ctx context.Context, requestID, responderID string, action RespondAction, customHours *float64) (Grant, error) {
	requestID = strings.TrimSpace(requestID)
	responderID = strings.TrimSpace(responderID)
	if requestID == "" || responderID == "" {
		return Grant{}, ErrInvalidInput
	}
	if action != ActionApprove && action != ActionDeny {
		return Grant{}, ErrInvalidAction
	}

	g, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		return Grant{}, ErrNotFound
	}
	if g.Kind != KindRequest {
		return Grant{}, ErrBadState
	}
	if g.SubjectID != responderID {
		return Grant{}, ErrForbidden
	}

	now := s.now()
	if g.EffectiveStatus(now) != StatusPending {
		return Grant{}, ErrBadState
	}

	g.RespondedAt = &now

	if action == ActionDeny {
		g.Status = StatusDenied
		if err := s.repo.Update(ctx, g); err != nil {
			return Grant{}, err
		}
		return g, nil
	}

	hours := g.RequestedDurationHours
	if customHours != nil {
		hours = *customHours
	}
	expiresAt, err := ComputeExpiry(now, hours)
	if err != nil {
		return Grant{}, err
	}

	g.Status = StatusApproved
	g.ApprovedDurationHours = &hours
	g.ExpiresAt = expiresAt // la ventana viva empieza al aprobar

	if err := s.repo.Update(ctx, g); err != nil {
		return Grant{}, err
	}
	return g, nil
}

// Revoke corta el grant antes de tiempo. Idempotente: revocar algo ya
// terminal (revoked/denied/exhausted) o ya vencido responde OK sin error;
// la UI reintenta revokes tras carreras y no debe ver un error espurio.
// El secret token queda almacenado (auditoría); la vía pública trata
// revoked igual que expired.
func (s *Service) Revoke(ctx context.Context, grantID, callerID string) (Grant, error) {
	grantID = strings.TrimSpace(grantID)
	callerID = strings.TrimSpace(callerID)
	if grantID == "" || callerID == "" {
		return Grant{}, ErrInvalidInput
	}

	g, err := s.repo.GetByID(ctx, grantID)
	if err != nil {
		return Grant{}, ErrNotFound
	}
	// Dueño = sujeto en todos los kinds: son SUS registros los gateados.
	if g.SubjectID != callerID {
		return Grant{}, ErrForbidden
	}

	if g.Terminal() {
		return g, nil
	}

	now := s.now()
	if g.EffectiveStatus(now) == StatusExpired {
		// ya venció solo; no hay nada que escribir
		return g, nil
	}

	g.Status = StatusRevoked
	g.RevokedAt = &now

	if err := s.repo.Update(ctx, g); err != nil {
		return Grant{}, err
	}
	return g, nil
}

const (
	DefaultPageSize = 5
	MaxPageSize     = 50
)

type Page struct {
	Items      []Grant
	Total      int
	Page       int
	PageSize   int
	TotalPages int
}

// ListFor lista los grants de un principal desde el rol pedido (emisor o
// sujeto), paginado. El estado de cada item se deriva al leer.
func (s *Service) ListFor(ctx context.Context, principalID string, role ListRole, kind Kind, page, pageSize int) (Page, error) {
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return Page{}, ErrInvalidInput
	}
	if role != RoleIssuer && role != RoleSubject {
		return Page{}, ErrInvalidInput
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	items, total, err := s.repo.List(ctx, ListFilter{
		PrincipalID: principalID,
		Role:        role,
		Kind:        kind,
		Page:        page,
		PageSize:    pageSize,
	})
	if err != nil {
		return Page{}, err
	}

	totalPages := (total + pageSize - 1) / pageSize
	if totalPages == 0 {
		totalPages = 1
	}
	return Page{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}, nil
}

// PublicURL recompone la URL portadora de un grant qr/share.
// Para request devuelve vacío: no hay credencial pública.
func (s *Service) PublicURL(g Grant) string {
	if g.SecretToken == "" {
		return ""
	}
	switch g.Kind {
	case KindQR:
		return s.baseURL + "/qr/public/" + g.SecretToken
	case KindShare:
		return s.baseURL + "/share/" + g.SecretToken
	}
	return ""
}

// newSecretToken genera el bearer secret de qr/share: 32 bytes de
// crypto/rand en hex. Uniforme, impredecible; la unicidad la refuerza el
// índice único del store.
func newSecretToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
