package grants

import "time"

// Kind distingue las tres vías de emisión. Comparten shape e invariantes
// (expiración derivada, revocación idempotente); cambian vocabulario de
// scopes y direccionamiento (id+identidad vs token secreto).
type Kind string

const (
	KindRequest Kind = "request" // doctor → paciente, requiere aprobación
	KindQR      Kind = "qr"      // emergencia, público vía token
	KindShare   Kind = "share"   // link directo, público vía token
)

type Scope string

// Scopes de request (qué puede hacer el doctor una vez aprobado).
const (
	ScopeView   Scope = "view"
	ScopeCreate Scope = "create"
	ScopeBoth   Scope = "both"
)

// Scopes de qr (cuánta historia se expone; siempre read-only).
const (
	ScopeEmergency Scope = "emergency"
	ScopeSummary   Scope = "summary"
	ScopeAll       Scope = "all"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusActive   Status = "active"
	StatusRevoked  Status = "revoked"
	StatusExpired  Status = "expired" // solo derivado, nunca se persiste
	// Exhausted: un qr con max_uses llegó al tope. Terminal, sí se persiste
	// (lo escribe ConsumeUse en el mismo paso atómico del incremento).
	StatusExhausted Status = "exhausted"
)

type Grant struct {
	ID   string
	Kind Kind

	SubjectID string // paciente cuyos registros se comparten
	IssuerID  string // doctor solicitante; vacío en qr/share (auto-emitidos)

	Scope  Scope
	Status Status
	Reason string // request: motivo mostrado al paciente

	RequestedDurationHours float64
	ApprovedDurationHours  *float64 // solo request aprobado; puede diferir del pedido

	// SharedWithEmail es puro bookkeeping del share ("con quién lo compartí").
	// No restringe nada: el link es portador.
	SharedWithEmail string

	// SecretToken es la credencial portadora de qr/share. Nunca se loggea
	// completa. Vacío en request (se direcciona por id + identidad).
	SecretToken string

	UsageCount int
	MaxUses    *int // solo qr; nil = ilimitado

	CreatedAt   time.Time
	RespondedAt *time.Time
	RevokedAt   *time.Time
	ExpiresAt   time.Time
}

// EffectiveStatus deriva el estado real al momento de lectura.
// now > ExpiresAt pisa un pending/approved/active almacenado; los estados
// terminales almacenados (denied/revoked/exhausted) ganan sobre la expiración.
// Nunca escribimos "expired": no hay sweeper, es un predicado de lectura.
func (g Grant) EffectiveStatus(now time.Time) Status {
	switch g.Status {
	case StatusDenied, StatusRevoked, StatusExhausted:
		return g.Status
	}
	if now.After(g.ExpiresAt) {
		return StatusExpired
	}
	return g.Status
}

// Terminal indica si ya no hay transición posible desde el estado almacenado.
func (g Grant) Terminal() bool {
	switch g.Status {
	case StatusDenied, StatusRevoked, StatusExhausted:
		return true
	}
	return false
}

// IsPublic indica si el grant se resuelve por token portador (sin login).
func (k Kind) IsPublic() bool {
	return k == KindQR || k == KindShare
}

func validScope(k Kind, s Scope) bool {
	switch k {
	case KindRequest:
		return s == ScopeView || s == ScopeCreate || s == ScopeBoth
	case KindQR:
		return s == ScopeEmergency || s == ScopeSummary || s == ScopeAll
	case KindShare:
		// share no elige scope: siempre historia completa read-only
		return s == ScopeAll
	}
	return false
}
