package grants

import "context"

// ListRole indica desde qué lado del grant se lista.
type ListRole string

const (
	RoleIssuer  ListRole = "issuer"
	RoleSubject ListRole = "subject"
)

type ListFilter struct {
	PrincipalID string
	Role        ListRole
	Kind        Kind // opcional; vacío = todos
	Page        int
	PageSize    int
}

type Repository interface {
	Create(ctx context.Context, g Grant) error
	Update(ctx context.Context, g Grant) error
	GetByID(ctx context.Context, id string) (Grant, error)
	GetByToken(ctx context.Context, token string) (Grant, error)

	// List pagina y devuelve total de matches (para totalPages).
	List(ctx context.Context, f ListFilter) ([]Grant, int, error)

	// FindPending devuelve los request no-terminales de un emisor hacia un
	// sujeto (el servicio decide cuáles están efectivamente pending).
	FindPending(ctx context.Context, issuerID, subjectID string) ([]Grant, error)

	// ConsumeUse incrementa usage_count y, si con eso se alcanza max_uses,
	// deja el grant en exhausted, todo en UN paso atómico en el store.
	// Precondición (también atómica): status almacenado == active y, si hay
	// max_uses, usage_count < max_uses. Si no se cumple devuelve
	// ErrExhausted; si el id no existe, ErrNotFound.
	ConsumeUse(ctx context.Context, id string) (Grant, error)
}
