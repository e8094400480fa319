package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"medical-history-wallet/internal/domain/grants"
)

var ErrNotFound = errors.New("not found")

type grantsRepo struct {
	mu      sync.Mutex
	byID    map[string]grants.Grant
	byToken map[string]string // secretToken → id
}

func NewGrantsRepo() grants.Repository {
	return &grantsRepo{
		byID:    make(map[string]grants.Grant),
		byToken: make(map[string]string),
	}
}

func (r *grantsRepo) Create(ctx context.Context, g grants.Grant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if g.ID == "" {
		return errors.New("grant id required")
	}
	if _, exists := r.byID[g.ID]; exists {
		return errors.New("grant already exists")
	}
	if g.SecretToken != "" {
		if _, exists := r.byToken[g.SecretToken]; exists {
			return errors.New("token collision")
		}
		r.byToken[g.SecretToken] = g.ID
	}
	r.byID[g.ID] = g
	return nil
}

func (r *grantsRepo) Update(ctx context.Context, g grants.Grant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if g.ID == "" {
		return errors.New("grant id required")
	}
	if _, exists := r.byID[g.ID]; !exists {
		return ErrNotFound
	}
	r.byID[g.ID] = g
	return nil
}

func (r *grantsRepo) GetByID(ctx context.Context, id string) (grants.Grant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.byID[id]
	if !ok {
		return grants.Grant{}, ErrNotFound
	}
	return g, nil
}

func (r *grantsRepo) GetByToken(ctx context.Context, token string) (grants.Grant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byToken[token]
	if !ok {
		return grants.Grant{}, ErrNotFound
	}
	g, ok := r.byID[id]
	if !ok {
		return grants.Grant{}, ErrNotFound
	}
	return g, nil
}

func (r *grantsRepo) List(ctx context.Context, f grants.ListFilter) ([]grants.Grant, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	matches := make([]grants.Grant, 0)
	for _, g := range r.byID {
		if f.Kind != "" && g.Kind != f.Kind {
			continue
		}
		switch f.Role {
		case grants.RoleIssuer:
			if g.IssuerID != f.PrincipalID {
				continue
			}
		case grants.RoleSubject:
			if g.SubjectID != f.PrincipalID {
				continue
			}
		default:
			continue
		}
		matches = append(matches, g)
	}

	// más recientes primero; empate por id para orden estable
	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].CreatedAt.After(matches[j].CreatedAt)
		}
		return matches[i].ID < matches[j].ID
	})

	total := len(matches)
	start := (f.Page - 1) * f.PageSize
	if start >= total {
		return []grants.Grant{}, total, nil
	}
	end := start + f.PageSize
	if end > total {
		end = total
	}
	return matches[start:end], total, nil
}

func (r *grantsRepo) FindPending(ctx context.Context, issuerID, subjectID string) ([]grants.Grant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]grants.Grant, 0)
	for _, g := range r.byID {
		if g.Kind != grants.KindRequest {
			continue
		}
		if g.IssuerID != issuerID || g.SubjectID != subjectID {
			continue
		}
		if g.Status == grants.StatusPending {
			out = append(out, g)
		}
	}
	return out, nil
}

// ConsumeUse: incremento + chequeo de tope bajo el MISMO lock. Equivalente
// in-memory del UPDATE condicional atómico del adapter de postgres.
func (r *grantsRepo) ConsumeUse(ctx context.Context, id string) (grants.Grant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.byID[id]
	if !ok {
		return grants.Grant{}, grants.ErrNotFound
	}
	if g.Status != grants.StatusActive {
		return grants.Grant{}, grants.ErrExhausted
	}
	if g.MaxUses != nil && g.UsageCount >= *g.MaxUses {
		return grants.Grant{}, grants.ErrExhausted
	}

	g.UsageCount++
	if g.MaxUses != nil && g.UsageCount >= *g.MaxUses {
		g.Status = grants.StatusExhausted
	}
	r.byID[id] = g
	return g, nil
}
