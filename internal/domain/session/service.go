package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"medical-history-wallet/internal/ports/auth"

	"github.com/golang-jwt/jwt/v5"
	gocache "github.com/patrickmn/go-cache"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidRefresh     = errors.New("invalid refresh token")
	ErrUserNotFound       = errors.New("user not found")
	ErrForbidden          = errors.New("forbidden")
)

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
	csrfTTL           = 2 * time.Hour
)

// User es el registro mínimo que esta parte necesita. El CRUD real de
// usuarios/perfiles vive en el colaborador de perfiles; acá solo lo justo
// para emitir tokens y para el cambio de rol del admin.
type User struct {
	ID       string
	Username string
	Email    string
	Password string // dev/tests: plano; el login real es del colaborador
	Role     auth.Role
}

type Service struct {
	secret    []byte
	accessTTL time.Duration

	mu    sync.RWMutex
	users map[string]User // por id

	// refresh y csrf tokens con TTL. go-cache expira solo, sin sweeper
	// propio: mismo criterio read-time que usan los grants.
	refresh *gocache.Cache
	csrf    *gocache.Cache

	now func() time.Time
}

func NewService(secret string, accessTTL time.Duration) *Service {
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTTL
	}
	return &Service{
		secret:    []byte(secret),
		accessTTL: accessTTL,
		users:     map[string]User{},
		refresh:   gocache.New(DefaultRefreshTTL, 10*time.Minute),
		csrf:      gocache.New(csrfTTL, 10*time.Minute),
		now:       time.Now,
	}
}

// Seed carga usuarios iniciales (dev y tests).
func (s *Service) Seed(users ...User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range users {
		s.users[u.ID] = u
	}
}

type accessClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

func (s *Service) Login(email, password string) (Tokens, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	s.mu.RLock()
	var found *User
	for _, u := range s.users {
		if strings.ToLower(u.Email) == email {
			cp := u
			found = &cp
			break
		}
	}
	s.mu.RUnlock()

	if found == nil || found.Password != password {
		return Tokens{}, ErrInvalidCredentials
	}
	return s.issueTokens(*found)
}

// Refresh rota el refresh token: el viejo muere en el mismo acto en que
// nace el nuevo, así un token robado sirve a lo sumo una vez.
func (s *Service) Refresh(refreshToken string) (Tokens, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return Tokens{}, ErrInvalidRefresh
	}

	v, ok := s.refresh.Get(refreshToken)
	if !ok {
		return Tokens{}, ErrInvalidRefresh
	}
	s.refresh.Delete(refreshToken)

	userID := v.(string)
	s.mu.RLock()
	u, ok := s.users[userID]
	s.mu.RUnlock()
	if !ok {
		return Tokens{}, ErrInvalidRefresh
	}
	return s.issueTokens(u)
}

func (s *Service) Logout(refreshToken string) {
	if refreshToken != "" {
		s.refresh.Delete(refreshToken)
	}
}

func (s *Service) issueTokens(u User) (Tokens, error) {
	now := s.now()
	exp := now.Add(s.accessTTL)

	claims := accessClaims{
		Email: u.Email,
		Role:  string(u.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Tokens{}, err
	}

	rt, err := randomToken()
	if err != nil {
		return Tokens{}, err
	}
	s.refresh.Set(rt, u.ID, DefaultRefreshTTL)

	return Tokens{AccessToken: access, RefreshToken: rt, ExpiresAt: exp}, nil
}

// IssueCSRF emite un token anti-forgery con TTL (double-submit).
func (s *Service) IssueCSRF() (string, error) {
	t, err := randomToken()
	if err != nil {
		return "", err
	}
	s.csrf.Set(t, struct{}{}, csrfTTL)
	return t, nil
}

// ValidateCSRF implementa middleware.CSRFValidator.
func (s *Service) ValidateCSRF(token string) bool {
	_, ok := s.csrf.Get(token)
	return ok
}

// LookupPrincipal implementa records.Directory sobre el registro local:
// resuelve "@username" o email a id de usuario.
func (s *Service) LookupPrincipal(_ context.Context, identifier string) (string, error) {
	id := strings.ToLower(strings.TrimSpace(identifier))
	id = strings.TrimPrefix(id, "@")
	if id == "" {
		return "", ErrUserNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.ToLower(u.Username) == id || strings.ToLower(u.Email) == id {
			return u.ID, nil
		}
	}
	return "", ErrUserNotFound
}

// SetRole cambia el rol de un usuario. Solo admin. Devuelve el user ya
// actualizado; si el admin se bajó a sí mismo el privilegio, el caller
// (cliente) debe invalidar su sesión local: el token viejo sigue diciendo
// admin hasta vencer.
func (s *Service) SetRole(actorID, targetID string, role auth.Role) (User, error) {
	switch role {
	case auth.RolePatient, auth.RoleDoctor, auth.RoleAdmin:
	default:
		return User{}, errors.New("invalid role")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	actor, ok := s.users[actorID]
	if !ok || actor.Role != auth.RoleAdmin {
		return User{}, ErrForbidden
	}
	target, ok := s.users[targetID]
	if !ok {
		return User{}, ErrUserNotFound
	}

	target.Role = role
	s.users[targetID] = target
	return target, nil
}

func (s *Service) GetUser(id string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
