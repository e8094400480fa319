package router

import (
	"database/sql"
	"net/http"
	"os"
	"time"

	memrecords "medical-history-wallet/internal/adapters/records/memory"
	mem "medical-history-wallet/internal/adapters/storage/memory"
	pg "medical-history-wallet/internal/adapters/storage/postgres"
	_ "medical-history-wallet/docs"
	"medical-history-wallet/internal/domain/grants"
	"medical-history-wallet/internal/domain/session"
	"medical-history-wallet/internal/middleware"
	"medical-history-wallet/internal/ports/auth"
	"medical-history-wallet/internal/ports/records"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"
)

type Options struct {
	AuthVerifier auth.AuthVerifier // puede ser nil (modo dev: headers X-Debug-*)

	// Opcional: si viene, usa Postgres para los grants. Si no, in-memory.
	DB *sql.DB

	// Secreto HS256 para los access tokens. Vacío => valor de dev.
	JWTSecret string
	AccessTTL time.Duration

	// Base pública para armar URLs de QR/share.
	PublicBaseURL string

	// Colaborador de registros médicos. Nil => demo en memoria vacía.
	Records records.Provider

	// Usuarios iniciales del servicio de sesión (dev/tests).
	SeedUsers []session.User
}

func NewRouter(opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Use(middleware.AuthContext(opts.AuthVerifier))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	secret := opts.JWTSecret
	if secret == "" {
		secret = "dev-secret-change-me"
	}
	sessionSvc := session.NewService(secret, opts.AccessTTL)
	sessionSvc.Seed(opts.SeedUsers...)

	var grantsRepo grants.Repository

	// Si no te pasan DB explícita, intenta por env (para dev/handoff)
	db := opts.DB
	if db == nil {
		if dsn := os.Getenv("DB_DSN"); dsn != "" {
			opened, err := pg.Open(dsn)
			if err == nil {
				db = opened
			}
		}
	}

	if db != nil {
		grantsRepo = pg.NewGrantsRepo(db)
	} else {
		grantsRepo = mem.NewGrantsRepo()
	}

	provider := opts.Records
	if provider == nil {
		provider = memrecords.NewStore()
	}

	baseURL := opts.PublicBaseURL
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	// El servicio de sesión hace de directorio: los usernames/emails que
	// resuelve un doctor al pedir acceso viven ahí.
	grantsSvc := grants.NewService(grantsRepo, sessionSvc, provider, baseURL)

	// Rutas públicas: resolución por token secreto. Sin CSRF (las abre
	// cualquiera desde un QR o un link, no hay sesión).
	grants.RegisterPublicRoutes(r, grantsSvc)

	// Todo lo mutador del portal pasa por el chequeo anti-forgery,
	// login y refresh incluidos: el cliente pide /csrf-token primero.
	r.Group(func(pr chi.Router) {
		pr.Use(middleware.RequireCSRF(sessionSvc))
		session.RegisterRoutes(pr, sessionSvc)
		grants.RegisterRoutes(pr, grantsSvc)
	})

	r.Get("/swagger/*", httpSwagger.WrapHandler)

	return r
}
