package main

import (
	"net/http"
	"os"
	"strings"
	"time"

	"medical-history-wallet/internal/adapters/auth/jwtverify"
	memrecords "medical-history-wallet/internal/adapters/records/memory"
	"medical-history-wallet/internal/adapters/records/rest"
	"medical-history-wallet/internal/domain/session"
	"medical-history-wallet/internal/platform/logger"
	"medical-history-wallet/internal/ports/auth"
	"medical-history-wallet/internal/ports/records"
	"medical-history-wallet/internal/router"

	"github.com/joho/godotenv"
)

// @title Medical History Wallet API
// @version 1.0
// @description Grants de acceso temporales y revocables sobre registros médicos.
// @BasePath /
func main() {
	_ = godotenv.Load() // .env opcional, env real gana

	log := logger.NewFromEnv()

	addr := ":8080"
	if v := os.Getenv("PORT"); v != "" {
		addr = ":" + v
	}

	secret := os.Getenv("JWT_SECRET")

	var verifier auth.AuthVerifier
	if secret != "" {
		verifier = jwtverify.New(secret)
		log.Info("auth verifier habilitado", map[string]any{"jwtSecret": logger.MaskToken(secret)})
	} else {
		log.Warn("JWT_SECRET vacío: modo dev con headers X-Debug-*", nil)
	}

	accessTTL := session.DefaultAccessTTL
	if v := os.Getenv("ACCESS_TOKEN_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			accessTTL = d
		}
	}

	opts := router.Options{
		AuthVerifier:  verifier,
		JWTSecret:     secret,
		AccessTTL:     accessTTL,
		PublicBaseURL: os.Getenv("PUBLIC_BASE_URL"),
		Records:       buildRecordsProvider(log),
		SeedUsers:     seedUsers(),
	}

	r := router.NewRouter(opts)

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info("starting server", map[string]any{"addr": addr})
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}

// buildRecordsProvider: REST contra el colaborador si hay URL configurada,
// si no, el store demo en memoria.
func buildRecordsProvider(log logger.Logger) records.Provider {
	baseURL := strings.TrimSpace(os.Getenv("RECORDS_BASE_URL"))
	if baseURL != "" {
		c, err := rest.NewClient(rest.Config{
			BaseURL: baseURL,
			APIKey:  os.Getenv("RECORDS_API_KEY"),
			Timeout: 10 * time.Second,
		})
		if err == nil && c.IsConfigured() {
			log.Info("records provider: rest", map[string]any{"baseURL": baseURL})
			return c
		}
		log.Warn("records provider mal configurado, usando demo en memoria", nil)
	}

	store := memrecords.NewStore()
	store.SeedPatient("mgarcia", records.PatientSummary{
		ID:                     "u-patient-1",
		Email:                  "mgarcia@example.com",
		DOB:                    "1988-03-14",
		BloodGroup:             "O+",
		Allergies:              "Penicilina",
		EmergencyContactName:   "Luis García",
		EmergencyContactNumber: "+51 999 111 222",
	})
	store.AddRecord("u-patient-1", "rec-1", "Consulta general", "consultation",
		time.Date(2026, 5, 10, 15, 0, 0, 0, time.UTC), true)
	store.AddRecord("u-patient-1", "rec-2", "Hemograma completo", "lab",
		time.Date(2026, 6, 2, 9, 30, 0, 0, time.UTC), false)
	return store
}

// seedUsers: cuentas demo para levantar el portal sin más infra.
// En un deploy real esto viene de un identity provider, no de acá.
func seedUsers() []session.User {
	if os.Getenv("DISABLE_DEMO_SEED") != "" {
		return nil
	}
	return []session.User{
		{ID: "u-patient-1", Username: "mgarcia", Email: "mgarcia@example.com", Password: "patient123", Role: auth.RolePatient},
		{ID: "u-doctor-1", Username: "drlopez", Email: "drlopez@example.com", Password: "doctor123", Role: auth.RoleDoctor},
		{ID: "u-admin-1", Username: "admin", Email: "admin@example.com", Password: "admin123", Role: auth.RoleAdmin},
	}
}
