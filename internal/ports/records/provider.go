package records

import (
	"context"
	"errors"
	"time"
)

var ErrPrincipalNotFound = errors.New("principal not found")

// Directory resuelve usernames/emails a ids de usuario.
// Lo implementa el servicio de perfiles (colaborador externo).
type Directory interface {
	LookupPrincipal(ctx context.Context, identifier string) (string, error)
}

// Provider entrega los registros médicos recortados según scope.
// El shape interno de cada registro es asunto del colaborador; acá solo
// pasamos el scope sin tocarlo y devolvemos el bundle tal cual.
type Provider interface {
	ScopedRecords(ctx context.Context, subjectID string, scope string) (Bundle, error)
}

// Bundle es la proyección que ve quien resuelve un grant.
type Bundle struct {
	Patient PatientSummary   `json:"patient"`
	Records []map[string]any `json:"records"`
}

// PatientSummary: datos de emergencia del paciente (lo que muestra el
// viewer público: grupo sanguíneo, alergias, contacto).
type PatientSummary struct {
	ID                     string `json:"id"`
	Email                  string `json:"email,omitempty"`
	DOB                    string `json:"dob,omitempty"`
	BloodGroup             string `json:"bloodGroup,omitempty"`
	Allergies              string `json:"allergies,omitempty"`
	EmergencyContactName   string `json:"emergencyContactName,omitempty"`
	EmergencyContactNumber string `json:"emergencyContactNumber,omitempty"`
}

// Record es el subset de campos que este core referencia en respuestas.
type Record struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	RecordDate time.Time `json:"recordDate"`
}
