package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"medical-history-wallet/internal/ports/records"
)

// Store es la implementación en memoria de Directory + Provider.
// Sirve para desarrollo local y tests; no hay colaborador externo.
type Store struct {
	mu       sync.RWMutex
	patients map[string]seedPatient // key: id
}

type seedPatient struct {
	summary records.PatientSummary
	user    string // username para lookup
	recs    []seedRecord
}

type seedRecord struct {
	id        string
	title     string
	kind      string // consultation | lab | prescription
	date      time.Time
	emergency bool // visible bajo scope "emergency"
}

func NewStore() *Store {
	return &Store{patients: make(map[string]seedPatient)}
}

// SeedPatient registra un paciente con sus registros de prueba.
func (s *Store) SeedPatient(username string, summary records.PatientSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients[summary.ID] = seedPatient{summary: summary, user: strings.ToLower(username)}
}

func (s *Store) AddRecord(patientID, id, title, kind string, date time.Time, emergency bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patients[patientID]
	if !ok {
		return
	}
	p.recs = append(p.recs, seedRecord{id: id, title: title, kind: kind, date: date, emergency: emergency})
	s.patients[patientID] = p
}

func (s *Store) LookupPrincipal(_ context.Context, identifier string) (string, error) {
	identifier = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(identifier, "@")))
	if identifier == "" {
		return "", records.ErrPrincipalNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, p := range s.patients {
		if p.user == identifier || strings.ToLower(p.summary.Email) == identifier {
			return id, nil
		}
	}
	return "", records.ErrPrincipalNotFound
}

// ScopedRecords aplica el recorte por scope:
//   - "emergency": solo datos de emergencia + registros marcados
//   - "summary":   ficha del paciente, sin registros
//   - todo lo demás ("all", "view", "both", ...): bundle completo
func (s *Store) ScopedRecords(_ context.Context, subjectID string, scope string) (records.Bundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patients[subjectID]
	if !ok {
		return records.Bundle{}, records.ErrPrincipalNotFound
	}

	out := records.Bundle{Patient: p.summary, Records: []map[string]any{}}
	switch scope {
	case "summary":
		return out, nil
	case "emergency":
		for _, r := range p.recs {
			if r.emergency {
				out.Records = append(out.Records, recordView(r))
			}
		}
		return out, nil
	default:
		for _, r := range p.recs {
			out.Records = append(out.Records, recordView(r))
		}
		return out, nil
	}
}

func recordView(r seedRecord) map[string]any {
	return map[string]any{
		"id":         r.id,
		"title":      r.title,
		"recordType": r.kind,
		"recordDate": r.date.UTC().Format(time.RFC3339),
	}
}
