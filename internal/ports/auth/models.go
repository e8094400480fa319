package auth

// Role viene embebido en el access token. OJO: acá solo sirve para routing
// y vistas; la autorización real se re-chequea contra el grant en cada
// operación (los checks Forbidden del dominio), nunca contra este campo.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

// Claims representa la información extraída del token.
type Claims struct {
	UserID string
	Email  string
	Role   Role
}
