package postgres

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"medical-history-wallet/internal/domain/grants"
)

/*
Tabla esperada:

CREATE TABLE access_grants (
    id                       TEXT PRIMARY KEY,
    kind                     TEXT NOT NULL,
    subject_id               TEXT NOT NULL,
    issuer_id                TEXT,
    scope                    TEXT NOT NULL,
    status                   TEXT NOT NULL,
    reason                   TEXT NOT NULL DEFAULT '',
    requested_duration_hours DOUBLE PRECISION NOT NULL,
    approved_duration_hours  DOUBLE PRECISION,
    shared_with_email        TEXT NOT NULL DEFAULT '',
    secret_token             TEXT UNIQUE,
    usage_count              INTEGER NOT NULL DEFAULT 0,
    max_uses                 INTEGER,
    created_at               TIMESTAMPTZ NOT NULL,
    responded_at             TIMESTAMPTZ,
    revoked_at               TIMESTAMPTZ,
    expires_at               TIMESTAMPTZ NOT NULL
);
CREATE INDEX ON access_grants (subject_id, kind);
CREATE INDEX ON access_grants (issuer_id, subject_id) WHERE kind = 'request';
*/

const grantCols = `
	id, kind, subject_id, issuer_id, scope, status, reason,
	requested_duration_hours, approved_duration_hours,
	shared_with_email, secret_token, usage_count, max_uses,
	created_at, responded_at, revoked_at, expires_at
`

type GrantsRepo struct {
	db *sql.DB
}

func NewGrantsRepo(db *sql.DB) *GrantsRepo {
	return &GrantsRepo{db: db}
}

func (r *GrantsRepo) Create(ctx context.Context, g grants.Grant) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO access_grants (`+grantCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`,
		g.ID,
		string(g.Kind),
		g.SubjectID,
		toNullString(g.IssuerID),
		string(g.Scope),
		string(g.Status),
		g.Reason,
		g.RequestedDurationHours,
		toNullFloat(g.ApprovedDurationHours),
		g.SharedWithEmail,
		toNullString(g.SecretToken),
		g.UsageCount,
		toNullInt(g.MaxUses),
		g.CreatedAt,
		toNullTime(g.RespondedAt),
		toNullTime(g.RevokedAt),
		g.ExpiresAt,
	)
	return err
}

func (r *GrantsRepo) Update(ctx context.Context, g grants.Grant) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE access_grants
		SET
			status = $2,
			approved_duration_hours = $3,
			usage_count = $4,
			responded_at = $5,
			revoked_at = $6,
			expires_at = $7
		WHERE id = $1
	`,
		g.ID,
		string(g.Status),
		toNullFloat(g.ApprovedDurationHours),
		g.UsageCount,
		toNullTime(g.RespondedAt),
		toNullTime(g.RevokedAt),
		g.ExpiresAt,
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GrantsRepo) GetByID(ctx context.Context, id string) (grants.Grant, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return grants.Grant{}, ErrNotFound
	}
	row := r.db.QueryRowContext(ctx, `
		SELECT `+grantCols+`
		FROM access_grants
		WHERE id = $1
	`, id)
	return scanGrant(row)
}

func (r *GrantsRepo) GetByToken(ctx context.Context, token string) (grants.Grant, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return grants.Grant{}, ErrNotFound
	}
	row := r.db.QueryRowContext(ctx, `
		SELECT `+grantCols+`
		FROM access_grants
		WHERE secret_token = $1
	`, token)
	return scanGrant(row)
}

func (r *GrantsRepo) List(ctx context.Context, f grants.ListFilter) ([]grants.Grant, int, error) {
	col := "subject_id"
	if f.Role == grants.RoleIssuer {
		col = "issuer_id"
	}

	where := col + ` = $1`
	args := []any{f.PrincipalID}
	if f.Kind != "" {
		where += ` AND kind = $2`
		args = append(args, string(f.Kind))
	}

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM access_grants WHERE `+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	offset := (f.Page - 1) * f.PageSize
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+grantCols+`
		FROM access_grants
		WHERE `+where+`
		ORDER BY created_at DESC, id ASC
		LIMIT `+itoa(f.PageSize)+` OFFSET `+itoa(offset),
		args...,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]grants.Grant, 0)
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, g)
	}
	return out, total, rows.Err()
}

func (r *GrantsRepo) FindPending(ctx context.Context, issuerID, subjectID string) ([]grants.Grant, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+grantCols+`
		FROM access_grants
		WHERE kind = 'request'
		  AND issuer_id = $1
		  AND subject_id = $2
		  AND status = 'pending'
	`, issuerID, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]grants.Grant, 0)
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// ConsumeUse: incremento + chequeo de tope en UN solo UPDATE condicional.
// Dos resoluciones concurrentes con max_uses=1 no pueden ganar las dos:
// la condición usage_count < max_uses se evalúa bajo el lock de fila.
func (r *GrantsRepo) ConsumeUse(ctx context.Context, id string) (grants.Grant, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE access_grants
		SET
			usage_count = usage_count + 1,
			status = CASE
				WHEN max_uses IS NOT NULL AND usage_count + 1 >= max_uses
				THEN 'exhausted'
				ELSE status
			END
		WHERE id = $1
		  AND status = 'active'
		  AND (max_uses IS NULL OR usage_count < max_uses)
		RETURNING `+grantCols+`
	`, id)

	g, err := scanGrant(row)
	if err == nil {
		return g, nil
	}
	if err != ErrNotFound {
		return grants.Grant{}, err
	}

	// No matcheó la condición: ¿no existe, o perdió la carrera del tope?
	if _, err := r.GetByID(ctx, id); err != nil {
		return grants.Grant{}, grants.ErrNotFound
	}
	return grants.Grant{}, grants.ErrExhausted
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGrant(row rowScanner) (grants.Grant, error) {
	var (
		g           grants.Grant
		kind        string
		issuerID    sql.NullString
		scope       string
		status      string
		approved    sql.NullFloat64
		secretToken sql.NullString
		maxUses     sql.NullInt64
		respondedAt sql.NullTime
		revokedAt   sql.NullTime
	)

	if err := row.Scan(
		&g.ID,
		&kind,
		&g.SubjectID,
		&issuerID,
		&scope,
		&status,
		&g.Reason,
		&g.RequestedDurationHours,
		&approved,
		&g.SharedWithEmail,
		&secretToken,
		&g.UsageCount,
		&maxUses,
		&g.CreatedAt,
		&respondedAt,
		&revokedAt,
		&g.ExpiresAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return grants.Grant{}, ErrNotFound
		}
		return grants.Grant{}, err
	}

	g.Kind = grants.Kind(kind)
	g.Scope = grants.Scope(scope)
	g.Status = grants.Status(status)
	g.IssuerID = issuerID.String
	g.SecretToken = secretToken.String
	if approved.Valid {
		v := approved.Float64
		g.ApprovedDurationHours = &v
	}
	if maxUses.Valid {
		v := int(maxUses.Int64)
		g.MaxUses = &v
	}
	if respondedAt.Valid {
		t := respondedAt.Time
		g.RespondedAt = &t
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		g.RevokedAt = &t
	}
	return g, nil
}

// helpers
func toNullString(s string) sql.NullString {
	if strings.TrimSpace(s) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func toNullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func toNullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func itoa(n int) string {
	if n < 0 {
		n = 0
	}
	return strconv.Itoa(n)
}
