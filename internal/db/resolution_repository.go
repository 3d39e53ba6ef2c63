package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Resolution is one row of the resolution log
type Resolution struct {
	ID         uuid.UUID  `json:"id"`
	APIKeyID   *uuid.UUID `json:"api_key_id,omitempty"`
	URL        string     `json:"url"`
	Provider   string     `json:"provider,omitempty"`
	Method     string     `json:"method,omitempty"`
	Success    bool       `json:"success"`
	ErrorCode  string     `json:"error_code,omitempty"`
	Grade      string     `json:"grade,omitempty"`
	Cached     bool       `json:"cached"`
	DurationMs int64      `json:"duration_ms"`
	CreatedAt  time.Time  `json:"created_at"`
}

type ResolutionRepository struct {
	db *DB
}

func NewResolutionRepository(db *DB) *ResolutionRepository {
	return &ResolutionRepository{db: db}
}

func (r *ResolutionRepository) Create(ctx context.Context, res *Resolution) error {
	query := `
		INSERT INTO resolution_log (id, api_key_id, url, provider, method, success, error_code, grade, cached, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	if res.ID == uuid.Nil {
		res.ID = uuid.New()
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, query,
		res.ID, res.APIKeyID, res.URL, nullString(res.Provider), nullString(res.Method), res.Success,
		nullString(res.ErrorCode), nullString(res.Grade), res.Cached, res.DurationMs, res.CreatedAt,
	)
	return err
}

// Recent returns the latest log rows, newest first
func (r *ResolutionRepository) Recent(ctx context.Context, limit int) ([]*Resolution, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT id, api_key_id, url, provider, method, success, error_code, grade, cached, duration_ms, created_at
		FROM resolution_log
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Resolution
	for rows.Next() {
		res := &Resolution{}
		var keyID uuid.NullUUID
		var provider, method, code, grade sql.NullString
		if err := rows.Scan(&res.ID, &keyID, &res.URL, &provider, &method, &res.Success,
			&code, &grade, &res.Cached, &res.DurationMs, &res.CreatedAt); err != nil {
			return nil, err
		}
		if keyID.Valid {
			res.APIKeyID = &keyID.UUID
		}
		res.Provider, res.Method, res.ErrorCode, res.Grade = provider.String, method.String, code.String, grade.String
		out = append(out, res)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
