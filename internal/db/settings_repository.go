package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PlatformSetting holds operator-managed settings for one provider
type PlatformSetting struct {
	Provider  string    `json:"provider"`
	Cookies   string    `json:"-"`
	UpdatedAt time.Time `json:"updated_at"`
}

type SettingsRepository struct {
	db *DB
}

func NewSettingsRepository(db *DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get returns the settings row for a provider, or nil when none is stored
func (r *SettingsRepository) Get(ctx context.Context, provider string) (*PlatformSetting, error) {
	query := `
		SELECT provider, cookies, updated_at
		FROM platform_settings
		WHERE provider = $1
	`

	s := &PlatformSetting{}
	err := r.db.QueryRowContext(ctx, query, provider).Scan(&s.Provider, &s.Cookies, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// SetCookies stores the cookie header for a provider
func (r *SettingsRepository) SetCookies(ctx context.Context, provider, cookies string) error {
	query := `
		INSERT INTO platform_settings (provider, cookies, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (provider) DO UPDATE
		SET cookies = EXCLUDED.cookies, updated_at = NOW()
	`

	_, err := r.db.ExecContext(ctx, query, provider, cookies)
	return err
}
