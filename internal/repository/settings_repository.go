package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"pixelbay/internal/domain"
)

// SettingsRepository хранит глобальный режим поддоменов и белый список
// владельцев, которым доступ оставлен при выключенном режиме
type SettingsRepository struct {
	db *sqlx.DB
}

func NewSettingsRepository(db *sqlx.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

func (r *SettingsRepository) GetMode(ctx context.Context) (string, error) {
	var mode string
	err := r.db.GetContext(ctx, &mode,
		`SELECT mode FROM subdomain_settings WHERE singleton`)
	if err != nil {
		return "", fmt.Errorf("failed to get subdomain mode: %w", err)
	}
	return mode, nil
}

func (r *SettingsRepository) SetMode(ctx context.Context, mode string) error {
	if mode != domain.SubdomainModeEnabled && mode != domain.SubdomainModeDisabled {
		return fmt.Errorf("invalid subdomain mode: %s", mode)
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE subdomain_settings SET mode = $1, updated_at = NOW() WHERE singleton`, mode)
	if err != nil {
		return fmt.Errorf("failed to set subdomain mode: %w", err)
	}
	return nil
}

func (r *SettingsRepository) IsWhitelisted(ctx context.Context, ownerID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM subdomain_overrides WHERE owner_id = $1)`, ownerID)
	if err != nil {
		return false, fmt.Errorf("failed to check whitelist: %w", err)
	}
	return exists, nil
}

func (r *SettingsRepository) AddOverride(ctx context.Context, ownerID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO subdomain_overrides (owner_id) VALUES ($1)
         ON CONFLICT (owner_id) DO NOTHING`, ownerID)
	if err != nil {
		return fmt.Errorf("failed to add override: %w", err)
	}
	return nil
}

func (r *SettingsRepository) RemoveOverride(ctx context.Context, ownerID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM subdomain_overrides WHERE owner_id = $1`, ownerID)
	if err != nil {
		return fmt.Errorf("failed to remove override: %w", err)
	}
	return nil
}

func (r *SettingsRepository) ListOverrides(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.SelectContext(ctx, &ids,
		`SELECT owner_id FROM subdomain_overrides ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list overrides: %w", err)
	}
	return ids, nil
}
