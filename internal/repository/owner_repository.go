package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"pixelbay/internal/domain"
)

const ownerColumns = `
    id, handle, password_hash, token, daily_limit, hourly_limit,
    upload_count, last_used_at, suspended,
    wm_enabled, wm_text, wm_position, wm_opacity, wm_font_size,
    wm_color, wm_padding, wm_async, wm_fast_mode, created_at`

type OwnerRepository struct {
	db *sqlx.DB
}

func NewOwnerRepository(db *sqlx.DB) *OwnerRepository {
	return &OwnerRepository{db: db}
}

func (r *OwnerRepository) Create(ctx context.Context, owner *domain.Owner) error {
	query := `
        INSERT INTO owners (handle, password_hash, daily_limit, hourly_limit,
            wm_enabled, wm_text, wm_position, wm_opacity, wm_font_size,
            wm_color, wm_padding, wm_async, wm_fast_mode)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
        RETURNING id, token, created_at`

	return r.db.QueryRowContext(ctx, query,
		owner.Handle,
		owner.PasswordHash,
		owner.DailyLimit,
		owner.HourlyLimit,
		owner.Enabled,
		owner.Text,
		owner.Position,
		owner.Opacity,
		owner.FontSize,
		owner.Color,
		owner.Padding,
		owner.Async,
		owner.FastMode,
	).Scan(&owner.ID, &owner.Token, &owner.CreatedAt)
}

// GetByToken находит владельца по токену через уникальный индекс
func (r *OwnerRepository) GetByToken(ctx context.Context, token uuid.UUID) (*domain.Owner, error) {
	var owner domain.Owner
	err := r.db.GetContext(ctx, &owner,
		`SELECT`+ownerColumns+` FROM owners WHERE token = $1`, token)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get owner by token: %w", err)
	}
	return &owner, nil
}

func (r *OwnerRepository) GetByHandle(ctx context.Context, handle string) (*domain.Owner, error) {
	var owner domain.Owner
	err := r.db.GetContext(ctx, &owner,
		`SELECT`+ownerColumns+` FROM owners WHERE LOWER(handle) = LOWER($1)`, handle)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get owner by handle: %w", err)
	}
	return &owner, nil
}

func (r *OwnerRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Owner, error) {
	var owner domain.Owner
	err := r.db.GetContext(ctx, &owner,
		`SELECT`+ownerColumns+` FROM owners WHERE id = $1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get owner by id: %w", err)
	}
	return &owner, nil
}

func (r *OwnerRepository) List(ctx context.Context) ([]domain.Owner, error) {
	var owners []domain.Owner
	err := r.db.SelectContext(ctx, &owners,
		`SELECT`+ownerColumns+` FROM owners ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list owners: %w", err)
	}
	return owners, nil
}

// RecordUsage атомарно учитывает успешную загрузку одним UPDATE,
// без чтения-модификации-записи
func (r *OwnerRepository) RecordUsage(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE owners
         SET upload_count = upload_count + 1,
             last_used_at = NOW()
         WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return requireRow(result, "owner", id.String())
}

func (r *OwnerRepository) UpdateLimits(ctx context.Context, id uuid.UUID, daily, hourly int) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE owners SET daily_limit = $1, hourly_limit = $2 WHERE id = $3`,
		daily, hourly, id)
	if err != nil {
		return fmt.Errorf("failed to update limits: %w", err)
	}
	return requireRow(result, "owner", id.String())
}

func (r *OwnerRepository) SetSuspended(ctx context.Context, id uuid.UUID, suspended bool) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE owners SET suspended = $1 WHERE id = $2`, suspended, id)
	if err != nil {
		return fmt.Errorf("failed to update suspended flag: %w", err)
	}
	return requireRow(result, "owner", id.String())
}

// ResetToken выдает владельцу новый токен, старый немедленно перестает действовать
func (r *OwnerRepository) ResetToken(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	var token uuid.UUID
	err := r.db.QueryRowContext(ctx,
		`UPDATE owners SET token = gen_random_uuid() WHERE id = $1 RETURNING token`,
		id).Scan(&token)
	if err != nil {
		if err == sql.ErrNoRows {
			return uuid.Nil, fmt.Errorf("owner not found: %s", id)
		}
		return uuid.Nil, fmt.Errorf("failed to reset token: %w", err)
	}
	return token, nil
}

func (r *OwnerRepository) UpdateWatermark(ctx context.Context, id uuid.UUID, spec domain.WatermarkSpec) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE owners
         SET wm_enabled = $1, wm_text = $2, wm_position = $3, wm_opacity = $4,
             wm_font_size = $5, wm_color = $6, wm_padding = $7,
             wm_async = $8, wm_fast_mode = $9
         WHERE id = $10`,
		spec.Enabled, spec.Text, spec.Position, spec.Opacity,
		spec.FontSize, spec.Color, spec.Padding,
		spec.Async, spec.FastMode, id)
	if err != nil {
		return fmt.Errorf("failed to update watermark spec: %w", err)
	}
	return requireRow(result, "owner", id.String())
}

// Delete удаляет владельца; записи файлов и исключения белого списка
// уходят в той же транзакции через ON DELETE CASCADE
func (r *OwnerRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM owners WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete owner: %w", err)
	}
	return requireRow(result, "owner", id.String())
}

func requireRow(result sql.Result, entity, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
