package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"pixelbay/internal/domain"
)

type AssetRepository struct {
	db *sqlx.DB
}

func NewAssetRepository(db *sqlx.DB) *AssetRepository {
	return &AssetRepository{db: db}
}

func (r *AssetRepository) Create(ctx context.Context, asset *domain.StoredAsset) error {
	query := `
        INSERT INTO assets (filename, owner_id, size_bytes, mime_type)
        VALUES ($1, $2, $3, $4)
        RETURNING id, created_at`

	return r.db.QueryRowContext(ctx, query,
		asset.Filename,
		asset.OwnerID,
		asset.SizeBytes,
		asset.MIMEType,
	).Scan(&asset.ID, &asset.CreatedAt)
}

// GetByFilename ищет файл в директории владельца; ownerID == nil —
// общая анонимная директория
func (r *AssetRepository) GetByFilename(ctx context.Context, ownerID *uuid.UUID, filename string) (*domain.StoredAsset, error) {
	var asset domain.StoredAsset
	var err error
	if ownerID == nil {
		err = r.db.GetContext(ctx, &asset,
			`SELECT * FROM assets WHERE owner_id IS NULL AND filename = $1`, filename)
	} else {
		err = r.db.GetContext(ctx, &asset,
			`SELECT * FROM assets WHERE owner_id = $1 AND filename = $2`, *ownerID, filename)
	}
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}
	return &asset, nil
}

func (r *AssetRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM assets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete asset: %w", err)
	}
	return requireRow(result, "asset", fmt.Sprintf("%d", id))
}

func (r *AssetRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.StoredAsset, error) {
	var assets []domain.StoredAsset
	err := r.db.SelectContext(ctx, &assets,
		`SELECT * FROM assets WHERE owner_id = $1 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	return assets, nil
}
