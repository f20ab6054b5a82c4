package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// RateWindowRepository реализует хранилище счетчиков фиксированных окон
// в Postgres. Используется, когда Redis не сконфигурирован. Атомарность
// check-and-increment обеспечивается блокировкой строки ключа: upsert
// захватывает блокировку, решение и запись выполняются в одной транзакции.
type RateWindowRepository struct {
	db *sqlx.DB
}

func NewRateWindowRepository(db *sqlx.DB) *RateWindowRepository {
	return &RateWindowRepository{db: db}
}

func (r *RateWindowRepository) Take(ctx context.Context, key string, limit int, window time.Duration) (int64, time.Time, bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, time.Time{}, false, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	// Upsert-блокировка: строка ключа создается при первом обращении и
	// блокируется до конца транзакции, параллельные Take с тем же ключом ждут
	var count int64
	var resetAt time.Time
	err = tx.QueryRowContext(ctx, `
        INSERT INTO rate_windows (key, count, reset_at)
        VALUES ($1, 0, NOW())
        ON CONFLICT (key) DO UPDATE SET key = excluded.key
        RETURNING count, reset_at`, key).Scan(&count, &resetAt)
	if err != nil {
		return 0, time.Time{}, false, fmt.Errorf("failed to lock rate window: %w", err)
	}

	now := time.Now()
	allowed := true

	switch {
	case count == 0 || !now.Before(resetAt):
		// Новый ключ либо истекшее окно
		count = 1
		resetAt = now.Add(window)
	case count >= int64(limit):
		allowed = false
	default:
		count++
	}

	if allowed {
		if _, err := tx.ExecContext(ctx,
			`UPDATE rate_windows SET count = $1, reset_at = $2 WHERE key = $3`,
			count, resetAt, key); err != nil {
			return 0, time.Time{}, false, fmt.Errorf("failed to update rate window: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, time.Time{}, false, fmt.Errorf("failed to commit rate window: %w", err)
	}

	return count, resetAt, allowed, nil
}

// PurgeExpired удаляет давно истекшие окна; вызывается фоновой задачей
func (r *RateWindowRepository) PurgeExpired(ctx context.Context, olderThan time.Duration) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM rate_windows WHERE reset_at < NOW() - $1::interval`,
		fmt.Sprintf("%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("failed to purge rate windows: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows, nil
}
