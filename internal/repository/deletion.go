package repository

import (
	"context"
	"fmt"

	"github.com/bigkaa/defects-register/internal/domain/model"
)

// DeletionRepository — outbox объектов хранилища, ожидающих удаления.
type DeletionRepository interface {
	// Enqueue добавляет объекты в очередь удаления. Заполняет ID и CreatedAt.
	Enqueue(ctx context.Context, items []*model.StorageDeletion) error
	// ListPending возвращает до limit незавершённых записей с attempts < maxAttempts
	// и id > afterID в порядке id.
	ListPending(ctx context.Context, afterID int64, limit, maxAttempts int) ([]*model.StorageDeletion, error)
	// MarkDone помечает записи завершёнными.
	MarkDone(ctx context.Context, ids []int64) error
	// MarkFailed увеличивает счётчик попыток и сохраняет текст ошибки.
	MarkFailed(ctx context.Context, ids []int64, lastError string) error
	// CountPending возвращает количество незавершённых записей.
	CountPending(ctx context.Context) (int, error)
}

type deletionRepo struct {
	db DBTX
}

// NewDeletionRepository создаёт репозиторий outbox удалений.
func NewDeletionRepository(db DBTX) DeletionRepository {
	return &deletionRepo{db: db}
}

func (r *deletionRepo) Enqueue(ctx context.Context, items []*model.StorageDeletion) error {
	query := `
		INSERT INTO storage_deletions (bucket, path, defect_id)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`

	for _, item := range items {
		if err := r.db.QueryRow(ctx, query, item.Bucket, item.Path, item.DefectID).
			Scan(&item.ID, &item.CreatedAt); err != nil {
			return fmt.Errorf("ошибка постановки %q в очередь удаления: %w", item.Path, err)
		}
	}
	return nil
}

func (r *deletionRepo) ListPending(ctx context.Context, afterID int64, limit, maxAttempts int) ([]*model.StorageDeletion, error) {
	query := `
		SELECT id, bucket, path, defect_id, attempts, last_error, created_at, completed_at
		FROM storage_deletions
		WHERE completed_at IS NULL AND attempts < $1 AND id > $2
		ORDER BY id
		LIMIT $3`

	rows, err := r.db.Query(ctx, query, maxAttempts, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения очереди удаления: %w", err)
	}
	defer rows.Close()

	var result []*model.StorageDeletion
	for rows.Next() {
		d := &model.StorageDeletion{}
		if err := rows.Scan(&d.ID, &d.Bucket, &d.Path, &d.DefectID, &d.Attempts,
			&d.LastError, &d.CreatedAt, &d.CompletedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи удаления: %w", err)
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func (r *deletionRepo) MarkDone(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx, `
		UPDATE storage_deletions
		SET completed_at = now(), last_error = NULL
		WHERE id = ANY($1) AND completed_at IS NULL`, ids)
	if err != nil {
		return fmt.Errorf("ошибка завершения записей удаления: %w", err)
	}
	return nil
}

func (r *deletionRepo) MarkFailed(ctx context.Context, ids []int64, lastError string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx, `
		UPDATE storage_deletions
		SET attempts = attempts + 1, last_error = $2
		WHERE id = ANY($1) AND completed_at IS NULL`, ids, lastError)
	if err != nil {
		return fmt.Errorf("ошибка обновления попыток удаления: %w", err)
	}
	return nil
}

func (r *deletionRepo) CountPending(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx,
		`SELECT count(*) FROM storage_deletions WHERE completed_at IS NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта очереди удаления: %w", err)
	}
	return n, nil
}
