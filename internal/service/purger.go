// purger.go — удаление объектов хранилища по записям outbox.
// Используется сразу после коммита транзакции (немедленная попытка)
// и фоновым ReconcileService (повторные попытки).
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bigkaa/defects-register/internal/domain/model"
	"github.com/bigkaa/defects-register/internal/repository"
	"github.com/bigkaa/defects-register/internal/storage"
)

// PurgeResult — итог обработки записей outbox.
type PurgeResult struct {
	Removed int
	Failed  int
}

// Purger удаляет объекты хранилища и отмечает результат в outbox.
type Purger struct {
	deletions repository.DeletionRepository
	buckets   map[string]storage.Bucket
	logger    *slog.Logger
}

// NewPurger создаёт Purger для указанных бакетов.
func NewPurger(deletions repository.DeletionRepository, logger *slog.Logger, buckets ...storage.Bucket) *Purger {
	m := make(map[string]storage.Bucket, len(buckets))
	for _, b := range buckets {
		m[b.Name()] = b
	}
	return &Purger{
		deletions: deletions,
		buckets:   m,
		logger:    logger.With(slog.String("component", "purger")),
	}
}

// Purge удаляет объекты, сгруппировав записи по бакетам.
// Удаление идемпотентно: повтор для уже удалённого объекта успешен.
// Ошибки не возвращаются: неудачные записи остаются для повторной попытки.
func (p *Purger) Purge(ctx context.Context, items []*model.StorageDeletion) PurgeResult {
	var result PurgeResult

	groups := make(map[string][]*model.StorageDeletion)
	var order []string
	for _, item := range items {
		if _, seen := groups[item.Bucket]; !seen {
			order = append(order, item.Bucket)
		}
		groups[item.Bucket] = append(groups[item.Bucket], item)
	}

	for _, bucketName := range order {
		group := groups[bucketName]
		ids := make([]int64, len(group))
		paths := make([]string, len(group))
		for i, item := range group {
			ids[i] = item.ID
			paths[i] = item.Path
		}

		var err error
		if bucket, ok := p.buckets[bucketName]; ok {
			err = bucket.Remove(ctx, paths)
		} else {
			err = fmt.Errorf("бакет %q не сконфигурирован", bucketName)
		}

		if err != nil {
			result.Failed += len(group)
			p.logger.Warn("Не удалось удалить объекты из хранилища",
				slog.String("bucket", bucketName),
				slog.Int("count", len(group)),
				slog.String("error", err.Error()),
			)
			if markErr := p.deletions.MarkFailed(ctx, ids, err.Error()); markErr != nil {
				p.logger.Error("Ошибка обновления outbox",
					slog.String("error", markErr.Error()),
				)
			}
			continue
		}

		result.Removed += len(group)
		if markErr := p.deletions.MarkDone(ctx, ids); markErr != nil {
			// Объекты удалены; запись будет обработана повторно идемпотентно.
			p.logger.Error("Ошибка завершения записей outbox",
				slog.String("error", markErr.Error()),
			)
		}
	}

	return result
}
