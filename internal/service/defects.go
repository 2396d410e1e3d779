// defects.go — бизнес-логика реестра дефектов: список с фильтрами и
// сортировкой, создание, редактирование и удаление записей.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bigkaa/defects-register/internal/domain/filter"
	"github.com/bigkaa/defects-register/internal/domain/model"
	"github.com/bigkaa/defects-register/internal/domain/view"
	"github.com/bigkaa/defects-register/internal/repository"
	"github.com/bigkaa/defects-register/internal/storage"
)

// TxRunner выполняет fn с репозиториями, привязанными к одной транзакции.
// Реализуется repository.TxRunner.
type TxRunner interface {
	RunInRepositories(ctx context.Context, fn func(repos repository.Repositories) error) error
}

// DefectInput — редактируемые поля дефекта (тело создания и редактирования).
type DefectInput struct {
	VesselID        string               `json:"vessel_id"`
	Status          model.Status         `json:"Status (Vessel)"`
	Criticality     model.Criticality    `json:"Criticality"`
	Equipments      string               `json:"Equipments"`
	Description     string               `json:"Description"`
	ActionPlanned   string               `json:"Action Planned"`
	Comments        string               `json:"Comments"`
	ClosureComments string               `json:"closure_comments"`
	DateReported    string               `json:"Date Reported"`
	DateCompleted   string               `json:"Date Completed"`
	InitialFiles    []model.AttachedFile `json:"initial_files,omitempty"`
	CompletionFiles []model.AttachedFile `json:"completion_files,omitempty"`
}

// DefectService — операции над записями реестра.
type DefectService struct {
	repos  repository.Repositories
	tx     TxRunner
	bucket storage.Bucket
	purger *Purger
	cache  *SignedURLCache
	logger *slog.Logger
}

// NewDefectService создаёт сервис реестра дефектов.
func NewDefectService(
	repos repository.Repositories,
	tx TxRunner,
	bucket storage.Bucket,
	purger *Purger,
	cache *SignedURLCache,
	logger *slog.Logger,
) *DefectService {
	return &DefectService{
		repos:  repos,
		tx:     tx,
		bucket: bucket,
		purger: purger,
		cache:  cache,
		logger: logger.With(slog.String("component", "defect_service")),
	}
}

// List возвращает записи, удовлетворяющие критериям, в порядке sort.
func (s *DefectService) List(ctx context.Context, c filter.Criteria, sort view.SortSpec) ([]model.Defect, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	records, err := s.repos.Defects.List(ctx, repository.DefectListFilters{
		VesselIDs:   c.Vessels,
		DateFrom:    c.Range.From,
		DateTo:      c.Range.To,
		Search:      c.Search,
		Status:      c.Status,
		Criticality: c.Criticality,
	})
	if err != nil {
		return nil, mapRepoError(err)
	}
	return view.Sorted(records, sort), nil
}

// Get возвращает запись по id.
func (s *DefectService) Get(ctx context.Context, id int64) (*model.Defect, error) {
	d, err := s.repos.Defects.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return d, nil
}

// Vessels возвращает справочник судов.
func (s *DefectService) Vessels(ctx context.Context) ([]model.Vessel, error) {
	vessels, err := s.repos.Vessels.List(ctx)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return vessels, nil
}

// Create создаёт запись. id назначается хранилищем записей.
func (s *DefectService) Create(ctx context.Context, in DefectInput) (*model.Defect, error) {
	d := &model.Defect{}
	in.apply(d)
	d.InitialFiles = in.InitialFiles
	d.CompletionFiles = in.CompletionFiles
	if d.Status == "" {
		d.Status = model.StatusOpen
	}

	if err := validateDefect(d); err != nil {
		return nil, err
	}
	if err := s.repos.Defects.Create(ctx, d); err != nil {
		return nil, mapRepoError(err)
	}

	s.logger.Info("Дефект создан",
		slog.Int64("id", d.ID),
		slog.String("vessel_id", d.VesselID),
	)
	return d, nil
}

// Update обновляет редактируемые поля записи. Коллекции файлов не
// изменяются: ими управляют загрузка и удаление файлов.
func (s *DefectService) Update(ctx context.Context, id int64, in DefectInput) (*model.Defect, error) {
	var updated *model.Defect
	err := s.tx.RunInRepositories(ctx, func(repos repository.Repositories) error {
		d, err := repos.Defects.GetForUpdate(ctx, id)
		if err != nil {
			return mapRepoError(err)
		}
		in.apply(d)
		if err := validateDefect(d); err != nil {
			return err
		}
		if err := repos.Defects.Update(ctx, d); err != nil {
			return mapRepoError(err)
		}
		updated = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Дефект обновлён", slog.Int64("id", id))
	return updated, nil
}

// Delete удаляет запись и ставит все её файлы в очередь удаления
// в одной транзакции, затем сразу пытается удалить объекты.
func (s *DefectService) Delete(ctx context.Context, id int64) error {
	var items []*model.StorageDeletion
	err := s.tx.RunInRepositories(ctx, func(repos repository.Repositories) error {
		d, err := repos.Defects.GetForUpdate(ctx, id)
		if err != nil {
			return mapRepoError(err)
		}
		if err := repos.Defects.Delete(ctx, id); err != nil {
			return mapRepoError(err)
		}
		items = deletionItems(s.bucket.Name(), id, d.AllPaths()...)
		return repos.Deletions.Enqueue(ctx, items)
	})
	if err != nil {
		return err
	}

	for _, item := range items {
		s.cache.Delete(item.Bucket, item.Path)
	}
	if len(items) > 0 {
		s.purger.Purge(ctx, items)
	}

	s.logger.Info("Дефект удалён",
		slog.Int64("id", id),
		slog.Int("files", len(items)),
	)
	return nil
}

// apply переносит редактируемые поля в запись.
func (in DefectInput) apply(d *model.Defect) {
	d.VesselID = strings.TrimSpace(in.VesselID)
	d.Status = in.Status
	d.Criticality = in.Criticality
	d.Equipments = in.Equipments
	d.Description = in.Description
	d.ActionPlanned = in.ActionPlanned
	d.Comments = in.Comments
	d.ClosureComments = in.ClosureComments
	d.DateReported = in.DateReported
	d.DateCompleted = in.DateCompleted
}

// validateDefect проверяет запись перед сохранением.
func validateDefect(d *model.Defect) error {
	if d.VesselID == "" {
		return fmt.Errorf("%w: vessel_id обязателен", ErrValidation)
	}
	if !d.Status.Valid() {
		return fmt.Errorf("%w: недопустимый статус %q", ErrValidation, d.Status)
	}
	if !d.Criticality.Valid() {
		return fmt.Errorf("%w: недопустимая критичность %q", ErrValidation, d.Criticality)
	}
	for name, value := range map[string]string{
		"Date Reported":  d.DateReported,
		"Date Completed": d.DateCompleted,
	} {
		if value == "" {
			continue
		}
		if _, err := time.Parse(filter.DateLayout, value); err != nil {
			return fmt.Errorf("%w: %s: ожидается дата YYYY-MM-DD, получено %q", ErrValidation, name, value)
		}
	}
	for _, f := range append(append([]model.AttachedFile{}, d.InitialFiles...), d.CompletionFiles...) {
		if err := storage.ValidatePath(f.Path); err != nil {
			return fmt.Errorf("%w: %w", ErrValidation, err)
		}
	}
	if d.HasDuplicatePaths() {
		return fmt.Errorf("%w: путь файла встречается в записи более одного раза", ErrConflict)
	}
	return nil
}

// deletionItems формирует записи outbox для путей дефекта.
func deletionItems(bucket string, defectID int64, paths ...string) []*model.StorageDeletion {
	items := make([]*model.StorageDeletion, len(paths))
	for i, p := range paths {
		id := defectID
		items[i] = &model.StorageDeletion{Bucket: bucket, Path: p, DefectID: &id}
	}
	return items
}
