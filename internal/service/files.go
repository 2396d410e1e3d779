// files.go — вложения дефектов: подписанные URL, загрузка и удаление файлов.
//
// Удаление файла атомарно для пользователя: в одной транзакции путь убирается
// из коллекции, которая его содержит, и ставится в outbox; объект удаляется
// из хранилища после коммита (немедленно или позже ReconcileService).
// Запись никогда не ссылается на удалённый объект.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/bigkaa/defects-register/internal/domain/model"
	"github.com/bigkaa/defects-register/internal/repository"
	"github.com/bigkaa/defects-register/internal/storage"
)

// SignedURL — подписанная ссылка на объект.
type SignedURL struct {
	URL       string `json:"signedUrl"`
	ExpiresIn int    `json:"expiresIn"`
}

// UploadInput — параметры загрузки файла.
type UploadInput struct {
	Collection  model.Collection
	Filename    string
	ContentType string
	Body        io.Reader
}

// FileService — операции с вложениями дефектов.
type FileService struct {
	repos  repository.Repositories
	tx     TxRunner
	bucket storage.Bucket
	purger *Purger
	cache  *SignedURLCache
	ttl    time.Duration
	logger *slog.Logger
}

// NewFileService создаёт сервис вложений. ttl — время жизни подписанных URL.
func NewFileService(
	repos repository.Repositories,
	tx TxRunner,
	bucket storage.Bucket,
	purger *Purger,
	cache *SignedURLCache,
	ttl time.Duration,
	logger *slog.Logger,
) *FileService {
	return &FileService{
		repos:  repos,
		tx:     tx,
		bucket: bucket,
		purger: purger,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "file_service")),
	}
}

// SignedURL возвращает подписанную ссылку на файл дефекта.
// Путь должен принадлежать одной из коллекций записи.
func (s *FileService) SignedURL(ctx context.Context, defectID int64, path string) (*SignedURL, error) {
	d, err := s.repos.Defects.GetByID(ctx, defectID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	if _, _, ok := d.FindFile(path); !ok {
		return nil, fmt.Errorf("%w: файл %q не принадлежит дефекту %d", ErrNotFound, path, defectID)
	}

	u, err := s.sign(ctx, path)
	if err != nil {
		return nil, err
	}
	return &SignedURL{URL: u, ExpiresIn: int(s.ttl.Seconds())}, nil
}

// signImages возвращает подписанные ссылки для изображений записи (path → URL).
// Изображение, которое не удалось подписать, пропускается с записью в лог.
func (s *FileService) signImages(ctx context.Context, d *model.Defect) map[string]string {
	urls := make(map[string]string)
	for _, f := range d.ImageFiles() {
		u, err := s.sign(ctx, f.Path)
		if err != nil {
			s.logger.Warn("Изображение пропущено: не удалось получить подписанный URL",
				slog.Int64("defect_id", d.ID),
				slog.String("path", f.Path),
				slog.String("error", err.Error()),
			)
			continue
		}
		urls[f.Path] = u
	}
	return urls
}

// sign возвращает подписанный URL из кэша или запрашивает новый.
func (s *FileService) sign(ctx context.Context, path string) (string, error) {
	if u, ok := s.cache.Get(s.bucket.Name(), path); ok {
		return u, nil
	}
	u, err := s.bucket.CreateSignedURL(ctx, path, s.ttl)
	if err != nil {
		return "", mapStorageError(err)
	}
	s.cache.Set(s.bucket.Name(), path, u)
	return u, nil
}

// Upload загружает файл в хранилище и добавляет его в коллекцию записи.
// Если запись не удалось обновить, объект удаляется (или ставится в outbox).
func (s *FileService) Upload(ctx context.Context, defectID int64, in UploadInput) (*model.AttachedFile, error) {
	if !in.Collection.Valid() {
		return nil, fmt.Errorf("%w: недопустимая коллекция %q", ErrValidation, in.Collection)
	}
	if strings.TrimSpace(in.Filename) == "" {
		return nil, fmt.Errorf("%w: имя файла обязательно", ErrValidation)
	}
	if in.ContentType == "" {
		in.ContentType = "application/octet-stream"
	}
	if _, err := s.repos.Defects.GetByID(ctx, defectID); err != nil {
		return nil, mapRepoError(err)
	}

	file := model.AttachedFile{
		Path: storage.ObjectKey(defectID, string(in.Collection), in.Filename),
		Name: in.Filename,
		Type: in.ContentType,
	}
	if err := s.bucket.Upload(ctx, file.Path, in.Body, in.ContentType); err != nil {
		return nil, mapStorageError(err)
	}

	err := s.tx.RunInRepositories(ctx, func(repos repository.Repositories) error {
		d, err := repos.Defects.GetForUpdate(ctx, defectID)
		if err != nil {
			return mapRepoError(err)
		}
		if !d.AddFile(in.Collection, file) {
			return fmt.Errorf("%w: путь %q уже присутствует в записи", ErrConflict, file.Path)
		}
		return mapRepoError(repos.Defects.UpdateFiles(ctx, defectID, d.InitialFiles, d.CompletionFiles))
	})
	if err != nil {
		s.discardOrphan(ctx, defectID, file.Path)
		return nil, err
	}

	s.logger.Info("Файл загружен",
		slog.Int64("defect_id", defectID),
		slog.String("collection", string(in.Collection)),
		slog.String("path", file.Path),
	)
	return &file, nil
}

// discardOrphan ставит в outbox объект, не попавший в запись, и пытается удалить его.
func (s *FileService) discardOrphan(ctx context.Context, defectID int64, path string) {
	items := deletionItems(s.bucket.Name(), defectID, path)
	if err := s.repos.Deletions.Enqueue(ctx, items); err != nil {
		s.logger.Error("Не удалось поставить объект в очередь удаления",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		if rmErr := s.bucket.Remove(ctx, []string{path}); rmErr != nil {
			s.logger.Error("Объект остался в хранилище без записи",
				slog.String("path", path),
				slog.String("error", rmErr.Error()),
			)
		}
		return
	}
	s.purger.Purge(ctx, items)
}

// DeleteFile удаляет файл из записи и хранилища.
// Изменяется только коллекция, содержащая путь. Отсутствующий путь — ErrNotFound.
// Сбой удаления объекта не делает операцию неуспешной: запись outbox
// остаётся для повторной попытки.
func (s *FileService) DeleteFile(ctx context.Context, defectID int64, path string) error {
	var items []*model.StorageDeletion
	var from model.Collection

	err := s.tx.RunInRepositories(ctx, func(repos repository.Repositories) error {
		d, err := repos.Defects.GetForUpdate(ctx, defectID)
		if err != nil {
			return mapRepoError(err)
		}

		c, ok := d.RemoveFile(path)
		if !ok {
			return fmt.Errorf("%w: файл %q не найден в дефекте %d", ErrNotFound, path, defectID)
		}
		from = c

		if err := repos.Defects.UpdateFiles(ctx, defectID, d.InitialFiles, d.CompletionFiles); err != nil {
			return mapRepoError(err)
		}

		items = deletionItems(s.bucket.Name(), defectID, path)
		return repos.Deletions.Enqueue(ctx, items)
	})
	if err != nil {
		return err
	}

	s.cache.Delete(s.bucket.Name(), path)
	res := s.purger.Purge(ctx, items)

	s.logger.Info("Файл удалён из дефекта",
		slog.Int64("defect_id", defectID),
		slog.String("collection", string(from)),
		slog.String("path", path),
		slog.Bool("object_removed", res.Removed > 0),
	)
	return nil
}
