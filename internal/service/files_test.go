package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/defects-register/internal/domain/model"
	"github.com/bigkaa/defects-register/internal/repository"
	"github.com/bigkaa/defects-register/internal/storage"
)

func TestDeleteFile_TouchesOnlyHoldingCollection(t *testing.T) {
	env := newTestEnv()
	d := sampleDefect()
	env.stored(d)

	if err := env.fileSvc.DeleteFile(context.Background(), 7, "7/completion/b.png"); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}

	if len(d.CompletionFiles) != 0 {
		t.Errorf("completion_files = %+v, ожидался пустой список", d.CompletionFiles)
	}
	if len(d.InitialFiles) != 2 {
		t.Errorf("initial_files изменены: %+v", d.InitialFiles)
	}
	if len(env.bucket.removed) != 1 || env.bucket.removed[0] != "7/completion/b.png" {
		t.Errorf("удалены объекты %v", env.bucket.removed)
	}
	if pending := env.deletions.pending(); len(pending) != 0 {
		t.Errorf("в outbox осталось %d записей после успешного удаления", len(pending))
	}
}

func TestDeleteFile_NotFound(t *testing.T) {
	env := newTestEnv()
	d := sampleDefect()
	env.stored(d)

	err := env.fileSvc.DeleteFile(context.Background(), 7, "7/initial/missing.jpg")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("ожидалась ErrNotFound, получено %v", err)
	}
	if len(d.InitialFiles) != 2 || len(d.CompletionFiles) != 1 {
		t.Error("коллекции изменены при отсутствующем пути")
	}
	if len(env.bucket.removed) != 0 {
		t.Errorf("хранилище вызвано: %v", env.bucket.removed)
	}
}

func TestDeleteFile_UnknownDefect(t *testing.T) {
	env := newTestEnv()
	env.stored(sampleDefect())

	err := env.fileSvc.DeleteFile(context.Background(), 99, "7/initial/a.jpg")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("ожидалась ErrNotFound, получено %v", err)
	}
}

func TestDeleteFile_StorageFailureLeavesOutbox(t *testing.T) {
	env := newTestEnv()
	d := sampleDefect()
	env.stored(d)
	env.bucket.removeFn = func(context.Context, []string) error {
		return errors.New("connection refused")
	}

	if err := env.fileSvc.DeleteFile(context.Background(), 7, "7/initial/a.jpg"); err != nil {
		t.Fatalf("DeleteFile должен быть успешным при сбое хранилища: %v", err)
	}

	if _, _, ok := d.FindFile("7/initial/a.jpg"); ok {
		t.Error("запись всё ещё ссылается на удаляемый файл")
	}
	pending := env.deletions.pending()
	if len(pending) != 1 {
		t.Fatalf("ожидалась 1 запись outbox, получено %d", len(pending))
	}
	if pending[0].Path != "7/initial/a.jpg" || pending[0].Attempts != 1 || pending[0].LastError == nil {
		t.Errorf("запись outbox = %+v", pending[0])
	}

	// Хранилище восстановилось: reconcile завершает удаление.
	env.bucket.removeFn = nil
	rs := NewReconcileService(env.deletions, env.purger, time.Hour, 10, 5, testLogger())
	res := rs.RunOnce(context.Background())
	if res.Removed != 1 || res.Pending != 0 {
		t.Errorf("RunOnce = %+v", res)
	}
}

func TestDeleteFile_UpdateFailureRollsBack(t *testing.T) {
	env := newTestEnv()
	d := sampleDefect()
	env.stored(d)
	env.defects.updateFilesFn = func(context.Context, int64, []model.AttachedFile, []model.AttachedFile) error {
		return errors.New("connection reset")
	}

	if err := env.fileSvc.DeleteFile(context.Background(), 7, "7/initial/a.jpg"); err == nil {
		t.Fatal("ожидалась ошибка")
	}
	if len(env.deletions.pending()) != 0 {
		t.Error("outbox не откатан")
	}
	if len(env.bucket.removed) != 0 {
		t.Error("объект удалён, хотя транзакция не зафиксирована")
	}
}

func TestDeleteFile_InvalidatesSignedURL(t *testing.T) {
	env := newTestEnv()
	env.stored(sampleDefect())
	ctx := context.Background()

	if _, err := env.fileSvc.SignedURL(ctx, 7, "7/initial/a.jpg"); err != nil {
		t.Fatalf("SignedURL: %v", err)
	}
	if env.cache.Len() != 1 {
		t.Fatalf("cache.Len() = %d", env.cache.Len())
	}

	if err := env.fileSvc.DeleteFile(ctx, 7, "7/initial/a.jpg"); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	if env.cache.Len() != 0 {
		t.Error("подписанный URL удалённого файла остался в кэше")
	}
}

func TestSignedURL_CachesAndChecksOwnership(t *testing.T) {
	env := newTestEnv()
	env.stored(sampleDefect())
	ctx := context.Background()

	var gotTTL time.Duration
	env.bucket.signFn = func(_ context.Context, path string, ttl time.Duration) (string, error) {
		gotTTL = ttl
		return "https://s/" + path, nil
	}

	first, err := env.fileSvc.SignedURL(ctx, 7, "7/initial/spec.pdf")
	if err != nil {
		t.Fatalf("SignedURL: %v", err)
	}
	second, err := env.fileSvc.SignedURL(ctx, 7, "7/initial/spec.pdf")
	if err != nil {
		t.Fatalf("SignedURL: %v", err)
	}

	if first.URL != "https://s/7/initial/spec.pdf" || second.URL != first.URL {
		t.Errorf("URL = %q, %q", first.URL, second.URL)
	}
	if first.ExpiresIn != 3600 || gotTTL != time.Hour {
		t.Errorf("ExpiresIn = %d, ttl = %v", first.ExpiresIn, gotTTL)
	}
	if env.bucket.signCalls != 1 {
		t.Errorf("хранилище вызвано %d раз, ожидался 1", env.bucket.signCalls)
	}

	if _, err := env.fileSvc.SignedURL(ctx, 7, "8/initial/foreign.pdf"); !errors.Is(err, ErrNotFound) {
		t.Errorf("чужой путь: ожидалась ErrNotFound, получено %v", err)
	}
}

func TestSignedURL_StorageErrors(t *testing.T) {
	env := newTestEnv()
	env.stored(sampleDefect())

	env.bucket.signFn = func(context.Context, string, time.Duration) (string, error) {
		return "", storage.ErrObjectNotFound
	}
	if _, err := env.fileSvc.SignedURL(context.Background(), 7, "7/initial/a.jpg"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получено %v", err)
	}

	env.bucket.signFn = func(context.Context, string, time.Duration) (string, error) {
		return "", errors.New("timeout")
	}
	if _, err := env.fileSvc.SignedURL(context.Background(), 7, "7/initial/a.jpg"); !errors.Is(err, ErrStorageUnavailable) {
		t.Errorf("ожидалась ErrStorageUnavailable, получено %v", err)
	}
}

func TestUpload_AddsToCollection(t *testing.T) {
	env := newTestEnv()
	d := sampleDefect()
	env.stored(d)

	f, err := env.fileSvc.Upload(context.Background(), 7, UploadInput{
		Collection:  model.CollectionCompletion,
		Filename:    "after repair.jpg",
		ContentType: "image/jpeg",
		Body:        strings.NewReader("jpeg"),
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	if !strings.HasPrefix(f.Path, "7/completion/") || f.Name != "after repair.jpg" {
		t.Errorf("файл = %+v", f)
	}
	if len(d.CompletionFiles) != 2 || d.CompletionFiles[1].Path != f.Path {
		t.Errorf("completion_files = %+v", d.CompletionFiles)
	}
	if len(d.InitialFiles) != 2 {
		t.Errorf("initial_files изменены: %+v", d.InitialFiles)
	}
	if len(env.bucket.uploaded) != 1 || env.bucket.uploaded[0] != f.Path {
		t.Errorf("загружено %v", env.bucket.uploaded)
	}
}

func TestUpload_Validation(t *testing.T) {
	env := newTestEnv()
	env.stored(sampleDefect())

	tests := []struct {
		name string
		in   UploadInput
	}{
		{"неизвестная коллекция", UploadInput{Collection: "other", Filename: "a.txt", Body: strings.NewReader("x")}},
		{"пустое имя", UploadInput{Collection: model.CollectionInitial, Filename: "  ", Body: strings.NewReader("x")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.fileSvc.Upload(context.Background(), 7, tt.in)
			if !errors.Is(err, ErrValidation) {
				t.Errorf("ожидалась ErrValidation, получено %v", err)
			}
		})
	}
	if len(env.bucket.uploaded) != 0 {
		t.Error("хранилище вызвано при невалидном запросе")
	}
}

func TestUpload_RecordFailureDiscardsObject(t *testing.T) {
	env := newTestEnv()
	env.stored(sampleDefect())
	env.defects.updateFilesFn = func(context.Context, int64, []model.AttachedFile, []model.AttachedFile) error {
		return errors.New("connection reset")
	}

	_, err := env.fileSvc.Upload(context.Background(), 7, UploadInput{
		Collection: model.CollectionInitial,
		Filename:   "a.txt",
		Body:       strings.NewReader("x"),
	})
	if err == nil {
		t.Fatal("ожидалась ошибка")
	}
	if len(env.bucket.uploaded) != 1 || len(env.bucket.removed) != 1 || env.bucket.removed[0] != env.bucket.uploaded[0] {
		t.Errorf("загружено %v, удалено %v", env.bucket.uploaded, env.bucket.removed)
	}
}

func TestUpload_StorageConflict(t *testing.T) {
	env := newTestEnv()
	env.stored(sampleDefect())
	env.bucket.uploadFn = func(context.Context, string, io.Reader, string) error {
		return storage.ErrObjectExists
	}

	_, err := env.fileSvc.Upload(context.Background(), 7, UploadInput{
		Collection: model.CollectionInitial,
		Filename:   "a.txt",
		Body:       strings.NewReader("x"),
	})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("ожидалась ErrConflict, получено %v", err)
	}
}

func TestUpload_UnknownDefect(t *testing.T) {
	env := newTestEnv()
	env.defects.getByIDFn = func(context.Context, int64) (*model.Defect, error) {
		return nil, repository.ErrNotFound
	}

	_, err := env.fileSvc.Upload(context.Background(), 1, UploadInput{
		Collection: model.CollectionInitial,
		Filename:   "a.txt",
		Body:       strings.NewReader("x"),
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получено %v", err)
	}
	if len(env.bucket.uploaded) != 0 {
		t.Error("объект загружен для несуществующей записи")
	}
}
