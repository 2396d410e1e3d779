package local

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/defects-register/internal/storage"
)

const testKey = "0123456789abcdef0123456789abcdef"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), "defect-files", "http://files.test", testKey, testLogger())
	if err != nil {
		t.Fatalf("New() ошибка: %v", err)
	}
	return s
}

func TestStore_SaveAndChecksum(t *testing.T) {
	s := newTestStore(t)
	content := []byte("Тестовые данные вложения")

	res, err := s.Save("1/initial/a.txt", bytes.NewReader(content))
	if err != nil {
		t.Fatalf("Save() ошибка: %v", err)
	}
	if res.Size != int64(len(content)) {
		t.Errorf("размер = %d, ожидалось %d", res.Size, len(content))
	}
	sum := sha256.Sum256(content)
	if res.Checksum != hex.EncodeToString(sum[:]) {
		t.Errorf("checksum = %s", res.Checksum)
	}

	data, err := os.ReadFile(res.FullPath)
	if err != nil || !bytes.Equal(data, content) {
		t.Errorf("содержимое на диске = %q, %v", data, err)
	}

	// Временные файлы не остаются.
	entries, _ := os.ReadDir(filepath.Dir(res.FullPath))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("остался временный файл %s", e.Name())
		}
	}
}

func TestStore_UploadNoOverwrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Upload(ctx, "a.jpg", strings.NewReader("one"), "image/jpeg"); err != nil {
		t.Fatalf("Upload() ошибка: %v", err)
	}
	err := s.Upload(ctx, "a.jpg", strings.NewReader("two"), "image/jpeg")
	if !errors.Is(err, storage.ErrObjectExists) {
		t.Errorf("повторный Upload() = %v, ожидалась ErrObjectExists", err)
	}
}

func TestStore_ConcurrentSaveKeepsFirst(t *testing.T) {
	s := newTestStore(t)

	const writers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		written []string
		exists  int
	)
	for i := range writers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := fmt.Sprintf("writer-%d", i)
			_, err := s.Save("5/initial/a.jpg", strings.NewReader(body))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				written = append(written, body)
			case errors.Is(err, storage.ErrObjectExists):
				exists++
			default:
				t.Errorf("Save() ошибка: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if len(written) != 1 || exists != writers-1 {
		t.Fatalf("успешных записей %d, отказов %d", len(written), exists)
	}
	full, _ := s.fullPath("5/initial/a.jpg")
	data, err := os.ReadFile(full)
	if err != nil || string(data) != written[0] {
		t.Errorf("на диске %q, ожидалось %q (%v)", data, written[0], err)
	}
	entries, _ := os.ReadDir(filepath.Dir(full))
	if len(entries) != 1 {
		t.Errorf("в директории %d файлов, ожидался один", len(entries))
	}
}

func TestStore_RejectsTraversal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Upload(ctx, "../escape.txt", strings.NewReader("x"), "text/plain"); !errors.Is(err, storage.ErrInvalidPath) {
		t.Errorf("Upload(../) = %v, ожидалась ErrInvalidPath", err)
	}
	if _, err := s.CreateSignedURL(ctx, "/etc/passwd", time.Hour); !errors.Is(err, storage.ErrInvalidPath) {
		t.Errorf("CreateSignedURL(/etc) = %v, ожидалась ErrInvalidPath", err)
	}
}

func TestStore_RemoveIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Upload(ctx, "x/y.pdf", strings.NewReader("pdf"), "application/pdf"); err != nil {
		t.Fatalf("Upload() ошибка: %v", err)
	}
	if err := s.Remove(ctx, []string{"x/y.pdf", "never/existed.pdf"}); err != nil {
		t.Fatalf("Remove() ошибка: %v", err)
	}
	if err := s.Remove(ctx, []string{"x/y.pdf"}); err != nil {
		t.Errorf("повторный Remove() = %v, ожидался nil", err)
	}
	if _, err := s.Open("x/y.pdf"); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Errorf("Open() после Remove = %v", err)
	}
}

func TestStore_SignedURLMissingObject(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.CreateSignedURL(context.Background(), "missing.jpg", time.Hour); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Errorf("CreateSignedURL() = %v, ожидалась ErrObjectNotFound", err)
	}
}

// serveSigned выполняет GET по подписанному URL через обработчик.
func serveSigned(t *testing.T, s *Store, signed string) *httptest.ResponseRecorder {
	t.Helper()
	u, err := url.Parse(signed)
	if err != nil {
		t.Fatalf("разбор URL: %v", err)
	}
	r := chi.NewRouter()
	r.Get(RoutePattern, NewHandler(s, testLogger()).ServeObject)

	req := httptest.NewRequest(http.MethodGet, u.RequestURI(), nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandler_ServesSignedObject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Upload(ctx, "7/initial/engine room.txt", strings.NewReader("hello"), "text/plain"); err != nil {
		t.Fatalf("Upload() ошибка: %v", err)
	}

	signed, err := s.CreateSignedURL(ctx, "7/initial/engine room.txt", time.Hour)
	if err != nil {
		t.Fatalf("CreateSignedURL() ошибка: %v", err)
	}
	if !strings.HasPrefix(signed, "http://files.test/storage/v1/object/sign/defect-files/7/initial/engine%20room.txt?token=") {
		t.Errorf("подписанный URL = %q", signed)
	}

	rec := serveSigned(t, s, signed)
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, тело = %s", rec.Code, rec.Body.String())
	}
	body, _ := io.ReadAll(rec.Body)
	if string(body) != "hello" {
		t.Errorf("тело = %q", body)
	}
}

func TestHandler_RejectsForeignOrExpiredToken(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.Upload(ctx, "a.txt", strings.NewReader("a"), "text/plain")
	s.Upload(ctx, "b.txt", strings.NewReader("b"), "text/plain")

	signedA, _ := s.CreateSignedURL(ctx, "a.txt", time.Hour)
	token := signedA[strings.Index(signedA, "token=")+len("token="):]

	// Токен объекта a не открывает объект b.
	rec := serveSigned(t, s, "http://files.test"+SignPathPrefix+"defect-files/b.txt?token="+token)
	if rec.Code != http.StatusForbidden {
		t.Errorf("чужой токен: статус = %d, ожидался 403", rec.Code)
	}

	// Без токена.
	rec = serveSigned(t, s, "http://files.test"+SignPathPrefix+"defect-files/a.txt")
	if rec.Code != http.StatusForbidden {
		t.Errorf("без токена: статус = %d, ожидался 403", rec.Code)
	}

	// Просроченный токен.
	s.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _ := s.CreateSignedURL(ctx, "a.txt", time.Hour)
	s.now = time.Now
	rec = serveSigned(t, s, expired)
	if rec.Code != http.StatusForbidden {
		t.Errorf("просроченный токен: статус = %d, ожидался 403", rec.Code)
	}

	// Токен, подписанный другим ключом.
	other, _ := New(t.TempDir(), "defect-files", "http://files.test", strings.Repeat("z", 32), testLogger())
	other.Upload(ctx, "a.txt", strings.NewReader("a"), "text/plain")
	forged, _ := other.CreateSignedURL(ctx, "a.txt", time.Hour)
	rec = serveSigned(t, s, forged)
	if rec.Code != http.StatusForbidden {
		t.Errorf("чужой ключ: статус = %d, ожидался 403", rec.Code)
	}
}

func TestHandler_UnknownBucket(t *testing.T) {
	s := newTestStore(t)
	rec := serveSigned(t, s, "http://files.test"+SignPathPrefix+"other/a.txt?token=x")
	if rec.Code != http.StatusNotFound {
		t.Errorf("статус = %d, ожидался 404", rec.Code)
	}
}

func TestStore_Ping(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping() = %v", err)
	}
	if status, _ := storage.NewReadinessChecker(s).CheckReady(); status != "ok" {
		t.Errorf("CheckReady() = %q", status)
	}
}
