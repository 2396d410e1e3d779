package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/defects-register/internal/domain/model"
	"github.com/bigkaa/defects-register/internal/notify"
	"github.com/bigkaa/defects-register/internal/report"
	"github.com/bigkaa/defects-register/internal/repository"
	"github.com/bigkaa/defects-register/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// --- фейки коллабораторов ---

type fakeDefects struct {
	mu      sync.Mutex
	records map[int64]model.Defect
	listErr error
}

func (f *fakeDefects) List(context.Context, repository.DefectListFilters) ([]model.Defect, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]model.Defect, 0, len(f.records))
	for _, d := range f.records {
		out = append(out, d)
	}
	return out, nil
}

func (f *fakeDefects) GetByID(_ context.Context, id int64) (*model.Defect, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &d, nil
}

func (f *fakeDefects) GetForUpdate(ctx context.Context, id int64) (*model.Defect, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeDefects) Create(_ context.Context, d *model.Defect) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d.VesselID != "v1" {
		return repository.ErrUnknownReference
	}
	d.ID = int64(len(f.records) + 100)
	d.VesselName = "Aurora"
	f.records[d.ID] = *d
	return nil
}

func (f *fakeDefects) Update(_ context.Context, d *model.Defect) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d.VesselID != "v1" {
		return repository.ErrUnknownReference
	}
	if _, ok := f.records[d.ID]; !ok {
		return repository.ErrNotFound
	}
	f.records[d.ID] = *d
	return nil
}

func (f *fakeDefects) UpdateFiles(_ context.Context, id int64, initial, completion []model.AttachedFile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.records[id]
	d.InitialFiles, d.CompletionFiles = initial, completion
	f.records[id] = d
	return nil
}

func (f *fakeDefects) Delete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[id]; !ok {
		return repository.ErrNotFound
	}
	delete(f.records, id)
	return nil
}

type fakeVessels struct{}

func (fakeVessels) List(context.Context) ([]model.Vessel, error) {
	return []model.Vessel{{ID: "v1", Name: "Aurora"}}, nil
}

type fakeDeletions struct{}

func (fakeDeletions) Enqueue(_ context.Context, items []*model.StorageDeletion) error {
	for i, it := range items {
		it.ID = int64(i + 1)
	}
	return nil
}
func (fakeDeletions) ListPending(context.Context, int64, int, int) ([]*model.StorageDeletion, error) {
	return nil, nil
}
func (fakeDeletions) MarkDone(context.Context, []int64) error           { return nil }
func (fakeDeletions) MarkFailed(context.Context, []int64, string) error { return nil }
func (fakeDeletions) CountPending(context.Context) (int, error)         { return 0, nil }

type passTx struct{ repos repository.Repositories }

func (p passTx) RunInRepositories(_ context.Context, fn func(repository.Repositories) error) error {
	return fn(p.repos)
}

// fakeBucket подписывает любые пути, если не задана ошибка signErr.
type fakeBucket struct {
	signErr error
	removed []string
}

func (b *fakeBucket) Name() string { return "defect-files" }

func (b *fakeBucket) CreateSignedURL(_ context.Context, path string, _ time.Duration) (string, error) {
	if b.signErr != nil {
		return "", b.signErr
	}
	return "https://storage.test/sign/" + path + "?token=t", nil
}

func (b *fakeBucket) Remove(_ context.Context, paths []string) error {
	b.removed = append(b.removed, paths...)
	return nil
}

func (b *fakeBucket) Upload(context.Context, string, io.Reader, string) error { return nil }

func (b *fakeBucket) Ping(context.Context) error { return nil }

type testUI struct {
	router  http.Handler
	defects *fakeDefects
	bucket  *fakeBucket
}

func newTestUI(t *testing.T) *testUI {
	t.Helper()
	logger := testLogger()
	defects := &fakeDefects{records: map[int64]model.Defect{
		1: {
			ID: 1, VesselID: "v1", VesselName: "Aurora", Status: model.StatusOpen, Description: "Leak",
			InitialFiles: []model.AttachedFile{
				{Path: "1/initial/a.jpg", Name: "a.jpg", Type: "image/jpeg"},
				{Path: "1/initial/spec.pdf", Name: "spec.pdf", Type: "application/pdf"},
			},
		},
	}}
	bucket := &fakeBucket{}
	repos := repository.Repositories{Defects: defects, Vessels: fakeVessels{}, Deletions: fakeDeletions{}}
	tx := passTx{repos: repos}
	cache := service.NewSignedURLCache(8, time.Hour)
	purger := service.NewPurger(repos.Deletions, logger, bucket)

	defectSvc := service.NewDefectService(repos, tx, bucket, purger, cache, logger)
	fileSvc := service.NewFileService(repos, tx, bucket, purger, cache, time.Hour, logger)
	reportSvc := service.NewReportService(defects, fileSvc, report.NewHTMLGenerator(), logger)
	exportSvc := service.NewExportService(defectSvc, logger)

	h := NewDefectsHandler(defectSvc, fileSvc, reportSvc, exportSvc, notify.NewLogSink(logger), false, logger)
	auth := NewAuthHandler("sb-access-token", "https://auth.test/login", false, logger)

	r := chi.NewRouter()
	r.Get("/", h.HandleIndex)
	r.Post("/ui/defects", h.HandleCreate)
	r.Post("/ui/defects/{id}", h.HandleUpdate)
	r.Post("/ui/defects/{id}/delete", h.HandleDelete)
	r.Get("/ui/defects/{id}/files/view", h.HandleViewFile)
	r.Post("/ui/defects/{id}/files/delete", h.HandleDeleteFile)
	r.Get("/ui/defects/{id}/report", h.HandleReport)
	r.Get("/ui/export.csv", h.HandleExport)
	r.Post("/ui/logout", auth.HandleLogout)

	return &testUI{router: r, defects: defects, bucket: bucket}
}

func (u *testUI) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	u.router.ServeHTTP(rec, req)
	return rec
}

// flash извлекает уведомления из Set-Cookie ответа.
func flash(t *testing.T, rec *httptest.ResponseRecorder) []notify.Notification {
	t.Helper()
	var last *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == notify.FlashCookieName && c.Value != "" {
			last = c
		}
	}
	if last == nil {
		return nil
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(last)
	return notify.ReadFlash(httptest.NewRecorder(), req)
}

func form(target string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

// --- тесты ---

func TestHandleIndex(t *testing.T) {
	ui := newTestUI(t)
	rec := ui.do(httptest.NewRequest(http.MethodGet, "/?open=1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"Defects Manager", "Leak", "a.jpg", "spec.pdf", "Guest"} {
		if !strings.Contains(body, want) {
			t.Errorf("страница не содержит %q", want)
		}
	}
}

func TestHandleIndex_ShowsFlashAndLoadError(t *testing.T) {
	ui := newTestUI(t)
	ui.defects.listErr = errors.New("db down")

	rec := ui.do(httptest.NewRequest(http.MethodGet, "/", nil))
	body := rec.Body.String()
	if rec.Code != http.StatusOK || !strings.Contains(body, "Failed to load defects") || !strings.Contains(body, "No defects found") {
		t.Errorf("статус = %d, тело без уведомления об ошибке", rec.Code)
	}
}

func TestHandleViewFile(t *testing.T) {
	ui := newTestUI(t)

	rec := ui.do(httptest.NewRequest(http.MethodGet, "/ui/defects/1/files/view?path=1%2Finitial%2Fa.jpg&open=1", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "<img") {
		t.Fatalf("изображение: статус = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `href="/?open=1"`) {
		t.Error("ссылка назад должна сохранять состояние")
	}

	rec = ui.do(httptest.NewRequest(http.MethodGet, "/ui/defects/1/files/view?path=1%2Finitial%2Fspec.pdf", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "<iframe") {
		t.Fatalf("документ: статус = %d", rec.Code)
	}
}

func TestHandleViewFile_FailureRedirectsWithFlash(t *testing.T) {
	ui := newTestUI(t)
	ui.bucket.signErr = errors.New("storage down")

	rec := ui.do(httptest.NewRequest(http.MethodGet, "/ui/defects/1/files/view?path=1%2Finitial%2Fa.jpg&open=1", nil))
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/?open=1" {
		t.Fatalf("статус = %d, Location = %q", rec.Code, rec.Header().Get("Location"))
	}
	got := flash(t, rec)
	if len(got) != 1 || got[0] != notify.FileLoadFailed {
		t.Errorf("flash = %+v", got)
	}
}

func TestHandleDeleteFile(t *testing.T) {
	ui := newTestUI(t)

	rec := ui.do(form("/ui/defects/1/files/delete?open=1", url.Values{"path": {"1/initial/a.jpg"}}))
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/?open=1" {
		t.Fatalf("статус = %d, Location = %q", rec.Code, rec.Header().Get("Location"))
	}
	if got := flash(t, rec); len(got) != 1 || got[0] != notify.FileDeleted {
		t.Errorf("flash = %+v", got)
	}
	if len(ui.bucket.removed) != 1 || ui.bucket.removed[0] != "1/initial/a.jpg" {
		t.Errorf("удалено из хранилища: %v", ui.bucket.removed)
	}
	if d := ui.defects.records[1]; len(d.InitialFiles) != 1 {
		t.Errorf("в записи осталось %d файлов", len(d.InitialFiles))
	}

	rec = ui.do(form("/ui/defects/1/files/delete", url.Values{"path": {"1/initial/missing.jpg"}}))
	if got := flash(t, rec); len(got) != 1 || got[0] != notify.FileDeleteFailed {
		t.Errorf("flash = %+v", got)
	}
}

func TestHandleReport(t *testing.T) {
	ui := newTestUI(t)

	rec := ui.do(httptest.NewRequest(http.MethodGet, "/ui/defects/1/report", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Header().Get("Content-Disposition"), "defect-report-1.html") {
		t.Fatalf("статус = %d", rec.Code)
	}
	if got := flash(t, rec); len(got) != 1 || got[0] != notify.ReportGenerated {
		t.Errorf("flash = %+v", got)
	}

	rec = ui.do(httptest.NewRequest(http.MethodGet, "/ui/defects/99/report?open=1", nil))
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/?open=1" {
		t.Fatalf("статус = %d, Location = %q", rec.Code, rec.Header().Get("Location"))
	}
	if got := flash(t, rec); len(got) != 1 || got[0] != notify.ReportFailed {
		t.Errorf("flash = %+v", got)
	}
}

func TestHandleReport_UnsignedImagesSkipped(t *testing.T) {
	ui := newTestUI(t)
	ui.bucket.signErr = errors.New("storage down")

	rec := ui.do(httptest.NewRequest(http.MethodGet, "/ui/defects/1/report", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "a.jpg") || strings.Contains(body, "<img") {
		t.Errorf("изображение без ссылки должно быть только в списке файлов")
	}
	if got := flash(t, rec); len(got) != 1 || got[0] != notify.ReportGenerated {
		t.Errorf("flash = %+v", got)
	}
}

func TestHandleExport(t *testing.T) {
	ui := newTestUI(t)
	rec := ui.do(httptest.NewRequest(http.MethodGet, "/ui/export.csv?q=leak", nil))
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/csv") {
		t.Fatalf("статус = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Search,leak") {
		t.Errorf("нет метаданных поиска:\n%s", rec.Body.String())
	}
}

func TestHandleCreate(t *testing.T) {
	ui := newTestUI(t)

	rec := ui.do(form("/ui/defects", url.Values{"vessel_id": {"v1"}, "description": {"Crack"}, "criticality": {"Low"}}))
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("статус = %d", rec.Code)
	}
	if got := flash(t, rec); len(got) != 1 || got[0] != notify.DefectCreated {
		t.Errorf("flash = %+v", got)
	}
	if !strings.Contains(rec.Header().Get("Location"), "open=") {
		t.Errorf("новая запись должна быть раскрыта: %q", rec.Header().Get("Location"))
	}

	rec = ui.do(form("/ui/defects", url.Values{"vessel_id": {"v9"}}))
	if got := flash(t, rec); len(got) != 1 || got[0] != notify.DefectCreateFailed {
		t.Errorf("flash = %+v", got)
	}
}

func editForm(values map[string]string) url.Values {
	v := url.Values{
		"vessel_id":     {"v1"},
		"status":        {string(model.StatusInProgress)},
		"criticality":   {string(model.CriticalityHigh)},
		"description":   {"Leak fixed"},
		"date_reported": {"2024-02-01"},
	}
	for k, val := range values {
		v.Set(k, val)
	}
	return v
}

func TestHandleUpdate(t *testing.T) {
	ui := newTestUI(t)

	rec := ui.do(form("/ui/defects/1?open=1", editForm(nil)))
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/?open=1" {
		t.Fatalf("статус = %d, Location = %q", rec.Code, rec.Header().Get("Location"))
	}
	if got := flash(t, rec); len(got) != 1 || got[0] != notify.DefectUpdated {
		t.Errorf("flash = %+v", got)
	}
	d := ui.defects.records[1]
	if d.Status != model.StatusInProgress || d.Description != "Leak fixed" || d.Criticality != model.CriticalityHigh {
		t.Errorf("запись не обновлена: %+v", d)
	}
	if len(d.InitialFiles) != 2 {
		t.Errorf("правка не должна менять вложения: %d файлов", len(d.InitialFiles))
	}

	for name, target := range map[string]string{
		"недопустимый статус": "/ui/defects/1",
		"неизвестная запись":  "/ui/defects/99",
		"некорректный id":     "/ui/defects/abc",
	} {
		values := editForm(nil)
		if name == "недопустимый статус" {
			values = editForm(map[string]string{"status": "DONE", "description": "changed"})
		}
		rec := ui.do(form(target, values))
		if rec.Code != http.StatusSeeOther {
			t.Errorf("%s: статус = %d", name, rec.Code)
		}
		if got := flash(t, rec); len(got) != 1 || got[0] != notify.DefectUpdateFailed {
			t.Errorf("%s: flash = %+v", name, got)
		}
	}
	if d := ui.defects.records[1]; d.Description != "Leak fixed" {
		t.Errorf("неудачная правка изменила запись: %+v", d)
	}
}

func TestHandleDeleteDefect(t *testing.T) {
	ui := newTestUI(t)

	rec := ui.do(form("/ui/defects/1/delete?open=1&q=leak", nil))
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/?q=leak" {
		t.Fatalf("статус = %d, Location = %q", rec.Code, rec.Header().Get("Location"))
	}
	if got := flash(t, rec); len(got) != 1 || got[0] != notify.DefectDeleted {
		t.Errorf("flash = %+v", got)
	}
	if _, ok := ui.defects.records[1]; ok {
		t.Error("запись не удалена")
	}
	if len(ui.bucket.removed) != 2 {
		t.Errorf("из хранилища удалено %v", ui.bucket.removed)
	}

	rec = ui.do(form("/ui/defects/1/delete", nil))
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/" {
		t.Fatalf("статус = %d, Location = %q", rec.Code, rec.Header().Get("Location"))
	}
	if got := flash(t, rec); len(got) != 1 || got[0] != notify.DefectDeleteFailed {
		t.Errorf("flash = %+v", got)
	}
}

func TestHandleLogout(t *testing.T) {
	ui := newTestUI(t)
	rec := ui.do(httptest.NewRequest(http.MethodPost, "/ui/logout", nil))
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "https://auth.test/login" {
		t.Fatalf("статус = %d, Location = %q", rec.Code, rec.Header().Get("Location"))
	}
	var cleared bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == "sb-access-token" && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Error("cookie токена не удалена")
	}
}
