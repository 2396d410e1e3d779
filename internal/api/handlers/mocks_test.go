package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/defects-register/internal/api/openapi"
	"github.com/bigkaa/defects-register/internal/domain/model"
	"github.com/bigkaa/defects-register/internal/report"
	"github.com/bigkaa/defects-register/internal/repository"
	"github.com/bigkaa/defects-register/internal/service"
	"github.com/bigkaa/defects-register/internal/storage/local"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// memDefects — DefectRepository в памяти.
type memDefects struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64]model.Defect
	vessels map[string]string
}

func (m *memDefects) List(_ context.Context, f repository.DefectListFilters) ([]model.Defect, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Defect
	for _, d := range m.records {
		if len(f.VesselIDs) > 0 && !slices.Contains(f.VesselIDs, d.VesselID) {
			continue
		}
		if f.Status != "" && string(d.Status) != f.Status {
			continue
		}
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b model.Defect) int { return int(a.ID - b.ID) })
	return out, nil
}

func (m *memDefects) GetByID(_ context.Context, id int64) (*model.Defect, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &d, nil
}

func (m *memDefects) GetForUpdate(ctx context.Context, id int64) (*model.Defect, error) {
	return m.GetByID(ctx, id)
}

func (m *memDefects) Create(_ context.Context, d *model.Defect) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name, ok := m.vessels[d.VesselID]
	if !ok {
		return repository.ErrUnknownReference
	}
	m.nextID++
	d.ID = m.nextID
	d.VesselName = name
	d.CreatedAt = time.Now().UTC()
	d.UpdatedAt = d.CreatedAt
	m.records[d.ID] = *d
	return nil
}

func (m *memDefects) Update(_ context.Context, d *model.Defect) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[d.ID]; !ok {
		return repository.ErrNotFound
	}
	d.VesselName = m.vessels[d.VesselID]
	m.records[d.ID] = *d
	return nil
}

func (m *memDefects) UpdateFiles(_ context.Context, id int64, initial, completion []model.AttachedFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.records[id]
	if !ok {
		return repository.ErrNotFound
	}
	d.InitialFiles = initial
	d.CompletionFiles = completion
	m.records[id] = d
	return nil
}

func (m *memDefects) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.records, id)
	return nil
}

type memVessels struct {
	vessels []model.Vessel
}

func (m *memVessels) List(context.Context) ([]model.Vessel, error) {
	return m.vessels, nil
}

// memDeletions — outbox в памяти.
type memDeletions struct {
	mu     sync.Mutex
	nextID int64
	items  []*model.StorageDeletion
}

func (m *memDeletions) Enqueue(_ context.Context, items []*model.StorageDeletion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range items {
		m.nextID++
		it.ID = m.nextID
		it.CreatedAt = time.Now()
		m.items = append(m.items, it)
	}
	return nil
}

func (m *memDeletions) ListPending(_ context.Context, afterID int64, limit, maxAttempts int) ([]*model.StorageDeletion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.StorageDeletion
	for _, it := range m.items {
		if it.CompletedAt == nil && it.Attempts < maxAttempts && it.ID > afterID && len(out) < limit {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *memDeletions) MarkDone(_ context.Context, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, it := range m.items {
		if slices.Contains(ids, it.ID) {
			it.CompletedAt = &now
		}
	}
	return nil
}

func (m *memDeletions) MarkFailed(_ context.Context, ids []int64, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.items {
		if slices.Contains(ids, it.ID) {
			it.Attempts++
			it.LastError = &lastError
		}
	}
	return nil
}

func (m *memDeletions) CountPending(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, it := range m.items {
		if it.CompletedAt == nil {
			n++
		}
	}
	return n, nil
}

// passTx выполняет fn на тех же репозиториях без транзакции.
type passTx struct {
	repos repository.Repositories
}

func (p passTx) RunInRepositories(_ context.Context, fn func(repository.Repositories) error) error {
	return fn(p.repos)
}

// testAPI — API поверх репозиториев в памяти и дискового бакета.
type testAPI struct {
	router    http.Handler
	defects   *memDefects
	deletions *memDeletions
	store     *local.Store
}

func newTestAPI(t *testing.T, uploadMaxSize int64) *testAPI {
	t.Helper()
	logger := testLogger()

	store, err := local.New(t.TempDir(), "defect-files", "http://localhost:8080", "test-signing-key", logger)
	if err != nil {
		t.Fatalf("local.New: %v", err)
	}
	doc, err := openapi.Load(context.Background())
	if err != nil {
		t.Fatalf("openapi.Load: %v", err)
	}

	defects := &memDefects{
		records: map[int64]model.Defect{},
		vessels: map[string]string{"v1": "Aurora", "v2": "Borealis"},
	}
	deletions := &memDeletions{}
	repos := repository.Repositories{
		Defects: defects,
		Vessels: &memVessels{vessels: []model.Vessel{
			{ID: "v1", Name: "Aurora"},
			{ID: "v2", Name: "Borealis"},
		}},
		Deletions: deletions,
	}
	tx := passTx{repos: repos}
	cache := service.NewSignedURLCache(16, time.Hour)
	purger := service.NewPurger(deletions, logger, store)

	defectSvc := service.NewDefectService(repos, tx, store, purger, cache, logger)
	fileSvc := service.NewFileService(repos, tx, store, purger, cache, time.Hour, logger)
	reportSvc := service.NewReportService(defects, fileSvc, report.NewHTMLGenerator(), logger)
	exportSvc := service.NewExportService(defectSvc, logger)

	h := NewAPIHandler(NewHealthHandler(nil, nil), defectSvc, fileSvc, reportSvc, exportSvc, doc, uploadMaxSize, logger)
	r := chi.NewRouter()
	HandlerFromMux(h, r)

	return &testAPI{router: r, defects: defects, deletions: deletions, store: store}
}

func (a *testAPI) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

// seed добавляет запись напрямую в репозиторий.
func (a *testAPI) seed(t *testing.T, d model.Defect) model.Defect {
	t.Helper()
	if err := a.defects.Create(context.Background(), &d); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return d
}
