package service

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/bigkaa/defects-register/internal/domain/model"
	"github.com/bigkaa/defects-register/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// --- DefectRepository ---

type mockDefectRepo struct {
	listFn         func(ctx context.Context, f repository.DefectListFilters) ([]model.Defect, error)
	getByIDFn      func(ctx context.Context, id int64) (*model.Defect, error)
	getForUpdateFn func(ctx context.Context, id int64) (*model.Defect, error)
	createFn       func(ctx context.Context, d *model.Defect) error
	updateFn       func(ctx context.Context, d *model.Defect) error
	updateFilesFn  func(ctx context.Context, id int64, initial, completion []model.AttachedFile) error
	deleteFn       func(ctx context.Context, id int64) error
}

func (m *mockDefectRepo) List(ctx context.Context, f repository.DefectListFilters) ([]model.Defect, error) {
	if m.listFn != nil {
		return m.listFn(ctx, f)
	}
	return nil, nil
}

func (m *mockDefectRepo) GetByID(ctx context.Context, id int64) (*model.Defect, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, repository.ErrNotFound
}

func (m *mockDefectRepo) GetForUpdate(ctx context.Context, id int64) (*model.Defect, error) {
	if m.getForUpdateFn != nil {
		return m.getForUpdateFn(ctx, id)
	}
	return m.GetByID(ctx, id)
}

func (m *mockDefectRepo) Create(ctx context.Context, d *model.Defect) error {
	if m.createFn != nil {
		return m.createFn(ctx, d)
	}
	return nil
}

func (m *mockDefectRepo) Update(ctx context.Context, d *model.Defect) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, d)
	}
	return nil
}

func (m *mockDefectRepo) UpdateFiles(ctx context.Context, id int64, initial, completion []model.AttachedFile) error {
	if m.updateFilesFn != nil {
		return m.updateFilesFn(ctx, id, initial, completion)
	}
	return nil
}

func (m *mockDefectRepo) Delete(ctx context.Context, id int64) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

// --- VesselRepository ---

type mockVesselRepo struct {
	vessels []model.Vessel
	err     error
}

func (m *mockVesselRepo) List(context.Context) ([]model.Vessel, error) {
	return m.vessels, m.err
}

// --- DeletionRepository ---

// memDeletions — outbox в памяти.
type memDeletions struct {
	mu        sync.Mutex
	nextID    int64
	items     map[int64]*model.StorageDeletion
	enqueueFn func(items []*model.StorageDeletion) error
}

func newMemDeletions() *memDeletions {
	return &memDeletions{items: make(map[int64]*model.StorageDeletion)}
}

func (m *memDeletions) Enqueue(_ context.Context, items []*model.StorageDeletion) error {
	if m.enqueueFn != nil {
		if err := m.enqueueFn(items); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range items {
		m.nextID++
		item.ID = m.nextID
		item.CreatedAt = time.Now()
		cp := *item
		m.items[item.ID] = &cp
	}
	return nil
}

func (m *memDeletions) ListPending(_ context.Context, afterID int64, limit, maxAttempts int) ([]*model.StorageDeletion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*model.StorageDeletion
	for id := afterID + 1; id <= m.nextID && len(result) < limit; id++ {
		item, ok := m.items[id]
		if !ok || item.CompletedAt != nil || item.Attempts >= maxAttempts {
			continue
		}
		cp := *item
		result = append(result, &cp)
	}
	return result, nil
}

func (m *memDeletions) MarkDone(_ context.Context, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, id := range ids {
		if item, ok := m.items[id]; ok {
			item.CompletedAt = &now
		}
	}
	return nil
}

func (m *memDeletions) MarkFailed(_ context.Context, ids []int64, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if item, ok := m.items[id]; ok {
			item.Attempts++
			msg := lastError
			item.LastError = &msg
		}
	}
	return nil
}

func (m *memDeletions) CountPending(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, item := range m.items {
		if item.CompletedAt == nil {
			n++
		}
	}
	return n, nil
}

func (m *memDeletions) pending() []*model.StorageDeletion {
	items, _ := m.ListPending(context.Background(), 0, 1000, 1000)
	return items
}

// --- TxRunner ---

// mockTx выполняет fn с теми же репозиториями; при ошибке откатывает
// изменения outbox, сделанные внутри fn.
type mockTx struct {
	repos repository.Repositories
	calls int
}

func (m *mockTx) RunInRepositories(_ context.Context, fn func(repos repository.Repositories) error) error {
	m.calls++
	mem, _ := m.repos.Deletions.(*memDeletions)
	var snapshot map[int64]*model.StorageDeletion
	if mem != nil {
		mem.mu.Lock()
		snapshot = make(map[int64]*model.StorageDeletion, len(mem.items))
		for id, item := range mem.items {
			snapshot[id] = item
		}
		mem.mu.Unlock()
	}

	err := fn(m.repos)
	if err != nil && mem != nil {
		mem.mu.Lock()
		mem.items = snapshot
		mem.mu.Unlock()
	}
	return err
}

// --- storage.Bucket ---

type mockBucket struct {
	name     string
	signFn   func(ctx context.Context, path string, ttl time.Duration) (string, error)
	removeFn func(ctx context.Context, paths []string) error
	uploadFn func(ctx context.Context, path string, r io.Reader, contentType string) error

	mu        sync.Mutex
	signCalls int
	removed   []string
	uploaded  []string
}

func (m *mockBucket) Name() string {
	if m.name == "" {
		return "defect-files"
	}
	return m.name
}

func (m *mockBucket) CreateSignedURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	m.mu.Lock()
	m.signCalls++
	m.mu.Unlock()
	if m.signFn != nil {
		return m.signFn(ctx, path, ttl)
	}
	return "https://storage.example/" + path + "?token=t", nil
}

func (m *mockBucket) Remove(ctx context.Context, paths []string) error {
	if m.removeFn != nil {
		if err := m.removeFn(ctx, paths); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.removed = append(m.removed, paths...)
	m.mu.Unlock()
	return nil
}

func (m *mockBucket) Upload(ctx context.Context, path string, r io.Reader, contentType string) error {
	if m.uploadFn != nil {
		if err := m.uploadFn(ctx, path, r, contentType); err != nil {
			return err
		}
	}
	if _, err := io.Copy(io.Discard, r); err != nil {
		return err
	}
	m.mu.Lock()
	m.uploaded = append(m.uploaded, path)
	m.mu.Unlock()
	return nil
}

func (m *mockBucket) Ping(context.Context) error { return nil }

// --- фикстуры ---

// testEnv — сервисы поверх моков.
type testEnv struct {
	defects   *mockDefectRepo
	vessels   *mockVesselRepo
	deletions *memDeletions
	tx        *mockTx
	bucket    *mockBucket
	cache     *SignedURLCache
	purger    *Purger

	defectSvc *DefectService
	fileSvc   *FileService
}

func newTestEnv() *testEnv {
	env := &testEnv{
		defects:   &mockDefectRepo{},
		vessels:   &mockVesselRepo{},
		deletions: newMemDeletions(),
		bucket:    &mockBucket{},
		cache:     NewSignedURLCache(100, time.Hour),
	}
	repos := repository.Repositories{
		Defects:   env.defects,
		Vessels:   env.vessels,
		Deletions: env.deletions,
	}
	env.tx = &mockTx{repos: repos}
	env.purger = NewPurger(env.deletions, testLogger(), env.bucket)
	env.defectSvc = NewDefectService(repos, env.tx, env.bucket, env.purger, env.cache, testLogger())
	env.fileSvc = NewFileService(repos, env.tx, env.bucket, env.purger, env.cache, time.Hour, testLogger())
	return env
}

// stored — запись в «базе», доступная моку репозитория.
func (env *testEnv) stored(d *model.Defect) {
	get := func(_ context.Context, id int64) (*model.Defect, error) {
		if id != d.ID {
			return nil, repository.ErrNotFound
		}
		cp := *d
		cp.InitialFiles = append([]model.AttachedFile(nil), d.InitialFiles...)
		cp.CompletionFiles = append([]model.AttachedFile(nil), d.CompletionFiles...)
		return &cp, nil
	}
	env.defects.getByIDFn = get
	env.defects.getForUpdateFn = get
	env.defects.updateFilesFn = func(_ context.Context, id int64, initial, completion []model.AttachedFile) error {
		if id != d.ID {
			return repository.ErrNotFound
		}
		d.InitialFiles = initial
		d.CompletionFiles = completion
		return nil
	}
}

func sampleDefect() *model.Defect {
	return &model.Defect{
		ID:           7,
		VesselID:     "v1",
		VesselName:   "Aurora",
		Status:       model.StatusOpen,
		Criticality:  model.CriticalityHigh,
		Equipments:   "Main engine",
		Description:  "Oil leak",
		DateReported: "2024-03-01",
		InitialFiles: []model.AttachedFile{
			{Path: "7/initial/a.jpg", Name: "a.jpg", Type: "image/jpeg"},
			{Path: "7/initial/spec.pdf", Name: "spec.pdf", Type: "application/pdf"},
		},
		CompletionFiles: []model.AttachedFile{
			{Path: "7/completion/b.png", Name: "b.png", Type: "image/png"},
		},
	}
}
