package service

import (
	"context"
	"errors"
	"testing"
	"time"
)

func enqueue(t *testing.T, m *memDeletions, bucket string, paths ...string) {
	t.Helper()
	items := deletionItems(bucket, 1, paths...)
	if err := m.Enqueue(context.Background(), items); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
}

func TestPurger_GroupsByBucket(t *testing.T) {
	deletions := newMemDeletions()
	files := &mockBucket{name: "defect-files"}
	archive := &mockBucket{name: "archive"}
	p := NewPurger(deletions, testLogger(), files, archive)

	enqueue(t, deletions, "defect-files", "1/initial/a.jpg", "1/initial/b.jpg")
	enqueue(t, deletions, "archive", "old.zip")
	enqueue(t, deletions, "unknown", "x.txt")

	res := p.Purge(context.Background(), deletions.pending())
	if res.Removed != 3 || res.Failed != 1 {
		t.Errorf("Purge() = %+v", res)
	}
	if len(files.removed) != 2 || len(archive.removed) != 1 {
		t.Errorf("удалено: files=%v archive=%v", files.removed, archive.removed)
	}

	pending := deletions.pending()
	if len(pending) != 1 || pending[0].Bucket != "unknown" || pending[0].Attempts != 1 {
		t.Errorf("в очереди: %+v", pending)
	}
}

func TestReconcile_RetriesUntilMaxAttempts(t *testing.T) {
	deletions := newMemDeletions()
	bucket := &mockBucket{removeFn: func(context.Context, []string) error {
		return errors.New("unavailable")
	}}
	p := NewPurger(deletions, testLogger(), bucket)
	rs := NewReconcileService(deletions, p, time.Hour, 10, 2, testLogger())

	enqueue(t, deletions, bucket.Name(), "1/initial/a.jpg")

	for i, want := range []int{1, 1, 0} {
		res := rs.RunOnce(context.Background())
		if res.Processed != want {
			t.Errorf("проход %d: обработано %d, ожидалось %d", i+1, res.Processed, want)
		}
	}

	items, _ := deletions.ListPending(context.Background(), 0, 10, 100)
	if len(items) != 1 || items[0].Attempts != 2 || items[0].LastError == nil || *items[0].LastError != "unavailable" {
		t.Errorf("запись outbox = %+v", items)
	}
}

func TestReconcile_ProcessesEveryBatchOncePerRun(t *testing.T) {
	deletions := newMemDeletions()
	calls := 0
	bucket := &mockBucket{removeFn: func(context.Context, []string) error {
		calls++
		return errors.New("unavailable")
	}}
	p := NewPurger(deletions, testLogger(), bucket)
	rs := NewReconcileService(deletions, p, time.Hour, 2, 10, testLogger())

	enqueue(t, deletions, bucket.Name(), "a", "b", "c", "d", "e")

	res := rs.RunOnce(context.Background())
	if res.Processed != 5 || res.Failed != 5 || res.Pending != 5 {
		t.Errorf("RunOnce() = %+v", res)
	}
	if calls != 3 {
		t.Errorf("вызовов Remove: %d, ожидалось 3 пачки", calls)
	}
}

func TestReconcile_StartStop(t *testing.T) {
	deletions := newMemDeletions()
	bucket := &mockBucket{}
	p := NewPurger(deletions, testLogger(), bucket)
	rs := NewReconcileService(deletions, p, 10*time.Millisecond, 10, 3, testLogger())

	enqueue(t, deletions, bucket.Name(), "1/initial/a.jpg")

	rs.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if n, _ := deletions.CountPending(context.Background()); n == 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	rs.Stop()

	if n, _ := deletions.CountPending(context.Background()); n != 0 {
		t.Errorf("в очереди осталось %d записей", n)
	}
	rs.Stop()
}

func TestDeletionItems(t *testing.T) {
	items := deletionItems("defect-files", 5, "a", "b")
	if len(items) != 2 {
		t.Fatalf("len = %d", len(items))
	}
	for _, item := range items {
		if item.Bucket != "defect-files" || item.DefectID == nil || *item.DefectID != 5 {
			t.Errorf("item = %+v", item)
		}
	}
	*items[0].DefectID = 6
	if *items[1].DefectID != 5 {
		t.Error("записи делят один указатель DefectID")
	}
}
