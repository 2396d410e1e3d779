// reconcile.go — фоновая очистка объектов хранилища по outbox.
//
// Запись outbox создаётся в одной транзакции с изменением дефекта.
// Если немедленное удаление объекта не удалось, ReconcileService
// повторяет его по тикеру (DR_RECONCILE_INTERVAL), пока не исчерпан
// лимит попыток (DR_RECONCILE_MAX_ATTEMPTS).
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/defects-register/internal/repository"
)

// Prometheus метрики reconcile
var (
	reconcileRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dr_reconcile_runs_total",
		Help: "Общее количество запусков очистки хранилища",
	})

	reconcileRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dr_reconcile_objects_removed_total",
		Help: "Количество объектов, удалённых очисткой хранилища",
	})

	reconcileFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dr_reconcile_objects_failed_total",
		Help: "Количество неудачных попыток удаления объектов",
	})

	reconcilePending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dr_reconcile_pending",
		Help: "Количество объектов, ожидающих удаления",
	})

	reconcileDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dr_reconcile_duration_seconds",
		Help:    "Длительность очистки хранилища в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// ReconcileResult — результат одного запуска очистки.
type ReconcileResult struct {
	// Processed — количество обработанных записей outbox
	Processed int
	// Removed — количество удалённых объектов
	Removed int
	// Failed — количество неудачных попыток
	Failed int
	// Pending — количество незавершённых записей после запуска (-1 при ошибке подсчёта)
	Pending int
	// Duration — длительность выполнения
	Duration time.Duration
}

// ReconcileService — сервис фоновой очистки хранилища.
type ReconcileService struct {
	deletions   repository.DeletionRepository
	purger      *Purger
	interval    time.Duration
	batchSize   int
	maxAttempts int
	logger      *slog.Logger

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
	done   chan struct{}
}

// NewReconcileService создаёт сервис очистки.
func NewReconcileService(
	deletions repository.DeletionRepository,
	purger *Purger,
	interval time.Duration,
	batchSize, maxAttempts int,
	logger *slog.Logger,
) *ReconcileService {
	return &ReconcileService{
		deletions:   deletions,
		purger:      purger,
		interval:    interval,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
		logger:      logger.With(slog.String("component", "reconcile")),
	}
}

// Start запускает фоновую горутину с периодическим тикером.
func (s *ReconcileService) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(runCtx)

	s.logger.Info("Очистка хранилища запущена",
		slog.String("interval", s.interval.String()),
		slog.Int("batch_size", s.batchSize),
	)
}

// Stop останавливает фоновый процесс и дожидается завершения текущего запуска.
func (s *ReconcileService) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("Очистка хранилища остановлена")
}

// run — основной цикл фоновой горутины.
func (s *ReconcileService) run(ctx context.Context) {
	defer close(s.done)

	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один проход по outbox пачками batchSize.
// Потокобезопасен: использует mutex для защиты от параллельного запуска.
func (s *ReconcileService) RunOnce(ctx context.Context) *ReconcileResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	result := &ReconcileResult{}

	// Проход идёт по id: записи, не удалённые в этом проходе, остаются
	// в очереди до следующего запуска.
	var afterID int64
	for ctx.Err() == nil {
		items, err := s.deletions.ListPending(ctx, afterID, s.batchSize, s.maxAttempts)
		if err != nil {
			s.logger.Error("Ошибка чтения очереди удаления", slog.String("error", err.Error()))
			break
		}
		if len(items) == 0 {
			break
		}
		afterID = items[len(items)-1].ID

		pr := s.purger.Purge(ctx, items)
		result.Processed += len(items)
		result.Removed += pr.Removed
		result.Failed += pr.Failed

		if len(items) < s.batchSize {
			break
		}
	}

	result.Pending = -1
	if n, err := s.deletions.CountPending(ctx); err == nil {
		result.Pending = n
		reconcilePending.Set(float64(n))
	}
	result.Duration = time.Since(start)

	reconcileRunsTotal.Inc()
	reconcileRemovedTotal.Add(float64(result.Removed))
	reconcileFailedTotal.Add(float64(result.Failed))
	reconcileDurationSeconds.Observe(result.Duration.Seconds())

	level := slog.LevelDebug
	if result.Processed > 0 {
		level = slog.LevelInfo
	}
	s.logger.Log(ctx, level, "Очистка хранилища завершена",
		slog.Int("processed", result.Processed),
		slog.Int("removed", result.Removed),
		slog.Int("failed", result.Failed),
		slog.Int("pending", result.Pending),
		slog.Duration("duration", result.Duration),
	)

	return result
}
