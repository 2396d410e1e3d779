// app.go — общая инициализация для команд: конфигурация, логгер,
// пул PostgreSQL, хранилище и сервисный слой.
package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/defects-register/internal/config"
	"github.com/bigkaa/defects-register/internal/database"
	"github.com/bigkaa/defects-register/internal/report"
	"github.com/bigkaa/defects-register/internal/repository"
	"github.com/bigkaa/defects-register/internal/service"
	"github.com/bigkaa/defects-register/internal/storage"
	"github.com/bigkaa/defects-register/internal/storage/local"
	"github.com/bigkaa/defects-register/internal/storage/remote"
)

// app — собранные зависимости процесса.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	pool   *pgxpool.Pool

	repos repository.Repositories
	tx    *repository.TxRunner

	bucket storage.Bucket
	// localStore не nil только для локального хранилища (раздача подписанных URL).
	localStore *local.Store

	purger  *service.Purger
	defects *service.DefectService
	files   *service.FileService
	reports *service.ReportService
	exports *service.ExportService
}

// loadConfig читает конфигурацию и настраивает логгер.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("загрузка конфигурации: %w", err)
	}
	return cfg, config.SetupLogger(cfg), nil
}

// newApp подключается к PostgreSQL, создаёт бакет и сервисы.
// Вызывающий обязан вызвать Close.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:    cfg,
		logger: logger,
		pool:   pool,
		repos:  repository.New(pool),
		tx:     repository.NewTxRunner(pool),
	}

	if err := a.openBucket(); err != nil {
		pool.Close()
		return nil, err
	}

	cache := service.NewSignedURLCache(cfg.SignedURLCacheSize, cfg.SignedURLTTL)
	a.purger = service.NewPurger(a.repos.Deletions, logger, a.bucket)
	a.defects = service.NewDefectService(a.repos, a.tx, a.bucket, a.purger, cache, logger)
	a.files = service.NewFileService(a.repos, a.tx, a.bucket, a.purger, cache, cfg.SignedURLTTL, logger)
	a.reports = service.NewReportService(a.repos.Defects, a.files, report.NewHTMLGenerator(), logger)
	a.exports = service.NewExportService(a.defects, logger)

	return a, nil
}

// openBucket создаёт клиент хранилища по DR_STORAGE_BACKEND.
func (a *app) openBucket() error {
	cfg := a.cfg
	switch cfg.StorageBackend {
	case config.StorageBackendRemote:
		client, err := remote.New(cfg.StorageURL, cfg.StorageBucket, cfg.StorageServiceKey,
			cfg.StorageCACertPath, cfg.StorageTimeout, a.logger)
		if err != nil {
			return fmt.Errorf("создание клиента Storage API: %w", err)
		}
		a.bucket = client
		a.logger.Info("Хранилище: Storage API",
			slog.String("url", cfg.StorageURL),
			slog.String("bucket", cfg.StorageBucket),
		)
	default:
		store, err := local.New(cfg.StorageDir, cfg.StorageBucket, cfg.PublicURL, cfg.StorageSigningKey, a.logger)
		if err != nil {
			return fmt.Errorf("создание локального хранилища: %w", err)
		}
		a.bucket = store
		a.localStore = store
		a.logger.Info("Хранилище: локальный диск",
			slog.String("dir", cfg.StorageDir),
			slog.String("bucket", cfg.StorageBucket),
		)
	}
	return nil
}

// newReconciler создаёт сервис очистки хранилища.
func (a *app) newReconciler() *service.ReconcileService {
	return service.NewReconcileService(
		a.repos.Deletions, a.purger,
		a.cfg.ReconcileInterval, a.cfg.ReconcileBatchSize, a.cfg.ReconcileMaxAttempts,
		a.logger,
	)
}

// Close освобождает пул подключений.
func (a *app) Close() {
	a.pool.Close()
}
