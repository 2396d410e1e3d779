// serve.go — команда serve: миграции, HTTP-сервер, фоновая очистка
// хранилища и мониторинг зависимостей.
package main

import (
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/bigkaa/defects-register/internal/api/handlers"
	"github.com/bigkaa/defects-register/internal/api/middleware"
	"github.com/bigkaa/defects-register/internal/api/openapi"
	"github.com/bigkaa/defects-register/internal/config"
	"github.com/bigkaa/defects-register/internal/database"
	"github.com/bigkaa/defects-register/internal/notify"
	"github.com/bigkaa/defects-register/internal/server"
	"github.com/bigkaa/defects-register/internal/service"
	"github.com/bigkaa/defects-register/internal/storage"
	"github.com/bigkaa/defects-register/internal/storage/local"
	uihandlers "github.com/bigkaa/defects-register/internal/ui/handlers"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Запустить HTTP-сервер (API и UI)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			return runServe(cmd, cfg, logger)
		},
	}
}

func runServe(cmd *cobra.Command, cfg *config.Config, logger *slog.Logger) error {
	ctx := cmd.Context()

	logger.Info("Реестр дефектов запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("storage_backend", cfg.StorageBackend),
	)

	// 1. Миграции БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		return err
	}

	// 2. PostgreSQL, хранилище, сервисы
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	// Адаптер pgxpool → *sql.DB для topologymetrics: проверки идут через
	// общий пул и обнаруживают его исчерпание.
	pgDB := stdlib.OpenDBFromPool(a.pool)
	defer pgDB.Close()

	// 3. OpenAPI контракт (валидация тел запросов и /api/v1/openapi.json)
	doc, err := openapi.Load(ctx)
	if err != nil {
		return err
	}

	// 4. Health и API handlers
	healthHandler := handlers.NewHealthHandler(
		database.NewReadinessChecker(a.pool),
		storage.NewReadinessChecker(a.bucket),
	)
	apiHandler := handlers.NewAPIHandler(
		healthHandler,
		a.defects,
		a.files,
		a.reports,
		a.exports,
		doc,
		cfg.UploadMaxSize,
		logger,
	)

	// 5. JWT middleware (только если задан DR_JWT_JWKS_URL)
	var jwtAuth *middleware.JWTAuth
	if cfg.AuthEnabled() {
		jwtAuth, err = middleware.NewJWTAuth(
			cfg.JWTJWKSURL,
			cfg.JWTIssuer,
			cfg.AuthCookieName,
			cfg.JWKSClientTimeout,
			cfg.JWKSRefreshInterval,
			cfg.JWTLeeway,
			logger,
		)
		if err != nil {
			return err
		}
		logger.Info("JWT middleware инициализирован",
			slog.String("jwks_url", cfg.JWTJWKSURL),
			slog.String("issuer", cfg.JWTIssuer),
		)
	} else {
		logger.Warn("DR_JWT_JWKS_URL не задан, аутентификация отключена")
	}

	// 6. Раздача объектов локального хранилища по подписанным URL
	var objects *local.Handler
	if a.localStore != nil {
		objects = local.NewHandler(a.localStore, logger)
	}

	// 7. UI
	var ui *server.UIComponents
	if cfg.UIEnabled {
		secureCookies := strings.HasPrefix(cfg.PublicURL, "https")
		var trusted []string
		if origin := middleware.OriginOf(cfg.PublicURL); origin != "" {
			trusted = append(trusted, origin)
		}
		originGuard, err := middleware.NewOriginGuard(trusted, logger)
		if err != nil {
			return err
		}
		ui = &server.UIComponents{
			DefectsHandler: uihandlers.NewDefectsHandler(
				a.defects, a.files, a.reports, a.exports,
				notify.NewLogSink(logger),
				secureCookies,
				logger,
			),
			AuthHandler: uihandlers.NewAuthHandler(cfg.AuthCookieName, cfg.LogoutRedirectURL, secureCookies, logger),
			OriginGuard: originGuard,
		}
		logger.Info("UI включён",
			slog.Bool("secure_cookies", secureCookies),
			slog.Any("trusted_origins", trusted),
		)
	} else {
		logger.Info("UI отключён (DR_UI_ENABLED=false)")
	}

	// 8. Фоновые задачи
	reconciler := a.newReconciler()
	reconciler.Start(ctx)

	storageURL := ""
	if cfg.StorageBackend == config.StorageBackendRemote {
		storageURL = cfg.StorageURL
	}
	dephealthSvc, err := service.NewDephealthService(service.DephealthConfig{
		ServiceID:     "defects-register",
		Group:         cfg.DephealthGroup,
		PgConnURL:     cfg.DatabaseURL(),
		StorageURL:    storageURL,
		CheckInterval: cfg.DephealthCheckInterval,
	}, pgDB, logger)
	if err != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
		dephealthSvc = nil
	} else if err := dephealthSvc.Start(ctx); err != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", err.Error()))
		dephealthSvc = nil
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.Any("dependencies", dephealthSvc.Dependencies()),
		)
	}

	// 9. HTTP-сервер (блокирующий вызов с graceful shutdown)
	srv := server.New(cfg, logger, apiHandler, jwtAuth, objects, ui)
	runErr := srv.Run(ctx)

	logger.Info("Останавливаем фоновые задачи...")
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	reconciler.Stop()

	logger.Info("Реестр дефектов остановлен")
	return runErr
}
