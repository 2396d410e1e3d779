// Пакет server — HTTP-сервер реестра дефектов с graceful shutdown.
// Без TLS: TLS termination выполняется на reverse proxy.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/defects-register/internal/api/handlers"
	"github.com/bigkaa/defects-register/internal/api/middleware"
	"github.com/bigkaa/defects-register/internal/config"
	"github.com/bigkaa/defects-register/internal/storage/local"
	uihandlers "github.com/bigkaa/defects-register/internal/ui/handlers"
	"github.com/bigkaa/defects-register/internal/ui/static"
)

// API — обработчики JSON API и служебных endpoints.
type API interface {
	handlers.ServerInterface
	HealthLive(w http.ResponseWriter, r *http.Request)
	HealthReady(w http.ResponseWriter, r *http.Request)
	GetMetrics(w http.ResponseWriter, r *http.Request)
}

// UIComponents — обработчики страниц UI. nil — UI отключён.
type UIComponents struct {
	DefectsHandler *uihandlers.DefectsHandler
	AuthHandler    *uihandlers.AuthHandler
	// OriginGuard проверяет origin изменяющих запросов /ui/*.
	OriginGuard *middleware.OriginGuard
}

// Server — HTTP-сервер реестра дефектов.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с настроенными маршрутами и middleware.
// jwtAuth может быть nil (аутентификация отключена), objects — nil
// для внешнего хранилища, ui — nil, если UI отключён.
func New(
	cfg *config.Config,
	logger *slog.Logger,
	api API,
	jwtAuth *middleware.JWTAuth,
	objects *local.Handler,
	ui *UIComponents,
) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(logger, api, jwtAuth, objects, ui),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	return &Server{
		httpServer: srv,
		logger:     logger.With(slog.String("component", "server")),
		cfg:        cfg,
	}
}

// NewRouter собирает chi-роутер. Health, metrics, /static и подписанные
// ссылки хранилища JWT-middleware пропускает без проверки токена.
func NewRouter(
	logger *slog.Logger,
	api API,
	jwtAuth *middleware.JWTAuth,
	objects *local.Handler,
	ui *UIComponents,
) http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))
	if jwtAuth != nil {
		router.Use(jwtAuth.Middleware())
	}

	router.Get("/health/live", api.HealthLive)
	router.Get("/health/ready", api.HealthReady)
	router.Get("/metrics", api.GetMetrics)

	if objects != nil {
		router.Get(local.RoutePattern, objects.ServeObject)
	}

	handlers.HandlerFromMux(api, router)

	if ui != nil {
		router.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(static.FileSystem())))

		d := ui.DefectsHandler
		router.Get("/", d.HandleIndex)
		router.Route("/ui", func(r chi.Router) {
			r.Use(ui.OriginGuard.Middleware())
			r.Post("/defects", d.HandleCreate)
			r.Post("/defects/{id}", d.HandleUpdate)
			r.Post("/defects/{id}/delete", d.HandleDelete)
			r.Get("/defects/{id}/files/view", d.HandleViewFile)
			r.Post("/defects/{id}/files/delete", d.HandleDeleteFile)
			r.Get("/defects/{id}/report", d.HandleReport)
			r.Get("/export.csv", d.HandleExport)
			r.Post("/logout", ui.AuthHandler.HandleLogout)
		})
	}

	return router
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM)
// или отмены ctx. Затем выполняется graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case <-ctx.Done():
		s.logger.Info("Контекст сервера отменён")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
