// handler.go — основной обработчик JSON API, реализующий ServerInterface.
// Объединяет доменные обработчики и делегирует запросы в сервисный слой.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/defects-register/internal/api/errors"
	"github.com/bigkaa/defects-register/internal/api/openapi"
	"github.com/bigkaa/defects-register/internal/service"
)

// maxJSONBody — предельный размер JSON-тела запроса.
const maxJSONBody = 1 << 20

// APIHandler — основной обработчик API Defects Register.
type APIHandler struct {
	health        *HealthHandler
	defects       *service.DefectService
	files         *service.FileService
	reports       *service.ReportService
	exports       *service.ExportService
	doc           *openapi.Document
	uploadMaxSize int64
	logger        *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	defects *service.DefectService,
	files *service.FileService,
	reports *service.ReportService,
	exports *service.ExportService,
	doc *openapi.Document,
	uploadMaxSize int64,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:        health,
		defects:       defects,
		files:         files,
		reports:       reports,
		exports:       exports,
		doc:           doc,
		uploadMaxSize: uploadMaxSize,
		logger:        logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive — liveness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// GetOpenAPI — GET /api/v1/openapi.json.
func (h *APIHandler) GetOpenAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.doc.Raw())
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeBody читает JSON-тело, проверяет его по схеме контракта и
// декодирует в dst. При ошибке ответ 400 уже записан.
func (h *APIHandler) decodeBody(w http.ResponseWriter, r *http.Request, schema string, dst any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			apierrors.PayloadTooLarge(w, fmt.Sprintf("Тело запроса превышает %d байт", maxErr.Limit))
			return false
		}
		apierrors.ValidationError(w, "Не удалось прочитать тело запроса")
		return false
	}

	if err := h.doc.ValidateBody(schema, body); err != nil {
		apierrors.ValidationError(w, err.Error())
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return false
	}
	return true
}

// writeServiceError переводит ошибку сервисного слоя в HTTP-ответ.
// Неизвестные ошибки логируются и возвращаются как 500 с сообщением fallback.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, err error, fallback string, attrs ...any) {
	switch {
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, err.Error())
	case errors.Is(err, service.ErrConflict):
		apierrors.Conflict(w, err.Error())
	case errors.Is(err, service.ErrStorageUnavailable):
		h.logger.Warn(fallback, append(attrs, slog.String("error", err.Error()))...)
		apierrors.StorageUnavailable(w, "Хранилище файлов недоступно")
	default:
		h.logger.Error(fallback, append(attrs, slog.String("error", err.Error()))...)
		apierrors.InternalError(w, fallback)
	}
}
