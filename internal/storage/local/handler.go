package local

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"path"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/defects-register/internal/api/errors"
	"github.com/bigkaa/defects-register/internal/storage"
)

// Handler отдаёт объекты по подписанным URL:
// GET /storage/v1/object/sign/{bucket}/*?token=...
type Handler struct {
	store  *Store
	logger *slog.Logger
}

// NewHandler создаёт обработчик подписанных URL.
func NewHandler(store *Store, logger *slog.Logger) *Handler {
	return &Handler{
		store:  store,
		logger: logger.With(slog.String("component", "storage_local_handler")),
	}
}

// RoutePattern — шаблон маршрута chi для ServeObject.
const RoutePattern = SignPathPrefix + "{bucket}/*"

// ServeObject проверяет токен и отдаёт содержимое объекта.
func (h *Handler) ServeObject(w http.ResponseWriter, r *http.Request) {
	if chi.URLParam(r, "bucket") != h.store.Name() {
		apierrors.NotFound(w, "Бакет не найден")
		return
	}

	objectPath := chi.URLParam(r, "*")
	// chi сопоставляет маршрут по RawPath, если он задан.
	if r.URL.RawPath != "" {
		unescaped, err := url.PathUnescape(objectPath)
		if err != nil {
			apierrors.ValidationError(w, "Некорректный путь объекта")
			return
		}
		objectPath = unescaped
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		apierrors.Forbidden(w, "Отсутствует токен подписанного URL")
		return
	}
	if err := h.store.VerifyToken(token, objectPath); err != nil {
		h.logger.Debug("Отклонён подписанный URL",
			slog.String("path", objectPath),
			slog.String("error", err.Error()),
		)
		apierrors.Forbidden(w, "Недействительный или просроченный подписанный URL")
		return
	}

	f, err := h.store.Open(objectPath)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrObjectNotFound):
			apierrors.NotFound(w, "Объект не найден")
		case errors.Is(err, storage.ErrInvalidPath):
			apierrors.ValidationError(w, "Некорректный путь объекта")
		default:
			h.logger.Error("Ошибка открытия объекта",
				slog.String("path", objectPath),
				slog.String("error", err.Error()),
			)
			apierrors.InternalError(w, "Внутренняя ошибка")
		}
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		apierrors.InternalError(w, "Внутренняя ошибка")
		return
	}

	w.Header().Set("Cache-Control", "private, max-age=60")
	http.ServeContent(w, r, path.Base(objectPath), info.ModTime(), f)
}
