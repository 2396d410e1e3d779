// Пакет handlers — HTTP-обработчики UI реестра дефектов.
// Файл defects.go — главная страница реестра, добавление, правка и удаление записи.
// Состояние страницы (сортировка, раскрытые строки, фильтры) передаётся
// через query string; действия завершаются redirect с flash-уведомлением.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/defects-register/internal/api/middleware"
	"github.com/bigkaa/defects-register/internal/domain/model"
	"github.com/bigkaa/defects-register/internal/domain/view"
	"github.com/bigkaa/defects-register/internal/notify"
	"github.com/bigkaa/defects-register/internal/service"
	"github.com/bigkaa/defects-register/internal/ui/pages"
)

// DefectsHandler — обработчик страниц реестра.
type DefectsHandler struct {
	defects       *service.DefectService
	files         *service.FileService
	reports       *service.ReportService
	exports       *service.ExportService
	logSink       notify.Sink
	secureCookies bool
	now           func() time.Time
	logger        *slog.Logger
}

// NewDefectsHandler создаёт DefectsHandler.
// secureCookies включает флаг Secure у flash-cookie (UI за HTTPS).
func NewDefectsHandler(
	defects *service.DefectService,
	files *service.FileService,
	reports *service.ReportService,
	exports *service.ExportService,
	logSink notify.Sink,
	secureCookies bool,
	logger *slog.Logger,
) *DefectsHandler {
	return &DefectsHandler{
		defects:       defects,
		files:         files,
		reports:       reports,
		exports:       exports,
		logSink:       logSink,
		secureCookies: secureCookies,
		now:           time.Now,
		logger:        logger.With(slog.String("component", "ui.defects")),
	}
}

// notifier возвращает получатель уведомлений текущего запроса: лог и flash-cookie.
func (h *DefectsHandler) notifier(w http.ResponseWriter) notify.Sink {
	return notify.Multi{h.logSink, notify.NewFlashSink(w, h.secureCookies)}
}

// HandleIndex обрабатывает GET / — страница реестра.
func (h *DefectsHandler) HandleIndex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	state := view.ParseState(r.URL.Query())
	toasts := notify.ReadFlash(w, r)

	vessels, err := h.defects.Vessels(ctx)
	if err != nil {
		h.logger.Error("Ошибка получения справочника судов", slog.String("error", err.Error()))
	}

	defects, err := h.defects.List(ctx, state.Criteria, state.Sort)
	if err != nil {
		h.logger.Error("Ошибка получения списка дефектов", slog.String("error", err.Error()))
		h.logSink.Notify(ctx, notify.DefectsLoadFailed)
		toasts = append(toasts, notify.DefectsLoadFailed)
		defects = nil
	}

	data := pages.RegisterData{
		State:     state,
		Vessels:   vessels,
		Defects:   defects,
		UserEmail: userEmail(ctx),
		Toasts:    toasts,
		Now:       h.now(),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pages.Register(data).Render(ctx, w); err != nil {
		h.logger.Error("Ошибка рендеринга страницы", slog.String("error", err.Error()))
	}
}

// HandleCreate обрабатывает POST /ui/defects — добавление записи из формы.
func (h *DefectsHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	back := view.ParseState(r.URL.Query()).Href("/")
	sink := h.notifier(w)

	if err := r.ParseForm(); err != nil {
		sink.Notify(ctx, notify.DefectCreateFailed)
		http.Redirect(w, r, back, http.StatusSeeOther)
		return
	}

	d, err := h.defects.Create(ctx, service.DefectInput{
		VesselID:      r.PostFormValue("vessel_id"),
		Status:        model.StatusOpen,
		Criticality:   model.Criticality(r.PostFormValue("criticality")),
		Equipments:    r.PostFormValue("equipments"),
		Description:   r.PostFormValue("description"),
		ActionPlanned: r.PostFormValue("action_planned"),
		DateReported:  r.PostFormValue("date_reported"),
	})
	if err != nil {
		h.logger.Warn("Не удалось добавить дефект", slog.String("error", err.Error()))
		sink.Notify(ctx, notify.DefectCreateFailed)
		http.Redirect(w, r, back, http.StatusSeeOther)
		return
	}

	sink.Notify(ctx, notify.DefectCreated)
	http.Redirect(w, r, view.ParseState(r.URL.Query()).ToggleExpanded(d.ID).Href("/"), http.StatusSeeOther)
}

// HandleUpdate обрабатывает POST /ui/defects/{id} — правка записи из формы строки.
// Форма передаёт все поля; вложения не меняются.
func (h *DefectsHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	back := view.ParseState(r.URL.Query()).Href("/")
	sink := h.notifier(w)

	id, err := defectID(r)
	if err == nil {
		err = r.ParseForm()
	}
	if err == nil {
		_, err = h.defects.Update(ctx, id, formInput(r))
	}
	if err != nil {
		h.logger.Warn("Не удалось обновить дефект",
			slog.String("id", chi.URLParam(r, "id")),
			slog.String("error", err.Error()),
		)
		sink.Notify(ctx, notify.DefectUpdateFailed)
	} else {
		sink.Notify(ctx, notify.DefectUpdated)
	}
	http.Redirect(w, r, back, http.StatusSeeOther)
}

// HandleDelete обрабатывает POST /ui/defects/{id}/delete — удаление записи
// вместе с вложениями. Из состояния убирается раскрытие удалённой строки.
func (h *DefectsHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	state := view.ParseState(r.URL.Query())
	sink := h.notifier(w)

	id, err := defectID(r)
	if err == nil {
		err = h.defects.Delete(ctx, id)
	}
	if err != nil {
		h.logger.Warn("Не удалось удалить дефект",
			slog.String("id", chi.URLParam(r, "id")),
			slog.String("error", err.Error()),
		)
		sink.Notify(ctx, notify.DefectDeleteFailed)
		http.Redirect(w, r, state.Href("/"), http.StatusSeeOther)
		return
	}

	sink.Notify(ctx, notify.DefectDeleted)
	if state.IsExpanded(id) {
		state = state.ToggleExpanded(id)
	}
	http.Redirect(w, r, state.Href("/"), http.StatusSeeOther)
}

// formInput собирает поля записи из формы правки.
func formInput(r *http.Request) service.DefectInput {
	return service.DefectInput{
		VesselID:        r.PostFormValue("vessel_id"),
		Status:          model.Status(r.PostFormValue("status")),
		Criticality:     model.Criticality(r.PostFormValue("criticality")),
		Equipments:      r.PostFormValue("equipments"),
		Description:     r.PostFormValue("description"),
		ActionPlanned:   r.PostFormValue("action_planned"),
		Comments:        r.PostFormValue("comments"),
		ClosureComments: r.PostFormValue("closure_comments"),
		DateReported:    r.PostFormValue("date_reported"),
		DateCompleted:   r.PostFormValue("date_completed"),
	}
}

// userEmail возвращает email аутентифицированного пользователя или "".
func userEmail(ctx context.Context) string {
	if claims := middleware.ClaimsFromContext(ctx); claims != nil {
		return claims.Email
	}
	return ""
}

var errInvalidID = errors.New("некорректный идентификатор дефекта")

// defectID разбирает {id} из пути.
func defectID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		return 0, errInvalidID
	}
	return id, nil
}
