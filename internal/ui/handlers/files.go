// files.go — просмотр и удаление вложений, скачивание отчёта и CSV.
// Любая ошибка сводится к одному уведомлению "Failed to ..." и возврату
// на страницу реестра с прежним состоянием.
package handlers

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/bigkaa/defects-register/internal/domain/view"
	"github.com/bigkaa/defects-register/internal/notify"
	"github.com/bigkaa/defects-register/internal/service"
	"github.com/bigkaa/defects-register/internal/ui/pages"
)

// HandleViewFile обрабатывает GET /ui/defects/{id}/files/view?path=...
// Получает подписанную ссылку и показывает файл; при ошибке — redirect назад.
func (h *DefectsHandler) HandleViewFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	back := view.ParseState(r.URL.Query()).Href("/")
	path := r.URL.Query().Get("path")

	fail := func(err error) {
		h.logger.Warn("Не удалось открыть файл",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		h.notifier(w).Notify(ctx, notify.FileLoadFailed)
		http.Redirect(w, r, back, http.StatusSeeOther)
	}

	id, err := defectID(r)
	if err != nil {
		fail(err)
		return
	}
	d, err := h.defects.Get(ctx, id)
	if err != nil {
		fail(err)
		return
	}
	file, _, ok := d.FindFile(path)
	if !ok {
		fail(fmt.Errorf("%w: файл не принадлежит дефекту %d", service.ErrNotFound, id))
		return
	}
	signed, err := h.files.SignedURL(ctx, id, path)
	if err != nil {
		fail(err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err = pages.Viewer(pages.ViewerData{
		DefectID:  id,
		File:      file,
		SignedURL: signed.URL,
		BackHref:  back,
		Toasts:    notify.ReadFlash(w, r),
	}).Render(ctx, w)
	if err != nil {
		h.logger.Error("Ошибка рендеринга просмотра файла", slog.String("error", err.Error()))
	}
}

// HandleDeleteFile обрабатывает POST /ui/defects/{id}/files/delete (форма: path).
func (h *DefectsHandler) HandleDeleteFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	back := view.ParseState(r.URL.Query()).Href("/")
	sink := h.notifier(w)
	path := r.PostFormValue("path")

	id, err := defectID(r)
	if err == nil {
		err = h.files.DeleteFile(ctx, id, path)
	}
	if err != nil {
		h.logger.Warn("Не удалось удалить файл",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		sink.Notify(ctx, notify.FileDeleteFailed)
	} else {
		sink.Notify(ctx, notify.FileDeleted)
	}
	http.Redirect(w, r, back, http.StatusSeeOther)
}

// HandleReport обрабатывает GET /ui/defects/{id}/report — скачивание отчёта.
func (h *DefectsHandler) HandleReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sink := h.notifier(w)

	id, err := defectID(r)
	var report *service.Report
	if err == nil {
		report, err = h.reports.GenerateReport(ctx, id)
	}
	if err != nil {
		h.logger.Warn("Не удалось сформировать отчёт", slog.String("error", err.Error()))
		sink.Notify(ctx, notify.ReportFailed)
		http.Redirect(w, r, view.ParseState(r.URL.Query()).Href("/"), http.StatusSeeOther)
		return
	}

	sink.Notify(ctx, notify.ReportGenerated)
	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(report.Body)
}

// HandleExport обрабатывает GET /ui/export.csv — выгрузка текущего вида в CSV.
func (h *DefectsHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	state := view.ParseState(r.URL.Query())

	var buf bytes.Buffer
	if _, err := h.exports.Export(ctx, state.Criteria, state.Sort, &buf); err != nil {
		h.logger.Warn("Не удалось выгрузить CSV", slog.String("error", err.Error()))
		h.notifier(w).Notify(ctx, notify.ExportFailed)
		http.Redirect(w, r, state.Href("/"), http.StatusSeeOther)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", h.exports.Filename()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
