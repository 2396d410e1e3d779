// files.go — обработчики вложений дефекта: загрузка, удаление,
// подписанные ссылки и HTML-отчёт.
package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/defects-register/internal/api/errors"
	"github.com/bigkaa/defects-register/internal/api/openapi"
	"github.com/bigkaa/defects-register/internal/domain/model"
	"github.com/bigkaa/defects-register/internal/service"
)

// multipartMemory — часть multipart-формы, удерживаемая в памяти.
const multipartMemory = 32 << 20

type signedURLRequest struct {
	Path string `json:"path"`
}

// UploadFile — POST /api/v1/defects/{id}/files?collection=initial|completion.
// Multipart form: file (обязательно).
func (h *APIHandler) UploadFile(w http.ResponseWriter, r *http.Request, id DefectID, params UploadFileParams) {
	r.Body = http.MaxBytesReader(w, r.Body, h.uploadMaxSize)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			apierrors.PayloadTooLarge(w, fmt.Sprintf("Размер файла превышает %d байт", h.uploadMaxSize))
			return
		}
		apierrors.ValidationError(w, "Некорректная multipart форма: "+err.Error())
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		apierrors.ValidationError(w, "Поле file обязательно")
		return
	}
	defer file.Close()

	attached, err := h.files.Upload(r.Context(), id, service.UploadInput{
		Collection:  model.Collection(params.Collection),
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Body:        file,
	})
	if err != nil {
		h.writeServiceError(w, err, "Ошибка загрузки файла",
			slog.Int64("defect_id", id),
			slog.String("filename", header.Filename),
		)
		return
	}
	writeJSON(w, http.StatusCreated, attached)
}

// DeleteFile — DELETE /api/v1/defects/{id}/files?path=...
// Сбой удаления объекта из хранилища не делает запрос неуспешным.
func (h *APIHandler) DeleteFile(w http.ResponseWriter, r *http.Request, id DefectID, params DeleteFileParams) {
	if err := h.files.DeleteFile(r.Context(), id, params.Path); err != nil {
		h.writeServiceError(w, err, "Ошибка удаления файла",
			slog.Int64("defect_id", id),
			slog.String("path", params.Path),
		)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateSignedURL — POST /api/v1/defects/{id}/files/signed-url.
// Путь должен принадлежать одной из коллекций записи.
func (h *APIHandler) CreateSignedURL(w http.ResponseWriter, r *http.Request, id DefectID) {
	var req signedURLRequest
	if !h.decodeBody(w, r, openapi.SchemaSignedURLRequest, &req) {
		return
	}

	signed, err := h.files.SignedURL(r.Context(), id, req.Path)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка создания подписанной ссылки",
			slog.Int64("defect_id", id),
			slog.String("path", req.Path),
		)
		return
	}
	writeJSON(w, http.StatusOK, signed)
}

// GetReport — GET /api/v1/defects/{id}/report.
// Отчёт отдаётся вложением; любой сбой подписи изображений — ошибка отчёта.
func (h *APIHandler) GetReport(w http.ResponseWriter, r *http.Request, id DefectID) {
	report, err := h.reports.GenerateReport(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка формирования отчёта", slog.Int64("defect_id", id))
		return
	}
	writeReport(w, report)
}

func writeReport(w http.ResponseWriter, report *service.Report) {
	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition", attachment(report.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(report.Body)
}
