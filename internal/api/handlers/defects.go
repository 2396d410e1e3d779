// defects.go — обработчики /api/v1/defects и /api/v1/vessels.
// Список с фильтрацией и сортировкой, CRUD записей, CSV-экспорт.
package handlers

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/defects-register/internal/api/errors"
	"github.com/bigkaa/defects-register/internal/api/openapi"
	"github.com/bigkaa/defects-register/internal/domain/filter"
	"github.com/bigkaa/defects-register/internal/domain/model"
	"github.com/bigkaa/defects-register/internal/domain/view"
	"github.com/bigkaa/defects-register/internal/service"
)

// defectListResponse — ответ GET /defects.
type defectListResponse struct {
	Items []model.Defect `json:"items"`
	Total int            `json:"total"`
	Sort  string         `json:"sort"`
	Dir   string         `json:"dir"`
}

type vesselListResponse struct {
	Items []model.Vessel `json:"items"`
}

// criteriaFromParams строит фильтры и сортировку из query-параметров.
// В отличие от UI, некорректные значения не исправляются, а отклоняются.
func criteriaFromParams(p ListDefectsParams) (filter.Criteria, view.SortSpec, error) {
	var c filter.Criteria
	if p.Vessel != nil {
		for _, v := range *p.Vessel {
			if v != "" && !c.Vessels.Contains(v) {
				c.Vessels = append(c.Vessels, v)
			}
		}
	}
	c.Range = filter.DateRange{From: deref(p.From), To: deref(p.To)}
	c.Search = deref(p.Q)
	c.Status = deref(p.Status)
	c.Criticality = deref(p.Criticality)

	if err := c.Validate(); err != nil {
		return c, view.SortSpec{}, err
	}

	sort, err := view.ParseSortSpec(deref(p.Sort), deref(p.Dir))
	if err != nil {
		return c, view.SortSpec{}, err
	}
	return c, sort, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ListDefects — GET /api/v1/defects.
func (h *APIHandler) ListDefects(w http.ResponseWriter, r *http.Request, params ListDefectsParams) {
	criteria, sort, err := criteriaFromParams(params)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	items, err := h.defects.List(r.Context(), criteria, sort)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка получения списка дефектов")
		return
	}
	if items == nil {
		items = []model.Defect{}
	}

	writeJSON(w, http.StatusOK, defectListResponse{
		Items: items,
		Total: len(items),
		Sort:  sort.Key,
		Dir:   string(sort.Direction),
	})
}

// ExportDefects — GET /api/v1/defects/export.csv.
// Выгружает записи в текущем порядке сортировки с метаданными фильтров.
func (h *APIHandler) ExportDefects(w http.ResponseWriter, r *http.Request, params ListDefectsParams) {
	criteria, sort, err := criteriaFromParams(params)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	writeExport(w, r, h.exports, criteria, sort, h.logger)
}

// writeExport формирует CSV целиком в буфере и отдаёт его как вложение.
func writeExport(
	w http.ResponseWriter,
	r *http.Request,
	exports *service.ExportService,
	criteria filter.Criteria,
	sort view.SortSpec,
	logger *slog.Logger,
) {
	var buf bytes.Buffer
	if _, err := exports.Export(r.Context(), criteria, sort, &buf); err != nil {
		logger.Error("Ошибка экспорта CSV", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Не удалось сформировать CSV")
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", attachment(exports.Filename()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// CreateDefect — POST /api/v1/defects.
func (h *APIHandler) CreateDefect(w http.ResponseWriter, r *http.Request) {
	var in service.DefectInput
	if !h.decodeBody(w, r, openapi.SchemaDefectInput, &in) {
		return
	}

	d, err := h.defects.Create(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка создания дефекта")
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// GetDefect — GET /api/v1/defects/{id}.
func (h *APIHandler) GetDefect(w http.ResponseWriter, r *http.Request, id DefectID) {
	d, err := h.defects.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка получения дефекта", slog.Int64("defect_id", id))
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// UpdateDefect — PUT /api/v1/defects/{id}.
// Коллекции файлов изменяются только через /files.
func (h *APIHandler) UpdateDefect(w http.ResponseWriter, r *http.Request, id DefectID) {
	var in service.DefectInput
	if !h.decodeBody(w, r, openapi.SchemaDefectInput, &in) {
		return
	}

	d, err := h.defects.Update(r.Context(), id, in)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка обновления дефекта", slog.Int64("defect_id", id))
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// DeleteDefect — DELETE /api/v1/defects/{id}.
// Вложения ставятся в очередь удаления вместе с удалением записи.
func (h *APIHandler) DeleteDefect(w http.ResponseWriter, r *http.Request, id DefectID) {
	if err := h.defects.Delete(r.Context(), id); err != nil {
		h.writeServiceError(w, err, "Ошибка удаления дефекта", slog.Int64("defect_id", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListVessels — GET /api/v1/vessels.
func (h *APIHandler) ListVessels(w http.ResponseWriter, r *http.Request) {
	vessels, err := h.defects.Vessels(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "Ошибка получения справочника судов")
		return
	}
	if vessels == nil {
		vessels = []model.Vessel{}
	}
	writeJSON(w, http.StatusOK, vesselListResponse{Items: vessels})
}

// attachment формирует заголовок Content-Disposition для скачивания.
func attachment(filename string) string {
	return fmt.Sprintf("attachment; filename=%q", filename)
}
