// router.go — маршрутизация JSON API: разбор path/query параметров по
// правилам OpenAPI (form/simple) и вызов ServerInterface.
package handlers

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	apierrors "github.com/bigkaa/defects-register/internal/api/errors"
)

// DefectID — идентификатор дефекта в пути запроса.
type DefectID = int64

// ListDefectsParams — query-параметры GET /defects и /defects/export.csv.
type ListDefectsParams struct {
	Sort        *string   `form:"sort,omitempty"`
	Dir         *string   `form:"dir,omitempty"`
	Vessel      *[]string `form:"vessel,omitempty"`
	From        *string   `form:"from,omitempty"`
	To          *string   `form:"to,omitempty"`
	Q           *string   `form:"q,omitempty"`
	Status      *string   `form:"status,omitempty"`
	Criticality *string   `form:"criticality,omitempty"`
}

// UploadFileParams — query-параметры POST /defects/{id}/files.
type UploadFileParams struct {
	Collection string `form:"collection"`
}

// DeleteFileParams — query-параметры DELETE /defects/{id}/files.
type DeleteFileParams struct {
	Path string `form:"path"`
}

// ServerInterface — операции JSON API.
type ServerInterface interface {
	// GET /api/v1/defects
	ListDefects(w http.ResponseWriter, r *http.Request, params ListDefectsParams)
	// POST /api/v1/defects
	CreateDefect(w http.ResponseWriter, r *http.Request)
	// GET /api/v1/defects/export.csv
	ExportDefects(w http.ResponseWriter, r *http.Request, params ListDefectsParams)
	// GET /api/v1/defects/{id}
	GetDefect(w http.ResponseWriter, r *http.Request, id DefectID)
	// PUT /api/v1/defects/{id}
	UpdateDefect(w http.ResponseWriter, r *http.Request, id DefectID)
	// DELETE /api/v1/defects/{id}
	DeleteDefect(w http.ResponseWriter, r *http.Request, id DefectID)
	// POST /api/v1/defects/{id}/files
	UploadFile(w http.ResponseWriter, r *http.Request, id DefectID, params UploadFileParams)
	// DELETE /api/v1/defects/{id}/files
	DeleteFile(w http.ResponseWriter, r *http.Request, id DefectID, params DeleteFileParams)
	// POST /api/v1/defects/{id}/files/signed-url
	CreateSignedURL(w http.ResponseWriter, r *http.Request, id DefectID)
	// GET /api/v1/defects/{id}/report
	GetReport(w http.ResponseWriter, r *http.Request, id DefectID)
	// GET /api/v1/vessels
	ListVessels(w http.ResponseWriter, r *http.Request)
	// GET /api/v1/openapi.json
	GetOpenAPI(w http.ResponseWriter, r *http.Request)
}

// wrapper разбирает параметры и вызывает ServerInterface.
type wrapper struct {
	handler ServerInterface
}

// HandlerFromMux регистрирует маршруты API на r под префиксом /api/v1.
func HandlerFromMux(si ServerInterface, r chi.Router) {
	w := &wrapper{handler: si}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/openapi.json", si.GetOpenAPI)
		r.Get("/vessels", si.ListVessels)
		r.Get("/defects", w.listDefects)
		r.Post("/defects", si.CreateDefect)
		r.Get("/defects/export.csv", w.exportDefects)
		r.Get("/defects/{id}", w.withID(si.GetDefect))
		r.Put("/defects/{id}", w.withID(si.UpdateDefect))
		r.Delete("/defects/{id}", w.withID(si.DeleteDefect))
		r.Post("/defects/{id}/files", w.uploadFile)
		r.Delete("/defects/{id}/files", w.deleteFile)
		r.Post("/defects/{id}/files/signed-url", w.withID(si.CreateSignedURL))
		r.Get("/defects/{id}/report", w.withID(si.GetReport))
	})
}

// bindID разбирает path-параметр id (simple style, положительное целое).
func bindID(r *http.Request) (DefectID, error) {
	var id DefectID
	err := runtime.BindStyledParameterWithOptions("simple", "id", chi.URLParam(r, "id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return 0, fmt.Errorf("некорректный параметр id: %w", err)
	}
	if id < 1 {
		return 0, fmt.Errorf("некорректный параметр id: %d", id)
	}
	return id, nil
}

func (w *wrapper) withID(next func(http.ResponseWriter, *http.Request, DefectID)) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		id, err := bindID(r)
		if err != nil {
			apierrors.ValidationError(rw, err.Error())
			return
		}
		next(rw, r, id)
	}
}

// bindListParams разбирает параметры фильтрации и сортировки (form, explode).
func bindListParams(r *http.Request) (ListDefectsParams, error) {
	var params ListDefectsParams
	q := r.URL.Query()

	bindings := []struct {
		name string
		dest any
	}{
		{"sort", &params.Sort},
		{"dir", &params.Dir},
		{"vessel", &params.Vessel},
		{"from", &params.From},
		{"to", &params.To},
		{"q", &params.Q},
		{"status", &params.Status},
		{"criticality", &params.Criticality},
	}
	for _, b := range bindings {
		if err := runtime.BindQueryParameter("form", true, false, b.name, q, b.dest); err != nil {
			return params, fmt.Errorf("некорректный параметр %s: %w", b.name, err)
		}
	}
	return params, nil
}

func (w *wrapper) listDefects(rw http.ResponseWriter, r *http.Request) {
	params, err := bindListParams(r)
	if err != nil {
		apierrors.ValidationError(rw, err.Error())
		return
	}
	w.handler.ListDefects(rw, r, params)
}

func (w *wrapper) exportDefects(rw http.ResponseWriter, r *http.Request) {
	params, err := bindListParams(r)
	if err != nil {
		apierrors.ValidationError(rw, err.Error())
		return
	}
	w.handler.ExportDefects(rw, r, params)
}

func (w *wrapper) uploadFile(rw http.ResponseWriter, r *http.Request) {
	id, err := bindID(r)
	if err != nil {
		apierrors.ValidationError(rw, err.Error())
		return
	}
	var params UploadFileParams
	if err := runtime.BindQueryParameter("form", true, true, "collection", r.URL.Query(), &params.Collection); err != nil {
		apierrors.ValidationError(rw, "некорректный параметр collection: "+err.Error())
		return
	}
	w.handler.UploadFile(rw, r, id, params)
}

func (w *wrapper) deleteFile(rw http.ResponseWriter, r *http.Request) {
	id, err := bindID(r)
	if err != nil {
		apierrors.ValidationError(rw, err.Error())
		return
	}
	var params DeleteFileParams
	if err := runtime.BindQueryParameter("form", true, true, "path", r.URL.Query(), &params.Path); err != nil {
		apierrors.ValidationError(rw, "некорректный параметр path: "+err.Error())
		return
	}
	w.handler.DeleteFile(rw, r, id, params)
}
