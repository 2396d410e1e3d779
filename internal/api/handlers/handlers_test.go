package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bigkaa/defects-register/internal/domain/model"
)

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("разбор ответа %q: %v", rec.Body.String(), err)
	}
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode[struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}](t, rec)
	return body.Error.Code
}

func uploadRequest(t *testing.T, target, filename, contentType string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := make(map[string][]string)
	header["Content-Disposition"] = []string{`form-data; name="file"; filename="` + filename + `"`}
	header["Content-Type"] = []string{contentType}
	part, err := mw.CreatePart(header)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write(data)
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestListDefects_SortAndFilter(t *testing.T) {
	api := newTestAPI(t, 1<<20)
	api.seed(t, model.Defect{VesselID: "v1", Status: model.StatusOpen, Description: "b", DateReported: "2024-01-10"})
	api.seed(t, model.Defect{VesselID: "v2", Status: model.StatusClosed, Description: "a", DateReported: "2024-03-01"})
	api.seed(t, model.Defect{VesselID: "v1", Status: model.StatusOpen, Description: "c", DateReported: ""})

	rec := api.do(httptest.NewRequest(http.MethodGet, "/api/v1/defects", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, тело %s", rec.Code, rec.Body.String())
	}
	list := decode[defectListResponse](t, rec)
	if list.Total != 3 || list.Sort != "Date Reported" || list.Dir != "desc" {
		t.Fatalf("ответ = %+v", list)
	}
	// По убыванию даты, запись без даты — в конце.
	if got := []int64{list.Items[0].ID, list.Items[1].ID, list.Items[2].ID}; got[0] != 2 || got[1] != 1 || got[2] != 3 {
		t.Errorf("порядок = %v", got)
	}

	rec = api.do(httptest.NewRequest(http.MethodGet, "/api/v1/defects?vessel=v1&sort=Description&dir=desc", nil))
	list = decode[defectListResponse](t, rec)
	if list.Total != 2 || list.Items[0].Description != "c" || list.Items[1].Description != "b" {
		t.Errorf("фильтр по судну: %+v", list.Items)
	}
}

func TestListDefects_RejectsInvalidParams(t *testing.T) {
	api := newTestAPI(t, 1<<20)

	for _, target := range []string{
		"/api/v1/defects?from=2024-05-01&to=2024-04-01",
		"/api/v1/defects?from=01.05.2024",
		"/api/v1/defects?sort=unknown",
		"/api/v1/defects?sort=Description&dir=up",
		"/api/v1/defects?status=DONE",
	} {
		rec := api.do(httptest.NewRequest(http.MethodGet, target, nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: статус = %d", target, rec.Code)
			continue
		}
		if code := errorCode(t, rec); code != "VALIDATION_ERROR" {
			t.Errorf("%s: код = %s", target, code)
		}
	}
}

func TestCreateGetUpdateDefect(t *testing.T) {
	api := newTestAPI(t, 1<<20)

	rec := api.do(jsonRequest(http.MethodPost, "/api/v1/defects",
		`{"vessel_id":"v1","Description":"Течь сальника","Criticality":"High","Date Reported":"2024-02-01"}`))
	if rec.Code != http.StatusCreated {
		t.Fatalf("создание: статус = %d, тело %s", rec.Code, rec.Body.String())
	}
	created := decode[model.Defect](t, rec)
	if created.ID == 0 || created.Status != model.StatusOpen || created.VesselName != "Aurora" {
		t.Fatalf("создано: %+v", created)
	}

	rec = api.do(httptest.NewRequest(http.MethodGet, "/api/v1/defects/1", nil))
	if rec.Code != http.StatusOK || decode[model.Defect](t, rec).Description != "Течь сальника" {
		t.Fatalf("получение: статус = %d", rec.Code)
	}

	rec = api.do(jsonRequest(http.MethodPut, "/api/v1/defects/1",
		`{"vessel_id":"v2","Status (Vessel)":"CLOSED","closure_comments":"Заменён","Date Completed":"2024-02-10"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("обновление: статус = %d, тело %s", rec.Code, rec.Body.String())
	}
	updated := decode[model.Defect](t, rec)
	if updated.Status != model.StatusClosed || updated.VesselName != "Borealis" || updated.ClosureComments != "Заменён" {
		t.Errorf("обновлено: %+v", updated)
	}
}

func TestCreateDefect_Validation(t *testing.T) {
	api := newTestAPI(t, 1<<20)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"нарушение схемы", `{"Description":"без судна"}`, http.StatusBadRequest},
		{"неизвестное поле", `{"vessel_id":"v1","extra":1}`, http.StatusBadRequest},
		{"неизвестное судно", `{"vessel_id":"v9"}`, http.StatusBadRequest},
		{"не JSON", `{`, http.StatusBadRequest},
		{"повтор пути", `{"vessel_id":"v1","initial_files":[{"path":"1/initial/a.jpg","name":"a","type":"image/jpeg"}],"completion_files":[{"path":"1/initial/a.jpg","name":"a","type":"image/jpeg"}]}`, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(jsonRequest(http.MethodPost, "/api/v1/defects", tt.body))
			if rec.Code != tt.want {
				t.Errorf("статус = %d, ожидался %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestDefectByID_NotFoundAndBadID(t *testing.T) {
	api := newTestAPI(t, 1<<20)

	rec := api.do(httptest.NewRequest(http.MethodGet, "/api/v1/defects/42", nil))
	if rec.Code != http.StatusNotFound || errorCode(t, rec) != "NOT_FOUND" {
		t.Errorf("несуществующий: статус = %d", rec.Code)
	}
	rec = api.do(httptest.NewRequest(http.MethodDelete, "/api/v1/defects/abc", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("некорректный id: статус = %d", rec.Code)
	}
	rec = api.do(httptest.NewRequest(http.MethodGet, "/api/v1/defects/0", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("нулевой id: статус = %d", rec.Code)
	}
}

func TestUploadSignDeleteFile(t *testing.T) {
	api := newTestAPI(t, 1<<20)
	api.seed(t, model.Defect{VesselID: "v1", Status: model.StatusOpen})

	rec := api.do(uploadRequest(t, "/api/v1/defects/1/files?collection=initial", "photo 1.JPG", "image/jpeg", []byte("jpeg-bytes")))
	if rec.Code != http.StatusCreated {
		t.Fatalf("загрузка: статус = %d, тело %s", rec.Code, rec.Body.String())
	}
	file := decode[model.AttachedFile](t, rec)
	if !strings.HasPrefix(file.Path, "1/initial/") || file.Name != "photo 1.JPG" || file.Type != "image/jpeg" {
		t.Fatalf("файл: %+v", file)
	}

	rec = api.do(jsonRequest(http.MethodPost, "/api/v1/defects/1/files/signed-url", `{"path":"`+file.Path+`"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("подпись: статус = %d, тело %s", rec.Code, rec.Body.String())
	}
	signed := decode[struct {
		SignedURL string `json:"signedUrl"`
		ExpiresIn int    `json:"expiresIn"`
	}](t, rec)
	if !strings.Contains(signed.SignedURL, "token=") || signed.ExpiresIn != 3600 {
		t.Errorf("подписанная ссылка: %+v", signed)
	}

	rec = api.do(jsonRequest(http.MethodPost, "/api/v1/defects/1/files/signed-url", `{"path":"2/initial/other.jpg"}`))
	if rec.Code != http.StatusNotFound {
		t.Errorf("чужой путь: статус = %d", rec.Code)
	}

	rec = api.do(httptest.NewRequest(http.MethodDelete, "/api/v1/defects/1/files?path="+file.Path, nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("удаление: статус = %d, тело %s", rec.Code, rec.Body.String())
	}
	d, _ := api.defects.GetByID(t.Context(), 1)
	if len(d.InitialFiles) != 0 {
		t.Errorf("файл остался в записи: %+v", d.InitialFiles)
	}
	if _, err := api.store.Open(file.Path); err == nil {
		t.Error("объект остался в хранилище")
	}

	rec = api.do(httptest.NewRequest(http.MethodDelete, "/api/v1/defects/1/files?path="+file.Path, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("повторное удаление: статус = %d", rec.Code)
	}
}

func TestUploadFile_Rejects(t *testing.T) {
	api := newTestAPI(t, 512)
	api.seed(t, model.Defect{VesselID: "v1", Status: model.StatusOpen})

	rec := api.do(uploadRequest(t, "/api/v1/defects/1/files?collection=initial", "big.bin", "application/octet-stream", bytes.Repeat([]byte("x"), 4096)))
	if rec.Code != http.StatusRequestEntityTooLarge || errorCode(t, rec) != "PAYLOAD_TOO_LARGE" {
		t.Errorf("большой файл: статус = %d, тело %s", rec.Code, rec.Body.String())
	}

	rec = api.do(uploadRequest(t, "/api/v1/defects/1/files", "a.txt", "text/plain", []byte("x")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("без collection: статус = %d", rec.Code)
	}

	rec = api.do(uploadRequest(t, "/api/v1/defects/1/files?collection=archive", "a.txt", "text/plain", []byte("x")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("неизвестная collection: статус = %d", rec.Code)
	}

	rec = api.do(uploadRequest(t, "/api/v1/defects/9/files?collection=initial", "a.txt", "text/plain", []byte("x")))
	if rec.Code != http.StatusNotFound {
		t.Errorf("несуществующий дефект: статус = %d", rec.Code)
	}
}

func TestDeleteDefect_EnqueuesFiles(t *testing.T) {
	api := newTestAPI(t, 1<<20)
	api.seed(t, model.Defect{VesselID: "v1", Status: model.StatusOpen})

	rec := api.do(uploadRequest(t, "/api/v1/defects/1/files?collection=completion", "act.pdf", "application/pdf", []byte("%PDF")))
	if rec.Code != http.StatusCreated {
		t.Fatalf("загрузка: статус = %d", rec.Code)
	}
	file := decode[model.AttachedFile](t, rec)

	rec = api.do(httptest.NewRequest(http.MethodDelete, "/api/v1/defects/1", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("удаление: статус = %d", rec.Code)
	}
	if n, _ := api.deletions.CountPending(t.Context()); n != 0 {
		t.Errorf("незавершённых удалений = %d", n)
	}
	if len(api.deletions.items) != 1 || api.deletions.items[0].Path != file.Path {
		t.Errorf("outbox: %+v", api.deletions.items)
	}
	if _, err := api.store.Open(file.Path); err == nil {
		t.Error("объект остался в хранилище")
	}
}

func TestGetReport(t *testing.T) {
	api := newTestAPI(t, 1<<20)
	api.seed(t, model.Defect{VesselID: "v1", Status: model.StatusOpen, Description: "Трещина <корпуса>"})

	rec := api.do(uploadRequest(t, "/api/v1/defects/1/files?collection=initial", "hull.png", "image/png", []byte("png")))
	if rec.Code != http.StatusCreated {
		t.Fatalf("загрузка: статус = %d", rec.Code)
	}

	rec = api.do(httptest.NewRequest(http.MethodGet, "/api/v1/defects/1/report", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("отчёт: статус = %d, тело %s", rec.Code, rec.Body.String())
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != `attachment; filename="defect-report-1.html"` {
		t.Errorf("Content-Disposition = %q", cd)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Трещина &lt;корпуса&gt;") || !strings.Contains(body, "/storage/v1/object/sign/defect-files/1/initial/") {
		t.Errorf("отчёт не содержит описание или изображение")
	}

	rec = api.do(httptest.NewRequest(http.MethodGet, "/api/v1/defects/5/report", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("несуществующий: статус = %d", rec.Code)
	}
}

func TestExportDefects(t *testing.T) {
	api := newTestAPI(t, 1<<20)
	api.seed(t, model.Defect{VesselID: "v1", Status: model.StatusOpen, Description: "Первый"})
	api.seed(t, model.Defect{VesselID: "v2", Status: model.StatusOpen, Description: "Второй"})

	rec := api.do(httptest.NewRequest(http.MethodGet, "/api/v1/defects/export.csv?vessel=v2", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, тело %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "defects-register-") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Второй") || strings.Contains(body, "Первый") || !strings.Contains(body, "Borealis") {
		t.Errorf("CSV:\n%s", body)
	}

	rec = api.do(httptest.NewRequest(http.MethodGet, "/api/v1/defects/export.csv?from=2024-02-01&to=2024-01-01", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("некорректный диапазон: статус = %d", rec.Code)
	}
}

func TestVesselsAndOpenAPI(t *testing.T) {
	api := newTestAPI(t, 1<<20)

	rec := api.do(httptest.NewRequest(http.MethodGet, "/api/v1/vessels", nil))
	vessels := decode[vesselListResponse](t, rec)
	if rec.Code != http.StatusOK || len(vessels.Items) != 2 {
		t.Errorf("суда: статус = %d, %+v", rec.Code, vessels)
	}

	rec = api.do(httptest.NewRequest(http.MethodGet, "/api/v1/openapi.json", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"openapi": "3.0.3"`) {
		t.Errorf("openapi.json: статус = %d", rec.Code)
	}
}

func TestHealthReady_FailsWithoutCheckers(t *testing.T) {
	h := NewHealthHandler(nil, nil)
	rec := httptest.NewRecorder()
	h.HealthReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("статус = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.HealthLive(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"defects-register"`) {
		t.Errorf("live: статус = %d, тело %s", rec.Code, rec.Body.String())
	}
}

func TestOverallStatus(t *testing.T) {
	tests := []struct {
		in   []string
		want string
	}{
		{[]string{statusOK, statusOK}, statusOK},
		{[]string{statusOK, statusDegraded}, statusDegraded},
		{[]string{statusDegraded, statusFail}, statusFail},
	}
	for _, tt := range tests {
		if got := overallStatus(tt.in...); got != tt.want {
			t.Errorf("overallStatus(%v) = %s, ожидалось %s", tt.in, got, tt.want)
		}
	}
}
