package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/defects-register/internal/domain/filter"
	"github.com/bigkaa/defects-register/internal/domain/model"
	"github.com/bigkaa/defects-register/internal/domain/view"
	"github.com/bigkaa/defects-register/internal/repository"
)

func TestWriteCSV_Layout(t *testing.T) {
	records := []model.Defect{
		*sampleDefect(),
		{ID: 8, VesselName: "Boreas", Status: model.StatusClosed, Description: "Line 1\nLine \"2\""},
	}
	meta := filter.Metadata{
		Search:    "leak",
		Vessels:   []string{"Aurora", "Boreas"},
		DateRange: "2024-01-01 to 2024-12-31",
	}
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	var buf bytes.Buffer
	if err := WriteCSV(&buf, records, meta, at); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	r := csv.NewReader(&buf)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		t.Fatalf("CSV не читается: %v", err)
	}

	wantMeta := [][]string{
		{"Defects Register Export"},
		{"Exported At", "2024-06-01T12:00:00Z"},
		{"Search", "leak"},
		{"Status", "All"},
		{"Criticality", "All"},
		{"Vessels", "Aurora; Boreas"},
		{"Date Range", "2024-01-01 to 2024-12-31"},
	}
	for i, want := range wantMeta {
		if strings.Join(rows[i], "|") != strings.Join(want, "|") {
			t.Errorf("строка %d = %q, ожидалась %q", i, rows[i], want)
		}
	}

	// csv.Reader пропускает пустые строки: сразу за метаданными идёт заголовок.
	header := rows[len(wantMeta)]
	if strings.Join(header, "|") != strings.Join(exportHeader, "|") {
		t.Errorf("заголовок = %q", header)
	}

	first := rows[len(wantMeta)+1]
	if first[0] != "Aurora" || first[1] != "OPEN" || first[2] != "High" {
		t.Errorf("первая запись = %q", first)
	}
	if first[10] != "a.jpg; spec.pdf" || first[11] != "b.png" {
		t.Errorf("файлы = %q / %q", first[10], first[11])
	}

	second := rows[len(wantMeta)+2]
	if second[4] != "Line 1\nLine \"2\"" || second[10] != "" {
		t.Errorf("вторая запись = %q", second)
	}
}

func TestWriteCSV_BlankSeparatorRow(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, nil, filter.Metadata{DateRange: "All Time"}, time.Unix(0, 0).UTC()); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	lines := strings.Split(buf.String(), "\n")
	if len(lines) < 9 || lines[7] != "" || !strings.HasPrefix(lines[8], "Vessel,Status") {
		t.Errorf("разметка CSV:\n%s", buf.String())
	}
	if !strings.Contains(buf.String(), "Vessels,All Vessels") {
		t.Errorf("пустой выбор судов должен выводиться как All Vessels:\n%s", buf.String())
	}
}

func TestExportFilename(t *testing.T) {
	got := ExportFilename(time.Date(2024, 3, 9, 23, 0, 0, 0, time.UTC))
	if got != "defects-register-2024-03-09.csv" {
		t.Errorf("ExportFilename() = %q", got)
	}
}

func TestExportService_UsesSortAndMetadata(t *testing.T) {
	env := newTestEnv()
	env.vessels.vessels = []model.Vessel{{ID: "v1", Name: "Aurora"}, {ID: "v2", Name: "Boreas"}}
	env.defects.listFn = func(context.Context, repository.DefectListFilters) ([]model.Defect, error) {
		return []model.Defect{
			{ID: 1, VesselName: "Boreas", Status: model.StatusOpen},
			{ID: 2, VesselName: "Aurora", Status: model.StatusOpen},
		}, nil
	}

	svc := NewExportService(env.defectSvc, testLogger())
	svc.now = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }

	var buf bytes.Buffer
	c := filter.Criteria{Vessels: filter.VesselSelection{"v2"}}
	n, err := svc.Export(context.Background(), c, view.SortSpec{Key: view.KeyVessel, Direction: view.Asc}, &buf)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if n != 2 {
		t.Errorf("выгружено %d записей", n)
	}

	out := buf.String()
	if !strings.Contains(out, "Vessels,Boreas\n") {
		t.Errorf("метаданные судов не выведены:\n%s", out)
	}
	if strings.Index(out, "\nAurora,") > strings.Index(out, "\nBoreas,OPEN") {
		t.Errorf("порядок сортировки не соблюдён:\n%s", out)
	}
	if svc.Filename() != "defects-register-2024-06-01.csv" {
		t.Errorf("Filename() = %q", svc.Filename())
	}
}
