// export.go — CSV-экспорт отфильтрованного и отсортированного реестра.
package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/bigkaa/defects-register/internal/domain/filter"
	"github.com/bigkaa/defects-register/internal/domain/model"
	"github.com/bigkaa/defects-register/internal/domain/view"
)

// exportHeader — строка заголовков таблицы экспорта.
var exportHeader = []string{
	"Vessel", "Status", "Criticality", "Equipment", "Description",
	"Action Planned", "Comments", "Closure Comments",
	"Date Reported", "Date Completed", "Initial Files", "Completion Files",
}

// ExportFilename возвращает имя файла экспорта на дату now.
func ExportFilename(now time.Time) string {
	return "defects-register-" + now.Format(filter.DateLayout) + ".csv"
}

// WriteCSV записывает метаданные фильтров, заголовок и записи в порядке records.
func WriteCSV(w io.Writer, records []model.Defect, meta filter.Metadata, exportedAt time.Time) error {
	cw := csv.NewWriter(w)

	vessels := "All Vessels"
	if len(meta.Vessels) > 0 {
		vessels = strings.Join(meta.Vessels, "; ")
	}

	rows := [][]string{
		{"Defects Register Export"},
		{"Exported At", exportedAt.Format(time.RFC3339)},
		{"Search", meta.Search},
		{"Status", orAll(meta.Status)},
		{"Criticality", orAll(meta.Criticality)},
		{"Vessels", vessels},
		{"Date Range", meta.DateRange},
		{},
		exportHeader,
	}
	for i := range records {
		rows = append(rows, exportRow(&records[i]))
	}

	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("запись CSV: %w", err)
	}
	return nil
}

func exportRow(d *model.Defect) []string {
	return []string{
		d.VesselName,
		string(d.Status),
		string(d.Criticality),
		d.Equipments,
		d.Description,
		d.ActionPlanned,
		d.Comments,
		d.ClosureComments,
		d.DateReported,
		d.DateCompleted,
		fileNames(d.InitialFiles),
		fileNames(d.CompletionFiles),
	}
}

func fileNames(files []model.AttachedFile) string {
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name
	}
	return strings.Join(names, "; ")
}

func orAll(s string) string {
	if s == "" {
		return "All"
	}
	return s
}

// ExportService выгружает реестр в CSV.
type ExportService struct {
	defects *DefectService
	now     func() time.Time
	logger  *slog.Logger
}

// NewExportService создаёт сервис экспорта.
func NewExportService(defects *DefectService, logger *slog.Logger) *ExportService {
	return &ExportService{
		defects: defects,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "export_service")),
	}
}

// Export записывает в w записи, отобранные критериями, в порядке sort.
// Возвращает количество выгруженных записей.
func (s *ExportService) Export(ctx context.Context, c filter.Criteria, sort view.SortSpec, w io.Writer) (int, error) {
	records, err := s.defects.List(ctx, c, sort)
	if err != nil {
		return 0, err
	}
	vessels, err := s.defects.Vessels(ctx)
	if err != nil {
		return 0, err
	}

	if err := WriteCSV(w, records, c.Metadata(vessels), s.now()); err != nil {
		return 0, err
	}

	s.logger.Info("Реестр выгружен в CSV", slog.Int("records", len(records)))
	return len(records), nil
}

// Filename возвращает имя файла экспорта на текущую дату.
func (s *ExportService) Filename() string {
	return ExportFilename(s.now())
}
