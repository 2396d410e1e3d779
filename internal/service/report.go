// report.go — формирование отчёта по дефекту.
// Для изображений записи запрашиваются подписанные URL, затем запись
// и карта path → URL передаются генератору отчёта. Неподписанные
// изображения в карту не попадают.
package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/defects-register/internal/domain/model"
	"github.com/bigkaa/defects-register/internal/repository"
)

var reportDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "dr_report_duration_seconds",
	Help:    "Длительность формирования отчёта по дефекту в секундах",
	Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
}, []string{"status"})

// ReportGenerator формирует документ отчёта.
// imageURLs — подписанные ссылки на изображения записи по пути объекта.
type ReportGenerator interface {
	Generate(ctx context.Context, w io.Writer, d *model.Defect, imageURLs map[string]string) error
	ContentType() string
	Extension() string
}

// Report — готовый отчёт.
type Report struct {
	Filename    string
	ContentType string
	Body        []byte
}

// ReportService формирует отчёты по дефектам.
type ReportService struct {
	defects   repository.DefectRepository
	files     *FileService
	generator ReportGenerator
	logger    *slog.Logger
}

// NewReportService создаёт сервис отчётов.
func NewReportService(
	defects repository.DefectRepository,
	files *FileService,
	generator ReportGenerator,
	logger *slog.Logger,
) *ReportService {
	return &ReportService{
		defects:   defects,
		files:     files,
		generator: generator,
		logger:    logger.With(slog.String("component", "report_service")),
	}
}

// GenerateReport формирует отчёт по дефекту id.
// Ошибкой считаются только отсутствие записи и сбой генератора.
func (s *ReportService) GenerateReport(ctx context.Context, id int64) (*Report, error) {
	start := time.Now()
	report, err := s.generate(ctx, id)

	status := "success"
	if err != nil {
		status = "error"
	}
	reportDurationSeconds.WithLabelValues(status).Observe(time.Since(start).Seconds())

	if err != nil {
		s.logger.Warn("Не удалось сформировать отчёт",
			slog.Int64("id", id),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	s.logger.Info("Отчёт сформирован",
		slog.Int64("id", id),
		slog.Int("size", len(report.Body)),
	)
	return report, nil
}

func (s *ReportService) generate(ctx context.Context, id int64) (*Report, error) {
	d, err := s.defects.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err)
	}

	urls := s.files.signImages(ctx, d)

	var buf bytes.Buffer
	if err := s.generator.Generate(ctx, &buf, d, urls); err != nil {
		return nil, fmt.Errorf("генерация отчёта: %w", err)
	}

	return &Report{
		Filename:    fmt.Sprintf("defect-report-%d%s", id, s.generator.Extension()),
		ContentType: s.generator.ContentType(),
		Body:        buf.Bytes(),
	}, nil
}
