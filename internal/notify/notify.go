// Пакет notify — уведомления пользователя о результатах действий.
// Отправка fire-and-forget: ошибки доставки не влияют на результат операции.
package notify

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Severity — уровень уведомления.
type Severity string

// Уровни уведомлений.
const (
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
	SeverityInfo    Severity = "info"
)

// Notification — всплывающее уведомление (toast).
type Notification struct {
	Title       string   `json:"t"`
	Description string   `json:"d"`
	Severity    Severity `json:"s"`
}

// Стандартные уведомления UI.
var (
	FileDeleted        = Notification{"File Deleted", "File was successfully removed", SeveritySuccess}
	FileDeleteFailed   = Notification{"Error", "Failed to delete file", SeverityError}
	FileLoadFailed     = Notification{"Error", "Failed to load file", SeverityError}
	ReportGenerated    = Notification{"Success", "Report generated successfully", SeveritySuccess}
	ReportFailed       = Notification{"Error", "Failed to generate report", SeverityError}
	ExportFailed       = Notification{"Error", "Failed to export defects", SeverityError}
	DefectsLoadFailed  = Notification{"Error", "Failed to load defects", SeverityError}
	DefectCreated      = Notification{"Success", "Defect was successfully added", SeveritySuccess}
	DefectCreateFailed = Notification{"Error", "Failed to add defect", SeverityError}
	DefectUpdated      = Notification{"Success", "Defect was successfully updated", SeveritySuccess}
	DefectUpdateFailed = Notification{"Error", "Failed to update defect", SeverityError}
	DefectDeleted      = Notification{"Defect Deleted", "Defect was successfully removed", SeveritySuccess}
	DefectDeleteFailed = Notification{"Error", "Failed to delete defect", SeverityError}
)

// Sink — получатель уведомлений.
type Sink interface {
	Notify(ctx context.Context, n Notification)
}

var notificationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "dr_notifications_total",
		Help: "Количество отправленных уведомлений пользователю",
	},
	[]string{"severity"},
)

// LogSink пишет уведомления в лог и считает их в метриках.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink создаёт LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With(slog.String("component", "notify"))}
}

// Notify логирует уведомление: ошибки — уровнем Warn, остальное — Info.
func (s *LogSink) Notify(ctx context.Context, n Notification) {
	notificationsTotal.WithLabelValues(string(n.Severity)).Inc()

	level := slog.LevelInfo
	if n.Severity == SeverityError {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "Уведомление пользователю",
		slog.String("title", n.Title),
		slog.String("description", n.Description),
		slog.String("severity", string(n.Severity)),
	)
}

// Multi рассылает уведомление всем получателям.
type Multi []Sink

// Notify вызывает Notify каждого получателя.
func (m Multi) Notify(ctx context.Context, n Notification) {
	for _, s := range m {
		if s != nil {
			s.Notify(ctx, n)
		}
	}
}

// Discard — получатель, игнорирующий уведомления.
type Discard struct{}

// Notify ничего не делает.
func (Discard) Notify(context.Context, Notification) {}
